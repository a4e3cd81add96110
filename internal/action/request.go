package action

import "fmt"

// QueueSize is the capacity of the action channel. Submitting from the
// dispatch goroutine only blocks once this many requests are pending.
const QueueSize = 32

type Kind int

const (
	KindRunCommand Kind = iota + 1
	KindReload
)

func (k Kind) String() string {
	switch k {
	case KindRunCommand:
		return "run_command"
	case KindReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Request is work handed from the dispatch goroutine to the executor.
// Its fields are unexported so a request cannot change after construction.
type Request struct {
	kind    Kind
	command string
}

// RunCommand asks the executor to start command unless it is already running
func RunCommand(command string) Request {
	return Request{kind: KindRunCommand, command: command}
}

// Reload asks the executor to rebuild the script environment and registry
func Reload() Request {
	return Request{kind: KindReload}
}

func (r Request) Kind() Kind {
	return r.kind
}

func (r Request) Command() string {
	return r.command
}

func (r Request) String() string {
	if r.kind == KindRunCommand {
		return fmt.Sprintf("%s(%q)", r.kind, r.command)
	}
	return r.kind.String()
}
