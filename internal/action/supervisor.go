package action

import (
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("action: lock program already running")
	ErrEmptyCommand   = errors.New("action: empty command")
)

type Outcome string

const (
	OutcomeSpawned Outcome = "spawned"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	OutcomeExited  Outcome = "exited"
)

// Result describes one step in the life of a lock invocation
type Result struct {
	Command  string
	Outcome  Outcome
	PID      int
	ExitCode int
	Duration time.Duration
	Err      error
	At       time.Time
}

// Observer is told about every spawn, skip, failure and exit
type Observer interface {
	ActionFinished(Result)
}

// ProcessTable answers whether a process with the given name is alive
type ProcessTable interface {
	Running(name string) (bool, error)
}

// Process is a spawned child
type Process interface {
	Pid() int
	// Wait blocks until the process exits and returns its exit code
	Wait() (int, error)
}

// Spawner starts processes
type Spawner interface {
	Spawn(argv []string) (Process, error)
}

// ExecSpawner starts processes with os/exec. Standard streams are
// connected to the null device.
type ExecSpawner struct{}

type execProcess struct {
	cmd *exec.Cmd
}

func (ExecSpawner) Spawn(argv []string) (Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if p.cmd.ProcessState != nil {
		code := p.cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return code, nil
		}
		return code, err
	}
	return -1, err
}

type child struct {
	pid     int
	name    string
	started time.Time
}

// Supervisor starts the lock program and guarantees at most one live
// instance, counting both its own child and any instance found in the
// process table.
type Supervisor struct {
	table    ProcessTable
	spawner  Spawner
	observer Observer
	logger   *zap.Logger

	mu      sync.Mutex
	current *child
	waiters sync.WaitGroup
}

func NewSupervisor(table ProcessTable, spawner Spawner, observer Observer, logger *zap.Logger) *Supervisor {
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Supervisor{
		table:    table,
		spawner:  spawner,
		observer: observer,
		logger:   logger.Named("supervisor"),
	}
}

// Launch starts command unless an instance of its program is already alive.
// The exit of a started process is awaited on a separate goroutine.
func (s *Supervisor) Launch(command string) (Result, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return s.finish(Result{Command: command, Outcome: OutcomeFailed, Err: ErrEmptyCommand}), ErrEmptyCommand
	}
	name := filepath.Base(argv[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.logger.Info("Lock program already running",
			zap.String("program", name), zap.Int("pid", s.current.pid))
		return s.finish(Result{Command: command, Outcome: OutcomeSkipped, PID: s.current.pid}), ErrAlreadyRunning
	}

	if s.table != nil {
		running, err := s.table.Running(name)
		if err != nil {
			s.logger.Warn("Process table scan failed, spawning anyway", zap.Error(err))
		} else if running {
			s.logger.Info("Lock program already running", zap.String("program", name))
			return s.finish(Result{Command: command, Outcome: OutcomeSkipped}), ErrAlreadyRunning
		}
	}

	proc, err := s.spawner.Spawn(argv)
	if err != nil {
		err = errors.Wrapf(err, "failed to spawn %s", name)
		s.logger.Error("Lock program spawn failed", zap.Error(err))
		return s.finish(Result{Command: command, Outcome: OutcomeFailed, Err: err}), err
	}

	c := &child{pid: proc.Pid(), name: name, started: time.Now()}
	s.current = c
	s.logger.Info("Lock program started", zap.String("program", name), zap.Int("pid", c.pid))

	s.waiters.Add(1)
	go s.await(command, proc, c)

	return s.finish(Result{Command: command, Outcome: OutcomeSpawned, PID: c.pid}), nil
}

func (s *Supervisor) await(command string, proc Process, c *child) {
	defer s.waiters.Done()

	code, err := proc.Wait()
	elapsed := time.Since(c.started)

	s.mu.Lock()
	if s.current == c {
		s.current = nil
	}
	s.mu.Unlock()

	s.logger.Info("Lock program exited",
		zap.String("program", c.name),
		zap.Int("pid", c.pid),
		zap.Int("exit_code", code),
		zap.Duration("ran_for", elapsed),
		zap.Error(err))

	s.finish(Result{
		Command:  command,
		Outcome:  OutcomeExited,
		PID:      c.pid,
		ExitCode: code,
		Duration: elapsed,
		Err:      err,
	})
}

func (s *Supervisor) finish(r Result) Result {
	r.At = time.Now()
	s.observer.ActionFinished(r)
	return r
}

// Running returns the pid of the child started by this supervisor, if any
func (s *Supervisor) Running() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0, false
	}
	return s.current.pid, true
}

// Wait blocks until every started child has exited
func (s *Supervisor) Wait() {
	s.waiters.Wait()
}

type nopObserver struct{}

func (nopObserver) ActionFinished(Result) {}

// Observers fans every result out to each member
type Observers []Observer

func (o Observers) ActionFinished(r Result) {
	for _, obs := range o {
		obs.ActionFinished(r)
	}
}
