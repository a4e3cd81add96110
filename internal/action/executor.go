package action

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Reloader rebuilds the script environment. Implementations must hop to the
// dispatch goroutine themselves; the executor never touches Lua.
type Reloader interface {
	RequestReload()
}

// Executor consumes action requests in submission order
type Executor struct {
	requests   chan Request
	supervisor *Supervisor
	reloader   Reloader
	logger     *zap.Logger
}

func NewExecutor(supervisor *Supervisor, logger *zap.Logger) *Executor {
	return &Executor{
		requests:   make(chan Request, QueueSize),
		supervisor: supervisor,
		logger:     logger.Named("executor"),
	}
}

// SetReloader wires the target of Reload requests. It must be called before Run.
func (e *Executor) SetReloader(r Reloader) {
	e.reloader = r
}

// Submit queues r. It blocks only while the queue is full and returns the
// context error if ctx is done first.
func (e *Executor) Submit(ctx context.Context, r Request) error {
	select {
	case e.requests <- r:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "submit %s", r)
	}
}

// Pending returns the number of queued requests
func (e *Executor) Pending() int {
	return len(e.requests)
}

// Run processes requests until ctx is done. Lock processes that are still
// running when Run returns are left alone.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Debug("Executor started", zap.Int("queue_size", QueueSize))
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("Executor stopped", zap.Int("dropped", len(e.requests)))
			return ctx.Err()
		case r := <-e.requests:
			e.handle(r)
		}
	}
}

func (e *Executor) handle(r Request) {
	switch r.Kind() {
	case KindRunCommand:
		_, err := e.supervisor.Launch(r.Command())
		if err != nil && !errors.Is(err, ErrAlreadyRunning) {
			e.logger.Warn("Action dropped", zap.Stringer("request", r), zap.Error(err))
		}
	case KindReload:
		if e.reloader == nil {
			e.logger.Warn("Reload requested but no reloader configured")
			return
		}
		e.reloader.RequestReload()
	default:
		e.logger.Warn("Unknown action request", zap.Stringer("request", r))
	}
}
