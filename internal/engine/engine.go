package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luaidle/luaidle/internal/action"
	"github.com/luaidle/luaidle/internal/registry"
	"github.com/luaidle/luaidle/internal/script"
	"github.com/luaidle/luaidle/pkg/idle"
)

// Submitter accepts action requests. It is satisfied by *action.Executor.
type Submitter interface {
	Submit(ctx context.Context, r action.Request) error
}

// Transition is one delivered protocol event and the outcome of its callback
type Transition struct {
	Handle   registry.Handle
	Callback string
	Event    idle.Event
	Timeout  time.Duration
	Duration time.Duration // time spent in the callback
	Err      error
	At       time.Time
}

// Observer is told about every handled transition and every dropped event
type Observer interface {
	Transition(Transition)
	Failure(component string, err error)
}

type Options struct {
	ScriptPath      string
	LockCommand     string
	CallbackTimeout time.Duration
}

// Engine drives the per-notification state machine. Apart from the
// constructor, RequestReload and the read-only accessors, every method must
// run on the dispatch goroutine of the backend.
type Engine struct {
	opts     Options
	backend  idle.Backend
	registry *registry.Registry
	bridge   *script.Bridge
	actions  Submitter
	observer Observer
	logger   *zap.Logger

	ctx     context.Context
	reloads atomic.Int64
}

func New(opts Options, backend idle.Backend, reg *registry.Registry, actions Submitter, observer Observer, logger *zap.Logger) *Engine {
	if observer == nil {
		observer = nopObserver{}
	}
	e := &Engine{
		opts:     opts,
		backend:  backend,
		registry: reg,
		actions:  actions,
		observer: observer,
		logger:   logger.Named("engine"),
		ctx:      context.Background(),
	}
	e.bridge = script.New(e, opts.CallbackTimeout, logger)
	return e
}

// Start loads the script, which registers its notifications. ctx bounds
// action submission for the lifetime of the engine.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx
	if err := e.load(); err != nil {
		return err
	}
	e.logger.Info("Engine started",
		zap.String("script", e.opts.ScriptPath),
		zap.String("backend", e.backend.Name()),
		zap.Int("notifications", e.registry.Len()))
	return nil
}

// Reload disposes every notification, closes the script state and loads the
// script again. Running it repeatedly leaves the same set of registrations.
func (e *Engine) Reload() error {
	disposed := e.teardown()
	e.bridge.Close()
	e.reloads.Add(1)

	if err := e.load(); err != nil {
		e.observer.Failure("engine", err)
		return err
	}
	e.logger.Info("Script reloaded",
		zap.Int("disposed", disposed),
		zap.Int("notifications", e.registry.Len()))
	return nil
}

// RequestReload schedules Reload on the dispatch goroutine. Safe to call
// from any goroutine.
func (e *Engine) RequestReload() {
	e.backend.Post(func() {
		if err := e.Reload(); err != nil {
			e.logger.Error("Reload failed, running without notifications until the next reload", zap.Error(err))
		}
	})
}

// Reloads returns how many reloads have run. Safe from any goroutine.
func (e *Engine) Reloads() int64 {
	return e.reloads.Load()
}

// ScriptPath returns the path of the loaded script
func (e *Engine) ScriptPath() string {
	return e.opts.ScriptPath
}

// Close destroys all notifications and the script state
func (e *Engine) Close() {
	e.teardown()
	e.bridge.Close()
}

// RegisterNotification backs IdleNotifier:register
func (e *Engine) RegisterNotification(timeout time.Duration, callbackName string) (registry.Handle, error) {
	h := e.registry.Register(callbackName, timeout, nil)

	n, err := e.backend.NewNotification(timeout, func(ev idle.Event) {
		_ = e.HandleEvent(h, ev)
	})
	if err != nil {
		e.registry.Dispose(h)
		return registry.Handle{}, err
	}
	if err := e.registry.Attach(h, n); err != nil {
		_ = n.Destroy()
		return registry.Handle{}, err
	}
	return h, nil
}

// HandleEvent runs the callback registered for h and, on Idled, submits the
// lock command. Per-event failures are logged and reported; only an unknown
// handle is returned as an error, and the caller drops the event.
func (e *Engine) HandleEvent(h registry.Handle, ev idle.Event) error {
	entry, ok := e.registry.Lookup(h)
	if !ok {
		err := errors.Wrapf(registry.ErrUnknownHandle, "%s event for %s", ev, h)
		e.logger.Debug("Dropping event", zap.Error(err))
		e.observer.Failure("engine", err)
		return err
	}

	next := registry.Idled
	if ev == idle.Resumed {
		next = registry.Resumed
	}
	_ = e.registry.SetState(h, next)

	start := time.Now()
	callErr := e.bridge.Call(entry.CallbackName, ev.String())
	elapsed := time.Since(start)
	switch {
	case callErr == nil:
		e.logger.Debug("Callback ran", zap.String("callback", entry.CallbackName), zap.Stringer("event", ev))
	case errors.Is(callErr, script.ErrCallbackNotFound):
		e.logger.Warn("Callback not defined in script", zap.String("callback", entry.CallbackName))
	default:
		e.logger.Error("Callback failed", zap.String("callback", entry.CallbackName), zap.Error(callErr))
	}
	if callErr != nil {
		e.observer.Failure("script", callErr)
	}

	e.observer.Transition(Transition{
		Handle:   h,
		Callback: entry.CallbackName,
		Event:    ev,
		Timeout:  entry.Timeout,
		Duration: elapsed,
		Err:      callErr,
		At:       time.Now(),
	})

	// the protocol re-arms after resumed
	if ev == idle.Resumed {
		_ = e.registry.SetState(h, registry.Armed)
	}

	if ev == idle.Idled && e.opts.LockCommand != "" {
		if err := e.actions.Submit(e.ctx, action.RunCommand(e.opts.LockCommand)); err != nil {
			e.logger.Warn("Lock request not queued", zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) load() error {
	if err := e.bridge.Load(e.opts.ScriptPath); err != nil {
		e.teardown()
		return err
	}
	for _, entry := range e.registry.Snapshot() {
		if !e.bridge.HasFunction(entry.CallbackName) {
			e.logger.Warn("Registered callback is not a function",
				zap.String("callback", entry.CallbackName),
				zap.String("script", e.opts.ScriptPath))
		}
	}
	return nil
}

func (e *Engine) teardown() int {
	entries := e.registry.DisposeAll()
	for _, entry := range entries {
		if entry.Notification == nil {
			continue
		}
		if err := entry.Notification.Destroy(); err != nil {
			e.logger.Warn("Failed to destroy notification",
				zap.String("handle", entry.Handle.String()), zap.Error(err))
		}
	}
	return len(entries)
}

// Observers fans every notification out to each member
type Observers []Observer

func (o Observers) Transition(t Transition) {
	for _, obs := range o {
		obs.Transition(t)
	}
}

func (o Observers) Failure(component string, err error) {
	for _, obs := range o {
		obs.Failure(component, err)
	}
}

type nopObserver struct{}

func (nopObserver) Transition(Transition) {}

func (nopObserver) Failure(string, error) {}
