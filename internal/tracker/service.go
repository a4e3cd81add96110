package tracker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luaidle/luaidle/internal/action"
	"github.com/luaidle/luaidle/internal/database"
	"github.com/luaidle/luaidle/internal/engine"
	"github.com/luaidle/luaidle/internal/models"
)

// BufferSize bounds the records waiting to be written. Records beyond it
// are dropped so that journaling never blocks the dispatch goroutine.
const BufferSize = 256

// Service journals engine transitions, lock runs and dropped errors to the
// database on its own goroutine.
type Service struct {
	repo    *database.Repository
	backend string
	logger  *zap.Logger

	records chan any
	dropped atomic.Int64
	running atomic.Bool
}

func NewService(repo *database.Repository, backend string, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		backend: backend,
		logger:  logger.Named("tracker"),
		records: make(chan any, BufferSize),
	}
}

// Start writes records until ctx is done, then flushes what is queued
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("tracker is already running")
	}
	defer s.running.Store(false)

	s.logger.Debug("Journal started", zap.String("backend", s.backend))

	for {
		select {
		case <-ctx.Done():
			s.flush()
			s.logger.Debug("Journal stopped", zap.Int64("dropped", s.dropped.Load()))
			return nil
		case rec := <-s.records:
			s.write(rec)
		}
	}
}

func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Dropped returns how many records were discarded because the buffer was full
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Service) Transition(t engine.Transition) {
	event := &models.IdleEvent{
		Timestamp:    t.At,
		Handle:       t.Handle.String(),
		CallbackName: t.Callback,
		Event:        t.Event.String(),
		TimeoutSecs:  int64(t.Timeout / time.Second),
		Backend:      s.backend,
	}
	if t.Err != nil {
		event.CallbackErr = t.Err.Error()
	}
	s.enqueue(event)
}

func (s *Service) Failure(component string, err error) {
	s.enqueue(&models.ErrorLog{
		Timestamp: time.Now(),
		Component: component,
		ErrorMsg:  err.Error(),
	})
}

func (s *Service) ActionFinished(r action.Result) {
	run := &models.ActionRun{
		Timestamp:  r.At,
		Command:    r.Command,
		Outcome:    string(r.Outcome),
		PID:        r.PID,
		ExitCode:   r.ExitCode,
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		run.Detail = r.Err.Error()
	}
	s.enqueue(run)
}

func (s *Service) enqueue(rec any) {
	select {
	case s.records <- rec:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("Journal buffer full, dropping records")
		}
	}
}

func (s *Service) flush() {
	for {
		select {
		case rec := <-s.records:
			s.write(rec)
		default:
			return
		}
	}
}

func (s *Service) write(rec any) {
	var err error
	switch r := rec.(type) {
	case *models.IdleEvent:
		err = s.repo.CreateIdleEvent(r)
	case *models.ActionRun:
		err = s.repo.CreateActionRun(r)
	case *models.ErrorLog:
		err = s.repo.CreateErrorLog(r)
	default:
		err = errors.Errorf("unknown journal record %T", rec)
	}
	if err != nil {
		s.logger.Warn("Failed to journal record", zap.Error(err))
	}
}
