package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luaidle/luaidle/internal/action"
)

// DefaultDebounce collapses the burst of events an editor save produces
const DefaultDebounce = 250 * time.Millisecond

// Submitter accepts action requests
type Submitter interface {
	Submit(ctx context.Context, r action.Request) error
}

// Watcher submits a Reload whenever the script file changes. It watches
// the parent directory so that editors replacing the file by rename are
// still seen.
type Watcher struct {
	path     string
	actions  Submitter
	logger   *zap.Logger
	debounce time.Duration
}

func New(path string, actions Submitter, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		actions:  actions,
		logger:   logger.Named("watcher"),
		debounce: DefaultDebounce,
	}
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}
	w.logger.Debug("Watching script", zap.String("path", w.path))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", zap.Error(err))

		case <-timerCh:
			timerCh = nil
			w.logger.Info("Script changed, requesting reload", zap.String("path", w.path))
			if err := w.actions.Submit(ctx, action.Reload()); err != nil {
				w.logger.Warn("Reload not queued", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
