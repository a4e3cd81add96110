package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luaidle/luaidle/internal/action"
	"github.com/luaidle/luaidle/internal/config"
	"github.com/luaidle/luaidle/internal/daemon"
	"github.com/luaidle/luaidle/internal/database"
	"github.com/luaidle/luaidle/internal/engine"
	"github.com/luaidle/luaidle/internal/logging"
	"github.com/luaidle/luaidle/internal/metrics"
	"github.com/luaidle/luaidle/internal/registry"
	"github.com/luaidle/luaidle/internal/sleep"
	"github.com/luaidle/luaidle/internal/tracker"
	"github.com/luaidle/luaidle/internal/watcher"
	"github.com/luaidle/luaidle/internal/web"
	"github.com/luaidle/luaidle/pkg/detector"
	"github.com/luaidle/luaidle/pkg/integrations/process"
)

const (
	journalRetention = 90 * 24 * time.Hour
	shutdownTimeout  = 5 * time.Second
)

func runDaemon(parent context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	if err := run(parent, cfg, logger); err != nil {
		logger.Error("luaidle stopped with error", zap.Error(err))
		return err
	}
	logger.Info("luaidle stopped")
	return nil
}

func run(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	// a reload sent while starting must not hit SIGHUP's default action
	hup := installHangup()
	defer signal.Stop(hup)

	dm := daemon.New(cfg.Daemon.PIDFile)
	if err := dm.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := dm.Release(); err != nil {
			logger.Warn("Failed to remove PID file", zap.Error(err))
		}
	}()

	scriptPath, err := cfg.ResolveScriptPath()
	if err != nil {
		return err
	}
	created, err := config.EnsureScript(scriptPath)
	if err != nil {
		return err
	}
	if created {
		logger.Info("Wrote default script", zap.String("path", scriptPath))
	}

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		return err
	}
	repo := database.NewRepository(db)
	if n, err := repo.DeleteOldEvents(time.Now().Add(-journalRetention)); err != nil {
		logger.Warn("Failed to prune journal", zap.Error(err))
	} else if n > 0 {
		logger.Debug("Pruned journal", zap.Int64("events", n))
	}

	backend, err := detector.New(detector.Options{
		Preferred:    cfg.Backend.Preferred,
		Seat:         cfg.Backend.Seat,
		PollInterval: cfg.Backend.PollInterval,
	}, logger)
	if err != nil {
		return err
	}
	if err := backend.Connect(); err != nil {
		return err
	}
	defer backend.Close()
	if cfg.LockMismatch(backend.Name()) {
		logger.Warn("Lock program needs Wayland, set LUAIDLE_LOCK_COMMAND for X11 (e.g. \"i3lock -n\")",
			zap.String("lock", cfg.Lock.Command),
			zap.String("backend", backend.Name()))
	}

	reg := registry.New()
	journal := tracker.NewService(repo, backend.Name(), logger)
	stats := metrics.New(reg.Len)

	var table action.ProcessTable
	if procs := process.NewTable(); procs.IsAvailable() {
		table = procs
	} else {
		logger.Warn("Process table unavailable, only the daemon's own lock child is tracked")
	}
	supervisor := action.NewSupervisor(table, nil, action.Observers{journal, stats}, logger)
	executor := action.NewExecutor(supervisor, logger)

	eng := engine.New(engine.Options{
		ScriptPath:      scriptPath,
		LockCommand:     cfg.Lock.Command,
		CallbackTimeout: cfg.Script.CallbackTimeout,
	}, backend, reg, executor, engine.Observers{journal, stats}, logger)
	executor.SetReloader(eng)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Close()

	logger.Info("luaidle started",
		zap.String("version", version),
		zap.String("backend", backend.Name()),
		zap.String("script", scriptPath),
		zap.String("lock", cfg.Lock.Command))
	logger.Debug(cfg.String())

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Component stopped", zap.String("component", name), zap.Error(err))
			}
		}()
	}

	goRun("executor", executor.Run)
	goRun("journal", journal.Start)
	if cfg.Sleep.LockBeforeSleep {
		goRun("sleep", sleep.New(cfg.Lock.Command, executor, logger).Run)
	}
	if cfg.Watch.Enabled {
		goRun("watcher", watcher.New(scriptPath, executor, logger).Run)
	}

	var server *web.Server
	if cfg.Web.Addr != "" {
		server = web.NewServer(cfg.Web.Addr, web.Deps{
			Backend:  backend.Name(),
			Engine:   eng,
			Registry: reg,
			Lock:     supervisor,
			Actions:  executor,
			Repo:     repo,
			Metrics:  stats.Handler(),
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(); err != nil {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	go reloadOnHangup(ctx, hup, eng, logger)

	runErr := backend.Run(ctx)
	if runErr != nil {
		logger.Error("Dispatch loop failed", zap.Error(runErr))
	}
	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Status server shutdown failed", zap.Error(err))
		}
		shutdownCancel()
	}
	wg.Wait()
	return runErr
}

func installHangup() chan os.Signal {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	return hup
}

// reloadOnHangup requests a reload for every SIGHUP until ctx is done. A
// signal that arrived before the script was loaded is discarded, since the
// load already read the current script.
func reloadOnHangup(ctx context.Context, hup <-chan os.Signal, r action.Reloader, logger *zap.Logger) {
	select {
	case <-hup:
		logger.Debug("Discarding SIGHUP received during startup")
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading script")
			r.RequestReload()
		}
	}
}
