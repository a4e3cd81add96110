package sleep

import (
	"context"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luaidle/luaidle/internal/action"
)

const (
	login1Dest      = "org.freedesktop.login1"
	login1Path      = "/org/freedesktop/login1"
	managerIface    = "org.freedesktop.login1.Manager"
	prepareForSleep = managerIface + ".PrepareForSleep"

	// DefaultLockDelay is how long suspend is held back after the lock
	// request is queued, giving the locker time to map its surface.
	DefaultLockDelay = time.Second
)

// Submitter accepts action requests
type Submitter interface {
	Submit(ctx context.Context, r action.Request) error
}

type inhibitor interface {
	acquire() error
	release()
}

// Monitor locks the session when logind announces suspend. It holds a
// delay inhibitor while awake so the lock request is queued before the
// machine sleeps.
type Monitor struct {
	command   string
	actions   Submitter
	logger    *zap.Logger
	lockDelay time.Duration

	inhibit inhibitor
}

func New(command string, actions Submitter, logger *zap.Logger) *Monitor {
	return &Monitor{
		command:   command,
		actions:   actions,
		logger:    logger.Named("sleep"),
		lockDelay: DefaultLockDelay,
	}
}

// Run listens for PrepareForSleep until ctx is done. A missing system bus
// disables the monitor without error.
func (m *Monitor) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		if os.Getenv("DBUS_SYSTEM_BUS_ADDRESS") == "" {
			m.logger.Debug("D-Bus unavailable, sleep monitor disabled")
		} else {
			m.logger.Warn("Failed to connect to D-Bus for sleep monitoring", zap.Error(err))
		}
		return nil
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(login1Path),
		dbus.WithMatchInterface(managerIface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return errors.Wrap(err, "subscribe to PrepareForSleep")
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	m.inhibit = &delayInhibitor{conn: conn, fd: -1}
	if err := m.inhibit.acquire(); err != nil {
		m.logger.Warn("No sleep inhibitor, lock may start after resume", zap.Error(err))
	}
	defer m.inhibit.release()

	m.logger.Info("Sleep monitor started (D-Bus logind)")

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Sleep monitor stopped")
			return nil
		case sig, ok := <-signals:
			if !ok || sig == nil {
				return nil
			}
			m.handleSignal(ctx, sig)
		}
	}
}

func (m *Monitor) handleSignal(ctx context.Context, sig *dbus.Signal) {
	if sig.Name != prepareForSleep || len(sig.Body) < 1 {
		return
	}
	entering, ok := sig.Body[0].(bool)
	if !ok {
		return
	}

	if !entering {
		m.logger.Debug("Resumed from sleep")
		if m.inhibit != nil {
			if err := m.inhibit.acquire(); err != nil {
				m.logger.Warn("Failed to re-take sleep inhibitor", zap.Error(err))
			}
		}
		return
	}

	m.logger.Info("Preparing for sleep, locking session")
	if err := m.actions.Submit(ctx, action.RunCommand(m.command)); err != nil {
		m.logger.Warn("Lock request not queued", zap.Error(err))
	}

	select {
	case <-time.After(m.lockDelay):
	case <-ctx.Done():
	}
	if m.inhibit != nil {
		m.inhibit.release()
	}
}

// delayInhibitor holds a logind "delay" lock on sleep through a file descriptor
type delayInhibitor struct {
	conn *dbus.Conn
	fd   int
}

func (d *delayInhibitor) acquire() error {
	if d.fd >= 0 {
		return nil
	}
	var fd dbus.UnixFD
	err := d.conn.Object(login1Dest, login1Path).
		Call(managerIface+".Inhibit", 0, "sleep", "luaidle", "Lock the session before sleep", "delay").
		Store(&fd)
	if err != nil {
		return errors.Wrap(err, "logind inhibit")
	}
	d.fd = int(fd)
	return nil
}

func (d *delayInhibitor) release() {
	if d.fd < 0 {
		return
	}
	_ = unix.Close(d.fd)
	d.fd = -1
}
