package wayland

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	ext_idle_notify "github.com/rajveermalviya/go-wayland/wayland/staging/ext-idle-notify-v1"
	"go.uber.org/zap"

	"github.com/luaidle/luaidle/pkg/idle"
)

const notifierInterface = "ext_idle_notifier_v1"

type seatInfo struct {
	name string
	seat *client.Seat
}

// Backend implements idle.Backend on ext-idle-notify-v1
type Backend struct {
	seatName string
	logger   *zap.Logger

	display  *client.Display
	registry *client.Registry
	notifier *ext_idle_notify.IdleNotifier
	seat     *client.Seat
	seats    []*seatInfo

	mu     sync.Mutex
	posted []func()
}

// New creates a backend bound to the seat named seatName, or to the first
// named seat when seatName is empty.
func New(seatName string, logger *zap.Logger) *Backend {
	return &Backend{
		seatName: seatName,
		logger:   logger.Named("wayland"),
	}
}

func (b *Backend) Name() string {
	return "wayland"
}

// Connect opens the display and binds wl_seat and ext_idle_notifier_v1
func (b *Backend) Connect() error {
	display, err := client.Connect("")
	if err != nil {
		return errors.Wrap(idle.ErrConnection, err.Error())
	}

	registry, err := display.GetRegistry()
	if err != nil {
		display.Context().Close()
		return errors.Wrapf(idle.ErrConnection, "get registry: %v", err)
	}

	b.display = display
	b.registry = registry

	if err := b.initialize(); err != nil {
		display.Context().Close()
		b.display = nil
		return err
	}
	return nil
}

func (b *Backend) initialize() error {
	var notifierName, notifierVersion uint32

	b.registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		switch e.Interface {
		case notifierInterface:
			notifierName = e.Name
			notifierVersion = e.Version
		case "wl_seat":
			seat := client.NewSeat(b.display.Context())
			if err := b.registry.Bind(e.Name, e.Interface, e.Version, seat); err != nil {
				b.logger.Error("Failed to bind seat", zap.Error(err))
				return
			}

			info := &seatInfo{seat: seat}
			seat.SetNameHandler(func(e client.SeatNameEvent) {
				info.name = e.Name
			})
			b.seats = append(b.seats, info)
		}
	})

	// the first roundtrip announces globals, the second delivers seat names
	if err := b.roundTrip(); err != nil {
		return err
	}
	if err := b.roundTrip(); err != nil {
		return err
	}

	if notifierName == 0 {
		return errors.Wrapf(idle.ErrCapabilityUnavailable, "compositor does not advertise %s", notifierInterface)
	}

	b.seat = b.pickSeat()
	if b.seat == nil {
		if b.seatName != "" {
			return errors.Wrapf(idle.ErrCapabilityUnavailable, "seat %q not found", b.seatName)
		}
		return errors.Wrap(idle.ErrCapabilityUnavailable, "no wl_seat found")
	}

	notifier := ext_idle_notify.NewIdleNotifier(b.display.Context())
	if err := b.registry.Bind(notifierName, notifierInterface, notifierVersion, notifier); err != nil {
		return errors.Wrapf(idle.ErrCapabilityUnavailable, "bind %s: %v", notifierInterface, err)
	}
	b.notifier = notifier

	b.logger.Info("Connected",
		zap.Int("seats", len(b.seats)),
		zap.Uint32("notifier_version", notifierVersion))
	return nil
}

func (b *Backend) pickSeat() *client.Seat {
	for _, s := range b.seats {
		if b.seatName == "" || s.name == b.seatName {
			return s.seat
		}
	}
	return nil
}

func (b *Backend) roundTrip() error {
	callback, err := b.display.Sync()
	if err != nil {
		return errors.Wrapf(idle.ErrConnection, "sync: %v", err)
	}
	defer func() {
		if err := callback.Destroy(); err != nil {
			b.logger.Warn("Unable to destroy sync callback", zap.Error(err))
		}
	}()

	done := false
	callback.SetDoneHandler(func(_ client.CallbackDoneEvent) {
		done = true
	})

	for !done {
		if err := b.display.Context().Dispatch(); err != nil {
			return errors.Wrapf(idle.ErrConnection, "dispatch: %v", err)
		}
	}
	return nil
}

type notification struct {
	n *ext_idle_notify.IdleNotification
}

func (n *notification) Destroy() error {
	return n.n.Destroy()
}

// NewNotification asks the compositor for an idle notification on the bound seat
func (b *Backend) NewNotification(timeout time.Duration, h idle.Handler) (idle.Notification, error) {
	if b.notifier == nil || b.seat == nil {
		return nil, errors.Wrap(idle.ErrCapabilityUnavailable, "not connected")
	}

	n, err := b.notifier.GetIdleNotification(idle.TimeoutMillis(timeout), b.seat)
	if err != nil {
		return nil, errors.Wrap(err, "get_idle_notification")
	}

	n.SetIdledHandler(func(ext_idle_notify.IdleNotificationIdledEvent) {
		h(idle.Idled)
	})
	n.SetResumedHandler(func(ext_idle_notify.IdleNotificationResumedEvent) {
		h(idle.Resumed)
	})

	return &notification{n: n}, nil
}

// Run dispatches events until the connection fails or ctx is done. Posted
// functions run after each dispatched event.
func (b *Backend) Run(ctx context.Context) error {
	if b.display == nil {
		return errors.Wrap(idle.ErrConnection, "not connected")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.wake()
		case <-stop:
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.display.Context().Dispatch(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "wayland dispatch")
		}
		b.drain()
	}
}

// Post queues fn for the dispatch goroutine and wakes it with a sync request
func (b *Backend) Post(fn func()) {
	b.mu.Lock()
	b.posted = append(b.posted, fn)
	b.mu.Unlock()
	b.wake()
}

// wake makes the compositor answer a wl_display.sync so that a blocked
// Dispatch returns
func (b *Backend) wake() {
	if b.display == nil {
		return
	}
	callback, err := b.display.Sync()
	if err != nil {
		b.logger.Warn("Failed to wake dispatch loop", zap.Error(err))
		return
	}
	b.releaseOnDone(callback)
}

type doneCallback interface {
	SetDoneHandler(f client.CallbackDoneHandlerFunc)
	Destroy() error
}

// releaseOnDone unregisters the callback proxy once its done event has been
// dispatched
func (b *Backend) releaseOnDone(callback doneCallback) {
	callback.SetDoneHandler(func(client.CallbackDoneEvent) {
		if err := callback.Destroy(); err != nil {
			b.logger.Debug("Unable to destroy wake callback", zap.Error(err))
		}
	})
}

func (b *Backend) drain() {
	b.mu.Lock()
	posted := b.posted
	b.posted = nil
	b.mu.Unlock()

	for _, fn := range posted {
		fn()
	}
}

// Close disconnects from the display
func (b *Backend) Close() error {
	if b.display == nil {
		return nil
	}
	if b.notifier != nil {
		if err := b.notifier.Destroy(); err != nil {
			b.logger.Debug("Failed to destroy idle notifier", zap.Error(err))
		}
	}
	err := b.display.Context().Close()
	b.display = nil
	b.notifier = nil
	b.seat = nil
	if err != nil {
		return errors.Wrap(err, "close wayland display")
	}
	return nil
}
