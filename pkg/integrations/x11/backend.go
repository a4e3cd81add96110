package x11

import (
	"context"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luaidle/luaidle/pkg/idle"
)

// Backend implements idle.Backend by polling the MIT-SCREEN-SAVER extension.
// Each notification keeps its own idle/resumed state, so several timeouts
// behave like separate ext-idle-notify objects.
type Backend struct {
	pollInterval time.Duration
	logger       *zap.Logger

	conn  *xgb.Conn
	root  xproto.Window
	query func() (time.Duration, error)

	mu            sync.Mutex
	notifications []*notification
	posted        []func()
	wakeCh        chan struct{}
}

func New(pollInterval time.Duration, logger *zap.Logger) *Backend {
	return &Backend{
		pollInterval: pollInterval,
		logger:       logger.Named("x11"),
		wakeCh:       make(chan struct{}, 1),
	}
}

func (b *Backend) Name() string {
	return "x11"
}

// Connect opens the display named by $DISPLAY and initializes the
// screensaver extension
func (b *Backend) Connect() error {
	conn, err := xgb.NewConn()
	if err != nil {
		return errors.Wrap(idle.ErrConnection, err.Error())
	}

	if err := screensaver.Init(conn); err != nil {
		conn.Close()
		return errors.Wrapf(idle.ErrCapabilityUnavailable, "MIT-SCREEN-SAVER: %v", err)
	}

	b.conn = conn
	b.root = xproto.Setup(conn).DefaultScreen(conn).Root
	b.query = b.queryIdle

	if _, err := b.query(); err != nil {
		conn.Close()
		b.conn = nil
		return errors.Wrap(idle.ErrCapabilityUnavailable, err.Error())
	}

	b.logger.Info("Connected", zap.Duration("poll_interval", b.pollInterval))
	return nil
}

func (b *Backend) queryIdle() (time.Duration, error) {
	info, err := screensaver.QueryInfo(b.conn, xproto.Drawable(b.root)).Reply()
	if err != nil {
		return 0, errors.Wrap(err, "screensaver query info")
	}
	return time.Duration(info.MsSinceUserInput) * time.Millisecond, nil
}

// NewNotification starts tracking timeout against the server's idle time
func (b *Backend) NewNotification(timeout time.Duration, h idle.Handler) (idle.Notification, error) {
	if b.query == nil {
		return nil, errors.Wrap(idle.ErrCapabilityUnavailable, "not connected")
	}

	n := &notification{
		backend: b,
		tracker: tracker{timeout: timeout},
		handler: h,
	}

	b.mu.Lock()
	b.notifications = append(b.notifications, n)
	b.mu.Unlock()
	return n, nil
}

// Run polls the idle time every poll interval and runs posted functions
// between polls
func (b *Backend) Run(ctx context.Context) error {
	if b.query == nil {
		return errors.Wrap(idle.ErrConnection, "not connected")
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.wakeCh:
			b.drain()
		case <-ticker.C:
			if err := b.poll(); err != nil {
				return err
			}
		}
	}
}

func (b *Backend) poll() error {
	idleFor, err := b.query()
	if err != nil {
		return err
	}

	now := time.Now()

	b.mu.Lock()
	live := append([]*notification(nil), b.notifications...)
	b.mu.Unlock()

	for _, n := range live {
		if n.destroyed() {
			continue
		}
		if ev, fire := n.tracker.observe(idleFor, now); fire {
			n.handler(ev)
		}
	}
	return nil
}

func (b *Backend) Post(fn func()) {
	b.mu.Lock()
	b.posted = append(b.posted, fn)
	b.mu.Unlock()

	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
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

func (b *Backend) remove(n *notification) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.notifications {
		if cur == n {
			b.notifications = append(b.notifications[:i], b.notifications[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Backend) Close() error {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.query = nil
	return nil
}

type notification struct {
	backend *Backend
	tracker tracker
	handler idle.Handler
}

func (n *notification) Destroy() error {
	if !n.backend.remove(n) {
		return errors.New("notification already destroyed")
	}
	return nil
}

func (n *notification) destroyed() bool {
	n.backend.mu.Lock()
	defer n.backend.mu.Unlock()
	for _, cur := range n.backend.notifications {
		if cur == n {
			return false
		}
	}
	return true
}

// resumeSlack absorbs query latency and millisecond rounding when
// comparing the server's idle counter against wall time
const resumeSlack = 50 * time.Millisecond

// tracker turns sampled idle times into idled/resumed edges. Without input
// the server's idle counter grows with wall time, so a sample below
// last+elapsed means input happened between polls, even when the counter
// has already climbed past the previous sample.
//
// A zero timeout is idle whenever no input is seen: every resumed is
// followed by idled on the next poll.
type tracker struct {
	timeout time.Duration
	idled   bool
	last    time.Duration
	lastAt  time.Time
}

func (t *tracker) observe(idleFor time.Duration, now time.Time) (idle.Event, bool) {
	inputSeen := !t.lastAt.IsZero() && idleFor+resumeSlack < t.last+now.Sub(t.lastAt)
	t.last, t.lastAt = idleFor, now

	if t.idled && inputSeen {
		t.idled = false
		return idle.Resumed, true
	}
	if !t.idled && idleFor >= t.timeout {
		t.idled = true
		return idle.Idled, true
	}
	return 0, false
}
