package sleep

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/luaidle/luaidle/internal/action"
)

type capture struct{ requests []action.Request }

func (c *capture) Submit(_ context.Context, r action.Request) error {
	c.requests = append(c.requests, r)
	return nil
}

type fakeInhibitor struct {
	held     bool
	acquired int
	released int
}

func (f *fakeInhibitor) acquire() error {
	f.held = true
	f.acquired++
	return nil
}

func (f *fakeInhibitor) release() {
	f.held = false
	f.released++
}

func newMonitor(t *testing.T) (*Monitor, *capture, *fakeInhibitor) {
	t.Helper()
	c := &capture{}
	inh := &fakeInhibitor{held: true}
	m := New("swaylock -f", c, zaptest.NewLogger(t))
	m.lockDelay = time.Millisecond
	m.inhibit = inh
	return m, c, inh
}

func sleepSignal(entering bool) *dbus.Signal {
	return &dbus.Signal{Name: prepareForSleep, Body: []any{entering}}
}

func TestEnteringSleepLocksAndReleases(t *testing.T) {
	m, c, inh := newMonitor(t)

	m.handleSignal(context.Background(), sleepSignal(true))

	require.Len(t, c.requests, 1)
	assert.Equal(t, action.KindRunCommand, c.requests[0].Kind())
	assert.Equal(t, "swaylock -f", c.requests[0].Command())
	assert.False(t, inh.held, "inhibitor released so suspend can proceed")
}

func TestWakeRetakesInhibitor(t *testing.T) {
	m, c, inh := newMonitor(t)

	m.handleSignal(context.Background(), sleepSignal(true))
	m.handleSignal(context.Background(), sleepSignal(false))

	assert.Len(t, c.requests, 1, "waking up does not lock again")
	assert.True(t, inh.held)
	assert.Equal(t, 1, inh.acquired)
}

func TestIgnoresUnrelatedSignals(t *testing.T) {
	m, c, inh := newMonitor(t)

	m.handleSignal(context.Background(), &dbus.Signal{Name: managerIface + ".SessionNew", Body: []any{"3"}})
	m.handleSignal(context.Background(), &dbus.Signal{Name: prepareForSleep})
	m.handleSignal(context.Background(), &dbus.Signal{Name: prepareForSleep, Body: []any{"yes"}})

	assert.Empty(t, c.requests)
	assert.Zero(t, inh.released)
}

func TestRunWithoutSystemBus(t *testing.T) {
	t.Setenv("DBUS_SYSTEM_BUS_ADDRESS", "unix:path=/nonexistent/luaidle-test-bus")

	m := New("swaylock", &capture{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, m.Run(ctx))
}
