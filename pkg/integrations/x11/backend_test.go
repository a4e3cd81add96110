package x11

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/luaidle/luaidle/pkg/idle"
)

func TestTracker(t *testing.T) {
	s := time.Second
	tests := []struct {
		name     string
		timeout  time.Duration
		interval time.Duration
		samples  []time.Duration
		want     []idle.Event
	}{
		{
			name:    "idles once",
			timeout: 3 * s,
			samples: []time.Duration{1 * s, 2 * s, 3 * s, 4 * s, 5 * s},
			want:    []idle.Event{idle.Idled},
		},
		{
			name:    "resumes on input",
			timeout: 3 * s,
			samples: []time.Duration{2 * s, 3 * s, 4 * s, 0, 1 * s},
			want:    []idle.Event{idle.Idled, idle.Resumed},
		},
		{
			name:    "input before timeout is silent",
			timeout: 3 * s,
			samples: []time.Duration{2 * s, 0, 2 * s, 0},
			want:    nil,
		},
		{
			name:    "cycles",
			timeout: 2 * s,
			samples: []time.Duration{2 * s, 0, 1 * s, 2 * s, 0},
			want:    []idle.Event{idle.Idled, idle.Resumed, idle.Idled, idle.Resumed},
		},
		{
			name:     "input between polls longer than the timeout",
			timeout:  500 * time.Millisecond,
			interval: 2 * s,
			// input 1s before the second poll leaves the counter above the previous sample
			samples: []time.Duration{600 * time.Millisecond, 1 * s, 3 * s},
			want:    []idle.Event{idle.Idled, idle.Resumed, idle.Idled},
		},
		{
			name:    "zero timeout re-idles on the next poll",
			timeout: 0,
			samples: []time.Duration{0, 1 * s, 300 * time.Millisecond, 1300 * time.Millisecond},
			want:    []idle.Event{idle.Idled, idle.Resumed, idle.Idled},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interval := tt.interval
			if interval == 0 {
				interval = time.Second
			}
			tr := tracker{timeout: tt.timeout}
			now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
			var got []idle.Event
			for _, sample := range tt.samples {
				if ev, ok := tr.observe(sample, now); ok {
					got = append(got, ev)
				}
				now = now.Add(interval)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

type samples struct {
	mu     sync.Mutex
	values []time.Duration
	err    error
}

func (s *samples) next() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if len(s.values) == 0 {
		return 0, nil
	}
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return v, nil
}

type events struct {
	mu  sync.Mutex
	got []string
}

func (e *events) handler(name string) idle.Handler {
	return func(ev idle.Event) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.got = append(e.got, name+":"+ev.String())
	}
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.got...)
}

func newPolled(t *testing.T, s *samples) *Backend {
	t.Helper()
	b := New(5*time.Millisecond, zaptest.NewLogger(t))
	b.query = s.next
	return b
}

func TestRunDeliversPerNotification(t *testing.T) {
	s := &samples{values: []time.Duration{
		time.Second, 2 * time.Second, 5 * time.Second, 0,
	}}
	b := newPolled(t, s)
	ev := &events{}

	_, err := b.NewNotification(2*time.Second, ev.handler("short"))
	require.NoError(t, err)
	_, err = b.NewNotification(10*time.Second, ev.handler("long"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(ev.list()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"short:idled", "short:resumed"}, ev.list())
}

func TestDestroyedNotificationIsSilent(t *testing.T) {
	s := &samples{values: []time.Duration{time.Hour}}
	b := newPolled(t, s)
	ev := &events{}

	n, err := b.NewNotification(time.Second, ev.handler("gone"))
	require.NoError(t, err)
	require.NoError(t, n.Destroy())
	assert.Error(t, n.Destroy())

	require.NoError(t, b.poll())
	assert.Empty(t, ev.list())
}

func TestPostRunsOnDispatch(t *testing.T) {
	b := newPolled(t, &samples{})
	b.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	ran := make(chan struct{})
	b.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted function never ran")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestRunStopsOnQueryError(t *testing.T) {
	b := newPolled(t, &samples{err: errors.New("connection reset")})
	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNotConnected(t *testing.T) {
	b := New(time.Second, zaptest.NewLogger(t))
	assert.Equal(t, "x11", b.Name())

	_, err := b.NewNotification(time.Second, func(idle.Event) {})
	assert.True(t, errors.Is(err, idle.ErrCapabilityUnavailable))
	assert.True(t, errors.Is(b.Run(context.Background()), idle.ErrConnection))
	assert.NoError(t, b.Close())
}

func TestConnectLive(t *testing.T) {
	if os.Getenv("DISPLAY") == "" {
		t.Skip("no X11 display")
	}

	b := New(time.Second, zaptest.NewLogger(t))
	if err := b.Connect(); err != nil {
		t.Skipf("X server unusable: %v", err)
	}
	defer b.Close()

	idleFor, err := b.queryIdle()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, idleFor, time.Duration(0))
}
