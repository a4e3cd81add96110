package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/luaidle/luaidle/internal/registry"
	"github.com/luaidle/luaidle/pkg/idle"
)

type registration struct {
	timeout time.Duration
	name    string
}

type fakeNotifier struct {
	calls []registration
	err   error
}

func (f *fakeNotifier) RegisterNotification(timeout time.Duration, name string) (registry.Handle, error) {
	if f.err != nil {
		return registry.Handle{}, f.err
	}
	f.calls = append(f.calls, registration{timeout, name})
	return registry.NewHandle(), nil
}

func newBridge(t *testing.T, n Notifier, timeout time.Duration) *Bridge {
	t.Helper()
	b := New(n, timeout, zaptest.NewLogger(t))
	t.Cleanup(b.Close)
	return b
}

func TestRegisterConvertsTimeout(t *testing.T) {
	n := &fakeNotifier{}
	b := newBridge(t, n, 0)

	err := b.LoadString("test", `
		IdleNotifier:register(300, "on_idle")
		IdleNotifier:register(0, "immediately")
	`)
	require.NoError(t, err)

	require.Len(t, n.calls, 2)
	assert.Equal(t, registration{300 * time.Second, "on_idle"}, n.calls[0])
	assert.Equal(t, registration{0, "immediately"}, n.calls[1])
	assert.Equal(t, uint32(300000), idle.TimeoutMillis(n.calls[0].timeout))
}

func TestRegisterRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"negative timeout", `IdleNotifier:register(-1, "cb")`},
		{"fractional timeout", `IdleNotifier:register(1.5, "cb")`},
		{"overflowing timeout", `IdleNotifier:register(4294968, "cb")`},
		{"string timeout", `IdleNotifier:register("soon", "cb")`},
		{"bad identifier", `IdleNotifier:register(10, "not a name")`},
		{"leading digit", `IdleNotifier:register(10, "1cb")`},
		{"missing name", `IdleNotifier:register(10)`},
		{"dot call", `IdleNotifier.register(10, "cb")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{}
			b := newBridge(t, n, 0)
			assert.Error(t, b.LoadString(tt.name, tt.src))
			assert.Empty(t, n.calls)
		})
	}
}

func TestRegisterCapabilityUnavailable(t *testing.T) {
	n := &fakeNotifier{err: errors.Wrap(idle.ErrCapabilityUnavailable, "no seat")}
	b := newBridge(t, n, 0)

	err := b.LoadString("test", `IdleNotifier:register(60, "cb")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability unavailable")
}

func TestRegisterFailureCanBeHandledInScript(t *testing.T) {
	n := &fakeNotifier{err: idle.ErrCapabilityUnavailable}
	b := newBridge(t, n, 0)

	err := b.LoadString("test", `
		ok = pcall(function() IdleNotifier:register(60, "cb") end)
		assert(not ok, "register should fail")
	`)
	require.NoError(t, err)
}

func TestCall(t *testing.T) {
	b := newBridge(t, &fakeNotifier{}, 0)
	require.NoError(t, b.LoadString("test", `
		calls = {}
		function lock_screen(state) table.insert(calls, "lock_screen:" .. state) end
		function other(state) table.insert(calls, "other:" .. state) end
		function report(_) error(table.concat(calls, ",")) end
	`))

	require.NoError(t, b.Call("lock_screen", "idled"))
	require.NoError(t, b.Call("lock_screen", "resumed"))

	err := b.Call("report", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_screen:idled,lock_screen:resumed")
	assert.NotContains(t, err.Error(), "other:")
}

func TestCallMissingFunction(t *testing.T) {
	b := newBridge(t, &fakeNotifier{}, 0)
	require.NoError(t, b.LoadString("test", `not_a_function = 42`))

	err := b.Call("nope", "idled")
	assert.True(t, errors.Is(err, ErrCallbackNotFound))

	err = b.Call("not_a_function", "idled")
	assert.True(t, errors.Is(err, ErrCallbackNotFound))

	assert.False(t, b.HasFunction("nope"))
}

func TestCallBeforeLoad(t *testing.T) {
	b := newBridge(t, &fakeNotifier{}, 0)
	assert.True(t, errors.Is(b.Call("x", "idled"), ErrNotLoaded))
}

func TestCallRuntimeErrorIsRecoverable(t *testing.T) {
	b := newBridge(t, &fakeNotifier{}, 0)
	require.NoError(t, b.LoadString("test", `
		function broken(_) error("boom") end
		function fine(_) end
	`))

	err := b.Call("broken", "idled")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, errors.Is(err, ErrCallbackNotFound))

	assert.NoError(t, b.Call("fine", "idled"))
}

func TestCallTimeout(t *testing.T) {
	b := newBridge(t, &fakeNotifier{}, 50*time.Millisecond)
	require.NoError(t, b.LoadString("test", `
		function spin(_) while true do end end
	`))

	start := time.Now()
	err := b.Call("spin", "idled")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSandbox(t *testing.T) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "os", "io"} {
		t.Run(name, func(t *testing.T) {
			b := newBridge(t, &fakeNotifier{}, 0)
			err := b.LoadString("test", `assert(`+name+` == nil, "`+name+` is reachable")`)
			assert.NoError(t, err)
		})
	}
}

func TestLoadFileAndReplace(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.lua")
	second := filepath.Join(dir, "second.lua")
	require.NoError(t, os.WriteFile(first, []byte(`function a(_) end`), 0644))
	require.NoError(t, os.WriteFile(second, []byte(`function b(_) end`), 0644))

	b := newBridge(t, &fakeNotifier{}, 0)
	require.NoError(t, b.Load(first))
	assert.True(t, b.HasFunction("a"))
	assert.Equal(t, first, b.Path())

	require.NoError(t, b.Load(second))
	assert.False(t, b.HasFunction("a"), "old state must be discarded")
	assert.True(t, b.HasFunction("b"))
}

func TestLoadFailureKeepsPreviousState(t *testing.T) {
	b := newBridge(t, &fakeNotifier{}, 0)
	require.NoError(t, b.LoadString("good", `function a(_) end`))

	assert.Error(t, b.LoadString("bad", `function (`))
	assert.True(t, b.HasFunction("a"))

	assert.Error(t, b.Load(filepath.Join(t.TempDir(), "missing.lua")))
	assert.True(t, b.HasFunction("a"))
}
