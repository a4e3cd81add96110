package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luaidle/luaidle/internal/action"
	"github.com/luaidle/luaidle/internal/engine"
	"github.com/luaidle/luaidle/pkg/idle"
)

func TestTransitions(t *testing.T) {
	m := New(nil)

	m.Transition(engine.Transition{Callback: "lock_screen", Event: idle.Idled, Duration: time.Millisecond})
	m.Transition(engine.Transition{Callback: "lock_screen", Event: idle.Resumed})
	m.Transition(engine.Transition{Callback: "lock_screen", Event: idle.Idled, Err: errors.New("boom")})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("lock_screen", "idled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("lock_screen", "resumed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbackErrors.WithLabelValues("lock_screen")))
}

func TestActionsAndLockGauge(t *testing.T) {
	m := New(nil)

	m.ActionFinished(action.Result{Outcome: action.OutcomeSpawned})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockRunning))

	m.ActionFinished(action.Result{Outcome: action.OutcomeSkipped})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockRunning))

	m.ActionFinished(action.Result{Outcome: action.OutcomeExited})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lockRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("skipped")))

	m.Failure("engine", errors.New("unknown handle"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("engine")))
}

func TestHandlerExposesNotificationGauge(t *testing.T) {
	m := New(func() int { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "luaidle_notifications 3"), body)
	assert.Contains(t, body, "go_goroutines")
}
