package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luaidle/luaidle/internal/action"
	"github.com/luaidle/luaidle/internal/engine"
)

const namespace = "luaidle"

// Metrics records engine and executor activity on its own registry
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	callbackErrors  *prometheus.CounterVec
	callbackSeconds *prometheus.HistogramVec
	failures        *prometheus.CounterVec
	actions         *prometheus.CounterVec
	lockRunning     prometheus.Gauge
}

// New creates the collectors. notifications, when non-nil, is sampled for
// the live notification gauge.
func New(notifications func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Idle transitions delivered to script callbacks",
			},
			[]string{"callback", "event"},
		),
		callbackErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callback_errors_total",
				Help:      "Script callbacks that were missing or failed",
			},
			[]string{"callback"},
		),
		callbackSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "callback_duration_seconds",
				Help:      "Time spent inside script callbacks",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"callback"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_total",
				Help:      "Recoverable errors, by component, that dropped an event",
			},
			[]string{"component"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_actions_total",
				Help:      "Lock program invocations by outcome",
			},
			[]string{"outcome"},
		),
		lockRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lock_running",
			Help:      "1 while a lock program started by this daemon is alive",
		}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.callbackErrors,
		m.callbackSeconds,
		m.failures,
		m.actions,
		m.lockRunning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if notifications != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications",
			Help:      "Registered idle notifications",
		}, func() float64 { return float64(notifications()) }))
	}

	return m
}

func (m *Metrics) Transition(t engine.Transition) {
	m.transitions.WithLabelValues(t.Callback, t.Event.String()).Inc()
	m.callbackSeconds.WithLabelValues(t.Callback).Observe(t.Duration.Seconds())
	if t.Err != nil {
		m.callbackErrors.WithLabelValues(t.Callback).Inc()
	}
}

func (m *Metrics) Failure(component string, _ error) {
	m.failures.WithLabelValues(component).Inc()
}

func (m *Metrics) ActionFinished(r action.Result) {
	m.actions.WithLabelValues(string(r.Outcome)).Inc()
	switch r.Outcome {
	case action.OutcomeSpawned:
		m.lockRunning.Set(1)
	case action.OutcomeExited:
		m.lockRunning.Set(0)
	}
}

// Registry exposes the underlying registry for gathering in tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
