// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stemsi/exstem-cbt/internal/model"
)

const namespace = "exstem_cbt"

// Metrics groups the gateway collectors. It also acts as an attempt event
// sink, counting lifecycle events as sessions publish them.
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	AttemptsStarted  prometheus.Counter
	LoadFailures     prometheus.Counter
	AnswersSaved     prometheus.Counter
	AutosaveFailures prometheus.Counter
	Submits          *prometheus.CounterVec
	SubmitFailures   *prometheus.CounterVec
	LiveSessions     prometheus.Gauge
	JournalWritten   prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "endpoint"}),
		AttemptsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_started_total",
			Help:      "Attempts that reached IN_PROGRESS",
		}),
		LoadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_load_failures_total",
			Help:      "Attempts that failed to load",
		}),
		AnswersSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosave_answers_saved_total",
			Help:      "Answers persisted upstream by autosave or final flush",
		}),
		AutosaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosave_answers_failed_total",
			Help:      "Answers that failed to persist upstream",
		}),
		Submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_submitted_total",
			Help:      "Attempts submitted, by trigger",
		}, []string{"trigger"}),
		SubmitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_submit_failures_total",
			Help:      "Failed submit calls, by trigger",
		}, []string{"trigger"}),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Attempt sessions currently held by this instance",
		}),
		JournalWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_events_written_total",
			Help:      "Attempt events persisted to the journal",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RequestCounter,
		m.RequestDuration,
		m.AttemptsStarted,
		m.LoadFailures,
		m.AnswersSaved,
		m.AutosaveFailures,
		m.Submits,
		m.SubmitFailures,
		m.LiveSessions,
		m.JournalWritten,
	)
	return m
}

// Publish counts an attempt event.
func (m *Metrics) Publish(ev model.AttemptEvent) {
	switch ev.Kind {
	case model.EventLoadFailed:
		m.LoadFailures.Inc()
	case model.EventAutosaved:
		m.AnswersSaved.Add(float64(ev.Saved))
		m.AutosaveFailures.Add(float64(ev.Failed))
	case model.EventSubmitted:
		m.Submits.WithLabelValues(string(ev.Trigger)).Inc()
	case model.EventSubmitFailed:
		m.SubmitFailures.WithLabelValues(string(ev.Trigger)).Inc()
	}
}

// Middleware records request counts and latencies per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, endpoint).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
