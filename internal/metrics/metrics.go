package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported on /metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ingestRuns     *prometheus.CounterVec
	ingestEntities *prometheus.CounterVec
	pushEvents     *prometheus.CounterVec
	pushSubs       prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soundshelf",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"outcome"}),
		ingestEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soundshelf",
			Subsystem: "ingest",
			Name:      "entities_total",
			Help:      "Entities handed to the store by ingestion, by kind.",
		}, []string{"kind"}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soundshelf",
			Subsystem: "push",
			Name:      "events_total",
			Help:      "Progress events by delivery result.",
		}, []string{"result"}),
		pushSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "soundshelf",
			Subsystem: "push",
			Name:      "subscribers",
			Help:      "Currently connected progress subscribers.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soundshelf",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soundshelf",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.ingestRuns,
		m.ingestEntities,
		m.pushEvents,
		m.pushSubs,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

// Ingestion outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

func (m *Metrics) IngestRun(outcome string) {
	if m == nil {
		return
	}
	m.ingestRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IngestEntities(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestEntities.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) PushEvent(delivered bool) {
	if m == nil {
		return
	}
	result := "dropped"
	if delivered {
		result = "delivered"
	}
	m.pushEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) PushSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.pushSubs.Add(delta)
}

func (m *Metrics) HTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(seconds)
}
