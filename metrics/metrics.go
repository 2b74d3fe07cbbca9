// Package metrics holds the Prometheus collectors for the action router.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "actionrouter"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	cacheLookups     *prometheus.CounterVec
	rankingFallbacks *prometheus.CounterVec
	rankingDuration  prometheus.Histogram
	modalOutcomes    *prometheus.CounterVec
	flowOutcomes     *prometheus.CounterVec
	serviceCalls     *prometheus.HistogramVec
	eventsApplied    *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default registers with the global registry once per process.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNewMetrics panics on duplicate registration, so tests pass a fresh
// prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry_cache",
			Name:      "lookups_total",
			Help:      "Registry cache lookups by result.",
		}, []string{"result"}),
		rankingFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "fallbacks_total",
			Help:      "Ranking queries answered with static order.",
		}, []string{"reason"}),
		rankingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "compute_duration_seconds",
			Help:      "Time spent computing a personalized ranking on cache miss.",
			Buckets:   prometheus.DefBuckets,
		}),
		modalOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "modal",
			Name:      "outcomes_total",
			Help:      "Modal sessions reaching a terminal state.",
		}, []string{"state"}),
		flowOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "outcomes_total",
			Help:      "Compound flows reaching a terminal status.",
		}, []string{"status"}),
		serviceCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "modal",
			Name:      "service_call_duration_seconds",
			Help:      "Latency of backend service calls triggered by modal buttons.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "status"}),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "events_total",
			Help:      "Execution events applied to the stats store.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.cacheLookups, m.rankingFallbacks, m.rankingDuration, m.modalOutcomes, m.flowOutcomes, m.serviceCalls, m.eventsApplied)
	return m
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) RankingFallback(reason string) {
	if m == nil {
		return
	}
	m.rankingFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRanking(d time.Duration) {
	if m == nil {
		return
	}
	m.rankingDuration.Observe(d.Seconds())
}

func (m *Metrics) ModalOutcome(state string) {
	if m == nil {
		return
	}
	m.modalOutcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) FlowOutcome(status string) {
	if m == nil {
		return
	}
	m.flowOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveServiceCall(service string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.serviceCalls.WithLabelValues(service, status).Observe(d.Seconds())
}

func (m *Metrics) EventApplied(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.eventsApplied.WithLabelValues(status).Inc()
}
