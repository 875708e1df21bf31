package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	forkMetricsOnce sync.Once
	forkRegistry    *ForkMetrics
)

// ForkMetrics captures remote fetch, cache and scenario activity.
type ForkMetrics struct {
	remoteRequests *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec
	remoteRetries  *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	scenarios      *prometheus.CounterVec
	stepLatency    *prometheus.HistogramVec
}

// Fork returns the lazily-initialised metrics registry shared by the fork
// components.
func Fork() *ForkMetrics {
	forkMetricsOnce.Do(func() {
		forkRegistry = &ForkMetrics{
			remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clonetest",
				Subsystem: "remote",
				Name:      "requests_total",
				Help:      "Remote chain queries segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "clonetest",
				Subsystem: "remote",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution of remote chain queries including retries.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			remoteRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clonetest",
				Subsystem: "remote",
				Name:      "retries_total",
				Help:      "Retried remote chain queries segmented by method and reason.",
			}, []string{"method", "reason"}),
			cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clonetest",
				Subsystem: "snapshot",
				Name:      "lookups_total",
				Help:      "Snapshot cache lookups segmented by entry kind and result (hit, miss, shared).",
			}, []string{"kind", "result"}),
			scenarios: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clonetest",
				Subsystem: "scenario",
				Name:      "runs_total",
				Help:      "Finished scenarios segmented by terminal status.",
			}, []string{"status"}),
			stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "clonetest",
				Subsystem: "scenario",
				Name:      "step_duration_seconds",
				Help:      "Latency distribution of scenario steps.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"step"}),
		}
		prometheus.MustRegister(
			forkRegistry.remoteRequests,
			forkRegistry.remoteLatency,
			forkRegistry.remoteRetries,
			forkRegistry.cacheLookups,
			forkRegistry.scenarios,
			forkRegistry.stepLatency,
		)
	})
	return forkRegistry
}

// ObserveRemote records a finished remote query.
func (m *ForkMetrics) ObserveRemote(method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.remoteRequests.WithLabelValues(normalize(method), outcome).Inc()
	m.remoteLatency.WithLabelValues(normalize(method)).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter.
func (m *ForkMetrics) RecordRetry(method, reason string) {
	if m == nil {
		return
	}
	m.remoteRetries.WithLabelValues(normalize(method), normalize(reason)).Inc()
}

// RecordLookup counts a snapshot cache lookup.
func (m *ForkMetrics) RecordLookup(kind, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(normalize(kind), normalize(result)).Inc()
}

// RecordScenario counts a scenario reaching a terminal status.
func (m *ForkMetrics) RecordScenario(status string) {
	if m == nil {
		return
	}
	m.scenarios.WithLabelValues(normalize(status)).Inc()
}

// ObserveStep records the latency of a scenario step.
func (m *ForkMetrics) ObserveStep(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(normalize(step)).Observe(duration.Seconds())
}

func normalize(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
