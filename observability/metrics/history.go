package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HistoryMetrics tracks persisted scenario runs and determinism checks.
type HistoryMetrics struct {
	runsSaved    *prometheus.CounterVec
	checks       *prometheus.CounterVec
	lastDuration *prometheus.GaugeVec
}

var (
	historyOnce     sync.Once
	historyRegistry *HistoryMetrics
)

func History() *HistoryMetrics {
	historyOnce.Do(func() {
		historyRegistry = &HistoryMetrics{
			runsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "clonetest_history_runs_saved_total",
				Help: "Scenario runs persisted to the run history by terminal status.",
			}, []string{"status"}),
			checks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "clonetest_history_determinism_checks_total",
				Help: "Determinism checks against the previous run by result (first, consistent, diverged).",
			}, []string{"result"}),
			lastDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "clonetest_history_last_run_seconds",
				Help: "Duration of the most recently persisted run per scenario.",
			}, []string{"scenario"}),
		}
		prometheus.MustRegister(
			historyRegistry.runsSaved,
			historyRegistry.checks,
			historyRegistry.lastDuration,
		)
	})
	return historyRegistry
}

func (m *HistoryMetrics) ObserveSaved(scenario, status string, duration time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.runsSaved.WithLabelValues(status).Inc()
	m.lastDuration.WithLabelValues(scenario).Set(duration.Seconds())
}

func (m *HistoryMetrics) ObserveCheck(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.checks.WithLabelValues(result).Inc()
}
