package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"clonetest/core/types"
)

// EventMetrics counts the contract events emitted by scenario runs.
type EventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking emitted contract events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clonetest",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Contract events emitted by scenario runs segmented by type and wasm action.",
			}, []string{"type", "action"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record counts every event in events.
func (m *EventMetrics) Record(events types.Events) {
	if m == nil {
		return
	}
	for _, ev := range events {
		action, _ := ev.Get("action")
		m.emitted.WithLabelValues(normalize(strings.ToLower(strings.TrimSpace(ev.Type))), normalize(action)).Inc()
	}
}
