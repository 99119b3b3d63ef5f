package mcpmgr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the manager's collectors. They are registered on the
// Registerer from ManagerOptions when one is supplied.
type metrics struct {
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	connections      *prometheus.GaugeVec
	reconcileActions *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcphub_tool_calls_total",
			Help: "Total tool calls dispatched to providers",
		}, []string{"provider", "outcome"}),
		toolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcphub_tool_call_duration_seconds",
			Help:    "Tool call latency by provider",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mcphub_connections",
			Help: "Registered provider connections by status",
		}, []string{"status"}),
		reconcileActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcphub_reconcile_actions_total",
			Help: "Reconciliation actions by kind",
		}, []string{"action"}),
	}
}

func (m *metrics) observeCall(provider, outcome string, elapsed time.Duration) {
	m.toolCalls.WithLabelValues(provider, outcome).Inc()
	m.toolCallDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *metrics) refreshConnections(conns []*Connection) {
	counts := map[ConnectionStatus]int{
		StatusConnecting:   0,
		StatusConnected:    0,
		StatusDisconnected: 0,
	}
	for _, c := range conns {
		counts[c.Status()]++
	}
	for status, n := range counts {
		m.connections.WithLabelValues(string(status)).Set(float64(n))
	}
}
