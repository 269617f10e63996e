package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's ambient Prometheus instrumentation: simple
// operation/approval counters and a tree-index size gauge. This is basic
// observability, not the resource-accounting the spec's Non-goals
// exclude.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec
	ApprovalsTotal  *prometheus.CounterVec
	TreeIndexSize   prometheus.Gauge
}

// NewMetrics registers the gateway's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "operations_total",
			Help:      "Total gateway operations by kind and result.",
		}, []string{"operation", "result"}),
		ApprovalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "approvals_total",
			Help:      "Total approval decisions by status.",
		}, []string{"status"}),
		TreeIndexSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "tree_index_entries",
			Help:      "Number of entries currently in the tree index.",
		}),
	}
}
