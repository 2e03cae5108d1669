package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval pipeline and registry metrics.
var (
	SearchStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lexshard",
			Name:      "search_stage_duration_seconds",
			Help:      "Per-stage duration of the hybrid retrieval pipeline",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"stage"},
	)

	SearchResultsReturned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lexshard",
			Name:      "search_results_returned",
			Help:      "Result count per completed domain search",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50},
		},
		[]string{"kind"}, // "domain" / "scatter"
	)

	FanoutBranchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexshard",
			Name:      "fanout_branches_total",
			Help:      "Scatter branch outcomes during multi-domain search",
		},
		[]string{"status"}, // "ok" / "error" / "timeout"
	)

	CollaborationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexshard",
			Name:      "collaboration_requests_total",
			Help:      "Neighbor consultation requests between domain workers",
		},
		[]string{"role", "status"}, // role: "initiator" / "responder"
	)

	RegistryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexshard",
			Name:      "registry_operations_total",
			Help:      "Domain registry lifecycle operations",
		},
		[]string{"operation", "status"}, // operation: assign/split/merge/rebalance/neighbors
	)

	RegistryDomains = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lexshard",
			Name:      "registry_domains",
			Help:      "Current number of domains in the registry",
		},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers pipeline and registry metrics.
// Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchStageDuration)
	prometheus.MustRegister(SearchResultsReturned)
	prometheus.MustRegister(FanoutBranchesTotal)
	prometheus.MustRegister(CollaborationRequestsTotal)
	prometheus.MustRegister(RegistryOperationsTotal)
	prometheus.MustRegister(RegistryDomains)
	searchMetricsRegistered = true
}
