package callback

import "github.com/prometheus/client_golang/prometheus"

// Metrics vectors labeled by an opaque query-group name the coordinator
// assigns, grounded on indexes/index_manager.go's ReindexTaskCount/
// ReindexResults Prometheus vectors.
var (
	callbackAddTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncquery",
		Subsystem: "callback",
		Name:      "add_total",
	}, []string{"group"})

	callbackFiresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncquery",
		Subsystem: "callback",
		Name:      "fires_total",
	}, []string{"group"})

	callbackErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asyncquery",
		Subsystem: "callback",
		Name:      "errors_total",
	}, []string{"group"})

	callbackRegistrySize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "asyncquery",
		Subsystem: "callback",
		Name:      "registry_size",
	}, []string{"group"})
)

// Collectors returns the registry's Prometheus collectors for callers that
// want to register them explicitly rather than via MustRegister side effects.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{callbackAddTotal, callbackFiresTotal, callbackErrorsTotal, callbackRegistrySize}
}
