package launcher

import "github.com/prometheus/client_golang/prometheus"

var (
	executionsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xxfunc_launcher_executions_total",
			Help: "Total number of module executions recorded, by final status.",
		},
		[]string{"status"},
	)

	notificationsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xxfunc_launcher_notifications_total",
			Help: "Total number of notifications dispatched, by kind.",
		},
		[]string{"kind"},
	)

	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xxfunc_launcher_cache_misses_total",
			Help: "Total number of module binaries written to the module directory.",
		},
	)
)

func init() {
	prometheus.MustRegister(executionsDispatched)
	prometheus.MustRegister(notificationsHandled)
	prometheus.MustRegister(cacheMisses)
}
