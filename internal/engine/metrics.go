package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for task outcomes.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeAbandoned = "abandoned"
)

var (
	tasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xxfunc_engine_tasks_submitted_total",
			Help: "Total number of tasks accepted by Submit.",
		},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xxfunc_engine_tasks_total",
			Help: "Total number of tasks resolved, by outcome.",
		},
		[]string{"outcome"},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xxfunc_engine_task_duration_seconds",
			Help:    "Wall-clock duration of a single task execution, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xxfunc_engine_queue_depth",
			Help: "Number of tasks waiting for a worker.",
		},
	)

	idleWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xxfunc_engine_idle_workers",
			Help: "Number of workers parked in the idle registry.",
		},
	)

	poolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xxfunc_engine_workers",
			Help: "Number of worker goroutines across all running engines.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(idleWorkers)
	prometheus.MustRegister(poolSize)

	for _, o := range []string{outcomeCompleted, outcomeFailed, outcomeAbandoned} {
		tasksTotal.WithLabelValues(o)
	}
}
