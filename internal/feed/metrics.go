package feed

import "github.com/prometheus/client_golang/prometheus"

var (
	feedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xxfunc_feed_messages_total",
			Help: "Total number of feed messages received, by result.",
		},
		[]string{"result"},
	)

	feedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xxfunc_feed_dial_retries_total",
			Help: "Total number of failed feed dial attempts that were retried.",
		},
	)
)

func init() {
	prometheus.MustRegister(feedMessages)
	prometheus.MustRegister(feedReconnects)
}
