package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_queue_enqueued_total",
		Help: "Total number of jobs enqueued.",
	})

	jobsAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_queue_acked_total",
		Help: "Total number of jobs acknowledged successfully.",
	})

	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_queue_failed_total",
		Help: "Total number of jobs marked failed.",
	})

	jobsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_queue_reclaimed_total",
		Help: "Total number of stale processing jobs requeued for redelivery.",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settlement_queue_depth",
		Help: "Current queue depth by state.",
	}, []string{"state"})
)

func recordStats(s Stats) {
	queueDepth.WithLabelValues("queued").Set(float64(s.Queued))
	queueDepth.WithLabelValues("processing").Set(float64(s.Processing))
}
