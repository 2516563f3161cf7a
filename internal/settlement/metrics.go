package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	finalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_finalized_total",
		Help: "Auctions finalized into transactions.",
	})

	payoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payouts_total",
		Help: "Payouts reaching a terminal status.",
	}, []string{"status"})

	transactionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transactions_closed_total",
		Help: "Transactions reaching a terminal status.",
	}, []string{"status"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_payout_retries_total",
		Help: "Payout attempts left for redelivery after a transient failure.",
	})

	redrivesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_payout_redrives_total",
		Help: "Payouts re-driven by operator action.",
	})

	poisonJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_poison_jobs_total",
		Help: "Payout jobs failed permanently because their payload could not be processed.",
	})

	reconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_reconcile_latency_seconds",
		Help:    "Latency of reconciling one payout job.",
		Buckets: prometheus.DefBuckets,
	})
)
