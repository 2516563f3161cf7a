package payment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payments_total",
		Help: "Payout attempts by outcome (completed, failed, transient).",
	}, []string{"outcome"})

	paymentsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_payments_deduped_total",
		Help: "Payout calls answered from the idempotency cache.",
	})

	cacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_payment_cache_write_failures_total",
		Help: "Failed writes to the payment idempotency cache.",
	})
)
