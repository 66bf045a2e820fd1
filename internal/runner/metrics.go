package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_transactions_total",
		Help: "Dispatched transactions by classified outcome.",
	}, []string{"status"})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_batches_total",
		Help: "Batch runs by terminal state.",
	}, []string{"status"})
)
