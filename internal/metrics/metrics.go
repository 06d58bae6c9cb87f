package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_engine_settlement_executions_total",
			Help: "Total number of settlement execution attempts by outcome",
		},
		[]string{"outcome"},
	)

	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reward_engine_settlement_duration_seconds",
			Help:    "Duration of settlement executions that reached processing",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)

	DistributedAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_engine_a_coin_distributed_total",
			Help: "Total A-Coin moved from the pool into circulation",
		},
	)

	WalletCreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_engine_wallet_credits_total",
			Help: "Total number of wallet credit deliveries by status",
		},
		[]string{"status"},
	)

	LedgerTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_engine_ledger_transactions_total",
			Help: "Total number of ledger write attempts by result",
		},
		[]string{"type", "result"},
	)

	SchedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_engine_scheduler_ticks_total",
			Help: "Total number of auto-settlement checks by result",
		},
		[]string{"result"},
	)
)
