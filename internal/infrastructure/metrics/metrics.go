// Package metrics exposes the gateway's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usdtgate_orders_created_total",
		Help: "Orders created successfully.",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usdtgate_orders_cancelled_total",
		Help: "Orders cancelled by the merchant.",
	})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usdtgate_orders_expired_total",
		Help: "Orders expired by the timeout sweeper.",
	})

	PaymentsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usdtgate_payments_received_total",
		Help: "On-chain payments matched to an order.",
	}, []string{"chain"})

	BlockScanSuccess = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usdtgate_block_scan_success_total",
		Help: "Blocks fetched and parsed successfully.",
	}, []string{"chain"})

	BlockScanFailure = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usdtgate_block_scan_failure_total",
		Help: "Block fetch or parse failures.",
	}, []string{"chain"})

	CallbackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usdtgate_callback_attempts_total",
		Help: "Merchant callback deliveries by outcome.",
	}, []string{"outcome"})

	PoolEntriesReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usdtgate_pool_janitor_released_total",
		Help: "Expired amount pool entries released by the janitor.",
	})
)
