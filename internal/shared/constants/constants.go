package constants

// Chain types supported by the gateway.
const (
	ChainTRC20 = "TRC20"
	ChainSPL   = "SPL"
	ChainBEP20 = "BEP20"
)

// Order status values. PENDING is the only non-terminal state.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusExpired   = "EXPIRED"
	OrderStatusAbnormal  = "ABNORMAL"
)

// Callback notification status values.
const (
	NotifyStatusPending  = "PENDING"
	NotifyStatusSuccess  = "SUCCESS"
	NotifyStatusRetry    = "RETRY"
	NotifyStatusMaxRetry = "MAX_RETRY"
)

// Event bus topics.
const (
	TopicOrderPaid      = "order:paid"
	TopicCallbackNotify = "order:callback"
)

// Database table names
const (
	TableTradeOrders = "trade_orders"
)

// USDT amounts are tracked in the token's smallest unit. All three supported
// USDT contracts settle with 6 decimals once normalized (BEP20's 18-decimal
// raw value is scaled down by the decoder).
const (
	USDTUnit = 1_000_000
)

// MaxNotifyRetries is the callback delivery attempt ceiling.
const MaxNotifyRetries = 6

// AllocateMaxAttempts bounds the amount disambiguation search.
const AllocateMaxAttempts = 100

// ValidChains lists every chain type the gateway can watch.
var ValidChains = []string{ChainTRC20, ChainSPL, ChainBEP20}

// IsValidChain reports whether chainType is a supported chain.
func IsValidChain(chainType string) bool {
	for _, c := range ValidChains {
		if c == chainType {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether an order status permits no further
// transitions.
func IsTerminalStatus(status string) bool {
	return status != OrderStatusPending
}
