package scheduler

import (
	"context"
	"fmt"
	"time"

	"usdtgate/internal/application/order"
	"usdtgate/internal/application/pool"
	"usdtgate/internal/infrastructure/metrics"
	"usdtgate/internal/infrastructure/notify"
	"usdtgate/internal/infrastructure/repository"
	"usdtgate/internal/shared/biztime"
	"usdtgate/internal/shared/constants"
	"usdtgate/internal/shared/logger"
)

// TimeoutSweeper expires PENDING orders whose payment window closed.
type TimeoutSweeper struct {
	orders  *repository.OrderRepository
	service *order.Service
}

func NewTimeoutSweeper(orders *repository.OrderRepository, service *order.Service) *TimeoutSweeper {
	return &TimeoutSweeper{orders: orders, service: service}
}

func (j *TimeoutSweeper) Execute(ctx context.Context) (int, error) {
	overdue, err := j.orders.FindExpiredPending(ctx, biztime.NowUTC())
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range overdue {
		if err := j.service.ProcessTimeout(ctx, &overdue[i]); err != nil {
			return expired, fmt.Errorf("failed to expire %s: %w", overdue[i].TradeNo, err)
		}
		expired++
	}
	return expired, nil
}

// Minutes to wait after the n-th delivery attempt before the next one.
var retryBackoff = []time.Duration{
	0,
	1 * time.Minute,
	2 * time.Minute,
	4 * time.Minute,
	8 * time.Minute,
	16 * time.Minute,
}

// retryLookback bounds the scan window; it covers the full backoff ladder.
const retryLookback = 32 * time.Minute

// CallbackRetrier re-delivers failed merchant callbacks on an exponential
// backoff ladder. Orders past the attempt cap or outside the lookback window
// fall out of the scan.
type CallbackRetrier struct {
	orders     *repository.OrderRepository
	dispatcher *notify.Dispatcher
}

func NewCallbackRetrier(orders *repository.OrderRepository, dispatcher *notify.Dispatcher) *CallbackRetrier {
	return &CallbackRetrier{orders: orders, dispatcher: dispatcher}
}

func (j *CallbackRetrier) Execute(ctx context.Context) (int, error) {
	now := biztime.NowUTC()
	candidates, err := j.orders.FindRetryNotify(ctx, constants.MaxNotifyRetries, now.Add(-retryLookback))
	if err != nil {
		return 0, err
	}

	delivered := 0
	for i := range candidates {
		o := &candidates[i]
		if o.LastNotifyTime == nil || o.NotifyCount >= len(retryBackoff) {
			continue
		}
		if now.Sub(*o.LastNotifyTime) < retryBackoff[o.NotifyCount] {
			continue
		}
		j.dispatcher.Deliver(ctx, o)
		delivered++
	}
	return delivered, nil
}

// PoolJanitor releases reservations whose orders expired, a safety net for
// entries the sweeper could not release because the process died in between.
type PoolJanitor struct {
	pool *pool.AmountPool
	log  logger.Interface
}

func NewPoolJanitor(amountPool *pool.AmountPool, log logger.Interface) *PoolJanitor {
	return &PoolJanitor{pool: amountPool, log: log.Named("janitor")}
}

func (j *PoolJanitor) Execute(ctx context.Context) (int, error) {
	removed := j.pool.CleanupExpired()
	if removed > 0 {
		metrics.PoolEntriesReleased.Add(float64(removed))
		j.log.Infow("released expired pool entries", "count", removed)
	}
	return removed, nil
}
