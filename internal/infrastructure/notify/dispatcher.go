package notify

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"

	"usdtgate/internal/infrastructure/metrics"
	"usdtgate/internal/infrastructure/persistence/models"
	"usdtgate/internal/shared/biztime"
	"usdtgate/internal/shared/constants"
	"usdtgate/internal/shared/goroutine"
	"usdtgate/internal/shared/logger"
)

const deliverTimeout = 30 * time.Second

// Recorder persists the outcome of a delivery attempt.
type Recorder interface {
	UpdateNotifyInfo(ctx context.Context, id uint, count int, status string, at time.Time) error
}

// Dispatcher fires the immediate first callback when an order reaches a
// terminal state and owns the per-attempt bookkeeping shared with the retry
// scan.
type Dispatcher struct {
	sender   *Sender
	recorder Recorder
	bus      EventBus.Bus
	log      logger.Interface
}

func NewDispatcher(sender *Sender, recorder Recorder, bus EventBus.Bus, log logger.Interface) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		recorder: recorder,
		bus:      bus,
		log:      log.Named("notify"),
	}
}

// Start subscribes to the callback topic.
func (d *Dispatcher) Start() error {
	return d.bus.SubscribeAsync(constants.TopicCallbackNotify, d.onOrderTerminal, false)
}

// Stop unsubscribes and waits for in-flight handlers.
func (d *Dispatcher) Stop() {
	if err := d.bus.Unsubscribe(constants.TopicCallbackNotify, d.onOrderTerminal); err != nil {
		d.log.Warnw("failed to unsubscribe callback handler", "error", err)
	}
	d.bus.WaitAsync()
}

func (d *Dispatcher) onOrderTerminal(order *models.OrderModel) {
	goroutine.SafeGo(d.log, "callback-first-attempt", func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		defer cancel()
		d.Deliver(ctx, order)
	})
}

// Deliver performs one delivery attempt and records the outcome. Orders
// without a notify URL are marked delivered without a request. The attempt
// that exhausts the retry budget lands in MAX_RETRY instead of RETRY so the
// scan stops picking the order up.
func (d *Dispatcher) Deliver(ctx context.Context, order *models.OrderModel) {
	if !constants.IsTerminalStatus(order.Status) {
		d.log.Warnw("callback requested for a non-terminal order, skipping",
			"trade_no", order.TradeNo, "status", order.Status)
		return
	}
	now := biztime.NowUTC()

	if order.NotifyUrl == "" {
		if err := d.recorder.UpdateNotifyInfo(ctx, order.ID, order.NotifyCount, constants.NotifyStatusSuccess, now); err != nil {
			d.log.Errorw("failed to record notify outcome", "trade_no", order.TradeNo, "error", err)
		}
		return
	}

	msg := CallbackMessage{TradeNo: order.TradeNo, Status: order.Status}
	sendErr := d.sender.Send(ctx, order.NotifyUrl, msg)

	newCount := order.NotifyCount + 1
	newStatus := constants.NotifyStatusSuccess
	if sendErr != nil {
		newStatus = constants.NotifyStatusRetry
		if newCount >= constants.MaxNotifyRetries {
			newStatus = constants.NotifyStatusMaxRetry
		}
	}

	if sendErr != nil {
		metrics.CallbackAttempts.WithLabelValues("failure").Inc()
		d.log.Warnw("callback delivery failed",
			"trade_no", order.TradeNo, "attempt", newCount, "notify_status", newStatus, "error", sendErr)
	} else {
		metrics.CallbackAttempts.WithLabelValues("success").Inc()
		d.log.Infow("callback delivered", "trade_no", order.TradeNo, "attempt", newCount)
	}

	if err := d.recorder.UpdateNotifyInfo(ctx, order.ID, newCount, newStatus, now); err != nil {
		d.log.Errorw("failed to record notify outcome", "trade_no", order.TradeNo, "error", err)
	}

	order.NotifyCount = newCount
	order.NotifyStatus = newStatus
	order.LastNotifyTime = &now
}
