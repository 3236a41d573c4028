// Package order implements the settlement order lifecycle: creation with
// amount disambiguation, payment matching, cancellation, expiry and the
// callback bookkeeping that follows every terminal transition.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"usdtgate/internal/application/pool"
	"usdtgate/internal/infrastructure/config"
	"usdtgate/internal/infrastructure/exchangerate"
	"usdtgate/internal/infrastructure/metrics"
	"usdtgate/internal/infrastructure/persistence/models"
	"usdtgate/internal/infrastructure/repository"
	"usdtgate/internal/shared/biztime"
	"usdtgate/internal/shared/constants"
	apperrors "usdtgate/internal/shared/errors"
	"usdtgate/internal/shared/logger"
)

// RateProvider supplies the current USDT/CNY market rate.
type RateProvider interface {
	CurrentRate(ctx context.Context) (decimal.Decimal, error)
}

// CreateParams carries a merchant's order creation request after transport
// validation. Rate and TimeoutSeconds override the gateway defaults when set.
type CreateParams struct {
	OrderNo        string
	Amount         decimal.Decimal // fiat amount in yuan
	ChainType      string
	Address        string // overrides the chain's configured receiving address
	NotifyUrl      string
	RedirectUrl    string
	Signature      string
	Rate           string
	TimeoutSeconds int
}

// Service coordinates the order state machine across the pool, the store and
// the event bus. Every transition out of PENDING goes through a conditional
// update so concurrent watchers, sweepers and merchant calls cannot
// double-fire.
type Service struct {
	cfg    *config.Config
	pool   *pool.AmountPool
	orders *repository.OrderRepository
	rates  RateProvider
	bus    EventBus.Bus
	log    logger.Interface
}

func NewService(
	cfg *config.Config,
	amountPool *pool.AmountPool,
	orders *repository.OrderRepository,
	rates RateProvider,
	bus EventBus.Bus,
	log logger.Interface,
) *Service {
	return &Service{
		cfg:    cfg,
		pool:   amountPool,
		orders: orders,
		rates:  rates,
		bus:    bus,
		log:    log.Named("order"),
	}
}

// Create prices the fiat amount in USDT, reserves a unique settlement amount
// from the pool and persists the order. The pool reservation is compensated
// on any failure after allocation.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.OrderModel, error) {
	if !constants.IsValidChain(params.ChainType) {
		return nil, apperrors.NewBizErrorf(apperrors.CodeChainTypeInvalid, "unsupported chain type %q", params.ChainType)
	}
	chain := s.cfg.Chain(params.ChainType)
	if chain == nil || !chain.Enabled {
		return nil, apperrors.NewBizErrorf(apperrors.CodeChainNotEnabled, "chain %s is not enabled", params.ChainType)
	}
	address := params.Address
	if address == "" {
		address = chain.Address
	}
	if address == "" {
		return nil, apperrors.NewBizErrorf(apperrors.CodeChainAddressNotConfigured, "chain %s has no receiving address", params.ChainType)
	}
	if params.ChainType == constants.ChainBEP20 {
		// Hex addresses are case-insensitive; the decoder emits lowercase,
		// so pool keys must be reserved in the same form.
		address = strings.ToLower(address)
	}

	if !params.Amount.IsPositive() {
		return nil, apperrors.NewBizError(apperrors.CodeAmountTooSmall, "amount must be positive")
	}
	if params.Amount.Exponent() < -2 {
		return nil, apperrors.NewBizError(apperrors.CodeAmountPrecisionError, "amount supports at most 2 decimal places")
	}

	rateStrategy := strings.TrimSpace(params.Rate)
	if rateStrategy == "" {
		rateStrategy = s.cfg.Pay.Rate
	}
	rate, err := s.resolveRate(ctx, rateStrategy)
	if err != nil {
		return nil, err
	}

	scale := s.cfg.Pay.Scale()
	baseUsdt := params.Amount.DivRound(rate, int32(scale))
	baseMin := UsdtToMinUnit(baseUsdt, constants.USDTUnit)
	atomStep := s.atomStep()
	if baseMin < atomStep {
		return nil, apperrors.NewBizErrorf(apperrors.CodeAmountTooSmall,
			"amount converts below the minimum settlement step %s USDT", s.cfg.Pay.Atom)
	}
	if baseMin%atomStep != 0 {
		return nil, apperrors.NewBizError(apperrors.CodeAmountPrecisionError, "converted amount does not align to the settlement step")
	}

	actualAmount, ok := s.allocateAmount(address, baseMin, atomStep)
	if !ok {
		return nil, apperrors.NewBizError(apperrors.CodeAmountPoolAllocateFailed,
			"no settlement amount available, try again shortly")
	}

	timeoutSeconds := params.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = s.cfg.Pay.TimeoutSeconds
	}
	now := biztime.NowUTC()
	expireTime := now.Add(time.Duration(timeoutSeconds) * time.Second)
	tradeNo := newTradeNo()

	s.pool.Bind(address, actualAmount, tradeNo, expireTime)

	order := &models.OrderModel{
		TradeNo:          tradeNo,
		OrderNo:          params.OrderNo,
		Amount:           CnyToMinUnit(params.Amount),
		ActualAmount:     actualAmount,
		Address:          address,
		ChainType:        params.ChainType,
		Status:           constants.OrderStatusPending,
		Signature:        params.Signature,
		Rate:             rate.String(),
		Scale:            scale,
		TradeIsConfirmed: s.cfg.Pay.TradeIsConfirmed,
		NotifyUrl:        params.NotifyUrl,
		TimeoutSeconds:   timeoutSeconds,
		PaymentURL:       s.paymentURL(tradeNo),
		ExpireTime:       &expireTime,
		NotifyStatus:     constants.NotifyStatusPending,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		s.pool.Release(address, actualAmount)
		s.log.Errorw("failed to persist order, reservation released",
			"trade_no", tradeNo, "address", address, "actual_amount", actualAmount, "error", err)
		return nil, apperrors.NewBizError(apperrors.CodeSystemError, "failed to create order")
	}

	metrics.OrdersCreated.Inc()
	s.log.Infow("order created",
		"trade_no", tradeNo,
		"order_no", params.OrderNo,
		"chain", params.ChainType,
		"amount_cents", order.Amount,
		"actual_amount", actualAmount,
		"rate", order.Rate,
		"expire_time", expireTime)
	return order, nil
}

// resolveRate applies the strategy string. Absolute strategies never touch
// the market, so an upstream outage cannot block fixed-rate merchants.
func (s *Service) resolveRate(ctx context.Context, strategy string) (decimal.Decimal, error) {
	if exchangerate.IsAbsolute(strategy) {
		return exchangerate.CalcActualRate(strategy, decimal.Zero), nil
	}
	market, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	rate := exchangerate.CalcActualRate(strategy, market)
	if !rate.IsPositive() {
		return decimal.Zero, apperrors.NewBizErrorf(apperrors.CodeRateFetchFailed,
			"rate strategy %q resolved to a non-positive rate", strategy)
	}
	return rate, nil
}

// allocateAmount walks candidate amounts upward one atom step at a time
// until Allocate wins or the attempt budget runs out.
func (s *Service) allocateAmount(address string, baseMin, atomStep int64) (int64, bool) {
	for i := int64(0); i < constants.AllocateMaxAttempts; i++ {
		candidate := baseMin + i*atomStep
		if s.pool.Allocate(address, candidate) {
			return candidate, true
		}
	}
	return 0, false
}

// Cancel transitions a PENDING order to CANCELLED. A lost race against the
// watcher or the sweeper surfaces as ORDER_CANNOT_CANCEL.
func (s *Service) Cancel(ctx context.Context, tradeNo string) (*models.OrderModel, error) {
	order, err := s.orders.FindByTradeNo(ctx, tradeNo)
	if err != nil {
		return nil, apperrors.NewBizError(apperrors.CodeSystemError, "failed to load order")
	}
	if order == nil {
		return nil, apperrors.NewBizErrorf(apperrors.CodeOrderNotFound, "order %s not found", tradeNo)
	}
	if order.Status != constants.OrderStatusPending {
		return nil, apperrors.NewBizErrorf(apperrors.CodeOrderCannotCancel,
			"order %s is %s and cannot be cancelled", tradeNo, order.Status)
	}

	rows, err := s.orders.ConditionalUpdateStatus(ctx, order.ID, constants.OrderStatusPending, constants.OrderStatusCancelled)
	if err != nil {
		return nil, apperrors.NewBizError(apperrors.CodeSystemError, "failed to cancel order")
	}
	if rows == 0 {
		return nil, apperrors.NewBizErrorf(apperrors.CodeOrderCannotCancel,
			"order %s was settled or expired concurrently", tradeNo)
	}

	s.pool.Release(order.Address, order.ActualAmount)
	metrics.OrdersCancelled.Inc()
	order.Status = constants.OrderStatusCancelled
	s.log.Infow("order cancelled", "trade_no", tradeNo)
	return order, nil
}

// MarkPaid settles the order reserved for (address, amount) after a matching
// on-chain transfer. Returns true only when this call performed the PENDING
// to PAID transition; duplicate observations of the same transfer and races
// with expiry resolve to false without error.
func (s *Service) MarkPaid(ctx context.Context, chainType, address string, amount int64, txHash string) (bool, error) {
	entry := s.pool.Entry(address, amount)
	if entry == nil || entry.TradeNo == "" {
		return false, nil
	}

	order, err := s.orders.FindByTradeNo(ctx, entry.TradeNo)
	if err != nil {
		return false, fmt.Errorf("failed to load order for payment: %w", err)
	}
	if order == nil {
		s.pool.Release(address, amount)
		return false, nil
	}

	if txHash != "" {
		settled, err := s.orders.FindByTxHash(ctx, txHash)
		if err != nil {
			return false, fmt.Errorf("failed to check transfer replay: %w", err)
		}
		if settled != nil {
			s.log.Warnw("transfer already settled an order, ignoring replay",
				"tx_hash", txHash, "settled_trade_no", settled.TradeNo, "trade_no", order.TradeNo)
			return false, nil
		}
	}

	rows, err := s.orders.ConditionalUpdateStatus(ctx, order.ID, constants.OrderStatusPending, constants.OrderStatusPaid)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}
	if rows == 0 {
		// Another terminal transition won; the pool entry is that
		// transition's responsibility.
		return false, nil
	}

	payTime := biztime.NowUTC()
	if err := s.orders.UpdatePayTimeAndTxHash(ctx, order.ID, payTime, txHash); err != nil {
		s.log.Errorw("order paid but settlement details not recorded",
			"trade_no", order.TradeNo, "tx_hash", txHash, "error", err)
	}
	s.pool.Release(address, amount)
	metrics.PaymentsReceived.WithLabelValues(chainType).Inc()

	order.Status = constants.OrderStatusPaid
	order.PayTime = &payTime
	order.TxHash = txHash
	s.log.Infow("order paid",
		"trade_no", order.TradeNo, "chain", chainType, "amount", amount, "tx_hash", txHash)

	if err := s.orders.UpdateNotifyFields(ctx, order.ID, 0, constants.NotifyStatusPending, nil); err != nil {
		s.log.Errorw("failed to reset notify state", "trade_no", order.TradeNo, "error", err)
	}
	s.bus.Publish(constants.TopicOrderPaid, order)
	s.bus.Publish(constants.TopicCallbackNotify, order)
	return true, nil
}

// ProcessTimeout expires one overdue PENDING order. Losing the race to a
// payment or cancellation is a silent no-op.
func (s *Service) ProcessTimeout(ctx context.Context, order *models.OrderModel) error {
	rows, err := s.orders.ConditionalUpdateStatus(ctx, order.ID, constants.OrderStatusPending, constants.OrderStatusExpired)
	if err != nil {
		return fmt.Errorf("failed to expire order: %w", err)
	}
	if rows == 0 {
		return nil
	}

	if err := s.orders.UpdateNotifyFields(ctx, order.ID, 0, constants.NotifyStatusPending, nil); err != nil {
		s.log.Errorw("failed to reset notify state", "trade_no", order.TradeNo, "error", err)
	}
	s.pool.Release(order.Address, order.ActualAmount)
	metrics.OrdersExpired.Inc()

	order.Status = constants.OrderStatusExpired
	s.log.Infow("order expired", "trade_no", order.TradeNo)
	s.bus.Publish(constants.TopicCallbackNotify, order)
	return nil
}

// UpdateNotifyInfo records the outcome of one callback delivery attempt.
func (s *Service) UpdateNotifyInfo(ctx context.Context, id uint, count int, status string, at time.Time) error {
	return s.orders.UpdateNotifyFields(ctx, id, count, status, &at)
}

// GetByTradeNo loads one order by trade number.
func (s *Service) GetByTradeNo(ctx context.Context, tradeNo string) (*models.OrderModel, error) {
	order, err := s.orders.FindByTradeNo(ctx, tradeNo)
	if err != nil {
		return nil, apperrors.NewBizError(apperrors.CodeSystemError, "failed to load order")
	}
	if order == nil {
		return nil, apperrors.NewBizErrorf(apperrors.CodeOrderNotFound, "order %s not found", tradeNo)
	}
	return order, nil
}

// Detail loads an order plus the remaining payment window in seconds, zero
// once the order left PENDING or the window closed.
func (s *Service) Detail(ctx context.Context, tradeNo string) (*models.OrderModel, int64, error) {
	order, err := s.GetByTradeNo(ctx, tradeNo)
	if err != nil {
		return nil, 0, err
	}
	remaining := int64(0)
	if order.Status == constants.OrderStatusPending && order.ExpireTime != nil {
		if d := order.ExpireTime.Sub(biztime.NowUTC()); d > 0 {
			remaining = int64(d.Seconds())
		}
	}
	return order, remaining, nil
}

// atomStep returns the disambiguation step in the token's smallest unit.
func (s *Service) atomStep() int64 {
	atom, err := decimal.NewFromString(s.cfg.Pay.Atom)
	if err != nil {
		return constants.USDTUnit / 100
	}
	return atom.Mul(decimal.NewFromInt(constants.USDTUnit)).IntPart()
}

func (s *Service) paymentURL(tradeNo string) string {
	return strings.TrimRight(s.cfg.App.URI, "/") + "/pay/checkout/" + tradeNo
}

func newTradeNo() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
