package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"usdtgate/internal/infrastructure/persistence/models"
	"usdtgate/internal/shared/constants"
)

// OrderRepository is the durable order store. All status transitions into a
// terminal state go through ConditionalUpdateStatus; the expected-status
// predicate is the optimistic-concurrency primitive that serializes races
// between watchers, the timeout sweeper and cancellation.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert persists a new order and writes back the generated ID.
func (r *OrderRepository) Insert(ctx context.Context, order *models.OrderModel) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// FindByTradeNo returns the order with the given trade number, or nil.
func (r *OrderRepository) FindByTradeNo(ctx context.Context, tradeNo string) (*models.OrderModel, error) {
	var order models.OrderModel
	err := r.db.WithContext(ctx).Where("trade_no = ?", tradeNo).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by trade_no: %w", err)
	}
	return &order, nil
}

// FindByTxHash returns the order settled by the given transaction, or nil.
func (r *OrderRepository) FindByTxHash(ctx context.Context, txHash string) (*models.OrderModel, error) {
	var order models.OrderModel
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by tx_hash: %w", err)
	}
	return &order, nil
}

// FindAllPending returns every PENDING order, used by startup reconciliation.
func (r *OrderRepository) FindAllPending(ctx context.Context) ([]models.OrderModel, error) {
	var orders []models.OrderModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", constants.OrderStatusPending).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find pending orders: %w", err)
	}
	return orders, nil
}

// FindExpiredPending returns PENDING orders whose expiry has passed.
func (r *OrderRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]models.OrderModel, error) {
	var orders []models.OrderModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND expire_time < ?", constants.OrderStatusPending, now).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find expired pending orders: %w", err)
	}
	return orders, nil
}

// FindRetryNotify returns orders eligible for a callback retry scan:
// notify status RETRY, attempts below the cap, terminal status PAID or
// EXPIRED, last attempt within the lookback window.
func (r *OrderRepository) FindRetryNotify(ctx context.Context, maxRetries int, since time.Time) ([]models.OrderModel, error) {
	var orders []models.OrderModel
	if err := r.db.WithContext(ctx).
		Where("notify_status = ?", constants.NotifyStatusRetry).
		Where("notify_count < ?", maxRetries).
		Where("status IN ?", []string{constants.OrderStatusPaid, constants.OrderStatusExpired}).
		Where("last_notify_time >= ?", since).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find retry notify orders: %w", err)
	}
	return orders, nil
}

// ConditionalUpdateStatus sets status to newStatus only while the row still
// holds expectedStatus. Zero rows affected means another transition won the
// race; callers must treat that as a no-op, not an error.
func (r *OrderRepository) ConditionalUpdateStatus(ctx context.Context, id uint, expectedStatus, newStatus string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Update("status", newStatus)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to update order status: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// UpdatePayTimeAndTxHash records settlement details after a PAID transition.
func (r *OrderRepository) UpdatePayTimeAndTxHash(ctx context.Context, id uint, payTime time.Time, txHash string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pay_time": payTime,
			"tx_hash":  txHash,
		}).Error; err != nil {
		return fmt.Errorf("failed to update pay time and tx hash: %w", err)
	}
	return nil
}

// UpdateNotifyFields overwrites the callback bookkeeping fields.
func (r *OrderRepository) UpdateNotifyFields(ctx context.Context, id uint, count int, status string, lastNotifyAt *time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.OrderModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"notify_count":     count,
			"notify_status":    status,
			"last_notify_time": lastNotifyAt,
		}).Error; err != nil {
		return fmt.Errorf("failed to update notify fields: %w", err)
	}
	return nil
}
