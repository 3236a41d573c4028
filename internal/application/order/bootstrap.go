package order

import (
	"context"
	"fmt"

	"usdtgate/internal/shared/biztime"
	"usdtgate/internal/shared/constants"
)

// Reconcile rebuilds the in-memory pool from the durable store after a
// restart. Overdue PENDING orders are expired on the spot; live ones get
// their amounts re-reserved. An order whose amount cannot be re-reserved is
// parked as ABNORMAL for operator review rather than left to double-match.
func (s *Service) Reconcile(ctx context.Context) error {
	pending, err := s.orders.FindAllPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending orders: %w", err)
	}

	now := biztime.NowUTC()
	restored, expired, abnormal := 0, 0, 0
	for i := range pending {
		o := &pending[i]

		if o.ExpireTime != nil && o.ExpireTime.Before(now) {
			if err := s.ProcessTimeout(ctx, o); err != nil {
				s.log.Errorw("failed to expire overdue order during reconcile",
					"trade_no", o.TradeNo, "error", err)
				continue
			}
			expired++
			continue
		}

		expireTime := now
		if o.ExpireTime != nil {
			expireTime = *o.ExpireTime
		}
		if s.pool.AllocateBound(o.Address, o.ActualAmount, o.TradeNo, expireTime) {
			restored++
			continue
		}

		rows, err := s.orders.ConditionalUpdateStatus(ctx, o.ID, constants.OrderStatusPending, constants.OrderStatusAbnormal)
		if err != nil || rows == 0 {
			s.log.Errorw("failed to park conflicting order as abnormal",
				"trade_no", o.TradeNo, "error", err)
			continue
		}
		abnormal++
		s.log.Warnw("pending order conflicts with an existing reservation, parked as abnormal",
			"trade_no", o.TradeNo, "address", o.Address, "actual_amount", o.ActualAmount)
	}

	s.log.Infow("order reconciliation complete",
		"pending", len(pending), "restored", restored, "expired", expired, "abnormal", abnormal)
	return nil
}
