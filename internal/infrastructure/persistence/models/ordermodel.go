package models

import (
	"time"

	"usdtgate/internal/shared/constants"
)

// OrderModel is the durable record of one settlement order.
//
// Amount is the fiat amount in minor units (cents). ActualAmount is the
// disambiguated USDT amount in the chain's smallest unit; it is unique per
// receiving address among all non-terminal orders, which is what lets the
// watchers resolve an on-chain transfer back to exactly one order.
type OrderModel struct {
	ID               uint       `gorm:"primaryKey"`
	TradeNo          string     `gorm:"size:64;not null;uniqueIndex"`
	OrderNo          string     `gorm:"size:64;index"`
	Amount           int64      `gorm:"not null"`
	ActualAmount     int64      `gorm:"not null;index:idx_address_amount"`
	Address          string     `gorm:"size:64;not null;index:idx_address_amount"`
	ChainType        string     `gorm:"size:10;not null"`
	Status           string     `gorm:"size:12;not null;index"`
	Signature        string     `gorm:"size:64"`
	Rate             string     `gorm:"size:32"`
	Scale            int        `gorm:"not null"`
	TradeIsConfirmed bool       `gorm:"not null"`
	NotifyUrl        string     `gorm:"size:255"`
	TimeoutSeconds   int        `gorm:"column:timeout_seconds;not null"`
	PaymentURL       string     `gorm:"size:255"`
	ExpireTime       *time.Time `gorm:"index"`
	PayTime          *time.Time
	TxHash           string     `gorm:"size:128;index"`
	NotifyCount      int        `gorm:"not null;default:0"`
	NotifyStatus     string     `gorm:"size:12;index"`
	LastNotifyTime   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (OrderModel) TableName() string {
	return constants.TableTradeOrders
}
