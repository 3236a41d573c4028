package order

import "github.com/shopspring/decimal"

// Minor-unit conversions. Creation and display must share these so the
// amount a payer sees reconstructs to the exact integer the pool reserved.

// CnyToMinUnit converts a yuan amount to cents.
func CnyToMinUnit(yuan decimal.Decimal) int64 {
	return yuan.Mul(decimal.NewFromInt(100)).IntPart()
}

// CnyFromMinUnit converts cents to a yuan amount with two decimals.
func CnyFromMinUnit(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).DivRound(decimal.NewFromInt(100), 2)
}

// UsdtFromMinUnit converts a smallest-unit amount to USDT at the given scale.
func UsdtFromMinUnit(minUnit int64, usdtUnit int64, scale int) decimal.Decimal {
	return decimal.NewFromInt(minUnit).DivRound(decimal.NewFromInt(usdtUnit), int32(scale))
}

// UsdtToMinUnit converts a USDT amount back to the smallest unit, truncating.
func UsdtToMinUnit(usdt decimal.Decimal, usdtUnit int64) int64 {
	return usdt.Mul(decimal.NewFromInt(usdtUnit)).IntPart()
}
