package exchangerate

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CalcActualRate resolves a rate strategy string against the market rate.
//
//	"7.2"    use 7.2 as an absolute rate
//	"~1.02"  multiply the market rate by 1.02
//	"+0.3"   add 0.3 to the market rate
//	"-0.2"   subtract 0.2 from the market rate
//	anything else (including malformed values) falls back to the market rate
func CalcActualRate(strategy string, marketRate decimal.Decimal) decimal.Decimal {
	strategy = strings.TrimSpace(strategy)
	if strategy == "" {
		return marketRate
	}
	switch strategy[0] {
	case '~':
		if factor, err := decimal.NewFromString(strategy[1:]); err == nil {
			return marketRate.Mul(factor)
		}
	case '+':
		if delta, err := decimal.NewFromString(strategy[1:]); err == nil {
			return marketRate.Add(delta)
		}
	case '-':
		if delta, err := decimal.NewFromString(strategy[1:]); err == nil {
			return marketRate.Sub(delta)
		}
	default:
		if abs, err := decimal.NewFromString(strategy); err == nil && abs.IsPositive() {
			return abs
		}
	}
	return marketRate
}

// IsAbsolute reports whether strategy is a plain positive number, meaning it
// resolves without consulting the market rate.
func IsAbsolute(strategy string) bool {
	strategy = strings.TrimSpace(strategy)
	if strategy == "" {
		return false
	}
	if strategy[0] == '~' || strategy[0] == '+' || strategy[0] == '-' {
		return false
	}
	abs, err := decimal.NewFromString(strategy)
	return err == nil && abs.IsPositive()
}
