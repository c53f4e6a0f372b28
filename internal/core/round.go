package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrBelowMinSize  = errors.New("size below market minimum")
	ErrInvalidMarket = errors.New("invalid market rules")
)

// ShapeOrder aligns a limit order to the market's increments: price is
// rounded down to the quote increment, size down to the base increment.
// Sizes ending up below the market minimum are rejected.
func ShapeOrder(price, size decimal.Decimal, rules MarketRules) (decimal.Decimal, decimal.Decimal, error) {
	if price.Cmp(decimal.Zero) <= 0 || size.Cmp(decimal.Zero) <= 0 {
		return price, size, ErrInvalidOrder
	}
	if rules.QuoteIncrement.Cmp(decimal.Zero) <= 0 || rules.BaseIncrement.Cmp(decimal.Zero) <= 0 {
		return price, size, ErrInvalidMarket
	}
	price = RoundDown(price, rules.QuoteIncrement)
	size = RoundDown(size, rules.BaseIncrement)
	if price.Cmp(decimal.Zero) <= 0 {
		return price, size, ErrInvalidOrder
	}
	if size.Cmp(decimal.Zero) <= 0 {
		return price, size, ErrBelowMinSize
	}
	if rules.MinSize.Cmp(decimal.Zero) > 0 && size.Cmp(rules.MinSize) < 0 {
		return price, size, ErrBelowMinSize
	}
	return price, size, nil
}

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
