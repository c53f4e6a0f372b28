package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderStatus string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

const (
	OrderPending  OrderStatus = "pending"
	OrderOpen     OrderStatus = "open"
	OrderActive   OrderStatus = "active"
	OrderDone     OrderStatus = "done"
	OrderRejected OrderStatus = "rejected"
)

// Trade is one executed market trade, normalized from the exchange feed.
// Immutable once constructed.
type Trade struct {
	ID        int64
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Timestamp time.Time
}

type Ticker struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

type Account struct {
	Currency  string
	Available decimal.Decimal
}

type Order struct {
	ID         string
	Status     OrderStatus
	Price      decimal.Decimal
	FilledSize decimal.Decimal
	DoneAt     time.Time
	DoneReason string
}

// OrderSummary is the consumer-facing view of an order's progress.
type OrderSummary struct {
	Executed     bool
	Open         bool
	FilledAmount decimal.Decimal
}

// MarketRules carries the increments orders on a market must align to.
type MarketRules struct {
	QuoteIncrement decimal.Decimal
	BaseIncrement  decimal.Decimal
	MinSize        decimal.Decimal
}
