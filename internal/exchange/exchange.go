package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/piotras9000/gekko/internal/core"
)

// Trader is the uniform surface an exchange adapter exposes to the bot.
// State-changing calls run under a bounded retry policy, idempotent reads
// under an unbounded one.
type Trader interface {
	Name() string
	GetTicker(ctx context.Context) (core.Ticker, error)
	GetPortfolio(ctx context.Context) ([]core.Account, error)
	GetTrades(ctx context.Context, since time.Time) ([]core.Trade, error)
	Buy(ctx context.Context, amount, price decimal.Decimal) (string, error)
	Sell(ctx context.Context, amount, price decimal.Decimal) (string, error)
	GetOrder(ctx context.Context, id string) (core.Order, error)
	CheckOrder(ctx context.Context, id string) (core.OrderSummary, error)
	CancelOrder(ctx context.Context, id string) (bool, error)
	Capabilities() Capabilities
}

type Market struct {
	Currency     string
	Asset        string
	MinimalOrder decimal.Decimal
}

// Capabilities describes what an adapter supports so the bot can decide how
// to drive it.
type Capabilities struct {
	Name       string
	Slug       string
	Currencies []string
	Assets     []string
	Markets    []Market
	// Requires lists the credential fields private endpoints need.
	Requires []string
	// ProvidesHistory is "date" when GetTrades honors a since timestamp.
	ProvidesHistory     string
	ProvidesFullHistory bool
	Tradable            bool
	// TradeCursor names the field used as the pagination cursor.
	TradeCursor string
}
