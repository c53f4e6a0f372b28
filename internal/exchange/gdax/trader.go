package gdax

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piotras9000/gekko/internal/alert"
	"github.com/piotras9000/gekko/internal/core"
	"github.com/piotras9000/gekko/internal/exchange"
	"github.com/piotras9000/gekko/internal/retry"
)

// Trader adapts the GDAX REST client to the exchange.Trader surface. Order
// placement and cancellation run under the bounded critical retry policy,
// idempotent reads under the unbounded patient one.
type Trader struct {
	client  *Client
	scan    *scanner
	log     *zap.Logger
	alerter alert.Alerter

	critical retry.Policy
	patient  retry.Policy

	mu        sync.Mutex
	rules     *core.MarketRules
	overrides core.MarketRules
}

var _ exchange.Trader = (*Trader)(nil)

func NewTrader(client *Client, log *zap.Logger) *Trader {
	return &Trader{
		client:   client,
		scan:     newScanner(client, log),
		log:      log,
		critical: retry.Critical,
		patient:  retry.Patient,
	}
}

// SetAlerter routes order and scan failures to an external notifier.
func (t *Trader) SetAlerter(a alert.Alerter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerter = a
}

// SetRuleOverrides replaces individual product rules with operator supplied
// values. Zero fields keep whatever the exchange advertises.
func (t *Trader) SetRuleOverrides(rules core.MarketRules) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides = rules
	t.rules = nil
}

func (t *Trader) Name() string { return "GDAX" }

func (t *Trader) GetTicker(ctx context.Context) (core.Ticker, error) {
	var ticker core.Ticker
	err := retry.Do(ctx, t.log, t.patient, "getTicker", func(ctx context.Context) error {
		var err error
		ticker, err = t.client.Ticker(ctx)
		return err
	})
	return ticker, err
}

func (t *Trader) GetPortfolio(ctx context.Context) ([]core.Account, error) {
	var accounts []core.Account
	err := retry.Do(ctx, t.log, t.patient, "getPortfolio", func(ctx context.Context) error {
		var err error
		accounts, err = t.client.Accounts(ctx)
		return err
	})
	return accounts, err
}

// GetTrades returns trade history from since up to the newest trade, oldest
// first. Each page fetch retries transient failures at its own cursor under
// the patient policy, keeping the pages already collected; only a fatal
// error aborts the scan.
func (t *Trader) GetTrades(ctx context.Context, since time.Time) ([]core.Trade, error) {
	trades, err := t.scan.Run(ctx, since)
	if err != nil && !errors.Is(err, core.ErrScanActive) && !errors.Is(err, context.Canceled) {
		t.alert(alert.ScanFailed(err))
	}
	return trades, err
}

func (t *Trader) Buy(ctx context.Context, amount, price decimal.Decimal) (string, error) {
	return t.placeOrder(ctx, core.Buy, amount, price)
}

func (t *Trader) Sell(ctx context.Context, amount, price decimal.Decimal) (string, error) {
	return t.placeOrder(ctx, core.Sell, amount, price)
}

func (t *Trader) placeOrder(ctx context.Context, side core.Side, amount, price decimal.Decimal) (string, error) {
	// The client order id is fixed before the first attempt so a retried
	// submission cannot double-place.
	clientOID := uuid.NewString()
	var id string
	err := retry.Do(ctx, t.log, t.critical, string(side), func(ctx context.Context) error {
		rules, err := t.marketRules(ctx)
		if err != nil {
			return err
		}
		shapedPrice, shapedSize, err := core.ShapeOrder(price, amount, rules)
		if err != nil {
			return err
		}
		id, err = t.client.PlaceOrder(ctx, side, shapedPrice, shapedSize, clientOID)
		return err
	})
	if err != nil {
		t.alert(alert.OrderFailed(string(side), err))
		return "", err
	}
	t.log.Info("order placed",
		zap.String("side", string(side)),
		zap.String("order_id", id))
	return id, nil
}

func (t *Trader) GetOrder(ctx context.Context, id string) (core.Order, error) {
	var order core.Order
	err := retry.Do(ctx, t.log, t.patient, "getOrder", func(ctx context.Context) error {
		var err error
		order, err = t.client.GetOrder(ctx, id)
		return err
	})
	return order, err
}

func (t *Trader) CheckOrder(ctx context.Context, id string) (core.OrderSummary, error) {
	order, err := t.GetOrder(ctx, id)
	if err != nil {
		return core.OrderSummary{}, err
	}
	return core.OrderSummary{
		Executed: order.Status == core.OrderDone && order.DoneReason != "canceled",
		Open: order.Status == core.OrderPending ||
			order.Status == core.OrderOpen ||
			order.Status == core.OrderActive,
		FilledAmount: order.FilledSize,
	}, nil
}

// CancelOrder cancels an open order. The boolean reports whether the order
// had already completed before the cancel took effect.
func (t *Trader) CancelOrder(ctx context.Context, id string) (bool, error) {
	err := retry.Do(ctx, t.log, t.critical, "cancelOrder", func(ctx context.Context) error {
		return t.client.CancelOrder(ctx, id)
	})
	if errors.Is(err, core.ErrOrderDone) || errors.Is(err, core.ErrOrderNotFound) {
		return true, nil
	}
	if err != nil {
		t.alert(alert.CancelFailed(id, err))
		return false, err
	}
	return false, nil
}

func (t *Trader) Capabilities() exchange.Capabilities {
	minimal := decimal.New(1, -2)
	pairs := []struct{ currency, asset string }{
		{"USD", "BTC"}, {"EUR", "BTC"}, {"GBP", "BTC"},
		{"USD", "ETH"}, {"EUR", "ETH"}, {"BTC", "ETH"},
		{"USD", "LTC"}, {"EUR", "LTC"}, {"BTC", "LTC"},
		{"USD", "BCH"}, {"EUR", "BCH"}, {"BTC", "BCH"},
	}
	markets := make([]exchange.Market, 0, len(pairs))
	for _, p := range pairs {
		markets = append(markets, exchange.Market{
			Currency:     p.currency,
			Asset:        p.asset,
			MinimalOrder: minimal,
		})
	}
	return exchange.Capabilities{
		Name:                "GDAX",
		Slug:                "gdax",
		Currencies:          []string{"USD", "EUR", "GBP", "BTC"},
		Assets:              []string{"BTC", "BCH", "ETH", "LTC"},
		Markets:             markets,
		Requires:            []string{"key", "secret", "passphrase"},
		ProvidesHistory:     "date",
		ProvidesFullHistory: true,
		Tradable:            true,
		TradeCursor:         "tradeId",
	}
}

func (t *Trader) marketRules(ctx context.Context) (core.MarketRules, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rules != nil {
		return *t.rules, nil
	}
	rules, err := t.client.Product(ctx)
	if err != nil {
		return core.MarketRules{}, err
	}
	if !t.overrides.QuoteIncrement.IsZero() {
		rules.QuoteIncrement = t.overrides.QuoteIncrement
	}
	if !t.overrides.BaseIncrement.IsZero() {
		rules.BaseIncrement = t.overrides.BaseIncrement
	}
	if !t.overrides.MinSize.IsZero() {
		rules.MinSize = t.overrides.MinSize
	}
	t.rules = &rules
	return rules, nil
}

func (t *Trader) alert(ev alert.Event) {
	t.mu.Lock()
	alerter := t.alerter
	t.mu.Unlock()
	if alerter == nil {
		return
	}
	alerter.Important(ev)
}
