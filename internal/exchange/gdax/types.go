package gdax

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/piotras9000/gekko/internal/core"
)

type apiErrorBody struct {
	Message string `json:"message"`
}

type rawTrade struct {
	TradeID int64  `json:"trade_id"`
	Time    string `json:"time"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}

type tickerResource struct {
	TradeID int64  `json:"trade_id"`
	Price   string `json:"price"`
	Bid     string `json:"bid"`
	Ask     string `json:"ask"`
	Time    string `json:"time"`
}

type accountResource struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

type productResource struct {
	ID             string `json:"id"`
	BaseCurrency   string `json:"base_currency"`
	QuoteCurrency  string `json:"quote_currency"`
	BaseMinSize    string `json:"base_min_size"`
	BaseIncrement  string `json:"base_increment"`
	QuoteIncrement string `json:"quote_increment"`
}

type orderRequest struct {
	ClientOID string `json:"client_oid,omitempty"`
	Type      string `json:"type"`
	Side      string `json:"side"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	PostOnly  bool   `json:"post_only"`
}

type orderResource struct {
	ID         string `json:"id"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	ProductID  string `json:"product_id"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	PostOnly   bool   `json:"post_only"`
	CreatedAt  string `json:"created_at"`
	DoneAt     string `json:"done_at"`
	DoneReason string `json:"done_reason"`
	FilledSize string `json:"filled_size"`
	Status     string `json:"status"`
	Settled    bool   `json:"settled"`
}

// mapTrade normalizes one raw exchange trade. Malformed numeric or timestamp
// fields surface as *core.ParseError.
func mapTrade(raw rawTrade) (core.Trade, error) {
	price, err := parseDecimal("price", raw.Price)
	if err != nil {
		return core.Trade{}, err
	}
	amount, err := parseDecimal("size", raw.Size)
	if err != nil {
		return core.Trade{}, err
	}
	ts, err := parseTime("time", raw.Time)
	if err != nil {
		return core.Trade{}, err
	}
	return core.Trade{
		ID:        raw.TradeID,
		Price:     price,
		Amount:    amount,
		Timestamp: ts,
	}, nil
}

func mapTrades(raw []rawTrade) ([]core.Trade, error) {
	trades := make([]core.Trade, 0, len(raw))
	for _, r := range raw {
		t, err := mapTrade(r)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func mapTicker(res tickerResource) (core.Ticker, error) {
	bid, err := parseDecimal("bid", res.Bid)
	if err != nil {
		return core.Ticker{}, err
	}
	ask, err := parseDecimal("ask", res.Ask)
	if err != nil {
		return core.Ticker{}, err
	}
	return core.Ticker{Bid: bid, Ask: ask}, nil
}

func mapAccounts(resources []accountResource) ([]core.Account, error) {
	accounts := make([]core.Account, 0, len(resources))
	for _, res := range resources {
		available, err := parseDecimal("available", res.Available)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, core.Account{
			Currency:  res.Currency,
			Available: available,
		})
	}
	return accounts, nil
}

func mapProduct(res productResource) (core.MarketRules, error) {
	quoteInc, err := parseDecimal("quote_increment", res.QuoteIncrement)
	if err != nil {
		return core.MarketRules{}, err
	}
	baseInc, err := parseDecimal("base_increment", res.BaseIncrement)
	if err != nil {
		return core.MarketRules{}, err
	}
	rules := core.MarketRules{
		QuoteIncrement: quoteInc,
		BaseIncrement:  baseInc,
	}
	if res.BaseMinSize != "" {
		minSize, err := parseDecimal("base_min_size", res.BaseMinSize)
		if err != nil {
			return core.MarketRules{}, err
		}
		rules.MinSize = minSize
	}
	return rules, nil
}

func mapOrder(res orderResource) (core.Order, error) {
	order := core.Order{
		ID:         res.ID,
		Status:     core.OrderStatus(res.Status),
		DoneReason: res.DoneReason,
	}
	if res.Price != "" {
		price, err := parseDecimal("price", res.Price)
		if err != nil {
			return core.Order{}, err
		}
		order.Price = price
	}
	if res.FilledSize != "" {
		filled, err := parseDecimal("filled_size", res.FilledSize)
		if err != nil {
			return core.Order{}, err
		}
		order.FilledSize = filled
	}
	if res.DoneAt != "" {
		doneAt, err := parseTime("done_at", res.DoneAt)
		if err != nil {
			return core.Order{}, err
		}
		order.DoneAt = doneAt
	}
	return order, nil
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, &core.ParseError{Field: field, Value: value, Err: err}
	}
	return d, nil
}

// parseTime parses the exchange's RFC3339 timestamps (with or without
// fractional seconds) and normalizes them to UTC.
func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, &core.ParseError{Field: field, Value: value, Err: err}
	}
	return t.UTC(), nil
}
