package gdax

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/piotras9000/gekko/internal/core"
)

func TestMapTrade(t *testing.T) {
	raw := rawTrade{
		TradeID: 42,
		Time:    "2020-01-01T00:00:00.000Z",
		Price:   "100.25",
		Size:    "1.5",
		Side:    "buy",
	}
	trade, err := mapTrade(raw)
	if err != nil {
		t.Fatalf("mapTrade() error = %v", err)
	}
	if trade.ID != 42 {
		t.Fatalf("trade.ID = %d, want 42", trade.ID)
	}
	if !trade.Price.Equal(decimal.RequireFromString("100.25")) {
		t.Fatalf("trade.Price = %s, want 100.25", trade.Price)
	}
	if !trade.Amount.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("trade.Amount = %s, want 1.5", trade.Amount)
	}
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if !trade.Timestamp.Equal(want) {
		t.Fatalf("trade.Timestamp = %v, want %v", trade.Timestamp, want)
	}
}

func TestMapTradeMalformedFields(t *testing.T) {
	tests := []struct {
		name  string
		raw   rawTrade
		field string
	}{
		{
			name:  "bad price",
			raw:   rawTrade{TradeID: 1, Time: "2020-01-01T00:00:00Z", Price: "not-a-number", Size: "1"},
			field: "price",
		},
		{
			name:  "bad size",
			raw:   rawTrade{TradeID: 1, Time: "2020-01-01T00:00:00Z", Price: "1", Size: ""},
			field: "size",
		},
		{
			name:  "bad time",
			raw:   rawTrade{TradeID: 1, Time: "yesterday", Price: "1", Size: "1"},
			field: "time",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mapTrade(tt.raw)
			var parseErr *core.ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("mapTrade() error = %v, want *core.ParseError", err)
			}
			if parseErr.Field != tt.field {
				t.Fatalf("parseErr.Field = %q, want %q", parseErr.Field, tt.field)
			}
		})
	}
}

func TestMapTradesStopsOnFirstBadRecord(t *testing.T) {
	raw := []rawTrade{
		{TradeID: 2, Time: "2020-01-01T00:00:01Z", Price: "10", Size: "1"},
		{TradeID: 1, Time: "2020-01-01T00:00:00Z", Price: "", Size: "1"},
	}
	_, err := mapTrades(raw)
	var parseErr *core.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("mapTrades() error = %v, want *core.ParseError", err)
	}
}

func TestMapTicker(t *testing.T) {
	ticker, err := mapTicker(tickerResource{Bid: "6423.15", Ask: "6423.16", Price: "6423.15"})
	if err != nil {
		t.Fatalf("mapTicker() error = %v", err)
	}
	if !ticker.Bid.Equal(decimal.RequireFromString("6423.15")) {
		t.Fatalf("ticker.Bid = %s, want 6423.15", ticker.Bid)
	}
	if !ticker.Ask.Equal(decimal.RequireFromString("6423.16")) {
		t.Fatalf("ticker.Ask = %s, want 6423.16", ticker.Ask)
	}
}

func TestMapOrder(t *testing.T) {
	res := orderResource{
		ID:         "d0c5340b-6d6c-49d9-b567-48c4bfca13d2",
		Price:      "100.00",
		Status:     "done",
		DoneAt:     "2020-01-02T03:04:05.123Z",
		DoneReason: "filled",
		FilledSize: "0.05",
	}
	order, err := mapOrder(res)
	if err != nil {
		t.Fatalf("mapOrder() error = %v", err)
	}
	if order.Status != core.OrderDone {
		t.Fatalf("order.Status = %q, want %q", order.Status, core.OrderDone)
	}
	if order.DoneReason != "filled" {
		t.Fatalf("order.DoneReason = %q, want filled", order.DoneReason)
	}
	if !order.FilledSize.Equal(decimal.RequireFromString("0.05")) {
		t.Fatalf("order.FilledSize = %s, want 0.05", order.FilledSize)
	}
	if order.DoneAt.IsZero() {
		t.Fatalf("order.DoneAt is zero, want parsed timestamp")
	}

	// Optional fields absent on open orders.
	order, err = mapOrder(orderResource{ID: "x", Status: "open"})
	if err != nil {
		t.Fatalf("mapOrder(open) error = %v", err)
	}
	if !order.DoneAt.IsZero() || order.DoneReason != "" {
		t.Fatalf("mapOrder(open) done fields = %v/%q, want zero values", order.DoneAt, order.DoneReason)
	}
}

func TestMapProduct(t *testing.T) {
	rules, err := mapProduct(productResource{
		ID:             "BTC-USD",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USD",
		BaseMinSize:    "0.001",
		BaseIncrement:  "0.00000001",
		QuoteIncrement: "0.01",
	})
	if err != nil {
		t.Fatalf("mapProduct() error = %v", err)
	}
	if !rules.QuoteIncrement.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("QuoteIncrement = %s, want 0.01", rules.QuoteIncrement)
	}
	if !rules.BaseIncrement.Equal(decimal.RequireFromString("0.00000001")) {
		t.Fatalf("BaseIncrement = %s, want 0.00000001", rules.BaseIncrement)
	}
	if !rules.MinSize.Equal(decimal.RequireFromString("0.001")) {
		t.Fatalf("MinSize = %s, want 0.001", rules.MinSize)
	}
}
