package gdax

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piotras9000/gekko/internal/core"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestMatchFeedDeliversTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		messages := []map[string]any{
			{"type": "subscriptions", "channels": []string{"matches"}},
			{"type": "match", "trade_id": 7, "side": "sell", "size": "1.5", "price": "100.25", "product_id": "BTC-USD", "time": "2020-01-01T00:00:00Z"},
			{"type": "match", "trade_id": 8, "side": "buy", "size": "1", "price": "50", "product_id": "ETH-USD", "time": "2020-01-01T00:00:01Z"},
			{"type": "error", "message": "bad channel"},
			{"type": "match", "trade_id": 9, "side": "buy", "size": "0.1", "price": "garbage", "product_id": "BTC-USD", "time": "2020-01-01T00:00:02Z"},
			{"type": "match", "trade_id": 10, "side": "buy", "size": "2", "price": "101.5", "product_id": "BTC-USD", "time": "2020-01-01T00:00:03Z"},
		}
		for _, msg := range messages {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
		// Keep reading so ping control frames are answered.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := DialMatchFeed(ctx, wsURL(srv), "BTC-USD", 50*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("DialMatchFeed() error = %v", err)
	}
	trades, errCh := feed.Trades(ctx)

	select {
	case sub := <-subscribed:
		if sub.Type != "subscribe" {
			t.Fatalf("subscribe type = %q, want subscribe", sub.Type)
		}
		if len(sub.ProductIDs) != 1 || sub.ProductIDs[0] != "BTC-USD" {
			t.Fatalf("subscribe products = %v, want [BTC-USD]", sub.ProductIDs)
		}
		if len(sub.Channels) != 1 || sub.Channels[0] != "matches" {
			t.Fatalf("subscribe channels = %v, want [matches]", sub.Channels)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw a subscribe message")
	}

	waitTrade := func() core.Trade {
		t.Helper()
		select {
		case trade, ok := <-trades:
			if !ok {
				t.Fatalf("trades channel closed early")
			}
			return trade
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for trade")
		}
		return core.Trade{}
	}

	first := waitTrade()
	if first.ID != 7 {
		t.Fatalf("first trade id = %d, want 7", first.ID)
	}
	if !first.Price.Equal(decimal.RequireFromString("100.25")) {
		t.Fatalf("first trade price = %s, want 100.25", first.Price)
	}

	// Trade 8 is for another product and trade 9 is malformed; both are
	// skipped, so the next delivery is trade 10.
	second := waitTrade()
	if second.ID != 10 {
		t.Fatalf("second trade id = %d, want 10", second.ID)
	}

	var sawRejection, sawParse bool
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			var parseErr *core.ParseError
			switch {
			case strings.Contains(err.Error(), "bad channel"):
				sawRejection = true
			case errors.As(err, &parseErr):
				sawParse = true
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for feed errors")
		}
	}
	if !sawRejection || !sawParse {
		t.Fatalf("feed errors rejection/parse = %v/%v, want both", sawRejection, sawParse)
	}
}

func TestMatchFeedClosesWhenServerDisconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"type": "match", "trade_id": 1, "side": "buy", "size": "1",
			"price": "100", "product_id": "BTC-USD", "time": "2020-01-01T00:00:00Z",
		})
		_ = conn.Close()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := DialMatchFeed(ctx, wsURL(srv), "BTC-USD", time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("DialMatchFeed() error = %v", err)
	}
	trades, errCh := feed.Trades(ctx)

	select {
	case trade := <-trades:
		if trade.ID != 1 {
			t.Fatalf("trade id = %d, want 1", trade.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for trade")
	}

	select {
	case _, ok := <-trades:
		if ok {
			t.Fatalf("unexpected extra trade")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("trades channel did not close after disconnect")
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("error channel delivered nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error reported after disconnect")
	}
}
