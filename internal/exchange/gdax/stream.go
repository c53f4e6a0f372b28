package gdax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/piotras9000/gekko/internal/core"
	"github.com/piotras9000/gekko/internal/metrics"
)

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// matchMessage covers every feed message type the reader cares about:
// match and last_match carry trades, error carries a rejection text.
type matchMessage struct {
	Type      string `json:"type"`
	TradeID   int64  `json:"trade_id"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	ProductID string `json:"product_id"`
	Time      string `json:"time"`
	Message   string `json:"message"`
}

// MatchFeed streams executed trades for one product from the websocket
// matches channel. One connection per feed; the consumer owns reconnects.
type MatchFeed struct {
	conn      *websocket.Conn
	market    string
	keepalive time.Duration
	log       *zap.Logger
}

// DialMatchFeed connects to the websocket feed and subscribes to the
// product's matches channel.
func DialMatchFeed(ctx context.Context, feedURL, market string, keepalive time.Duration, log *zap.Logger) (*MatchFeed, error) {
	if feedURL == "" {
		return nil, errors.New("feed url required")
	}
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, feedURL, nil)
	if err != nil {
		return nil, err
	}
	sub := subscribeRequest{
		Type:       "subscribe",
		ProductIDs: []string{market},
		Channels:   []string{"matches"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &MatchFeed{conn: conn, market: market, keepalive: keepalive, log: log}, nil
}

// Close tears down the connection, ending any Trades loop.
func (f *MatchFeed) Close() error {
	return f.conn.Close()
}

// Trades starts reading the feed. The trade channel closes when the
// connection dies or ctx is cancelled; the error channel carries the reason.
func (f *MatchFeed) Trades(ctx context.Context) (<-chan core.Trade, <-chan error) {
	trades := make(chan core.Trade)
	errCh := make(chan error, 4)
	done := make(chan struct{})

	reportErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
	}

	readTimeout := f.keepalive * 3
	if readTimeout < 30*time.Second {
		readTimeout = 30 * time.Second
	}
	f.conn.SetPongHandler(func(string) error {
		return f.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(done)
		defer close(trades)
		defer f.conn.Close()

		for {
			_ = f.conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, data, err := f.conn.ReadMessage()
			if err != nil {
				reportErr(err)
				return
			}
			if len(data) == 0 {
				continue
			}
			var msg matchMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "match", "last_match":
			case "error":
				reportErr(fmt.Errorf("feed rejected request: %s", msg.Message))
				continue
			default:
				continue
			}
			if msg.ProductID != f.market {
				continue
			}
			trade, err := mapTrade(rawTrade{
				TradeID: msg.TradeID,
				Time:    msg.Time,
				Price:   msg.Price,
				Size:    msg.Size,
				Side:    msg.Side,
			})
			if err != nil {
				reportErr(err)
				continue
			}
			metrics.FeedTrades.Inc()
			select {
			case trades <- trade:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(f.keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := f.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					reportErr(err)
					_ = f.conn.Close()
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				_ = f.conn.Close()
				return
			}
		}
	}()

	return trades, errCh
}
