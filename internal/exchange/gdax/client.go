package gdax

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/piotras9000/gekko/internal/core"
	"github.com/piotras9000/gekko/internal/metrics"
)

type authType int

const (
	authNone authType = iota
	authSigned
)

const (
	// tradePageSize is the page size requested from the trades endpoint.
	tradePageSize = 100

	userAgent = "gekko/0.1"
)

// Client talks to the GDAX REST API for a single product. Private endpoints
// sign requests with the CB-ACCESS header scheme.
type Client struct {
	baseURL    string
	market     string
	key        string
	secret     string
	passphrase string

	httpClient *http.Client
	log        *zap.Logger
}

type Options struct {
	BaseURL        string
	Market         string
	Key            string
	Secret         string
	Passphrase     string
	HTTPTimeoutSec int64
}

func NewClient(opts Options, log *zap.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url required")
	}
	if opts.Market == "" {
		return nil, fmt.Errorf("market required")
	}
	timeout := 30 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		market:     opts.Market,
		key:        opts.Key,
		secret:     opts.Secret,
		passphrase: opts.Passphrase,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

func (c *Client) Market() string { return c.market }

// Accounts returns the balances available for trading, one entry per
// currency.
func (c *Client) Accounts(ctx context.Context) ([]core.Account, error) {
	body, err := c.doRequest(ctx, "getAccounts", http.MethodGet, "/accounts", nil, nil, authSigned)
	if err != nil {
		return nil, err
	}
	var resources []accountResource
	if err := json.Unmarshal(body, &resources); err != nil {
		return nil, err
	}
	return mapAccounts(resources)
}

// Product returns the market's order sizing rules.
func (c *Client) Product(ctx context.Context) (core.MarketRules, error) {
	body, err := c.doRequest(ctx, "getProduct", http.MethodGet, "/products/"+c.market, nil, nil, authNone)
	if err != nil {
		return core.MarketRules{}, err
	}
	var res productResource
	if err := json.Unmarshal(body, &res); err != nil {
		return core.MarketRules{}, err
	}
	return mapProduct(res)
}

func (c *Client) Ticker(ctx context.Context) (core.Ticker, error) {
	path := "/products/" + c.market + "/ticker"
	body, err := c.doRequest(ctx, "getProductTicker", http.MethodGet, path, nil, nil, authNone)
	if err != nil {
		return core.Ticker{}, err
	}
	var res tickerResource
	if err := json.Unmarshal(body, &res); err != nil {
		return core.Ticker{}, err
	}
	return mapTicker(res)
}

// Trades fetches one page of trades, newest-first. A positive after cursor
// returns trades with ids strictly below it; zero fetches the most recent
// page.
func (c *Client) Trades(ctx context.Context, after int64, limit int) ([]core.Trade, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if after > 0 {
		params.Set("after", strconv.FormatInt(after, 10))
	}
	path := "/products/" + c.market + "/trades"
	body, err := c.doRequest(ctx, "getProductTrades", http.MethodGet, path, params, nil, authNone)
	if err != nil {
		return nil, err
	}
	var raw []rawTrade
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return mapTrades(raw)
}

// PlaceOrder submits a post-only limit order and returns the exchange order
// id. The caller supplies the client order id so a retried submission reuses
// it instead of double-placing.
func (c *Client) PlaceOrder(ctx context.Context, side core.Side, price, size decimal.Decimal, clientOID string) (string, error) {
	payload := orderRequest{
		ClientOID: clientOID,
		Type:      "limit",
		Side:      string(side),
		ProductID: c.market,
		Price:     price.String(),
		Size:      size.String(),
		PostOnly:  true,
	}
	body, err := c.doRequest(ctx, "placeOrder", http.MethodPost, "/orders", nil, payload, authSigned)
	if err != nil {
		return "", err
	}
	var res orderResource
	if err := json.Unmarshal(body, &res); err != nil {
		return "", err
	}
	if res.ID == "" {
		return "", fmt.Errorf("placeOrder: response carries no order id")
	}
	if core.OrderStatus(res.Status) == core.OrderRejected {
		return "", fmt.Errorf("%w: %s", core.ErrOrderRejected, res.DoneReason)
	}
	return res.ID, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (core.Order, error) {
	body, err := c.doRequest(ctx, "getOrder", http.MethodGet, "/orders/"+id, nil, nil, authSigned)
	if err != nil {
		return core.Order{}, err
	}
	var res orderResource
	if err := json.Unmarshal(body, &res); err != nil {
		return core.Order{}, err
	}
	return mapOrder(res)
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	_, err := c.doRequest(ctx, "cancelOrder", http.MethodDelete, "/orders/"+id, nil, nil, authSigned)
	return err
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, params url.Values, payload any, auth authType) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
	}
	requestPath := path
	if len(params) > 0 {
		requestPath += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if auth == authSigned {
		if c.key == "" || c.secret == "" || c.passphrase == "" {
			return nil, fmt.Errorf("%s: %w", op, core.ErrBadCredentials)
		}
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		signature, err := c.sign(timestamp, method, requestPath, body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		req.Header.Set("CB-ACCESS-KEY", c.key)
		req.Header.Set("CB-ACCESS-SIGN", signature)
		req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("CB-ACCESS-PASSPHRASE", c.passphrase)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(op, "transport_error").Inc()
		return nil, normalizeResponse(op, err, 0, nil)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.APIRequests.WithLabelValues(op, "read_error").Inc()
		return nil, normalizeResponse(op, err, resp.StatusCode, nil)
	}
	metrics.APILatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if normErr := normalizeResponse(op, nil, resp.StatusCode, raw); normErr != nil {
		metrics.APIRequests.WithLabelValues(op, "api_error").Inc()
		c.log.Debug("request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Error(normErr))
		return nil, normErr
	}
	metrics.APIRequests.WithLabelValues(op, "ok").Inc()
	return raw, nil
}

// sign produces the CB-ACCESS-SIGN header: a base64 HMAC-SHA256 of
// timestamp+method+path+body keyed with the base64-decoded API secret.
func (c *Client) sign(timestamp, method, requestPath string, body []byte) (string, error) {
	key, err := base64.StdEncoding.DecodeString(c.secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + method + requestPath))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
