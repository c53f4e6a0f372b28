package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/piotras9000/gekko/internal/config"
	"github.com/piotras9000/gekko/internal/core"
	"github.com/piotras9000/gekko/internal/exchange/gdax"
	"github.com/piotras9000/gekko/internal/logger"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Mode       config.Mode   `json:"mode"`
	Market     string        `json:"market"`
	Checks     []checkResult `json:"checks"`
}

type selectedChecks struct {
	preflight bool
	lifecycle bool
	feed      bool
	scanback  bool
}

func main() {
	var (
		configPath   string
		timeoutSec   int
		feedWait     int
		scanMinutes  int
		outJSONPath  string
		allowLiveRun bool
		checkFlag    string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.IntVar(&timeoutSec, "timeout-sec", 180, "total timeout seconds")
	flag.IntVar(&feedWait, "feed-wait-sec", 10, "wait seconds for the matches feed check")
	flag.IntVar(&scanMinutes, "scan-minutes", 10, "history window for the scanback check")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&allowLiveRun, "allow-live", false, "allow running checks when mode=live")
	flag.StringVar(&checkFlag, "check", "default", "checks to run: default | public | comma list (preflight,lifecycle,feed,scanback)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if cfg.Mode == config.ModeLive && !allowLiveRun {
		fatal("mode=live blocked by default; set -allow-live=true to continue")
	}
	checks, err := parseCheckFlag(checkFlag)
	if err != nil {
		fatal(err.Error())
	}
	if checks.lifecycle && !cfg.HasCredentials() {
		fatal("lifecycle check needs exchange credentials; run -check=public without them")
	}

	if timeoutSec < 30 {
		timeoutSec = 30
	}
	if feedWait < 3 {
		feedWait = 3
	}
	if scanMinutes < 1 {
		scanMinutes = 1
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fatal(err.Error())
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	client, err := gdax.NewClient(gdax.Options{
		BaseURL:        cfg.Exchange.RestBaseURL,
		Market:         cfg.Market,
		Key:            cfg.Exchange.Key,
		Secret:         cfg.Exchange.Secret,
		Passphrase:     cfg.Exchange.Passphrase,
		HTTPTimeoutSec: cfg.Exchange.HTTPTimeoutSec,
	}, log)
	if err != nil {
		fatal(err.Error())
	}
	trader := gdax.NewTrader(client, log)
	trader.SetRuleOverrides(ruleOverrides(cfg.Order))

	r := report{
		StartedAt: time.Now().UTC(),
		Mode:      cfg.Mode,
		Market:    cfg.Market,
	}

	var (
		marketLoaded bool
		rules        core.MarketRules
		lastBid      decimal.Decimal
		placedID     string
	)

	loadMarketContext := func() error {
		if marketLoaded {
			return nil
		}
		ticker, err := trader.GetTicker(ctx)
		if err != nil {
			return err
		}
		lastBid = ticker.Bid
		rules, err = client.Product(ctx)
		if err != nil {
			return err
		}
		marketLoaded = true
		return nil
	}

	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Printf("[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Printf(" - %s", cr.Detail)
			}
			fmt.Println()
		} else {
			fmt.Printf("[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	if checks.preflight {
		run("exchange_preflight", func() (string, error) {
			if err := loadMarketContext(); err != nil {
				return "", err
			}
			detail := fmt.Sprintf("bid=%s quoteIncrement=%s baseIncrement=%s minSize=%s",
				lastBid.String(), rules.QuoteIncrement.String(), rules.BaseIncrement.String(), rules.MinSize.String())
			if cfg.HasCredentials() {
				portfolio, err := trader.GetPortfolio(ctx)
				if err != nil {
					return "", err
				}
				detail += fmt.Sprintf(" accounts=%d", len(portfolio))
			}
			return detail, nil
		})
	}

	if checks.lifecycle {
		run("order_lifecycle_place_check_cancel", func() (string, error) {
			if err := loadMarketContext(); err != nil {
				return "", err
			}
			if lastBid.Cmp(decimal.Zero) <= 0 {
				return "", errors.New("missing ticker bid")
			}
			// Far below market so the post-only limit rests unfilled.
			price := lastBid.Mul(decimal.RequireFromString("0.5"))
			amount := rules.MinSize
			if amount.Cmp(decimal.Zero) <= 0 {
				amount = rules.BaseIncrement
			}
			if amount.Cmp(decimal.Zero) <= 0 {
				return "", errors.New("product advertises no usable minimum size")
			}

			id, err := trader.Buy(ctx, amount, price)
			if err != nil {
				return "", err
			}
			placedID = id

			summary, err := trader.CheckOrder(ctx, id)
			if err != nil {
				return "", err
			}
			if summary.Executed {
				return "", fmt.Errorf("far-below-market order %s reported executed", id)
			}

			completed, err := trader.CancelOrder(ctx, id)
			if err != nil {
				return "", fmt.Errorf("cancel order failed: %w", err)
			}
			placedID = ""

			after, err := trader.CheckOrder(ctx, id)
			status := "unknown"
			if err == nil {
				switch {
				case after.Executed:
					status = "executed"
				case after.Open:
					status = "open"
				default:
					status = "closed"
				}
			}
			return fmt.Sprintf("id=%s amount=%s price=%s wasOpen=%t completedBeforeCancel=%t statusAfterCancel=%s",
				id, amount.String(), price.String(), summary.Open, completed, status), nil
		})
	}

	if checks.feed {
		run("matches_feed_subscribe", func() (string, error) {
			cctx, ccancel := context.WithTimeout(ctx, time.Duration(feedWait)*time.Second)
			defer ccancel()

			keepalive := time.Duration(cfg.Exchange.FeedKeepaliveSec) * time.Second
			feed, err := gdax.DialMatchFeed(cctx, cfg.Exchange.FeedURL, cfg.Market, keepalive, log)
			if err != nil {
				return "", err
			}
			defer feed.Close()

			trades, errs := feed.Trades(cctx)
			count := 0
			for {
				select {
				case <-cctx.Done():
					if errors.Is(cctx.Err(), context.DeadlineExceeded) {
						return fmt.Sprintf("no feed errors during %ds window trades=%d", feedWait, count), nil
					}
					return "", cctx.Err()
				case _, ok := <-trades:
					if !ok {
						return "", errors.New("trades channel closed unexpectedly")
					}
					count++
				case err, ok := <-errs:
					if ok && err != nil {
						var parseErr *core.ParseError
						if errors.As(err, &parseErr) {
							continue
						}
						return "", err
					}
				}
			}
		})
	}

	if checks.scanback {
		run("trade_history_scanback", func() (string, error) {
			since := time.Now().UTC().Add(-time.Duration(scanMinutes) * time.Minute)
			trades, err := trader.GetTrades(ctx, since)
			if err != nil {
				return "", err
			}
			if len(trades) == 0 {
				return fmt.Sprintf("window=%dm trades=0", scanMinutes), nil
			}
			for i := 1; i < len(trades); i++ {
				if trades[i].ID <= trades[i-1].ID {
					return "", fmt.Errorf("history out of order at index %d: %d after %d",
						i, trades[i].ID, trades[i-1].ID)
				}
			}
			first := trades[0]
			last := trades[len(trades)-1]
			return fmt.Sprintf("window=%dm trades=%d first=%d@%s last=%d@%s",
				scanMinutes, len(trades),
				first.ID, first.Timestamp.UTC().Format(time.RFC3339),
				last.ID, last.Timestamp.UTC().Format(time.RFC3339)), nil
		})
	}

	// best-effort cleanup if the lifecycle order is still resting
	if placedID != "" {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 20*time.Second)
		_, _ = trader.CancelOrder(cleanupCtx, placedID)
		cleanupCancel()
	}

	r.FinishedAt = time.Now().UTC()
	printSummary(r)

	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("report written: %s\n", outJSONPath)
	}

	for _, c := range r.Checks {
		if c.Status == statusFail {
			os.Exit(1)
		}
	}
}

func parseCheckFlag(raw string) (selectedChecks, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "default" {
		return selectedChecks{
			preflight: true,
			lifecycle: true,
			feed:      true,
			scanback:  true,
		}, nil
	}
	if raw == "public" {
		return selectedChecks{
			preflight: true,
			feed:      true,
			scanback:  true,
		}, nil
	}

	var out selectedChecks
	for _, p := range strings.Split(raw, ",") {
		switch strings.TrimSpace(p) {
		case "":
			continue
		case "preflight", "exchange_preflight":
			out.preflight = true
		case "lifecycle", "order_lifecycle", "order_lifecycle_place_check_cancel":
			out.lifecycle = true
		case "feed", "matches_feed", "matches_feed_subscribe":
			out.feed = true
		case "scanback", "history", "trade_history_scanback":
			out.scanback = true
		default:
			return selectedChecks{}, fmt.Errorf("unknown check: %s", strings.TrimSpace(p))
		}
	}
	if !out.preflight && !out.lifecycle && !out.feed && !out.scanback {
		return selectedChecks{}, errors.New("no checks selected")
	}
	return out, nil
}

func ruleOverrides(order config.OrderConfig) core.MarketRules {
	var rules core.MarketRules
	if order.QuoteIncrement != nil {
		rules.QuoteIncrement = order.QuoteIncrement.Decimal
	}
	if order.BaseIncrement != nil {
		rules.BaseIncrement = order.BaseIncrement.Decimal
	}
	if order.MinSize != nil {
		rules.MinSize = order.MinSize.Decimal
	}
	return rules
}

func printSummary(r report) {
	pass := 0
	fail := 0
	for _, c := range r.Checks {
		if c.Status == statusPass {
			pass++
		} else {
			fail++
		}
	}
	fmt.Printf("\nsummary mode=%s market=%s pass=%d fail=%d duration=%s\n",
		r.Mode,
		r.Market,
		pass,
		fail,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
