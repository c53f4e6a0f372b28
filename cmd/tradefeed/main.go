package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/piotras9000/gekko/internal/alert"
	"github.com/piotras9000/gekko/internal/config"
	"github.com/piotras9000/gekko/internal/core"
	"github.com/piotras9000/gekko/internal/exchange/gdax"
	"github.com/piotras9000/gekko/internal/logger"
	"github.com/piotras9000/gekko/internal/metrics"
)

// maxDialFailures consecutive failed connections stop the daemon so the
// supervisor can restart it with a clean slate.
const maxDialFailures = 10

// healthyAfter is how long a connection must live before the reconnect
// backoff resets.
const healthyAfter = time.Minute

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		fatal(err.Error())
	}
	defer func() { _ = log.Sync() }()

	alerts := buildAlertManager(cfg, log)
	if alerts != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := alerts.Close(closeCtx); err != nil {
				fmt.Fprintf(os.Stderr, "close alert manager failed: %v\n", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var connected atomic.Bool
	if cfg.Observability.Metrics.Enabled {
		srv := newObservabilityServer(cfg.Observability.Metrics.ListenAddr, &connected)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("observability server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("observability server listening",
			zap.String("addr", cfg.Observability.Metrics.ListenAddr))
	}

	log.Info("tradefeed starting",
		zap.String("mode", string(cfg.Mode)),
		zap.String("market", cfg.Market),
		zap.String("feed_url", cfg.Exchange.FeedURL))

	if err := run(ctx, cfg, log, alerts, &connected); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err.Error())
	}
	log.Info("tradefeed stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, alerts *alert.Manager, connected *atomic.Bool) error {
	keepalive := time.Duration(cfg.Exchange.FeedKeepaliveSec) * time.Second
	backoff := time.Second
	dialFailures := 0
	disconnectStartedAt := time.Time{}
	var tradesTotal uint64

	var heartbeat <-chan time.Time
	if cfg.Observability.Runtime.HeartbeatSec > 0 {
		ticker := time.NewTicker(time.Duration(cfg.Observability.Runtime.HeartbeatSec) * time.Second)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		feed, err := gdax.DialMatchFeed(ctx, cfg.Exchange.FeedURL, cfg.Market, keepalive, log)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			dialFailures++
			metrics.FeedReconnects.Inc()
			log.Warn("feed dial failed",
				zap.Int("consecutive_failures", dialFailures),
				zap.Error(err))
			if disconnectStartedAt.IsZero() {
				disconnectStartedAt = time.Now().UTC()
				alertImportant(alerts, alert.FeedDisconnected(err.Error()))
			}
			if dialFailures >= maxDialFailures {
				alertImportant(alerts, alert.FeedReconnectExhausted(dialFailures, err))
				return fmt.Errorf("feed unreachable after %d attempts: %w", dialFailures, err)
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
			}
			continue
		}

		connectedAt := time.Now()
		connected.Store(true)
		if !disconnectStartedAt.IsZero() {
			log.Info("feed reconnected",
				zap.Duration("outage", time.Since(disconnectStartedAt)))
			disconnectStartedAt = time.Time{}
		} else {
			log.Info("feed connected")
		}

		err = consume(ctx, feed, log, heartbeat, &tradesTotal, connected)
		connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(connectedAt) >= healthyAfter {
			dialFailures = 0
			backoff = time.Second
		}
		if disconnectStartedAt.IsZero() {
			disconnectStartedAt = time.Now().UTC()
			reason := "connection closed"
			if err != nil {
				reason = err.Error()
			}
			alertImportant(alerts, alert.FeedDisconnected(reason))
		}
		log.Warn("feed connection lost", zap.Error(err))
		metrics.FeedReconnects.Inc()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consume drains one feed connection until it dies or ctx is cancelled.
// Returns the terminal error reported by the feed, if any.
func consume(ctx context.Context, feed *gdax.MatchFeed, log *zap.Logger, heartbeat <-chan time.Time, tradesTotal *uint64, connected *atomic.Bool) error {
	defer feed.Close()
	trades, errs := feed.Trades(ctx)
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trade, ok := <-trades:
			if !ok {
				return lastErr
			}
			*tradesTotal++
			log.Info("trade",
				zap.Int64("trade_id", trade.ID),
				zap.String("price", trade.Price.String()),
				zap.String("amount", trade.Amount.String()),
				zap.Time("time", trade.Timestamp))
		case err, ok := <-errs:
			if !ok {
				continue
			}
			var parseErr *core.ParseError
			if errors.As(err, &parseErr) {
				log.Warn("dropping malformed trade message", zap.Error(err))
				continue
			}
			lastErr = err
			log.Error("feed error", zap.Error(err))
		case <-heartbeat:
			log.Info("feed heartbeat",
				zap.Uint64("trades_total", *tradesTotal),
				zap.Bool("connected", connected.Load()))
		}
	}
}

func newObservabilityServer(addr string, connected *atomic.Bool) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if !connected.Load() {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func buildAlertManager(cfg config.Config, log *zap.Logger) *alert.Manager {
	tg := cfg.Observability.Telegram
	if !tg.Enabled {
		return nil
	}
	notifier := alert.NewTelegramNotifier(alert.TelegramOptions{
		Enabled:    tg.Enabled,
		BotToken:   tg.BotToken,
		ChatID:     tg.ChatID,
		APIBaseURL: tg.APIBaseURL,
		Timeout:    time.Duration(tg.TimeoutSec) * time.Second,
	})
	return alert.NewManagerWithOptions(string(cfg.Mode), cfg.Market, notifier, log, alert.ManagerOptions{
		DropReportInterval: time.Duration(cfg.Observability.Runtime.AlertDropReportSec) * time.Second,
	})
}

func alertImportant(alerts *alert.Manager, ev alert.Event) {
	if alerts == nil {
		return
	}
	alerts.Important(ev)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
