package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/piotras9000/gekko/internal/config"
	"github.com/piotras9000/gekko/internal/exchange/gdax"
	"github.com/piotras9000/gekko/internal/logger"
)

const defaultOutDir = "data/gdax"

type tradeLine struct {
	Time      string `json:"time"`
	Timestamp int64  `json:"timestamp"`
	Market    string `json:"market"`
	TradeID   int64  `json:"trade_id"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
}

type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	if _, err := w.currentFile.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Sync(); err != nil {
			_ = w.currentFile.Close()
			w.currentFile = nil
			return err
		}
		if err := w.currentFile.Close(); err != nil {
			w.currentFile = nil
			return err
		}
		w.currentFile = nil
	}
	path := filepath.Join(w.root, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	if err := w.currentFile.Sync(); err != nil {
		_ = w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

func main() {
	var (
		configPath string
		sinceRaw   string
		hours      int
		outDir     string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&sinceRaw, "since", "", "scan start (YYYY-MM-DD or RFC3339, UTC)")
	flag.IntVar(&hours, "hours", 24, "hours to fetch back from now when -since is empty")
	flag.StringVar(&outDir, "out-dir", defaultOutDir, "output root dir")
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

	since, err := resolveSince(hours, sinceRaw)
	if err != nil {
		fatal(err.Error())
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("fetching market=%s since=%s\n", cfg.Market, since.Format(time.RFC3339))
	started := time.Now()
	trades, err := trader.GetTrades(ctx, since)
	if err != nil {
		fatal(err.Error())
	}

	writer, err := newDateWriter(filepath.Join(outDir, cfg.Market))
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if closeErr := writer.close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "close writer failed: %v\n", closeErr)
		}
	}()

	for _, tr := range trades {
		ts := tr.Timestamp.UTC()
		line := tradeLine{
			Time:      ts.Format(time.RFC3339),
			Timestamp: ts.Unix(),
			Market:    cfg.Market,
			TradeID:   tr.ID,
			Price:     tr.Price.String(),
			Amount:    tr.Amount.String(),
		}
		encoded, err := json.Marshal(line)
		if err != nil {
			fatal(err.Error())
		}
		if err := writer.write(ts.Format("2006-01-02"), encoded); err != nil {
			fatal(err.Error())
		}
	}

	fmt.Printf("done: trades=%d elapsed=%s output=%s\n",
		len(trades), time.Since(started).Round(time.Second), filepath.Join(outDir, cfg.Market))
}

func resolveSince(hours int, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if hours < 1 {
			return time.Time{}, errors.New("hours must be >= 1")
		}
		return time.Now().UTC().Add(-time.Duration(hours) * time.Hour), nil
	}
	if len(raw) == len("2006-01-02") {
		return time.Parse("2006-01-02", raw)
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unsupported time format")
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
