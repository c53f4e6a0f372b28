package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

// Environment variables consulted after the YAML file; a set variable wins
// over the file so credentials can stay out of checked-in configs.
const (
	EnvKey        = "GDAX_API_KEY"
	EnvSecret     = "GDAX_API_SECRET"
	EnvPassphrase = "GDAX_API_PASSPHRASE"
)

// ssmPrefix marks a credential value as an AWS SSM Parameter Store name to
// resolve at load time, e.g. "ssm:/gekko/live/api-secret".
const ssmPrefix = "ssm:"

type Config struct {
	Mode          Mode                `yaml:"mode"`
	Market        string              `yaml:"market"`
	InstanceID    string              `yaml:"instance_id"`
	Exchange      ExchangeConfig      `yaml:"exchange"`
	Order         OrderConfig         `yaml:"order"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ExchangeConfig struct {
	Key              string `yaml:"key"`
	Secret           string `yaml:"secret"`
	Passphrase       string `yaml:"passphrase"`
	RestBaseURL      string `yaml:"rest_base_url"`
	FeedURL          string `yaml:"feed_url"`
	HTTPTimeoutSec   int64  `yaml:"http_timeout_sec"`
	FeedKeepaliveSec int64  `yaml:"feed_keepalive_sec"`
}

// OrderConfig overrides individual product rules advertised by the exchange.
// Nil fields keep the live values from GET /products.
type OrderConfig struct {
	QuoteIncrement *Decimal `yaml:"quote_increment"`
	BaseIncrement  *Decimal `yaml:"base_increment"`
	MinSize        *Decimal `yaml:"min_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputFile string `yaml:"output_file"`
}

type ObservabilityConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type RuntimeConfig struct {
	HeartbeatSec       int64 `yaml:"heartbeat_sec"`
	AlertDropReportSec int64 `yaml:"alert_drop_report_sec"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyEnvOverrides()
	if err := cfg.resolveSecrets(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.Market = strings.ToUpper(strings.TrimSpace(c.Market))
	c.InstanceID = strings.ToLower(strings.TrimSpace(c.InstanceID))
	c.Exchange.Key = strings.TrimSpace(c.Exchange.Key)
	c.Exchange.Secret = strings.TrimSpace(c.Exchange.Secret)
	c.Exchange.Passphrase = strings.TrimSpace(c.Exchange.Passphrase)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.FeedURL = strings.TrimSpace(c.Exchange.FeedURL)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Log.OutputFile = strings.TrimSpace(c.Log.OutputFile)
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
	c.Observability.Telegram.APIBaseURL = strings.TrimSpace(c.Observability.Telegram.APIBaseURL)
	c.Observability.Metrics.ListenAddr = strings.TrimSpace(c.Observability.Metrics.ListenAddr)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvKey); v != "" {
		c.Exchange.Key = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvSecret); v != "" {
		c.Exchange.Secret = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvPassphrase); v != "" {
		c.Exchange.Passphrase = strings.TrimSpace(v)
	}
}

func (c *Config) resolveSecrets() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"exchange key", &c.Exchange.Key},
		{"exchange secret", &c.Exchange.Secret},
		{"exchange passphrase", &c.Exchange.Passphrase},
	}
	for _, f := range fields {
		if !strings.HasPrefix(*f.value, ssmPrefix) {
			continue
		}
		param := strings.TrimPrefix(*f.value, ssmPrefix)
		resolved, err := fetchSSMParameter(param)
		if err != nil {
			return fmt.Errorf("resolve %s from ssm parameter %q: %w", f.name, param, err)
		}
		*f.value = resolved
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeSandbox
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.FeedKeepaliveSec == 0 {
		c.Exchange.FeedKeepaliveSec = 30
	}
	if c.Exchange.RestBaseURL == "" {
		switch c.Mode {
		case ModeSandbox:
			c.Exchange.RestBaseURL = "https://api-public.sandbox.gdax.com"
		case ModeLive:
			c.Exchange.RestBaseURL = "https://api.gdax.com"
		}
	}
	if c.Exchange.FeedURL == "" {
		switch c.Mode {
		case ModeSandbox:
			c.Exchange.FeedURL = "wss://ws-feed-public.sandbox.gdax.com"
		case ModeLive:
			c.Exchange.FeedURL = "wss://ws-feed.gdax.com"
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
	if c.Observability.Metrics.ListenAddr == "" {
		c.Observability.Metrics.ListenAddr = ":9090"
	}
	if c.Observability.Runtime.AlertDropReportSec == 0 {
		c.Observability.Runtime.AlertDropReportSec = 60
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeSandbox, ModeLive:
	default:
		return fmt.Errorf("mode must be sandbox or live")
	}
	if c.Market == "" {
		return fmt.Errorf("market is required")
	}
	if !isValidMarket(c.Market) {
		return fmt.Errorf("market must look like BTC-USD ([A-Z0-9]+-[A-Z0-9]+)")
	}
	if !isValidInstanceID(c.InstanceID) {
		return fmt.Errorf("instance_id must match [a-z0-9_-], length 1..24")
	}
	if err := c.validateCredentials(); err != nil {
		return err
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if c.Exchange.FeedKeepaliveSec < 1 || c.Exchange.FeedKeepaliveSec > 300 {
		return fmt.Errorf("exchange feed_keepalive_sec must be between 1 and 300")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.FeedURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange feed_url %v", err)
	}
	if c.Order.QuoteIncrement != nil && c.Order.QuoteIncrement.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("order quote_increment must be > 0")
	}
	if c.Order.BaseIncrement != nil && c.Order.BaseIncrement.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("order base_increment must be > 0")
	}
	if c.Order.MinSize != nil && c.Order.MinSize.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("order min_size must be > 0")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn, or error")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json")
	}
	if c.Observability.Runtime.HeartbeatSec < 0 || c.Observability.Runtime.HeartbeatSec > 3600 {
		return fmt.Errorf("observability.runtime.heartbeat_sec must be between 0 and 3600")
	}
	if c.Observability.Runtime.AlertDropReportSec < 0 || c.Observability.Runtime.AlertDropReportSec > 3600 {
		return fmt.Errorf("observability.runtime.alert_drop_report_sec must be between 0 and 3600")
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" {
			return fmt.Errorf("observability.telegram.bot_token is required when telegram enabled")
		}
		if c.Observability.Telegram.ChatID == "" {
			return fmt.Errorf("observability.telegram.chat_id is required when telegram enabled")
		}
		if c.Observability.Telegram.TimeoutSec < 1 || c.Observability.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("observability.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Observability.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("observability.telegram.api_base_url %v", err)
		}
	}
	if c.Observability.Metrics.Enabled && c.Observability.Metrics.ListenAddr == "" {
		return fmt.Errorf("observability.metrics.listen_addr is required when metrics enabled")
	}
	return nil
}

// validateCredentials rejects partially filled credentials. Fully empty is
// allowed so public-endpoint commands can run without an API key.
func (c Config) validateCredentials() error {
	set := 0
	for _, v := range []string{c.Exchange.Key, c.Exchange.Secret, c.Exchange.Passphrase} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("exchange key, secret, and passphrase must be set together")
	}
	return nil
}

// HasCredentials reports whether signed endpoints can be called.
func (c Config) HasCredentials() bool {
	return c.Exchange.Key != "" && c.Exchange.Secret != "" && c.Exchange.Passphrase != ""
}

func isValidInstanceID(v string) bool {
	if len(v) < 1 || len(v) > 24 {
		return false
	}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func isValidMarket(v string) bool {
	base, quote, ok := strings.Cut(v, "-")
	if !ok || base == "" || quote == "" {
		return false
	}
	for _, part := range []string{base, quote} {
		for _, r := range part {
			if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				continue
			}
			return false
		}
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
