package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests tracks exchange REST requests per operation and outcome
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gekko_api_requests_total",
			Help: "Total number of exchange REST requests",
		},
		[]string{"op", "outcome"},
	)

	// APILatency tracks exchange REST request latency
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gekko_api_latency_seconds",
			Help:    "Exchange REST request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// RetryAttempts tracks retry executor attempts per operation and outcome
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gekko_retry_attempts_total",
			Help: "Total number of retry executor attempts",
		},
		[]string{"op", "outcome"},
	)

	// ScanPages tracks scanback pages fetched per direction
	ScanPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gekko_scan_pages_total",
			Help: "Total number of scanback pages fetched",
		},
		[]string{"direction"},
	)

	// Scans tracks history scans per result
	Scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gekko_scans_total",
			Help: "Total number of history scans",
		},
		[]string{"result"},
	)

	// FeedTrades tracks trades delivered by the websocket feed
	FeedTrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gekko_feed_trades_total",
			Help: "Total number of trades delivered by the websocket feed",
		},
	)

	// FeedReconnects tracks websocket feed reconnect attempts
	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gekko_feed_reconnects_total",
			Help: "Total number of websocket feed reconnects",
		},
	)
)
