package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS - Prometheus instrumentation
// ═══════════════════════════════════════════════════════════════════════════════

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbase_ticks_total",
		Help: "Completed bot ticks by outcome.",
	}, []string{"bot", "outcome"})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbase_trades_total",
		Help: "Confirmed trades by bot and action.",
	}, []string{"bot", "action"})

	ProfitEth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbase_profit_eth",
		Help: "Cumulative realized profit per bot in ETH.",
	}, []string{"bot"})

	ActivePositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbase_active_positions",
		Help: "Positions currently in BUYING, HOLDING or SELLING.",
	}, []string{"bot"})

	CurrentPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbase_token_price",
		Help: "Last observed token price in ETH.",
	}, []string{"bot"})

	PriceConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridbase_price_confidence",
		Help: "Confidence of the last accepted price observation.",
	}, []string{"bot"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbase_errors_total",
		Help: "Tick errors by kind.",
	}, []string{"bot", "kind"})

	BreakerTriggered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbase_circuit_breaker_triggered",
		Help: "1 while the circuit breaker blocks buys.",
	})

	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridbase_tick_duration_seconds",
		Help:    "Wall time of a full bot tick.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"bot"})
)

// Serve exposes /metrics on addr. Blocks; run in a goroutine. An empty addr
// disables the listener.
func Serve(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("📊 Metrics listener started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics listener failed")
	}
}
