package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridbase/gridbase/internal/archive"
	"github.com/gridbase/gridbase/internal/bot"
	"github.com/gridbase/gridbase/internal/chain"
	"github.com/gridbase/gridbase/internal/config"
	"github.com/gridbase/gridbase/internal/dex"
	"github.com/gridbase/gridbase/internal/metrics"
	"github.com/gridbase/gridbase/internal/model"
	"github.com/gridbase/gridbase/internal/notify"
	"github.com/gridbase/gridbase/internal/oracle"
	"github.com/gridbase/gridbase/internal/risk"
	"github.com/gridbase/gridbase/internal/store"
	"github.com/gridbase/gridbase/internal/supervisor"
	"github.com/gridbase/gridbase/internal/vault"
)

// breakerCheckInterval paces the background breaker sweep that persists
// state, drives the metrics gauge and archives trips. The buy gate itself
// re-checks the portfolio on every buy attempt.
const breakerCheckInterval = 30 * time.Second

// runtime bundles the live service graph shared by the daemon and the
// liquidate-all command.
type runtime struct {
	cfg       *config.Config
	store     *store.Store
	chain     *chain.Client
	vault     *vault.Vault
	hub       *notify.Hub
	breaker   *risk.Breaker
	archive   *archive.Archive
	portfolio risk.PortfolioFunc

	services bot.Services

	closeOnce sync.Once
}

// buildRuntime wires the full service graph: state store, chain client,
// crash reconciler, vault, oracle, aggregator, notifications, breaker and
// trade archive.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	chainClient, err := chain.Dial(ctx, cfg.RPCURL, cfg.Chain, cfg.ReceiptTimeout)
	if err != nil {
		st.Close()
		return nil, err
	}
	log.Info().Str("chain", cfg.Chain).Str("rpc", cfg.RPCURL).Msg("⛓️ Chain RPC connected")

	// Settle any BUYING/SELLING positions left behind by a crash before a
	// single bot ticks.
	var recovered int
	err = st.Update(func(doc *store.Document) {
		recovered = store.Reconcile(ctx, doc, chainClient)
	})
	if err != nil {
		chainClient.Close()
		st.Close()
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if recovered > 0 {
		log.Info().Int("positions", recovered).Msg("🔧 Pending positions reconciled")
	}

	doc := st.Snapshot()

	v := vault.New(doc.WalletDictionary, doc.PrimaryWalletID)
	if cfg.WalletPassword != "" {
		if err := v.Unlock(cfg.WalletPassword); err != nil {
			chainClient.Close()
			st.Close()
			return nil, err
		}
	} else {
		log.Warn().Msg("⚠️ WALLET_PASSWORD not set, vault stays locked")
	}

	// Feed table maps bot tokens to ETH-denominated Chainlink aggregators,
	// extendable per deployment via CHAINLINK_FEEDS. Tokens without a feed
	// price off the Uniswap TWAP alone; the oracle treats a missing feed as
	// a failed source.
	addrs := chainClient.Addresses()
	feeds := make(map[common.Address]common.Address, len(addrs.ChainlinkEthFeeds))
	for token, feed := range addrs.ChainlinkEthFeeds {
		feeds[token] = feed
	}
	extra, err := chain.ParseFeedPairs(cfg.ChainlinkFeeds)
	if err != nil {
		chainClient.Close()
		st.Close()
		return nil, fmt.Errorf("CHAINLINK_FEEDS: %w", err)
	}
	for token, feed := range extra {
		feeds[token] = feed
	}
	if len(extra) > 0 {
		log.Info().Int("feeds", len(feeds)).Msg("🔗 Chainlink feed table extended from environment")
	}
	orc := oracle.New(
		oracle.NewChainlinkSource(chainClient, feeds, cfg.StaleThreshold),
		oracle.NewUniswapSource(chainClient, addrs, cfg.TwapWindowSec),
		oracle.Options{
			Preferred:     model.PriceSource(cfg.PreferredSource),
			AllowFallback: cfg.AllowFallback,
			Timeout:       cfg.PriceTimeout,
		},
	)

	dexClient := dex.NewClient(cfg.ZeroExBaseURL, cfg.ZeroExAPIKey, addrs.ChainID, cfg.QuoteTimeout)

	hub := notify.NewHub()
	hub.Register(notify.LogSink{})
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		sink, err := notify.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram sink unavailable")
		} else {
			hub.Register(sink)
			log.Info().Msg("📱 Telegram notifications enabled")
		}
	}

	breaker := risk.NewBreaker(doc.CircuitBreaker)
	breaker.OnTrip(func(state model.CircuitBreakerState) {
		hub.Publish(notify.Event{
			Kind:      notify.EventCircuitBreaker,
			Title:     "CIRCUIT BREAKER TRIPPED",
			Body:      state.Reason,
			Timestamp: time.Now(),
		})
	})
	breaker.OnReset(func() {
		hub.Publish(notify.Event{
			Kind:      notify.EventStatusChange,
			Title:     "CIRCUIT BREAKER RESET",
			Body:      "Buys re-enabled",
			Timestamp: time.Now(),
		})
	})

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = filepath.Join(cfg.DataDir, "gridbase.db")
	}
	var mirror bot.TradeMirror
	arch, err := archive.New(dsn)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Trade archive unavailable, JSON store only")
	} else {
		mirror = arch
	}

	gasReserve, err := model.WeiFromString(cfg.GasReserve)
	if err != nil {
		chainClient.Close()
		st.Close()
		return nil, fmt.Errorf("GAS_RESERVE_WEI: %w", err)
	}

	// Portfolio value is the signed profit sum over a one-ETH reference
	// book, so a 0.06 ETH drawdown reads as a 6% daily loss. The gate
	// re-evaluates this before every buy.
	portfolio := func() (model.Wei, model.Wei) {
		base, _ := model.WeiFromString("1000000000000000000")
		var profit model.Wei
		for _, b := range st.Snapshot().Bots {
			profit = profit.Add(b.TotalProfitEth)
		}
		return base.Add(profit), base
	}

	return &runtime{
		cfg:       cfg,
		store:     st,
		chain:     chainClient,
		vault:     v,
		hub:       hub,
		breaker:   breaker,
		archive:   arch,
		portfolio: portfolio,
		services: bot.Services{
			Oracle:     orc,
			Dex:        dexClient,
			Chain:      chainClient,
			Vault:      v,
			Store:      st,
			Breaker:    risk.NewGate(breaker, portfolio),
			Hub:        hub,
			Mirror:     mirror,
			GasReserve: gasReserve,
		},
	}, nil
}

func (rt *runtime) close() {
	rt.closeOnce.Do(func() {
		rt.hub.Stop()
		rt.store.Close()
		rt.chain.Close()
	})
}

// ─── start ─────────────────────────────────────────────────────────────────────

func cmdStart(cfg *config.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Error().Err(err).Msg("Failed to create data dir")
		return exitRuntime
	}

	// Mirror logs to the file tail-logs reads.
	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Log file unavailable, console only")
	} else {
		defer logFile.Close()
		console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, logFile)).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("chain", cfg.Chain).
		Bool("dry_run", cfg.DryRun).
		Msg("⚡ Gridbase starting...")

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return exitRuntime
	}
	defer rt.close()

	if err := writePidFile(pidPath(cfg)); err != nil {
		log.Warn().Err(err).Msg("⚠️ Could not write pid file")
	} else {
		defer os.Remove(pidPath(cfg))
	}

	go metrics.Serve(cfg.MetricsAddr)

	doc := rt.store.Snapshot()
	sup := supervisor.New(rt.services)
	sup.LoadBots(doc.Bots)
	sup.Start()

	watchStop := make(chan struct{})
	go rt.breakerWatch(watchStop)

	status := sup.Status()
	log.Info().Msg("✅ All systems online")
	log.Info().Msg("╔══════════════════════════════════════════╗")
	log.Info().Msg("║        GRID TRADING SUPERVISOR           ║")
	log.Info().Msgf("║  Bots: %-3d running of %-3d loaded         ║", status.RunningBots, status.TotalBots)
	log.Info().Msgf("║  Breaker: %-8s Dry run: %-5v        ║", breakerWord(rt.breaker), cfg.DryRun)
	log.Info().Msg("╚══════════════════════════════════════════╝")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("🛑 Received shutdown signal")

	close(watchStop)
	sup.Stop()

	log.Info().Msg("👋 Goodbye!")
	return exitOK
}

func breakerWord(b *risk.Breaker) string {
	if b.IsTriggered() {
		return "TRIPPED"
	}
	if !b.State().Enabled {
		return "off"
	}
	return "armed"
}

// breakerWatch is the bookkeeping sweep around the buy gate: it persists
// breaker state, drives the metrics gauge and archives trips, including
// trips raised by gate checks between sweeps.
func (rt *runtime) breakerWatch(stop <-chan struct{}) {
	ticker := time.NewTicker(breakerCheckInterval)
	defer ticker.Stop()

	lastTripped := rt.breaker.IsTriggered()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		current, initial := rt.portfolio()
		res := rt.breaker.Check(current, initial)
		tripped := rt.breaker.IsTriggered()

		if tripped {
			metrics.BreakerTriggered.Set(1)
		} else {
			metrics.BreakerTriggered.Set(0)
		}
		if err := rt.store.SaveBreaker(rt.breaker.State()); err != nil {
			log.Error().Err(err).Msg("Failed to persist breaker state")
		}
		if tripped && !lastTripped && rt.archive != nil {
			if err := rt.archive.RecordTrip(res.Reason, res.DailyLossPercent, res.TotalLossPercent, time.Now()); err != nil {
				log.Warn().Err(err).Msg("Failed to archive breaker trip")
			}
		}
		lastTripped = tripped
	}
}

// ─── stop ──────────────────────────────────────────────────────────────────────

func cmdStop(cfg *config.Config) int {
	pid, err := readPidFile(pidPath(cfg))
	if err != nil {
		log.Error().Err(err).Msg("No running daemon found")
		return exitRuntime
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		log.Error().Err(err).Int("pid", pid).Msg("Failed to signal daemon")
		return exitRuntime
	}
	log.Info().Int("pid", pid).Msg("🛑 Shutdown signal sent")
	return exitOK
}

// ─── pid file ──────────────────────────────────────────────────────────────────

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "gridbase.pid")
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	return pid, nil
}
