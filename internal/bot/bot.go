package bot

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/gridbase/gridbase/internal/chain"
	"github.com/gridbase/gridbase/internal/dex"
	"github.com/gridbase/gridbase/internal/grid"
	"github.com/gridbase/gridbase/internal/metrics"
	"github.com/gridbase/gridbase/internal/model"
	"github.com/gridbase/gridbase/internal/notify"
	"github.com/gridbase/gridbase/internal/vault"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADING BOT - Per-bot tick state machine
// ═══════════════════════════════════════════════════════════════════════════════
//
// One TradingBot owns one BotInstance. The supervisor guarantees a bot is
// ticked by at most one worker at a time, so nothing here takes a lock: the
// instance is mutated freely within a tick and persisted at every state
// transition boundary.
//
// ═══════════════════════════════════════════════════════════════════════════════

// maxConsecutiveErrors halts the bot loop until an operator restarts it.
const maxConsecutiveErrors = 5

// PriceFeed validates a price observation against the bot's confidence
// threshold.
type PriceFeed interface {
	ValidatePrice(ctx context.Context, token common.Address, minConfidence float64) (*model.PriceData, error)
}

// Quoter fetches swap quotes from the DEX aggregator.
type Quoter interface {
	GetQuote(ctx context.Context, req dex.QuoteRequest) (*dex.Quote, error)
}

// Chain is the subset of the RPC client a tick needs.
type Chain interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	SignAndSend(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error)
}

// Signer resolves a bot to its unlocked signing account.
type Signer interface {
	AccountFor(bot *model.BotInstance) (*vault.Account, error)
}

// Persister durably writes bot state and trades.
type Persister interface {
	UpsertBot(bot model.BotInstance) error
	AppendTrade(trade model.TradeRecord) error
}

// BuyGate is the circuit breaker view a bot sees: buys only.
type BuyGate interface {
	AllowBuys() bool
}

// TradeMirror receives confirmed trades for secondary storage. Optional.
type TradeMirror interface {
	Record(trade model.TradeRecord) error
}

// Services bundles everything a tick touches.
type Services struct {
	Oracle  PriceFeed
	Dex     Quoter
	Chain   Chain
	Vault   Signer
	Store   Persister
	Breaker BuyGate
	Hub     *notify.Hub
	Mirror  TradeMirror // nil disables the archive

	GasReserve model.Wei
}

// TradingBot drives one bot instance through its tick procedure.
type TradingBot struct {
	bot *model.BotInstance
	svc Services
}

// New wraps a bot instance with its service set.
func New(instance *model.BotInstance, svc Services) *TradingBot {
	return &TradingBot{bot: instance, svc: svc}
}

// Instance exposes the owned bot for the supervisor and CLI status.
func (t *TradingBot) Instance() *model.BotInstance { return t.bot }

// Tick runs one full pass: price, sells, buys, error gate. Never returns an
// error; failures inside a tick are absorbed into the bot's error counter
// and the next tick tries again.
func (t *TradingBot) Tick(ctx context.Context) {
	b := t.bot
	if !b.Enabled || !b.IsRunning {
		return
	}

	started := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(b.Name).Observe(time.Since(started).Seconds())
	}()

	b.LastHeartbeat = time.Now()

	price, err := t.svc.Oracle.ValidatePrice(ctx, common.HexToAddress(b.TokenAddress), b.Config.MinConfidence)
	if err != nil {
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).
			Str("bot", b.Name).
			Int("consecutive_errors", b.ConsecutiveErrorCount).
			Msg("📵 Price unavailable")
		metrics.TicksTotal.WithLabelValues(b.Name, "price_unavailable").Inc()
		metrics.ErrorsTotal.WithLabelValues(b.Name, "price").Inc()
		t.errorGate()
		t.persist()
		return
	}
	b.ConsecutiveErrorCount = 0
	b.CurrentPrice = price.Price

	metrics.CurrentPrice.WithLabelValues(b.Name).Set(price.Price)
	metrics.PriceConfidence.WithLabelValues(b.Name).Set(price.Confidence)

	log.Debug().
		Str("bot", b.Name).
		Float64("price", price.Price).
		Str("source", string(price.Source)).
		Float64("confidence", price.Confidence).
		Msg("Tick price")

	if b.Config.Mode == model.ModeVolume {
		t.volumeTick(ctx, price)
	} else {
		t.sellPhase(ctx, price)
		t.buyPhase(ctx, price)
	}

	t.errorGate()
	t.persist()
	metrics.ActivePositions.WithLabelValues(b.Name).Set(float64(grid.CountActive(b.Positions)))
	metrics.TicksTotal.WithLabelValues(b.Name, "ok").Inc()
}

// errorGate halts the bot after too many consecutive failures.
func (t *TradingBot) errorGate() {
	b := t.bot
	if b.ConsecutiveErrorCount < maxConsecutiveErrors || !b.IsRunning {
		return
	}
	b.IsRunning = false
	log.Error().
		Str("bot", b.Name).
		Int("consecutive_errors", b.ConsecutiveErrorCount).
		Msg("🛑 Bot halted by error gate")
	t.publish(notify.EventBotStopped, "BOT HALTED",
		"Stopped after repeated consecutive errors. Restart manually once the cause is fixed.")
}

// persist writes the bot through the store. A persistence failure is fatal
// to the loop: trading without durable accounting is worse than stopping.
func (t *TradingBot) persist() {
	if err := t.svc.Store.UpsertBot(*t.bot); err != nil {
		t.bot.IsRunning = false
		metrics.ErrorsTotal.WithLabelValues(t.bot.Name, "persistence").Inc()
		log.Error().Err(err).Str("bot", t.bot.Name).Msg("🛑 Persistence failed, bot halted")
		t.publish(notify.EventError, "PERSISTENCE FAILURE", err.Error())
		t.publish(notify.EventBotStopped, "BOT HALTED", "Persistence failure")
	}
}

func (t *TradingBot) publish(kind notify.EventKind, title, body string) {
	if t.svc.Hub == nil {
		return
	}
	t.svc.Hub.Publish(notify.Event{
		Kind:    kind,
		BotID:   t.bot.ID,
		BotName: t.bot.Name,
		Title:   title,
		Body:    body,
	})
}

func (t *TradingBot) mirror(trade model.TradeRecord) {
	if t.svc.Mirror == nil {
		return
	}
	if err := t.svc.Mirror.Record(trade); err != nil {
		log.Warn().Err(err).Str("bot", t.bot.Name).Msg("Trade archive write failed")
	}
}
