package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbase/gridbase/internal/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Portfolio-wide loss protection
// ═══════════════════════════════════════════════════════════════════════════════
//
// One breaker guards every bot in the deployment. It only ever blocks BUYS:
// a triggered breaker still lets bots sell their way out of positions.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Result is the outcome of one breaker evaluation.
type Result struct {
	Triggered        bool
	Reason           string
	DailyLossPercent float64
	TotalLossPercent float64
}

// Breaker is the singleton circuit breaker.
type Breaker struct {
	mu    sync.RWMutex
	state model.CircuitBreakerState

	// Hooks run with the breaker lock held and must not call back in.
	onTrip  func(state model.CircuitBreakerState)
	onReset func()

	now func() time.Time
}

// NewBreaker restores a breaker from persisted state.
func NewBreaker(state model.CircuitBreakerState) *Breaker {
	return &Breaker{
		state: state,
		now:   time.Now,
	}
}

// OnTrip registers a hook fired when the breaker trips.
func (b *Breaker) OnTrip(fn func(state model.CircuitBreakerState)) {
	b.mu.Lock()
	b.onTrip = fn
	b.mu.Unlock()
}

// OnReset registers a hook fired when the breaker auto-resets.
func (b *Breaker) OnReset(fn func()) {
	b.mu.Lock()
	b.onReset = fn
	b.mu.Unlock()
}

// Check evaluates the breaker against the current portfolio. Called before
// every buy attempt. currentValue is the portfolio value now, initialValue
// the all-time baseline used for the total-loss limit.
func (b *Breaker) Check(currentValue, initialValue model.Wei) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.Enabled {
		return Result{}
	}

	today := b.now().Format("2006-01-02")
	if b.state.Config.AutoResetAtMidnight && b.state.DailyStartDate != today {
		b.state.DailyStartValue = currentValue
		b.state.DailyStartDate = today
		log.Info().
			Str("date", today).
			Str("daily_start", currentValue.Eth().StringFixed(6)).
			Msg("🌅 Daily loss baseline snapshotted")
	}

	if b.state.Triggered {
		if !b.state.CooldownUntil.IsZero() && !b.now().Before(b.state.CooldownUntil) {
			b.resetLocked()
			log.Info().Msg("✅ Circuit breaker reset after cooldown")
			if b.onReset != nil {
				b.onReset()
			}
		} else {
			return Result{Triggered: true, Reason: b.state.Reason}
		}
	}

	daily := lossPercent(b.state.DailyStartValue, currentValue)
	total := lossPercent(initialValue, currentValue)
	res := Result{DailyLossPercent: daily, TotalLossPercent: total}

	switch {
	case daily > float64(b.state.Config.MaxDailyLossPercent):
		b.tripLocked("max daily loss exceeded", &res)
	case total > float64(b.state.Config.MaxTotalLossPercent):
		b.tripLocked("max total loss exceeded", &res)
	}

	return res
}

// lossPercent is the drawdown from start to current, in percent. Zero or
// negative when the portfolio is flat or up. A one-wei floor on the start
// value keeps the division defined.
func lossPercent(start, current model.Wei) float64 {
	startEth := start.Eth()
	floor := decimal.New(1, -18)
	if startEth.LessThan(floor) {
		startEth = floor
	}
	drop := start.Eth().Sub(current.Eth())
	return drop.Div(startEth).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func (b *Breaker) tripLocked(reason string, res *Result) {
	now := b.now()
	b.state.Triggered = true
	b.state.TriggeredAt = now
	b.state.Reason = reason
	b.state.CooldownUntil = now.Add(time.Duration(b.state.Config.CooldownMinutes) * time.Minute)
	res.Triggered = true
	res.Reason = reason

	log.Warn().
		Str("reason", reason).
		Float64("daily_loss_pct", res.DailyLossPercent).
		Float64("total_loss_pct", res.TotalLossPercent).
		Time("cooldown_until", b.state.CooldownUntil).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")

	if b.onTrip != nil {
		b.onTrip(b.state)
	}
}

func (b *Breaker) resetLocked() {
	b.state.Triggered = false
	b.state.TriggeredAt = time.Time{}
	b.state.Reason = ""
	b.state.CooldownUntil = time.Time{}
}

// IsTriggered reports whether buys are currently blocked.
func (b *Breaker) IsTriggered() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Enabled && b.state.Triggered
}

// AllowBuys is the gate bots consult before entering new positions. Sells
// are never blocked.
func (b *Breaker) AllowBuys() bool {
	return !b.IsTriggered()
}

// ForceReset clears a trip manually.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	log.Info().Msg("Circuit breaker manually reset")
}

// State returns a copy for persistence.
func (b *Breaker) State() model.CircuitBreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
