package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gridbase/gridbase/internal/model"
)

func TestGateChecksPortfolioOnEveryCall(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	b := newTestBreaker(model.BreakerConfig{
		MaxDailyLossPercent: 5,
		MaxTotalLossPercent: 15,
		CooldownMinutes:     30,
	}, eth("1"), now)

	current := eth("1")
	g := NewGate(b, func() (model.Wei, model.Wei) { return current, eth("1") })

	assert.True(t, g.AllowBuys())

	// The portfolio drops 6% between calls; the very next buy attempt must
	// see the trip without waiting for a background sweep.
	current = eth("0.94")
	assert.False(t, g.AllowBuys())
	assert.True(t, b.IsTriggered())

	// While the drawdown persists the gate stays shut.
	assert.False(t, g.AllowBuys())

	// Cooldown expiry is likewise observed on the next call, not on a timer.
	b.now = func() time.Time { return now.Add(31 * time.Minute) }
	current = eth("0.99")
	assert.True(t, g.AllowBuys())
	assert.False(t, b.IsTriggered())
}

func TestGateStaysOpenWhenBreakerDisabled(t *testing.T) {
	b := NewBreaker(model.CircuitBreakerState{Enabled: false})
	g := NewGate(b, func() (model.Wei, model.Wei) { return eth("0.1"), eth("1") })

	assert.True(t, g.AllowBuys())
}
