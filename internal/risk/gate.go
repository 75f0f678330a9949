package risk

import (
	"github.com/gridbase/gridbase/internal/model"
)

// PortfolioFunc reports the live portfolio value and the all-time baseline
// it is measured against.
type PortfolioFunc func() (current, initial model.Wei)

// Gate runs a full breaker evaluation on every buy attempt, so a trip or a
// cooldown expiry takes effect on the next tick instead of waiting for the
// next background sweep.
type Gate struct {
	breaker   *Breaker
	portfolio PortfolioFunc
}

// NewGate wires a breaker to a portfolio valuation.
func NewGate(breaker *Breaker, portfolio PortfolioFunc) *Gate {
	return &Gate{breaker: breaker, portfolio: portfolio}
}

// AllowBuys reports whether new positions may be entered. Sells are never
// blocked.
func (g *Gate) AllowBuys() bool {
	current, initial := g.portfolio()
	return !g.breaker.Check(current, initial).Triggered
}
