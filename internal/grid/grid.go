package grid

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/gridbase/gridbase/internal/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GRID CALCULATOR - Pure price-grid math
// ═══════════════════════════════════════════════════════════════════════════════
//
// Divides [floor, ceiling] into N contiguous buy buckets, each with its own
// sell target. No state, no I/O; everything here is deterministic.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrInvalidGrid is returned when a grid configuration cannot produce a
// well-formed partition.
type ErrInvalidGrid struct {
	Reason string
}

func (e *ErrInvalidGrid) Error() string {
	return fmt.Sprintf("invalid grid: %s", e.Reason)
}

// Generate builds the position array for a config. Buckets are contiguous:
// positions[i].BuyMax == positions[i+1].BuyMin, positions[0].BuyMin ==
// floorPrice and positions[N-1].BuyMax == ceilingPrice.
func Generate(cfg model.GridConfig) ([]model.Position, error) {
	switch {
	case cfg.NumPositions < 1:
		return nil, &ErrInvalidGrid{Reason: "numPositions must be >= 1"}
	case cfg.FloorPrice <= 0:
		return nil, &ErrInvalidGrid{Reason: "floorPrice must be > 0"}
	case cfg.CeilingPrice <= cfg.FloorPrice:
		return nil, &ErrInvalidGrid{Reason: "ceilingPrice must be > floorPrice"}
	case cfg.TakeProfitPercent <= 0:
		return nil, &ErrInvalidGrid{Reason: "takeProfitPercent must be > 0"}
	}

	n := cfg.NumPositions
	step := (cfg.CeilingPrice - cfg.FloorPrice) / float64(n)

	positions := make([]model.Position, n)
	for i := 0; i < n; i++ {
		buyMin := cfg.FloorPrice + float64(i)*step
		buyMax := cfg.FloorPrice + float64(i+1)*step
		if i == n-1 {
			// Pin the last bucket to the exact ceiling so float error
			// never leaves a gap at the top.
			buyMax = cfg.CeilingPrice
		}

		stopLoss := 0.0
		if cfg.StopLossEnabled {
			stopLoss = buyMin * (1 - cfg.StopLossPercent/100)
		}

		positions[i] = model.Position{
			ID:            i,
			BuyMin:        buyMin,
			BuyMax:        buyMax,
			SellPrice:     buyMax * (1 + cfg.TakeProfitPercent/100),
			StopLossPrice: stopLoss,
			Status:        model.StatusEmpty,
		}
	}

	return positions, nil
}

// FindBuyPosition returns the EMPTY position whose [buyMin, buyMax] bucket
// contains price, widened by tolerance (a fraction of bucket width). Lowest
// index wins ties. Returns nil when no bucket matches.
func FindBuyPosition(positions []model.Position, price, tolerance float64) *model.Position {
	for i := range positions {
		p := &positions[i]
		if p.Status != model.StatusEmpty {
			continue
		}
		widen := (p.BuyMax - p.BuyMin) * tolerance
		if price >= p.BuyMin-widen && price <= p.BuyMax+widen {
			return p
		}
	}
	return nil
}

// FindSellPositions returns all HOLDING positions whose sell target has been
// reached, or whose stop-loss is undercut, ordered by ascending sellPrice so
// liquidations are deterministic.
func FindSellPositions(positions []model.Position, price float64) []*model.Position {
	var due []*model.Position
	for i := range positions {
		p := &positions[i]
		if p.Status != model.StatusHolding {
			continue
		}
		if price >= p.SellPrice || (p.StopLossPrice > 0 && price <= p.StopLossPrice) {
			due = append(due, p)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].SellPrice < due[j].SellPrice
	})
	return due
}

// CountActive counts positions in BUYING, HOLDING or SELLING.
func CountActive(positions []model.Position) int {
	count := 0
	for i := range positions {
		if positions[i].IsActive() {
			count++
		}
	}
	return count
}

// Stats summarizes grid occupancy.
type Stats struct {
	Empty     int     `json:"empty"`
	Holding   int     `json:"holding"`
	Sold      int     `json:"sold"`
	Buying    int     `json:"buying"`
	Selling   int     `json:"selling"`
	Total     int     `json:"total"`
	Occupancy float64 `json:"occupancy"`
}

// CalculateStats tallies positions by status. Occupancy is the active
// fraction of the grid.
func CalculateStats(positions []model.Position) Stats {
	s := Stats{Total: len(positions)}
	for i := range positions {
		switch positions[i].Status {
		case model.StatusEmpty:
			s.Empty++
		case model.StatusHolding:
			s.Holding++
		case model.StatusSold:
			s.Sold++
		case model.StatusBuying:
			s.Buying++
		case model.StatusSelling:
			s.Selling++
		}
	}
	if s.Total > 0 {
		s.Occupancy = float64(s.Buying+s.Holding+s.Selling) / float64(s.Total)
	}
	return s
}

// PositionSize divides totalWei evenly across numPositions using integer
// division. The remainder is retained on the first bucket, so callers asking
// for bucket 0 get size+remainder.
func PositionSize(totalWei model.Wei, numPositions int) model.Wei {
	if numPositions < 1 {
		return model.NewWei(nil)
	}
	q := new(big.Int).Quo(totalWei.BigInt(), big.NewInt(int64(numPositions)))
	return model.NewWei(q)
}

// FirstBucketSize is PositionSize plus the division remainder.
func FirstBucketSize(totalWei model.Wei, numPositions int) model.Wei {
	if numPositions < 1 {
		return model.NewWei(nil)
	}
	n := big.NewInt(int64(numPositions))
	q, r := new(big.Int).QuoRem(totalWei.BigInt(), n, new(big.Int))
	return model.NewWei(new(big.Int).Add(q, r))
}
