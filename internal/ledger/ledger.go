package ledger

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbase/gridbase/internal/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE LEDGER - Append-only accounting and P&L aggregates
// ═══════════════════════════════════════════════════════════════════════════════
//
// Records are never mutated or deleted. The position state machine guarantees
// at most one record per confirmed transaction; the ledger itself accepts
// whatever it is handed.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Ledger holds the trade history shared by all bots.
type Ledger struct {
	mu     sync.RWMutex
	trades []model.TradeRecord
}

// New builds a ledger seeded from persisted trades.
func New(seed []model.TradeRecord) *Ledger {
	trades := make([]model.TradeRecord, len(seed))
	copy(trades, seed)
	return &Ledger{trades: trades}
}

// Record appends a trade.
func (l *Ledger) Record(trade model.TradeRecord) {
	l.mu.Lock()
	l.trades = append(l.trades, trade)
	l.mu.Unlock()

	log.Info().
		Str("bot", trade.BotName).
		Str("action", string(trade.Action)).
		Str("token", trade.TokenSymbol).
		Str("eth_value", trade.EthValue.Eth().StringFixed(6)).
		Str("tx", trade.TxHash).
		Msg("📒 Trade recorded")
}

// All returns a copy of the full history in append order.
func (l *Ledger) All() []model.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// ByBot filters to one bot, optionally bounded by [since, until).
func (l *Ledger) ByBot(botID string, since, until time.Time) []model.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.TradeRecord
	for _, t := range l.trades {
		if t.BotID != botID {
			continue
		}
		if !since.IsZero() && t.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && !t.Timestamp.Before(until) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ByToken filters to one token address.
func (l *Ledger) ByToken(tokenAddress string) []model.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.TradeRecord
	for _, t := range l.trades {
		if t.TokenAddress == tokenAddress {
			out = append(out, t)
		}
	}
	return out
}

// Aggregate summarizes one bot's performance.
type Aggregate struct {
	TotalTrades   int             `json:"totalTrades"`
	Buys          int             `json:"buys"`
	Sells         int             `json:"sells"`
	WinningTrades int             `json:"winningTrades"`
	LosingTrades  int             `json:"losingTrades"`
	WinRate       float64         `json:"winRate"`
	GrossProfit   decimal.Decimal `json:"grossProfit"` // ETH
	GrossLoss     decimal.Decimal `json:"grossLoss"`   // ETH, positive
	ProfitFactor  float64         `json:"profitFactor"`
	Expectancy    float64         `json:"expectancy"`
	AvgHoldTime   time.Duration   `json:"avgHoldTime"`
}

// AggregateBot computes the aggregate stats for one bot over its whole
// history.
func (l *Ledger) AggregateBot(botID string) Aggregate {
	return aggregate(l.ByBot(botID, time.Time{}, time.Time{}))
}

func aggregate(trades []model.TradeRecord) Aggregate {
	agg := Aggregate{
		GrossProfit: decimal.Zero,
		GrossLoss:   decimal.Zero,
	}

	buyTimes := make(map[int]time.Time)
	var holdTotal time.Duration
	var holdCount int
	var winSum, lossSum decimal.Decimal

	for _, t := range trades {
		agg.TotalTrades++
		switch t.Action {
		case model.ActionBuy:
			agg.Buys++
			buyTimes[t.PositionID] = t.Timestamp
		case model.ActionSell:
			agg.Sells++
			profit := t.Profit.Eth()
			if profit.IsPositive() {
				agg.WinningTrades++
				agg.GrossProfit = agg.GrossProfit.Add(profit)
				winSum = winSum.Add(profit)
			} else {
				agg.LosingTrades++
				agg.GrossLoss = agg.GrossLoss.Add(profit.Abs())
				lossSum = lossSum.Add(profit.Abs())
			}
			if bought, ok := buyTimes[t.PositionID]; ok {
				holdTotal += t.Timestamp.Sub(bought)
				holdCount++
				delete(buyTimes, t.PositionID)
			}
		}
	}

	if agg.Sells > 0 {
		agg.WinRate = float64(agg.WinningTrades) / float64(agg.Sells)
	}

	divisor := decimal.NewFromInt(1)
	if agg.GrossLoss.GreaterThan(divisor) {
		divisor = agg.GrossLoss
	}
	agg.ProfitFactor = agg.GrossProfit.Div(divisor).InexactFloat64()

	var avgWin, avgLoss float64
	if agg.WinningTrades > 0 {
		avgWin = winSum.InexactFloat64() / float64(agg.WinningTrades)
	}
	if agg.LosingTrades > 0 {
		avgLoss = lossSum.InexactFloat64() / float64(agg.LosingTrades)
	}
	agg.Expectancy = agg.WinRate*avgWin - (1-agg.WinRate)*math.Abs(avgLoss)

	if holdCount > 0 {
		agg.AvgHoldTime = holdTotal / time.Duration(holdCount)
	}

	return agg
}

// BotPerformance is one leaderboard row.
type BotPerformance struct {
	BotID       string          `json:"botId"`
	BotName     string          `json:"botName"`
	TotalProfit decimal.Decimal `json:"totalProfit"` // ETH
	WinRate     float64         `json:"winRate"`
	Efficiency  float64         `json:"efficiency"` // ETH profit per sell
	Trades      int             `json:"trades"`

	ProfitRank     int `json:"profitRank"`
	WinRateRank    int `json:"winRateRank"`
	EfficiencyRank int `json:"efficiencyRank"`
	OverallRank    int `json:"overallRank"`
}

// Leaderboard ranks all bots by profit, win rate and efficiency. Overall
// rank is the rounded mean of the three.
func (l *Ledger) Leaderboard() []BotPerformance {
	l.mu.RLock()
	byBot := make(map[string][]model.TradeRecord)
	names := make(map[string]string)
	for _, t := range l.trades {
		byBot[t.BotID] = append(byBot[t.BotID], t)
		names[t.BotID] = t.BotName
	}
	l.mu.RUnlock()

	rows := make([]BotPerformance, 0, len(byBot))
	for botID, trades := range byBot {
		agg := aggregate(trades)
		profit := agg.GrossProfit.Sub(agg.GrossLoss)
		efficiency := 0.0
		if agg.Sells > 0 {
			efficiency = profit.InexactFloat64() / float64(agg.Sells)
		}
		rows = append(rows, BotPerformance{
			BotID:       botID,
			BotName:     names[botID],
			TotalProfit: profit,
			WinRate:     agg.WinRate,
			Efficiency:  efficiency,
			Trades:      agg.TotalTrades,
		})
	}

	rank(rows, func(a, b *BotPerformance) bool {
		return a.TotalProfit.GreaterThan(b.TotalProfit)
	}, func(r *BotPerformance, n int) { r.ProfitRank = n })

	rank(rows, func(a, b *BotPerformance) bool {
		return a.WinRate > b.WinRate
	}, func(r *BotPerformance, n int) { r.WinRateRank = n })

	rank(rows, func(a, b *BotPerformance) bool {
		return a.Efficiency > b.Efficiency
	}, func(r *BotPerformance, n int) { r.EfficiencyRank = n })

	for i := range rows {
		mean := float64(rows[i].ProfitRank+rows[i].WinRateRank+rows[i].EfficiencyRank) / 3
		rows[i].OverallRank = int(math.Round(mean))
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].OverallRank != rows[j].OverallRank {
			return rows[i].OverallRank < rows[j].OverallRank
		}
		return rows[i].BotID < rows[j].BotID
	})

	return rows
}

func rank(rows []BotPerformance, better func(a, b *BotPerformance) bool, set func(*BotPerformance, int)) {
	order := make([]*BotPerformance, len(rows))
	for i := range rows {
		order[i] = &rows[i]
	}
	sort.SliceStable(order, func(i, j int) bool { return better(order[i], order[j]) })
	for i, r := range order {
		set(r, i+1)
	}
}

// TrendPoint is one day of a bot's P&L history.
type TrendPoint struct {
	Date   string          `json:"date"` // YYYY-MM-DD
	Profit decimal.Decimal `json:"profit"`
	Trades int             `json:"trades"`
}

// Trend rolls up a bot's last N days, oldest first. Days with no trades are
// included with zero values so charts stay continuous.
func (l *Ledger) Trend(botID string, days int) []TrendPoint {
	if days < 1 {
		return nil
	}

	start := time.Now().UTC().AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)
	trades := l.ByBot(botID, start, time.Time{})

	byDay := make(map[string]*TrendPoint)
	for _, t := range trades {
		day := t.Timestamp.UTC().Format("2006-01-02")
		point, ok := byDay[day]
		if !ok {
			point = &TrendPoint{Date: day, Profit: decimal.Zero}
			byDay[day] = point
		}
		point.Trades++
		if t.Action == model.ActionSell {
			point.Profit = point.Profit.Add(t.Profit.Eth())
		}
	}

	out := make([]TrendPoint, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		if point, ok := byDay[day]; ok {
			out = append(out, *point)
		} else {
			out = append(out, TrendPoint{Date: day, Profit: decimal.Zero})
		}
	}
	return out
}
