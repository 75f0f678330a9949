package archive

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gridbase/gridbase/internal/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE ARCHIVE - Relational mirror of the trade log
// ═══════════════════════════════════════════════════════════════════════════════
//
// The JSON store is the source of truth. The archive is a queryable copy for
// dashboards and ad-hoc SQL; losing it loses nothing the store cannot
// rebuild. SQLite by default, PostgreSQL when DATABASE_URL points at one.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Archive struct {
	db *gorm.DB
}

// Trade is one archived trade row. ETH amounts are stored as decimals, not
// wei, so SQL aggregates stay readable. The token amount stays in raw base
// units because token decimals vary per contract.
type Trade struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	BotID         string `gorm:"index"`
	BotName       string
	TokenSymbol   string `gorm:"index"`
	TokenAddress  string
	Action        string
	TokenAmount   string `gorm:"type:varchar(80)"`
	Price         float64
	EthValue      decimal.Decimal `gorm:"type:decimal(30,18)"`
	GasCost       decimal.Decimal `gorm:"type:decimal(30,18)"`
	Profit        decimal.Decimal `gorm:"type:decimal(30,18)"`
	ProfitPercent float64
	PositionID    int
	TxHash        string `gorm:"uniqueIndex"`
	TradedAt      time.Time
	CreatedAt     time.Time
}

// BreakerTrip records one circuit breaker activation.
type BreakerTrip struct {
	ID               uint `gorm:"primaryKey;autoIncrement"`
	Reason           string
	DailyLossPercent float64
	TotalLossPercent float64
	TrippedAt        time.Time
	CreatedAt        time.Time
}

// New opens the archive database and migrates the schema.
func New(dsn string) (*Archive, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Trade archive connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Trade archive initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Trade{}, &BreakerTrip{}); err != nil {
		return nil, err
	}

	return &Archive{db: db}, nil
}

// Record mirrors one trade. Duplicate tx hashes are ignored so replaying the
// store after a crash cannot double-count.
func (a *Archive) Record(t model.TradeRecord) error {
	row := Trade{
		BotID:         t.BotID,
		BotName:       t.BotName,
		TokenSymbol:   t.TokenSymbol,
		TokenAddress:  t.TokenAddress,
		Action:        string(t.Action),
		TokenAmount:   t.Amount.String(),
		Price:         t.Price,
		EthValue:      t.EthValue.Eth(),
		GasCost:       t.GasCost.Eth(),
		Profit:        t.Profit.Eth(),
		ProfitPercent: t.ProfitPercent,
		PositionID:    t.PositionID,
		TxHash:        t.TxHash,
		TradedAt:      t.Timestamp,
	}
	err := a.db.Create(&row).Error
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return nil
	}
	return err
}

// RecordTrip mirrors a circuit breaker activation.
func (a *Archive) RecordTrip(reason string, dailyLossPct, totalLossPct float64, at time.Time) error {
	return a.db.Create(&BreakerTrip{
		Reason:           reason,
		DailyLossPercent: dailyLossPct,
		TotalLossPercent: totalLossPct,
		TrippedAt:        at,
	}).Error
}

// RecentTrades returns the newest trades first.
func (a *Archive) RecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	err := a.db.Order("traded_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// TotalProfit sums realized profit across all bots.
func (a *Archive) TotalProfit() (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := a.db.Model(&Trade{}).Select("COALESCE(SUM(profit), 0) as total").Scan(&result).Error
	return result.Total, err
}
