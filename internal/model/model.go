package model

import (
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATA MODEL - Shared entities for the grid supervisor
// ═══════════════════════════════════════════════════════════════════════════════
//
// Monetary quantities are integer base units (Wei). Prices are float64 and
// only ever compared by bucket containment, never by equality.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PositionStatus is the lifecycle state of a grid position.
type PositionStatus string

const (
	StatusEmpty   PositionStatus = "EMPTY"
	StatusBuying  PositionStatus = "BUYING"
	StatusHolding PositionStatus = "HOLDING"
	StatusSelling PositionStatus = "SELLING"
	StatusSold    PositionStatus = "SOLD"
)

// BotMode selects the trading sub-mode.
type BotMode string

const (
	ModeGrid   BotMode = "GRID"
	ModeVolume BotMode = "VOLUME"
)

// Position is one cell of the price grid: a single buy/sell round-trip.
type Position struct {
	ID            int            `json:"id"`
	BuyMin        float64        `json:"buyMin"`
	BuyMax        float64        `json:"buyMax"`
	SellPrice     float64        `json:"sellPrice"`
	StopLossPrice float64        `json:"stopLossPrice"`
	Status        PositionStatus `json:"status"`

	BuyTxHash      string    `json:"buyTxHash,omitempty"`
	BuyTimestamp   time.Time `json:"buyTimestamp,omitempty"`
	TokensReceived Wei       `json:"tokensReceived"`
	EthCost        Wei       `json:"ethCost"`

	SellTxHash    string    `json:"sellTxHash,omitempty"`
	SellTimestamp time.Time `json:"sellTimestamp,omitempty"`
	EthReceived   Wei       `json:"ethReceived"`
	Profit        Wei       `json:"profit"`
	ProfitPercent float64   `json:"profitPercent"`
}

// GridConfig is the immutable per-bot-version trading configuration.
// A config change generates a new grid.
type GridConfig struct {
	NumPositions       int     `json:"numPositions"`
	FloorPrice         float64 `json:"floorPrice"`
	CeilingPrice       float64 `json:"ceilingPrice"`
	TakeProfitPercent  float64 `json:"takeProfitPercent"`
	StopLossPercent    float64 `json:"stopLossPercent"`
	StopLossEnabled    bool    `json:"stopLossEnabled"`
	BuysEnabled        bool    `json:"buysEnabled"`
	SellsEnabled       bool    `json:"sellsEnabled"`
	MoonBagEnabled     bool    `json:"moonBagEnabled"`
	MoonBagPercent     float64 `json:"moonBagPercent"`
	MinProfitPercent   float64 `json:"minProfitPercent"`
	MaxActivePositions int     `json:"maxActivePositions"`
	UseFixedBuyAmount  bool    `json:"useFixedBuyAmount"`
	BuyAmount          Wei     `json:"buyAmount"`
	HeartbeatMs        int64   `json:"heartbeatMs"`
	SkipHeartbeats     int     `json:"skipHeartbeats"`
	SlippageBps        int     `json:"slippageBps"`
	MinConfidence      float64 `json:"minConfidence"`

	Mode               BotMode `json:"mode"`
	VolumeBuysPerCycle int     `json:"volumeBuysPerCycle,omitempty"`
	VolumeBuyAmount    Wei     `json:"volumeBuyAmount,omitempty"`
}

// BotInstance is the persisted state of one trading bot. It is exclusively
// owned by the supervisor worker currently ticking it.
type BotInstance struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Chain         string `json:"chain"`
	TokenAddress  string `json:"tokenAddress"`
	TokenSymbol   string `json:"tokenSymbol"`
	WalletAddress string `json:"walletAddress"`
	UseMainWallet bool   `json:"useMainWallet"`
	DryRun        bool   `json:"dryRun"`

	Config    GridConfig `json:"config"`
	Positions []Position `json:"positions"`

	TotalBuys      int     `json:"totalBuys"`
	TotalSells     int     `json:"totalSells"`
	TotalProfitEth Wei     `json:"totalProfitEth"`
	CurrentPrice   float64 `json:"currentPrice"`

	LastTradeAt   time.Time `json:"lastTradeAt,omitempty"`
	IsRunning     bool      `json:"isRunning"`
	Enabled       bool      `json:"enabled"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdated   time.Time `json:"lastUpdated"`

	// VOLUME sub-mode accumulator
	VolumeBuysInCycle       int `json:"volumeBuysInCycle,omitempty"`
	VolumeAccumulatedTokens Wei `json:"volumeAccumulatedTokens,omitempty"`
	VolumeCycleCount        int `json:"volumeCycleCount,omitempty"`

	ConsecutiveErrorCount int `json:"consecutiveErrorCount"`
}

// TradeAction distinguishes buys from sells in the trade log.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// TradeRecord is one confirmed on-chain trade. Append-only, written exactly
// once per confirmed transaction.
type TradeRecord struct {
	BotID         string      `json:"botId"`
	BotName       string      `json:"botName"`
	TokenSymbol   string      `json:"tokenSymbol"`
	TokenAddress  string      `json:"tokenAddress"`
	Action        TradeAction `json:"action"`
	Amount        Wei         `json:"amount"`
	Price         float64     `json:"price"`
	EthValue      Wei         `json:"ethValue"`
	GasCost       Wei         `json:"gasCost"`
	Profit        Wei         `json:"profit"`
	ProfitPercent float64     `json:"profitPercent"`
	PositionID    int         `json:"positionId"`
	TxHash        string      `json:"txHash"`
	Timestamp     time.Time   `json:"timestamp"`
}

// BreakerConfig are the portfolio-wide loss limits.
type BreakerConfig struct {
	MaxDailyLossPercent int  `json:"maxDailyLossPercent"`
	MaxTotalLossPercent int  `json:"maxTotalLossPercent"`
	CooldownMinutes     int  `json:"cooldownMinutes"`
	AutoResetAtMidnight bool `json:"autoResetAtMidnight"`
}

// CircuitBreakerState is the singleton breaker state, persisted alongside
// the bots it guards.
type CircuitBreakerState struct {
	Enabled         bool          `json:"enabled"`
	Triggered       bool          `json:"triggered"`
	TriggeredAt     time.Time     `json:"triggeredAt,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	DailyStartValue Wei           `json:"dailyStartValue"`
	DailyStartDate  string        `json:"dailyStartDate"`
	CooldownUntil   time.Time     `json:"cooldownUntil,omitempty"`
	Config          BreakerConfig `json:"config"`
}

// PriceSource identifies where a price observation came from.
type PriceSource string

const (
	SourceChainlink PriceSource = "chainlink"
	SourceUniswapV3 PriceSource = "uniswap-v3"
	SourceCombined  PriceSource = "combined"
	SourceFallback  PriceSource = "fallback"
)

// PriceData is an ephemeral price observation, recomputed per tick.
type PriceData struct {
	Price        float64     `json:"price"`
	Source       PriceSource `json:"source"`
	Confidence   float64     `json:"confidence"`
	Timestamp    time.Time   `json:"timestamp"`
	TokenAddress string      `json:"tokenAddress"`
}

// WalletEntry is one encrypted key in the wallet dictionary. The private key
// blob is opaque to everything except the vault.
type WalletEntry struct {
	Address             string    `json:"address"`
	EncryptedPrivateKey string    `json:"encryptedPrivateKey"`
	CreatedAt           time.Time `json:"createdAt"`
	Name                string    `json:"name"`
	Type                string    `json:"type"`
}

// ActiveStatuses are position states that count against maxActivePositions.
func (p *Position) IsActive() bool {
	switch p.Status {
	case StatusBuying, StatusHolding, StatusSelling:
		return true
	}
	return false
}
