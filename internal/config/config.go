package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all daemon-level configuration. Per-bot trading parameters
// live in model.GridConfig and are persisted with each bot.
type Config struct {
	// Chain
	Chain      string
	RPCURL     string
	GasReserve string // wei kept back for gas, decimal string

	// Vault
	WalletPassword string

	// 0x aggregator
	ZeroExAPIKey  string
	ZeroExBaseURL string

	// Oracle
	PreferredSource string // "chainlink" or "uniswap-v3"
	AllowFallback   bool
	TwapWindowSec   int
	StaleThreshold  time.Duration
	ChainlinkFeeds  string // extra "0xtoken:0xfeed" pairs, comma separated

	// Timeouts
	PriceTimeout   time.Duration
	QuoteTimeout   time.Duration
	ReceiptTimeout time.Duration

	// Storage
	DataDir     string
	StatePath   string
	DatabaseURL string

	// Observability
	LogLevel    string
	LogPath     string
	MetricsAddr string

	// Notifications
	TelegramToken  string
	TelegramChatID int64

	// Mode
	DryRun bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Chain:      getEnv("CHAIN", "base"),
		RPCURL:     getEnv("BASE_RPC_URL", "https://mainnet.base.org"),
		GasReserve: getEnv("GAS_RESERVE_WEI", "2000000000000000"), // 0.002 ETH

		WalletPassword: os.Getenv("WALLET_PASSWORD"),

		ZeroExAPIKey:  os.Getenv("ZEROX_API_KEY"),
		ZeroExBaseURL: getEnv("ZEROX_BASE_URL", "https://api.0x.org"),

		PreferredSource: getEnv("PRICE_SOURCE", "chainlink"),
		AllowFallback:   getEnvBool("PRICE_FALLBACK", true),
		TwapWindowSec:   getEnvInt("TWAP_WINDOW_SEC", 1800),
		StaleThreshold:  getEnvDuration("CHAINLINK_STALE_THRESHOLD", time.Hour),
		ChainlinkFeeds:  os.Getenv("CHAINLINK_FEEDS"),

		PriceTimeout:   getEnvDuration("PRICE_TIMEOUT", 10*time.Second),
		QuoteTimeout:   getEnvDuration("QUOTE_TIMEOUT", 15*time.Second),
		ReceiptTimeout: getEnvDuration("RECEIPT_TIMEOUT", 120*time.Second),

		DataDir:     getEnv("DATA_DIR", "data"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DryRun: getEnvBool("DRY_RUN", false),
	}

	cfg.StatePath = getEnv("STATE_PATH", cfg.DataDir+"/state.json")
	cfg.LogPath = getEnv("LOG_PATH", cfg.DataDir+"/gridbase.log")

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.PreferredSource != "chainlink" && cfg.PreferredSource != "uniswap-v3" {
		return nil, fmt.Errorf("invalid PRICE_SOURCE %q", cfg.PreferredSource)
	}

	return cfg, nil
}

// Validate checks the pieces needed for live trading. Dry-run setups can
// skip the aggregator key and vault password.
func (c *Config) Validate() []string {
	var problems []string
	if c.RPCURL == "" {
		problems = append(problems, "BASE_RPC_URL is not set")
	}
	if !c.DryRun {
		if c.ZeroExAPIKey == "" {
			problems = append(problems, "ZEROX_API_KEY is required for live trading")
		}
		if c.WalletPassword == "" {
			problems = append(problems, "WALLET_PASSWORD is required to unlock signing keys")
		}
	}
	return problems
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
