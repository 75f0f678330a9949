// Gridbase - Multi-tenant grid trading supervisor for EVM chains
//
// One process supervises many grid bots. Each bot owns a price grid over
// [floor, ceiling] for one token, buys buckets as price passes through them
// and sells at per-bucket take-profit targets. Prices come from Chainlink
// and Uniswap V3 TWAP with cross-validation, swaps route through the 0x
// aggregator, and a portfolio-wide circuit breaker blocks new buys when
// loss limits are breached.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridbase/gridbase/internal/config"
)

const version = "1.0.0"

// Exit codes for the operator surface.
const (
	exitOK      = 0
	exitInvalid = 1
	exitRuntime = 2
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cmd := "help"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(exitInvalid)
	}
	setLogLevel(cfg.LogLevel)

	os.Exit(dispatch(cmd, args, cfg))
}

func dispatch(cmd string, args []string, cfg *config.Config) int {
	switch cmd {
	case "start":
		return cmdStart(cfg)
	case "stop":
		return cmdStop(cfg)
	case "status":
		return cmdStatus(cfg)
	case "validate-setup":
		return cmdValidateSetup(cfg)
	case "create-bot":
		return cmdCreateBot(cfg, args)
	case "delete-bot":
		return cmdDeleteBot(cfg, args)
	case "liquidate-all":
		return cmdLiquidateAll(cfg, args)
	case "export-csv":
		return cmdExportCSV(cfg, args)
	case "tail-logs":
		return cmdTailLogs(cfg, args)
	case "help", "-h", "--help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		return exitInvalid
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `gridbase %s - grid trading supervisor

Usage: gridbase <command> [flags]

Commands:
  validate-setup   check configuration, RPC connectivity and state file
  start            run the supervisor daemon
  stop             signal a running daemon to shut down
  status           show bots, positions and circuit breaker state
  create-bot       add a new grid bot to the state file
  delete-bot       remove a bot by id
  liquidate-all    sell every HOLDING position at market
  export-csv       write the trade log as CSV
  tail-logs        print the daemon log file

Run 'gridbase <command> -h' for command flags.
`, version)
}
