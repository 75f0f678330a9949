package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbase/gridbase/internal/bot"
	"github.com/gridbase/gridbase/internal/chain"
	"github.com/gridbase/gridbase/internal/config"
	"github.com/gridbase/gridbase/internal/grid"
	"github.com/gridbase/gridbase/internal/ledger"
	"github.com/gridbase/gridbase/internal/model"
	"github.com/gridbase/gridbase/internal/store"
	"github.com/gridbase/gridbase/internal/vault"
)

// loadDocument reads the state file without taking ownership of it, for
// commands that may run next to a live daemon.
func loadDocument(path string) (store.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return store.Document{}, err
	}
	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return store.Document{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// daemonPid returns the pid of a live daemon, or 0.
func daemonPid(cfg *config.Config) int {
	pid, err := readPidFile(pidPath(cfg))
	if err != nil {
		return 0
	}
	if syscall.Kill(pid, 0) != nil {
		return 0
	}
	return pid
}

// ─── validate-setup ────────────────────────────────────────────────────────────

func cmdValidateSetup(cfg *config.Config) int {
	problems := cfg.Validate()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.Chain, cfg.ReceiptTimeout)
	if err != nil {
		problems = append(problems, fmt.Sprintf("RPC unreachable: %v", err))
	} else {
		log.Info().Str("chain", cfg.Chain).Int64("chain_id", client.Addresses().ChainID).Msg("✅ RPC reachable")
		client.Close()
	}

	if _, err := os.Stat(cfg.StatePath); err == nil {
		doc, err := loadDocument(cfg.StatePath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("state file: %v", err))
		} else {
			log.Info().Int("bots", len(doc.Bots)).Int("trades", len(doc.Trades)).Msg("✅ State file readable")
			if cfg.WalletPassword != "" && len(doc.WalletDictionary) > 0 {
				v := vault.New(doc.WalletDictionary, doc.PrimaryWalletID)
				if err := v.Unlock(cfg.WalletPassword); err != nil {
					problems = append(problems, fmt.Sprintf("vault: %v", err))
				} else {
					log.Info().Int("wallets", len(doc.WalletDictionary)).Msg("✅ Vault unlocks")
				}
			}
		}
	} else {
		log.Info().Str("path", cfg.StatePath).Msg("State file not created yet")
	}

	if len(problems) > 0 {
		for _, p := range problems {
			log.Error().Msg("❌ " + p)
		}
		return exitInvalid
	}
	log.Info().Msg("✅ Setup valid")
	return exitOK
}

// ─── status ────────────────────────────────────────────────────────────────────

func cmdStatus(cfg *config.Config) int {
	doc, err := loadDocument(cfg.StatePath)
	if os.IsNotExist(err) {
		fmt.Println("No state file yet. Create a bot with 'gridbase create-bot'.")
		return exitOK
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to read state file")
		return exitRuntime
	}

	if pid := daemonPid(cfg); pid != 0 {
		fmt.Printf("Daemon running (pid %d)\n", pid)
	} else {
		fmt.Println("Daemon not running")
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("GRID BOTS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Id", "Name", "Token", "Mode", "State", "Active", "Buys", "Sells", "Profit ETH", "Price"})

	var totalProfit model.Wei
	for _, b := range doc.Bots {
		totalProfit = totalProfit.Add(b.TotalProfitEth)
		t.AppendRow(table.Row{
			shortID(b.ID),
			b.Name,
			b.TokenSymbol,
			string(b.Config.Mode),
			botStateWord(&b),
			fmt.Sprintf("%d/%d", grid.CountActive(b.Positions), b.Config.NumPositions),
			b.TotalBuys,
			b.TotalSells,
			b.TotalProfitEth.Eth().StringFixed(6),
			fmt.Sprintf("%.8f", b.CurrentPrice),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", totalProfit.Eth().StringFixed(6), ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 9, Align: text.AlignRight},
		{Number: 10, Align: text.AlignRight},
	})
	t.Render()

	if len(doc.Trades) > 0 {
		printLeaderboard(ledger.New(doc.Trades))
	}

	cb := doc.CircuitBreaker
	switch {
	case cb.Triggered:
		fmt.Printf("Circuit breaker: TRIPPED (%s), cooldown until %s\n",
			cb.Reason, cb.CooldownUntil.Format(time.RFC3339))
	case cb.Enabled:
		fmt.Println("Circuit breaker: armed")
	default:
		fmt.Println("Circuit breaker: off")
	}
	return exitOK
}

func printLeaderboard(led *ledger.Ledger) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PERFORMANCE")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Rank", "Name", "Profit ETH", "Win Rate", "Trades", "Profit Factor", "Avg Hold"})
	for _, row := range led.Leaderboard() {
		agg := led.AggregateBot(row.BotID)
		t.AppendRow(table.Row{
			row.OverallRank,
			row.BotName,
			row.TotalProfit.StringFixed(6),
			fmt.Sprintf("%.1f%%", row.WinRate*100),
			row.Trades,
			fmt.Sprintf("%.2f", agg.ProfitFactor),
			agg.AvgHoldTime.Round(time.Minute),
		})
	}
	t.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func botStateWord(b *model.BotInstance) string {
	switch {
	case !b.Enabled:
		return "disabled"
	case b.IsRunning:
		return "running"
	default:
		return "stopped"
	}
}

// ─── create-bot ────────────────────────────────────────────────────────────────

func cmdCreateBot(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("create-bot", flag.ContinueOnError)
	name := fs.String("name", "", "bot name (required)")
	token := fs.String("token", "", "token contract address (required)")
	symbol := fs.String("symbol", "", "token symbol for display")
	positions := fs.Int("positions", 10, "number of grid buckets")
	floor := fs.Float64("floor", 0, "grid floor price in ETH (required)")
	ceiling := fs.Float64("ceiling", 0, "grid ceiling price in ETH (required)")
	takeProfit := fs.Float64("take-profit", 10, "take profit percent per bucket")
	stopLoss := fs.Float64("stop-loss", 0, "stop loss percent, 0 disables")
	minProfit := fs.Float64("min-profit", 1, "minimum profit percent to sell")
	maxActive := fs.Int("max-active", 0, "max concurrent positions, 0 means all")
	buyEth := fs.String("buy-eth", "", "fixed ETH per buy, empty sizes by balance")
	heartbeat := fs.Int64("heartbeat-ms", 5000, "tick interval in milliseconds")
	skip := fs.Int("skip", 0, "heartbeats to skip before first tick")
	slippage := fs.Int("slippage-bps", 100, "swap slippage tolerance in bps")
	minConfidence := fs.Float64("min-confidence", 0.5, "minimum oracle confidence")
	mode := fs.String("mode", "GRID", "trading mode: GRID or VOLUME")
	volumeBuys := fs.Int("volume-buys", 3, "buys per VOLUME cycle")
	volumeBuyEth := fs.String("volume-buy-eth", "", "ETH per VOLUME buy")
	useMainWallet := fs.Bool("use-main-wallet", false, "sign with the primary wallet")
	dryRun := fs.Bool("dry-run", false, "simulate trades for this bot")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	if *name == "" || *token == "" {
		log.Error().Msg("-name and -token are required")
		return exitInvalid
	}
	if pid := daemonPid(cfg); pid != 0 {
		log.Warn().Int("pid", pid).Msg("⚠️ Daemon is running, restart it to pick up the new bot")
	}

	gc := model.GridConfig{
		NumPositions:       *positions,
		FloorPrice:         *floor,
		CeilingPrice:       *ceiling,
		TakeProfitPercent:  *takeProfit,
		StopLossPercent:    *stopLoss,
		StopLossEnabled:    *stopLoss > 0,
		BuysEnabled:        true,
		SellsEnabled:       true,
		MinProfitPercent:   *minProfit,
		MaxActivePositions: *maxActive,
		HeartbeatMs:        *heartbeat,
		SkipHeartbeats:     *skip,
		SlippageBps:        *slippage,
		MinConfidence:      *minConfidence,
		Mode:               model.BotMode(*mode),
		VolumeBuysPerCycle: *volumeBuys,
	}
	if gc.MaxActivePositions <= 0 {
		gc.MaxActivePositions = gc.NumPositions
	}
	if *buyEth != "" {
		d, err := decimal.NewFromString(*buyEth)
		if err != nil {
			log.Error().Err(err).Msg("Invalid -buy-eth")
			return exitInvalid
		}
		gc.UseFixedBuyAmount = true
		gc.BuyAmount = model.EthFromDecimal(d)
	}
	if *volumeBuyEth != "" {
		d, err := decimal.NewFromString(*volumeBuyEth)
		if err != nil {
			log.Error().Err(err).Msg("Invalid -volume-buy-eth")
			return exitInvalid
		}
		gc.VolumeBuyAmount = model.EthFromDecimal(d)
	}

	cells, err := grid.Generate(gc)
	if err != nil {
		log.Error().Err(err).Msg("Invalid grid configuration")
		return exitInvalid
	}

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open state file")
		return exitRuntime
	}
	defer st.Close()
	doc := st.Snapshot()

	var walletAddress string
	if *useMainWallet {
		entry, ok := doc.WalletDictionary[doc.PrimaryWalletID]
		if !ok {
			log.Error().Msg("No primary wallet, create a bot without -use-main-wallet first")
			return exitInvalid
		}
		walletAddress = entry.Address
	} else {
		if cfg.WalletPassword == "" {
			log.Error().Msg("WALLET_PASSWORD is required to create a wallet")
			return exitInvalid
		}
		v := vault.New(doc.WalletDictionary, doc.PrimaryWalletID)
		if err := v.Unlock(cfg.WalletPassword); err != nil {
			log.Error().Err(err).Msg("Failed to unlock vault")
			return exitInvalid
		}
		id, err := v.CreateWallet(*name, "bot")
		if err != nil {
			log.Error().Err(err).Msg("Failed to create wallet")
			return exitRuntime
		}
		wallets, _ := v.Wallets()
		if err := st.PutWallet(id, wallets[id]); err != nil {
			log.Error().Err(err).Msg("Failed to persist wallet")
			return exitRuntime
		}
		walletAddress = wallets[id].Address
	}

	now := time.Now().UTC()
	instance := model.BotInstance{
		ID:            uuid.NewString(),
		Name:          *name,
		Chain:         cfg.Chain,
		TokenAddress:  *token,
		TokenSymbol:   *symbol,
		WalletAddress: walletAddress,
		UseMainWallet: *useMainWallet,
		DryRun:        *dryRun || cfg.DryRun,
		Config:        gc,
		Positions:     cells,
		Enabled:       true,
		IsRunning:     true,
		CreatedAt:     now,
		LastUpdated:   now,
	}
	if err := st.UpsertBot(instance); err != nil {
		log.Error().Err(err).Msg("Failed to persist bot")
		return exitRuntime
	}

	log.Info().
		Str("bot_id", instance.ID).
		Str("wallet", walletAddress).
		Int("positions", len(cells)).
		Msg("🆕 Bot created")
	fmt.Println(instance.ID)
	return exitOK
}

// ─── delete-bot ────────────────────────────────────────────────────────────────

func cmdDeleteBot(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("delete-bot", flag.ContinueOnError)
	id := fs.String("id", "", "bot id (required)")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}
	if *id == "" {
		log.Error().Msg("-id is required")
		return exitInvalid
	}

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open state file")
		return exitRuntime
	}
	defer st.Close()

	found := false
	for _, b := range st.Snapshot().Bots {
		if b.ID == *id {
			found = true
			break
		}
	}
	if !found {
		log.Error().Str("bot_id", *id).Msg("No such bot")
		return exitInvalid
	}
	if err := st.DeleteBot(*id); err != nil {
		log.Error().Err(err).Msg("Failed to delete bot")
		return exitRuntime
	}
	log.Info().Str("bot_id", *id).Msg("🗑️ Bot deleted")
	return exitOK
}

// ─── liquidate-all ─────────────────────────────────────────────────────────────

func cmdLiquidateAll(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("liquidate-all", flag.ContinueOnError)
	botID := fs.String("bot", "", "liquidate a single bot by id")
	yes := fs.Bool("yes", false, "confirm market-selling every holding")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}
	if !*yes {
		log.Error().Msg("liquidate-all sells every HOLDING position at market, pass -yes to confirm")
		return exitInvalid
	}
	if pid := daemonPid(cfg); pid != 0 {
		log.Error().Int("pid", pid).Msg("Stop the daemon before liquidating")
		return exitInvalid
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return exitRuntime
	}
	defer rt.close()

	var success, failed int
	bots := rt.store.Snapshot().Bots
	for i := range bots {
		instance := bots[i]
		if *botID != "" && instance.ID != *botID {
			continue
		}
		instance.IsRunning = true
		s, f := bot.New(&instance, rt.services).LiquidateAll(ctx)
		success += s
		failed += f

		// Liquidated bots stay stopped until an operator restarts them.
		instance.IsRunning = false
		if err := rt.store.UpsertBot(instance); err != nil {
			log.Error().Err(err).Str("bot", instance.Name).Msg("Failed to persist bot")
			return exitRuntime
		}
	}

	log.Info().Int("success", success).Int("failed", failed).Msg("🧹 Liquidation finished")
	if failed > 0 {
		return exitRuntime
	}
	return exitOK
}

// ─── export-csv ────────────────────────────────────────────────────────────────

func cmdExportCSV(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("export-csv", flag.ContinueOnError)
	botID := fs.String("bot", "", "export a single bot's trades")
	out := fs.String("out", "", "output file, defaults to stdout")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	doc, err := loadDocument(cfg.StatePath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read state file")
		return exitRuntime
	}
	led := ledger.New(doc.Trades)

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create output file")
			return exitRuntime
		}
		defer f.Close()
		w = f
	}

	if *botID != "" {
		err = led.ExportBotCSV(w, *botID)
	} else {
		err = led.ExportAllCSV(w)
	}
	if err != nil {
		log.Error().Err(err).Msg("CSV export failed")
		return exitRuntime
	}
	if *out != "" {
		log.Info().Str("path", *out).Msg("📄 Trades exported")
	}
	return exitOK
}

// ─── tail-logs ─────────────────────────────────────────────────────────────────

func cmdTailLogs(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("tail-logs", flag.ContinueOnError)
	lines := fs.Int("n", 100, "number of trailing lines")
	follow := fs.Bool("f", false, "keep printing as the daemon writes")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	data, err := os.ReadFile(cfg.LogPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read log file")
		return exitRuntime
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) > *lines {
		all = all[len(all)-*lines:]
	}
	for _, line := range all {
		fmt.Println(line)
	}

	if !*follow {
		return exitOK
	}
	f, err := os.Open(cfg.LogPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open log file")
		return exitRuntime
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		log.Error().Err(err).Msg("Failed to seek log file")
		return exitRuntime
	}
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err == io.EOF || n == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("Log read failed")
			return exitRuntime
		}
	}
}
