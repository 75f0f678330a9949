package bot

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/gridbase/gridbase/internal/chain"
	"github.com/gridbase/gridbase/internal/dex"
	"github.com/gridbase/gridbase/internal/grid"
	"github.com/gridbase/gridbase/internal/metrics"
	"github.com/gridbase/gridbase/internal/model"
	"github.com/gridbase/gridbase/internal/notify"
	"github.com/gridbase/gridbase/internal/vault"
)

// ─── Sell phase ────────────────────────────────────────────────────────────────

// sellPhase runs before buys so completed positions free their buckets in
// the same tick.
func (t *TradingBot) sellPhase(ctx context.Context, price *model.PriceData) {
	b := t.bot
	for _, pos := range grid.FindSellPositions(b.Positions, price.Price) {
		if !b.Config.SellsEnabled {
			break
		}
		// A stop-loss exit realizes a loss on purpose, so it bypasses the
		// minimum profit gate that applies to take-profit sells.
		stopHit := pos.StopLossPrice > 0 && price.Price <= pos.StopLossPrice
		if stopHit {
			log.Warn().
				Str("bot", b.Name).
				Int("position", pos.ID).
				Float64("price", price.Price).
				Float64("stop_loss", pos.StopLossPrice).
				Msg("📉 Stop-loss hit, exiting position")
		}
		t.sellPosition(ctx, pos, price, stopHit)
	}
}

// sellPosition quotes, checks profitability and executes one sell.
// ignoreMinProfit is set during liquidation and stop-loss exits. Reports
// whether the position ended SOLD.
func (t *TradingBot) sellPosition(ctx context.Context, pos *model.Position, price *model.PriceData, ignoreMinProfit bool) bool {
	b := t.bot

	account, err := t.svc.Vault.AccountFor(b)
	if err != nil {
		t.fatalVault(err)
		return false
	}

	sellAmount := sellableTokens(pos.TokensReceived, b.Config)
	if sellAmount.Sign() <= 0 {
		return false
	}

	quote, err := t.svc.Dex.GetQuote(ctx, dex.QuoteRequest{
		BuyToken:    dex.NativeToken,
		SellToken:   b.TokenAddress,
		SellAmount:  sellAmount,
		Taker:       account.Address.Hex(),
		SlippageBps: b.Config.SlippageBps,
	})
	if err != nil || quote == nil {
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).
			Str("bot", b.Name).
			Int("position", pos.ID).
			Msg("💱 Sell quote failed")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "quote").Inc()
		return false
	}

	if !ignoreMinProfit && !isProfitable(quote.BuyAmount, pos.EthCost, b.Config.MinProfitPercent) {
		log.Debug().
			Str("bot", b.Name).
			Int("position", pos.ID).
			Str("quote_out", quote.BuyAmount.String()).
			Str("cost_basis", pos.EthCost.String()).
			Msg("Sell skipped, below minimum profit")
		return false
	}

	log.Info().
		Str("bot", b.Name).
		Int("position", pos.ID).
		Float64("price", price.Price).
		Str("tokens", sellAmount.String()).
		Str("quote_out", quote.BuyAmount.String()).
		Bool("dry_run", b.DryRun).
		Msg("📤 Selling position")

	if b.DryRun {
		log.Info().
			Str("bot", b.Name).
			Int("position", pos.ID).
			Str("tx", "dry-run").
			Msg("💰 Position sold")
		return false
	}

	pos.Status = model.StatusSelling
	t.persist()
	if !b.IsRunning {
		pos.Status = model.StatusHolding
		return false
	}

	receipt, err := t.submitSell(ctx, account, pos, quote, sellAmount)
	if err != nil || !receipt.Success {
		pos.Status = model.StatusHolding
		pos.SellTxHash = ""
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).
			Str("bot", b.Name).
			Int("position", pos.ID).
			Msg("❌ Sell failed, position back to HOLDING")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "revert").Inc()
		t.publish(notify.EventError, "SELL FAILED",
			fmt.Sprintf("Position %d reverted to HOLDING", pos.ID))
		t.persist()
		return false
	}

	t.settleSell(pos, price, quote, receipt, sellAmount)
	return true
}

// submitSell pushes the approval then the swap. The receipt wait runs on a
// background context so shutdown cannot orphan a submitted transaction.
func (t *TradingBot) submitSell(ctx context.Context, account *vault.Account, pos *model.Position, quote *dex.Quote, sellAmount *big.Int) (*chain.Receipt, error) {
	token := common.HexToAddress(t.bot.TokenAddress)

	approveTx, err := t.svc.Chain.SignAndSend(ctx, account.Key, token, nil,
		chain.ApproveCallData(quote.AllowanceTarget, sellAmount), 0)
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	approveRcpt, err := t.svc.Chain.WaitReceipt(context.Background(), approveTx)
	if err != nil {
		return nil, fmt.Errorf("approve receipt: %w", err)
	}
	if !approveRcpt.Success {
		return approveRcpt, nil
	}

	swapTx, err := t.svc.Chain.SignAndSend(ctx, account.Key, quote.To, quote.Value, quote.Data, quote.Gas)
	if err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}
	pos.SellTxHash = swapTx.Hex()
	t.persist()

	return t.svc.Chain.WaitReceipt(context.Background(), swapTx)
}

// settleSell fills accounting from the confirmed receipt and closes the
// position.
func (t *TradingBot) settleSell(pos *model.Position, price *model.PriceData, quote *dex.Quote, receipt *chain.Receipt, sellAmount *big.Int) {
	b := t.bot

	ethReceived := model.NewWei(quote.BuyAmount)
	gasCost := model.NewWei(receipt.GasCost())
	netEth := ethReceived.Sub(gasCost)
	profit := netEth.Sub(pos.EthCost)

	pos.Status = model.StatusSold
	pos.SellTimestamp = time.Now()
	pos.EthReceived = ethReceived
	pos.Profit = profit
	pos.ProfitPercent = percentOf(profit, pos.EthCost)

	b.TotalSells++
	b.TotalProfitEth = b.TotalProfitEth.Add(profit)
	b.LastTradeAt = time.Now()

	trade := model.TradeRecord{
		BotID:         b.ID,
		BotName:       b.Name,
		TokenSymbol:   b.TokenSymbol,
		TokenAddress:  b.TokenAddress,
		Action:        model.ActionSell,
		Amount:        model.NewWei(sellAmount),
		Price:         price.Price,
		EthValue:      ethReceived,
		GasCost:       gasCost,
		Profit:        profit,
		ProfitPercent: pos.ProfitPercent,
		PositionID:    pos.ID,
		TxHash:        pos.SellTxHash,
		Timestamp:     pos.SellTimestamp,
	}
	t.recordTrade(trade)

	metrics.TradesTotal.WithLabelValues(b.Name, string(model.ActionSell)).Inc()
	metrics.ProfitEth.WithLabelValues(b.Name).Set(b.TotalProfitEth.Eth().InexactFloat64())

	log.Info().
		Str("bot", b.Name).
		Int("position", pos.ID).
		Str("profit_eth", profit.Eth().StringFixed(6)).
		Float64("profit_pct", pos.ProfitPercent).
		Str("tx", pos.SellTxHash).
		Msg("💰 Position sold")

	t.publish(notify.EventProfit, "POSITION SOLD",
		fmt.Sprintf("Position %d closed\nProfit: %s ETH (%.2f%%)",
			pos.ID, profit.Eth().StringFixed(6), pos.ProfitPercent))
	t.persist()
}

// ─── Buy phase ─────────────────────────────────────────────────────────────────

func (t *TradingBot) buyPhase(ctx context.Context, price *model.PriceData) {
	b := t.bot
	if !b.Config.BuysEnabled {
		return
	}
	if t.svc.Breaker != nil && !t.svc.Breaker.AllowBuys() {
		log.Debug().Str("bot", b.Name).Msg("Buy skipped, circuit breaker triggered")
		return
	}
	if grid.CountActive(b.Positions) >= b.Config.MaxActivePositions {
		return
	}

	pos := grid.FindBuyPosition(b.Positions, price.Price, 0)
	if pos == nil {
		return
	}

	account, err := t.svc.Vault.AccountFor(b)
	if err != nil {
		t.fatalVault(err)
		return
	}

	buyAmount, ok := t.buyAmountWei(ctx, account.Address)
	if !ok {
		return
	}

	quote, err := t.svc.Dex.GetQuote(ctx, dex.QuoteRequest{
		BuyToken:    b.TokenAddress,
		SellToken:   dex.NativeToken,
		SellAmount:  buyAmount,
		Taker:       account.Address.Hex(),
		SlippageBps: b.Config.SlippageBps,
	})
	if err != nil || quote == nil {
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).
			Str("bot", b.Name).
			Int("position", pos.ID).
			Msg("💱 Buy quote failed")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "quote").Inc()
		return
	}

	log.Info().
		Str("bot", b.Name).
		Int("position", pos.ID).
		Float64("price", price.Price).
		Str("eth_in", buyAmount.String()).
		Str("tokens_out", quote.BuyAmount.String()).
		Bool("dry_run", b.DryRun).
		Msg("📥 Buying position")

	if b.DryRun {
		log.Info().
			Str("bot", b.Name).
			Int("position", pos.ID).
			Str("tx", "dry-run").
			Msg("✅ Position bought")
		return
	}

	pos.Status = model.StatusBuying
	t.persist()
	if !b.IsRunning {
		pos.Status = model.StatusEmpty
		return
	}

	receipt, err := t.submitBuy(ctx, account, pos, quote)
	if err != nil || !receipt.Success {
		pos.Status = model.StatusEmpty
		pos.BuyTxHash = ""
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).
			Str("bot", b.Name).
			Int("position", pos.ID).
			Msg("❌ Buy failed, position back to EMPTY")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "revert").Inc()
		t.publish(notify.EventError, "BUY FAILED",
			fmt.Sprintf("Position %d reverted to EMPTY", pos.ID))
		t.persist()
		return
	}

	t.settleBuy(pos, price, quote, receipt)
}

// buyAmountWei sizes the next buy and verifies the wallet can cover it plus
// the gas reserve.
func (t *TradingBot) buyAmountWei(ctx context.Context, owner common.Address) (*big.Int, bool) {
	b := t.bot

	available, err := t.svc.Chain.Balance(ctx, owner)
	if err != nil {
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).Str("bot", b.Name).Msg("Balance check failed")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "balance").Inc()
		return nil, false
	}

	var amount *big.Int
	if b.Config.UseFixedBuyAmount {
		amount = b.Config.BuyAmount.BigInt()
	} else {
		amount = grid.PositionSize(model.NewWei(available), b.Config.NumPositions).BigInt()
	}
	if amount.Sign() <= 0 {
		return nil, false
	}

	required := new(big.Int).Add(amount, t.svc.GasReserve.BigInt())
	if available.Cmp(required) <= 0 {
		log.Debug().
			Str("bot", b.Name).
			Str("available", available.String()).
			Str("required", required.String()).
			Msg("Buy skipped, insufficient balance")
		return nil, false
	}
	return amount, true
}

func (t *TradingBot) submitBuy(ctx context.Context, account *vault.Account, pos *model.Position, quote *dex.Quote) (*chain.Receipt, error) {
	tx, err := t.svc.Chain.SignAndSend(ctx, account.Key, quote.To, quote.Value, quote.Data, quote.Gas)
	if err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}
	pos.BuyTxHash = tx.Hex()
	t.persist()

	return t.svc.Chain.WaitReceipt(context.Background(), tx)
}

func (t *TradingBot) settleBuy(pos *model.Position, price *model.PriceData, quote *dex.Quote, receipt *chain.Receipt) {
	b := t.bot

	gasCost := model.NewWei(receipt.GasCost())
	ethCost := model.NewWei(quote.SellAmount).Add(gasCost)

	pos.Status = model.StatusHolding
	pos.BuyTimestamp = time.Now()
	pos.TokensReceived = model.NewWei(quote.BuyAmount)
	pos.EthCost = ethCost

	b.TotalBuys++
	b.LastTradeAt = time.Now()

	trade := model.TradeRecord{
		BotID:        b.ID,
		BotName:      b.Name,
		TokenSymbol:  b.TokenSymbol,
		TokenAddress: b.TokenAddress,
		Action:       model.ActionBuy,
		Amount:       pos.TokensReceived,
		Price:        price.Price,
		EthValue:     ethCost,
		GasCost:      gasCost,
		PositionID:   pos.ID,
		TxHash:       pos.BuyTxHash,
		Timestamp:    pos.BuyTimestamp,
	}
	t.recordTrade(trade)

	metrics.TradesTotal.WithLabelValues(b.Name, string(model.ActionBuy)).Inc()

	log.Info().
		Str("bot", b.Name).
		Int("position", pos.ID).
		Str("tokens", pos.TokensReceived.String()).
		Str("eth_cost", ethCost.Eth().StringFixed(6)).
		Str("tx", pos.BuyTxHash).
		Msg("✅ Position bought")

	t.publish(notify.EventTrade, "POSITION BOUGHT",
		fmt.Sprintf("Position %d filled for %s ETH", pos.ID, ethCost.Eth().StringFixed(6)))
	t.persist()
}

// ─── Liquidation ───────────────────────────────────────────────────────────────

// LiquidateAll sells every HOLDING position at market, ignoring the minimum
// profit gate.
func (t *TradingBot) LiquidateAll(ctx context.Context) (success, failed int) {
	b := t.bot

	price, err := t.svc.Oracle.ValidatePrice(ctx, common.HexToAddress(b.TokenAddress), 0)
	if err != nil {
		log.Error().Err(err).Str("bot", b.Name).Msg("Liquidation aborted, no price")
		return 0, len(holdingPositions(b.Positions))
	}

	for _, pos := range holdingPositions(b.Positions) {
		if t.sellPosition(ctx, pos, price, true) {
			success++
		} else {
			failed++
		}
	}

	log.Info().
		Str("bot", b.Name).
		Int("success", success).
		Int("failed", failed).
		Msg("🧹 Liquidation complete")
	return success, failed
}

func holdingPositions(positions []model.Position) []*model.Position {
	var out []*model.Position
	for i := range positions {
		if positions[i].Status == model.StatusHolding {
			out = append(out, &positions[i])
		}
	}
	return out
}

// ─── Helpers ───────────────────────────────────────────────────────────────────

func (t *TradingBot) recordTrade(trade model.TradeRecord) {
	if err := t.svc.Store.AppendTrade(trade); err != nil {
		t.bot.IsRunning = false
		metrics.ErrorsTotal.WithLabelValues(t.bot.Name, "persistence").Inc()
		log.Error().Err(err).Str("bot", t.bot.Name).Msg("🛑 Trade log write failed, bot halted")
		t.publish(notify.EventError, "PERSISTENCE FAILURE", err.Error())
		return
	}
	t.mirror(trade)
}

// fatalVault halts the affected bot only.
func (t *TradingBot) fatalVault(err error) {
	t.bot.IsRunning = false
	metrics.ErrorsTotal.WithLabelValues(t.bot.Name, "vault").Inc()
	log.Error().Err(err).Str("bot", t.bot.Name).Msg("🛑 Signing key unavailable, bot halted")
	t.publish(notify.EventBotStopped, "BOT HALTED", "Signing key unavailable: "+err.Error())
}

// sellableTokens applies the moon bag: a fraction of every filled position
// stays in the wallet as untracked residue and never re-enters the grid.
func sellableTokens(held model.Wei, cfg model.GridConfig) *big.Int {
	amount := held.BigInt()
	if !cfg.MoonBagEnabled || cfg.MoonBagPercent <= 0 {
		return amount
	}
	keepPct := cfg.MoonBagPercent
	if keepPct >= 100 {
		return new(big.Int)
	}
	sellPct := big.NewInt(int64((100 - keepPct) * 100))
	amount.Mul(amount, sellPct)
	return amount.Quo(amount, big.NewInt(10000))
}

// isProfitable compares the quoted proceeds against the position's full cost
// basis (swap amount plus buy gas).
func isProfitable(quoteOut *big.Int, ethCost model.Wei, minProfitPercent float64) bool {
	profit := new(big.Int).Sub(quoteOut, ethCost.BigInt())
	if profit.Sign() < 0 {
		return false
	}
	if minProfitPercent <= 0 {
		return profit.Sign() >= 0
	}
	return percentOf(model.NewWei(profit), ethCost) >= minProfitPercent
}

// percentOf is profit as a percentage of cost. Zero cost yields zero.
func percentOf(profit, cost model.Wei) float64 {
	if cost.IsZero() {
		return 0
	}
	return profit.Eth().Div(cost.Eth()).InexactFloat64() * 100
}
