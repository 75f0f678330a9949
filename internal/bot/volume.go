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
	"github.com/gridbase/gridbase/internal/metrics"
	"github.com/gridbase/gridbase/internal/model"
	"github.com/gridbase/gridbase/internal/notify"
	"github.com/gridbase/gridbase/internal/vault"
)

// volumeTick is the VOLUME sub-mode: no grid, just repeated fixed-size buys
// into one accumulator, dumped as a single sell when the cycle fills.
func (t *TradingBot) volumeTick(ctx context.Context, price *model.PriceData) {
	b := t.bot

	if b.VolumeBuysInCycle < b.Config.VolumeBuysPerCycle {
		t.volumeBuy(ctx, price)
		return
	}
	t.volumeSell(ctx, price)
}

func (t *TradingBot) volumeBuy(ctx context.Context, price *model.PriceData) {
	b := t.bot

	if t.svc.Breaker != nil && !t.svc.Breaker.AllowBuys() {
		log.Debug().Str("bot", b.Name).Msg("Volume buy skipped, circuit breaker triggered")
		return
	}

	account, err := t.svc.Vault.AccountFor(b)
	if err != nil {
		t.fatalVault(err)
		return
	}

	buyAmount := b.Config.VolumeBuyAmount.BigInt()
	if buyAmount.Sign() <= 0 {
		return
	}

	available, err := t.svc.Chain.Balance(ctx, account.Address)
	if err != nil {
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).Str("bot", b.Name).Msg("Balance check failed")
		return
	}
	required := new(big.Int).Add(buyAmount, t.svc.GasReserve.BigInt())
	if available.Cmp(required) <= 0 {
		log.Debug().Str("bot", b.Name).Msg("Volume buy skipped, insufficient balance")
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
		log.Warn().Err(err).Str("bot", b.Name).Msg("💱 Volume buy quote failed")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "quote").Inc()
		return
	}

	log.Info().
		Str("bot", b.Name).
		Int("cycle_buy", b.VolumeBuysInCycle+1).
		Int("per_cycle", b.Config.VolumeBuysPerCycle).
		Str("eth_in", buyAmount.String()).
		Bool("dry_run", b.DryRun).
		Msg("📥 Volume buy")

	if b.DryRun {
		log.Info().Str("bot", b.Name).Str("tx", "dry-run").Msg("✅ Volume buy confirmed")
		return
	}

	tx, err := t.svc.Chain.SignAndSend(ctx, account.Key, quote.To, quote.Value, quote.Data, quote.Gas)
	if err != nil {
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).Str("bot", b.Name).Msg("❌ Volume buy submit failed")
		return
	}
	receipt, err := t.svc.Chain.WaitReceipt(context.Background(), tx)
	if err != nil || !receipt.Success {
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).Str("bot", b.Name).Str("tx", tx.Hex()).Msg("❌ Volume buy failed")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "revert").Inc()
		return
	}

	gasCost := model.NewWei(receipt.GasCost())
	tokens := model.NewWei(quote.BuyAmount)

	b.VolumeBuysInCycle++
	b.VolumeAccumulatedTokens = b.VolumeAccumulatedTokens.Add(tokens)
	b.TotalBuys++
	b.LastTradeAt = time.Now()

	t.recordTrade(model.TradeRecord{
		BotID:        b.ID,
		BotName:      b.Name,
		TokenSymbol:  b.TokenSymbol,
		TokenAddress: b.TokenAddress,
		Action:       model.ActionBuy,
		Amount:       tokens,
		Price:        price.Price,
		EthValue:     model.NewWei(quote.SellAmount).Add(gasCost),
		GasCost:      gasCost,
		TxHash:       tx.Hex(),
		Timestamp:    time.Now(),
	})
	metrics.TradesTotal.WithLabelValues(b.Name, string(model.ActionBuy)).Inc()

	log.Info().
		Str("bot", b.Name).
		Str("tx", tx.Hex()).
		Str("accumulated", b.VolumeAccumulatedTokens.String()).
		Msg("✅ Volume buy confirmed")
}

func (t *TradingBot) volumeSell(ctx context.Context, price *model.PriceData) {
	b := t.bot

	account, err := t.svc.Vault.AccountFor(b)
	if err != nil {
		t.fatalVault(err)
		return
	}

	sellAmount := b.VolumeAccumulatedTokens.BigInt()
	if sellAmount.Sign() <= 0 {
		// Nothing accumulated; close the cycle anyway.
		t.resetVolumeCycle()
		return
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
		log.Warn().Err(err).Str("bot", b.Name).Msg("💱 Volume sell quote failed")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "quote").Inc()
		return
	}

	log.Info().
		Str("bot", b.Name).
		Int("cycle", b.VolumeCycleCount+1).
		Str("tokens", sellAmount.String()).
		Bool("dry_run", b.DryRun).
		Msg("📤 Volume cycle sell")

	if b.DryRun {
		log.Info().Str("bot", b.Name).Str("tx", "dry-run").Msg("💰 Volume cycle closed")
		return
	}

	receipt, err := t.submitVolumeSell(ctx, account, quote, sellAmount)
	if err != nil || !receipt.Success {
		b.ConsecutiveErrorCount++
		log.Warn().Err(err).Str("bot", b.Name).Msg("❌ Volume sell failed")
		metrics.ErrorsTotal.WithLabelValues(b.Name, "revert").Inc()
		return
	}

	gasCost := model.NewWei(receipt.GasCost())
	ethReceived := model.NewWei(quote.BuyAmount)

	b.TotalSells++
	b.LastTradeAt = time.Now()

	t.recordTrade(model.TradeRecord{
		BotID:        b.ID,
		BotName:      b.Name,
		TokenSymbol:  b.TokenSymbol,
		TokenAddress: b.TokenAddress,
		Action:       model.ActionSell,
		Amount:       model.NewWei(sellAmount),
		Price:        price.Price,
		EthValue:     ethReceived,
		GasCost:      gasCost,
		TxHash:       receipt.TxHash.Hex(),
		Timestamp:    time.Now(),
	})
	metrics.TradesTotal.WithLabelValues(b.Name, string(model.ActionSell)).Inc()

	t.resetVolumeCycle()
	t.publish(notify.EventSummary, "VOLUME CYCLE CLOSED",
		fmt.Sprintf("Cycle %d complete: %s tokens cycled", b.VolumeCycleCount, sellAmount.String()))

	log.Info().
		Str("bot", b.Name).
		Int("cycle", b.VolumeCycleCount).
		Str("tx", receipt.TxHash.Hex()).
		Msg("💰 Volume cycle closed")
}

func (t *TradingBot) submitVolumeSell(ctx context.Context, account *vault.Account, quote *dex.Quote, sellAmount *big.Int) (*chain.Receipt, error) {
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
	return t.svc.Chain.WaitReceipt(context.Background(), swapTx)
}

func (t *TradingBot) resetVolumeCycle() {
	t.bot.VolumeBuysInCycle = 0
	t.bot.VolumeAccumulatedTokens = model.Wei{}
	t.bot.VolumeCycleCount++
}
