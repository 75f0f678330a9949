package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gridbase/gridbase/internal/chain"
	"github.com/gridbase/gridbase/internal/model"
)

// ReceiptSource looks up a mined transaction. A nil receipt with nil error
// means the transaction is unknown to the chain.
type ReceiptSource interface {
	LookupReceipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error)
}

// Reconcile resolves positions stranded in BUYING or SELLING by a crash
// between transaction submit and receipt. Mined-and-successful transactions
// are settled from receipt evidence (BUYING to HOLDING, SELLING to SOLD,
// with amounts recovered from the swap's event logs and a trade record
// appended), reverted or unknown ones rolled back so the position can trade
// again. Returns the number of positions touched.
func Reconcile(ctx context.Context, doc *Document, receipts ReceiptSource) int {
	touched := 0
	for bi := range doc.Bots {
		bot := &doc.Bots[bi]
		for pi := range bot.Positions {
			pos := &bot.Positions[pi]
			switch pos.Status {
			case model.StatusBuying:
				if reconcileBuy(ctx, doc, bot, pos, receipts) {
					touched++
				}
			case model.StatusSelling:
				if reconcileSell(ctx, doc, bot, pos, receipts) {
					touched++
				}
			}
		}
	}
	return touched
}

func reconcileBuy(ctx context.Context, doc *Document, bot *model.BotInstance, pos *model.Position, receipts ReceiptSource) bool {
	if pos.BuyTxHash == "" {
		// Crashed before submit; nothing on chain to wait for.
		rollbackBuy(pos)
		logReconcile(bot, pos, "no buy tx submitted, rolled back to EMPTY")
		return true
	}

	rcpt, err := receipts.LookupReceipt(ctx, common.HexToHash(pos.BuyTxHash))
	if err != nil {
		log.Warn().Err(err).
			Str("bot", bot.Name).
			Int("position", pos.ID).
			Str("tx", pos.BuyTxHash).
			Msg("⚠️ Receipt lookup failed during reconcile, leaving position as-is")
		return false
	}

	if rcpt != nil && rcpt.Success {
		settleRecoveredBuy(doc, bot, pos, rcpt)
		logReconcile(bot, pos, "buy confirmed on chain, settled to HOLDING")
		return true
	}

	// Reverted, or never mined. Either way the position never filled.
	rollbackBuy(pos)
	logReconcile(bot, pos, "buy not confirmed, rolled back to EMPTY")
	return true
}

func reconcileSell(ctx context.Context, doc *Document, bot *model.BotInstance, pos *model.Position, receipts ReceiptSource) bool {
	if pos.SellTxHash == "" {
		rollbackSell(pos)
		logReconcile(bot, pos, "no sell tx submitted, rolled back to HOLDING")
		return true
	}

	rcpt, err := receipts.LookupReceipt(ctx, common.HexToHash(pos.SellTxHash))
	if err != nil {
		log.Warn().Err(err).
			Str("bot", bot.Name).
			Int("position", pos.ID).
			Str("tx", pos.SellTxHash).
			Msg("⚠️ Receipt lookup failed during reconcile, leaving position as-is")
		return false
	}

	if rcpt != nil && rcpt.Success {
		settleRecoveredSell(doc, bot, pos, rcpt)
		logReconcile(bot, pos, "sell confirmed on chain, settled to SOLD")
		return true
	}

	rollbackSell(pos)
	logReconcile(bot, pos, "sell not confirmed, rolled back to HOLDING")
	return true
}

// settleRecoveredBuy rebuilds the accounting the crash skipped. The token
// fill comes from the swap's Transfer logs, the cost from the transaction
// value plus gas. A promoted position with no fill amount could never clear
// the sell path's amount check, so this must run before any bot ticks.
func settleRecoveredBuy(doc *Document, bot *model.BotInstance, pos *model.Position, rcpt *chain.Receipt) {
	wallet := common.HexToAddress(bot.WalletAddress)
	token := common.HexToAddress(bot.TokenAddress)

	tokens := model.NewWei(rcpt.ERC20Received(token, wallet))
	gasCost := model.NewWei(rcpt.GasCost())
	ethCost := model.NewWei(rcpt.Value).Add(gasCost)

	pos.Status = model.StatusHolding
	pos.TokensReceived = tokens
	pos.EthCost = ethCost
	if pos.BuyTimestamp.IsZero() {
		pos.BuyTimestamp = time.Now()
	}
	bot.TotalBuys++

	if tokens.Sign() <= 0 {
		log.Warn().
			Str("bot", bot.Name).
			Int("position", pos.ID).
			Str("tx", pos.BuyTxHash).
			Msg("⚠️ Confirmed buy shows no token transfer to the wallet")
	}

	doc.Trades = append(doc.Trades, model.TradeRecord{
		BotID:        bot.ID,
		BotName:      bot.Name,
		TokenSymbol:  bot.TokenSymbol,
		TokenAddress: bot.TokenAddress,
		Action:       model.ActionBuy,
		Amount:       tokens,
		Price:        impliedPrice(model.NewWei(rcpt.Value), tokens),
		EthValue:     ethCost,
		GasCost:      gasCost,
		PositionID:   pos.ID,
		TxHash:       pos.BuyTxHash,
		Timestamp:    pos.BuyTimestamp,
	})
}

// settleRecoveredSell closes the position from receipt evidence. Proceeds
// are the WETH unwrapped by the swap (or WETH paid straight to the wallet),
// so position profit, bot totals and the trade record come out the same as a
// live settle would have written them.
func settleRecoveredSell(doc *Document, bot *model.BotInstance, pos *model.Position, rcpt *chain.Receipt) {
	wallet := common.HexToAddress(bot.WalletAddress)
	token := common.HexToAddress(bot.TokenAddress)

	var weth common.Address
	if addrs, err := chain.ForChain(bot.Chain); err == nil {
		weth = addrs.WETH
	}

	sold := model.NewWei(rcpt.ERC20Sent(token, wallet))
	ethReceived := model.NewWei(rcpt.WethUnwrapped(weth))
	if ethReceived.IsZero() {
		ethReceived = model.NewWei(rcpt.ERC20Received(weth, wallet))
	}
	gasCost := model.NewWei(rcpt.GasCost())
	profit := ethReceived.Sub(gasCost).Sub(pos.EthCost)

	pos.Status = model.StatusSold
	pos.EthReceived = ethReceived
	pos.Profit = profit
	pos.ProfitPercent = profitPercent(profit, pos.EthCost)
	if pos.SellTimestamp.IsZero() {
		pos.SellTimestamp = time.Now()
	}

	bot.TotalSells++
	bot.TotalProfitEth = bot.TotalProfitEth.Add(profit)

	doc.Trades = append(doc.Trades, model.TradeRecord{
		BotID:         bot.ID,
		BotName:       bot.Name,
		TokenSymbol:   bot.TokenSymbol,
		TokenAddress:  bot.TokenAddress,
		Action:        model.ActionSell,
		Amount:        sold,
		Price:         impliedPrice(ethReceived, sold),
		EthValue:      ethReceived,
		GasCost:       gasCost,
		Profit:        profit,
		ProfitPercent: pos.ProfitPercent,
		PositionID:    pos.ID,
		TxHash:        pos.SellTxHash,
		Timestamp:     pos.SellTimestamp,
	})
}

// impliedPrice is the effective ETH-per-token price of a recovered fill.
func impliedPrice(ethAmount, tokens model.Wei) float64 {
	if tokens.Sign() <= 0 {
		return 0
	}
	return ethAmount.Eth().Div(tokens.Eth()).InexactFloat64()
}

// profitPercent mirrors the live settle math: profit over cost basis. Zero
// cost yields zero.
func profitPercent(profit, cost model.Wei) float64 {
	if cost.Sign() <= 0 {
		return 0
	}
	return profit.Eth().Div(cost.Eth()).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func rollbackBuy(pos *model.Position) {
	pos.Status = model.StatusEmpty
	pos.BuyTxHash = ""
	pos.BuyTimestamp = time.Time{}
	pos.TokensReceived = model.Wei{}
	pos.EthCost = model.Wei{}
}

func rollbackSell(pos *model.Position) {
	pos.Status = model.StatusHolding
	pos.SellTxHash = ""
	pos.SellTimestamp = time.Time{}
	pos.EthReceived = model.Wei{}
	pos.Profit = model.Wei{}
	pos.ProfitPercent = 0
}

func logReconcile(bot *model.BotInstance, pos *model.Position, msg string) {
	log.Info().
		Str("bot", bot.Name).
		Int("position", pos.ID).
		Str("status", string(pos.Status)).
		Msg("🔧 Reconciler: " + msg)
}
