package store

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/chain"
	"github.com/gridbase/gridbase/internal/model"
)

func testBot() model.BotInstance {
	return model.BotInstance{
		ID:            "bot-1",
		Name:          "test",
		Chain:         "base",
		TokenAddress:  "0x1111111111111111111111111111111111111111",
		TokenSymbol:   "TOK",
		WalletAddress: "0x2222222222222222222222222222222222222222",
		Enabled:       true,
		Config: model.GridConfig{
			NumPositions:      3,
			FloorPrice:        0.001,
			CeilingPrice:      0.002,
			TakeProfitPercent: 25,
			HeartbeatMs:       30000,
			Mode:              model.ModeGrid,
		},
		Positions: []model.Position{
			{ID: 0, BuyMin: 0.001, BuyMax: 0.0012, SellPrice: 0.0015, Status: model.StatusEmpty},
			{ID: 1, BuyMin: 0.0012, BuyMax: 0.0014, SellPrice: 0.00175, Status: model.StatusHolding,
				BuyTxHash: "0xabc", TokensReceived: model.WeiFromInt64(500), EthCost: model.WeiFromInt64(100)},
		},
		TotalBuys:      1,
		TotalProfitEth: model.WeiFromInt64(-42),
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertBot(testBot()))
	require.NoError(t, s.AppendTrade(model.TradeRecord{
		BotID: "bot-1", Action: model.ActionBuy, EthValue: model.WeiFromInt64(100), TxHash: "0xabc",
	}))
	require.NoError(t, s.SaveBreaker(model.CircuitBreakerState{
		Enabled:         true,
		DailyStartValue: model.WeiFromInt64(1e18),
		DailyStartDate:  "2026-08-26",
	}))
	s.Close()

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	doc := reopened.Snapshot()
	require.Len(t, doc.Bots, 1)
	got := doc.Bots[0]
	want := testBot()

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Config, got.Config)
	require.Len(t, got.Positions, 2)
	assert.Equal(t, model.StatusHolding, got.Positions[1].Status)
	assert.Equal(t, "500", got.Positions[1].TokensReceived.String())
	assert.Equal(t, "-42", got.TotalProfitEth.String())

	require.Len(t, doc.Trades, 1)
	assert.Equal(t, "0xabc", doc.Trades[0].TxHash)
	assert.True(t, doc.CircuitBreaker.Enabled)
}

func TestFileModeAndAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.UpsertBot(testBot()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// No temp leftovers after the write completes.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenRejectsUnknownSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion": 99}`), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestUpsertReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	bot := testBot()
	require.NoError(t, s.UpsertBot(bot))
	bot.TotalBuys = 7
	require.NoError(t, s.UpsertBot(bot))

	doc := s.Snapshot()
	require.Len(t, doc.Bots, 1)
	assert.Equal(t, 7, doc.Bots[0].TotalBuys)
}

func TestPrimaryWalletDefaultsToFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutWallet("w1", model.WalletEntry{Address: "0xaa"}))
	require.NoError(t, s.PutWallet("w2", model.WalletEntry{Address: "0xbb"}))
	assert.Equal(t, "w1", s.Snapshot().PrimaryWalletID)

	require.NoError(t, s.SetPrimaryWallet("w2"))
	assert.Equal(t, "w2", s.Snapshot().PrimaryWalletID)

	// Unknown ids are ignored.
	require.NoError(t, s.SetPrimaryWallet("nope"))
	assert.Equal(t, "w2", s.Snapshot().PrimaryWalletID)
}

// ─── Reconciler ────────────────────────────────────────────────────────────────

type stubReceipts struct {
	receipts map[string]*chain.Receipt
	err      error
}

func (s *stubReceipts) LookupReceipt(_ context.Context, hash common.Hash) (*chain.Receipt, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.receipts[hash.Hex()], nil
}

func buyingBot(txHash string) Document {
	bot := testBot()
	bot.Positions[0].Status = model.StatusBuying
	bot.Positions[0].BuyTxHash = txHash
	bot.TotalBuys = 0
	doc := emptyDocument()
	doc.Bots = []model.BotInstance{bot}
	return doc
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
}

func transferLog(token, from, to common.Address, amount int64) chain.Log {
	return chain.Log{
		Address: token,
		Topics:  []common.Hash{chain.TopicERC20Transfer, addressTopic(from), addressTopic(to)},
		Data:    common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
	}
}

func withdrawalLog(weth common.Address, amount int64) chain.Log {
	return chain.Log{
		Address: weth,
		Topics:  []common.Hash{chain.TopicWethWithdrawal, addressTopic(weth)},
		Data:    common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
	}
}

var testPool = common.HexToAddress("0x9999999999999999999999999999999999999999")

func TestReconcileSettlesConfirmedBuy(t *testing.T) {
	tx := common.HexToHash("0x01")
	doc := buyingBot(tx.Hex())
	token := common.HexToAddress(doc.Bots[0].TokenAddress)
	wallet := common.HexToAddress(doc.Bots[0].WalletAddress)

	receipts := &stubReceipts{receipts: map[string]*chain.Receipt{
		tx.Hex(): {
			TxHash:            tx,
			Success:           true,
			GasUsed:           21000,
			EffectiveGasPrice: big.NewInt(2),
			Value:             big.NewInt(1_000_000),
			Logs:              []chain.Log{transferLog(token, testPool, wallet, 500_000)},
		},
	}}

	touched := Reconcile(context.Background(), &doc, receipts)
	assert.Equal(t, 1, touched)

	// The fill is recovered from the Transfer log and the cost basis from
	// value plus gas; a zero fill would leave the position unsellable.
	pos := doc.Bots[0].Positions[0]
	assert.Equal(t, model.StatusHolding, pos.Status)
	assert.False(t, pos.BuyTimestamp.IsZero())
	assert.Equal(t, "500000", pos.TokensReceived.String())
	assert.Equal(t, "1042000", pos.EthCost.String())
	assert.Equal(t, 1, doc.Bots[0].TotalBuys)

	require.Len(t, doc.Trades, 1)
	trade := doc.Trades[0]
	assert.Equal(t, model.ActionBuy, trade.Action)
	assert.Equal(t, "500000", trade.Amount.String())
	assert.Equal(t, tx.Hex(), trade.TxHash)
}

func TestReconcileRollsBackRevertedBuy(t *testing.T) {
	tx := common.HexToHash("0x02")
	doc := buyingBot(tx.Hex())
	receipts := &stubReceipts{receipts: map[string]*chain.Receipt{
		tx.Hex(): {TxHash: tx, Success: false},
	}}

	Reconcile(context.Background(), &doc, receipts)

	pos := doc.Bots[0].Positions[0]
	assert.Equal(t, model.StatusEmpty, pos.Status)
	assert.Empty(t, pos.BuyTxHash)
	assert.True(t, pos.EthCost.IsZero())
	assert.Zero(t, doc.Bots[0].TotalBuys)
}

func TestReconcileRollsBackUnknownTx(t *testing.T) {
	doc := buyingBot(common.HexToHash("0x03").Hex())
	receipts := &stubReceipts{receipts: map[string]*chain.Receipt{}}

	Reconcile(context.Background(), &doc, receipts)
	assert.Equal(t, model.StatusEmpty, doc.Bots[0].Positions[0].Status)
}

func TestReconcileLeavesPositionOnLookupError(t *testing.T) {
	doc := buyingBot(common.HexToHash("0x04").Hex())
	receipts := &stubReceipts{err: errors.New("rpc down")}

	touched := Reconcile(context.Background(), &doc, receipts)
	assert.Zero(t, touched)
	assert.Equal(t, model.StatusBuying, doc.Bots[0].Positions[0].Status)
}

func TestReconcileSettlesConfirmedSell(t *testing.T) {
	tx := common.HexToHash("0x05")
	bot := testBot()
	// Crash left the position mid-sell: proceeds and profit never computed.
	bot.Positions[1].Status = model.StatusSelling
	bot.Positions[1].SellTxHash = tx.Hex()
	doc := emptyDocument()
	doc.Bots = []model.BotInstance{bot}

	token := common.HexToAddress(bot.TokenAddress)
	wallet := common.HexToAddress(bot.WalletAddress)
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")

	receipts := &stubReceipts{receipts: map[string]*chain.Receipt{
		tx.Hex(): {
			TxHash:            tx,
			Success:           true,
			GasUsed:           1000,
			EffectiveGasPrice: big.NewInt(1),
			Logs: []chain.Log{
				transferLog(token, wallet, testPool, 500),
				withdrawalLog(weth, 150),
			},
		},
	}}
	Reconcile(context.Background(), &doc, receipts)

	// Proceeds come from the WETH unwrap, profit from proceeds minus gas
	// minus the recorded cost basis (150 - 1000 - 100).
	pos := doc.Bots[0].Positions[1]
	assert.Equal(t, model.StatusSold, pos.Status)
	assert.Equal(t, "150", pos.EthReceived.String())
	assert.Equal(t, "-950", pos.Profit.String())
	assert.Equal(t, 1, doc.Bots[0].TotalSells)
	assert.Equal(t, "-992", doc.Bots[0].TotalProfitEth.String())

	require.Len(t, doc.Trades, 1)
	trade := doc.Trades[0]
	assert.Equal(t, model.ActionSell, trade.Action)
	assert.Equal(t, "500", trade.Amount.String())
	assert.Zero(t, trade.Profit.Cmp(pos.Profit))
	assert.Equal(t, tx.Hex(), trade.TxHash)
}

func TestReconcileRollsBackSellWithoutTx(t *testing.T) {
	bot := testBot()
	bot.Positions[1].Status = model.StatusSelling
	doc := emptyDocument()
	doc.Bots = []model.BotInstance{bot}

	Reconcile(context.Background(), &doc, &stubReceipts{})

	pos := doc.Bots[0].Positions[1]
	assert.Equal(t, model.StatusHolding, pos.Status)
	assert.Empty(t, pos.SellTxHash)
	assert.True(t, pos.Profit.IsZero())
}
