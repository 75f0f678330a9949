package bot

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/chain"
	"github.com/gridbase/gridbase/internal/dex"
	"github.com/gridbase/gridbase/internal/grid"
	"github.com/gridbase/gridbase/internal/model"
	"github.com/gridbase/gridbase/internal/vault"
)

// ─── Stubs ─────────────────────────────────────────────────────────────────────

type stubOracle struct {
	price      float64
	confidence float64
	err        error
}

func (s *stubOracle) ValidatePrice(_ context.Context, _ common.Address, minConfidence float64) (*model.PriceData, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.confidence < minConfidence {
		return nil, errors.New("below confidence threshold")
	}
	return &model.PriceData{Price: s.price, Source: model.SourceChainlink, Confidence: s.confidence}, nil
}

type stubQuoter struct {
	err    error
	quotes []dex.QuoteRequest
	// rate converts sellAmount to buyAmount
	rate func(req dex.QuoteRequest) *big.Int
}

func (s *stubQuoter) GetQuote(_ context.Context, req dex.QuoteRequest) (*dex.Quote, error) {
	s.quotes = append(s.quotes, req)
	if s.err != nil {
		return nil, s.err
	}
	buyAmount := new(big.Int).Mul(req.SellAmount, big.NewInt(2))
	if s.rate != nil {
		buyAmount = s.rate(req)
	}
	return &dex.Quote{
		BuyToken:        req.BuyToken,
		SellToken:       req.SellToken,
		BuyAmount:       buyAmount,
		SellAmount:      new(big.Int).Set(req.SellAmount),
		To:              common.HexToAddress("0x00000000000000000000000000000000000000dd"),
		Data:            []byte{0x01},
		Value:           new(big.Int),
		AllowanceTarget: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
	}, nil
}

type stubChain struct {
	balance  *big.Int
	sendErr  error
	revert   bool
	nextTx   int
	gasUsed  uint64
	gasPrice *big.Int
}

func (s *stubChain) Balance(_ context.Context, _ common.Address) (*big.Int, error) {
	if s.balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(s.balance), nil
}

func (s *stubChain) SignAndSend(_ context.Context, _ *ecdsa.PrivateKey, _ common.Address, _ *big.Int, _ []byte, _ uint64) (common.Hash, error) {
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	s.nextTx++
	return common.HexToHash(fmt.Sprintf("0x%064x", s.nextTx)), nil
}

func (s *stubChain) WaitReceipt(_ context.Context, hash common.Hash) (*chain.Receipt, error) {
	gasPrice := s.gasPrice
	if gasPrice == nil {
		gasPrice = big.NewInt(0)
	}
	return &chain.Receipt{
		TxHash:            hash,
		Success:           !s.revert,
		GasUsed:           s.gasUsed,
		EffectiveGasPrice: gasPrice,
	}, nil
}

type stubSigner struct {
	account *vault.Account
	err     error
}

func (s *stubSigner) AccountFor(_ *model.BotInstance) (*vault.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

type memStore struct {
	mu     sync.Mutex
	bots   map[string]model.BotInstance
	trades []model.TradeRecord
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{bots: map[string]model.BotInstance{}}
}

func (m *memStore) UpsertBot(bot model.BotInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.bots[bot.ID] = bot
	return nil
}

func (m *memStore) AppendTrade(trade model.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.trades = append(m.trades, trade)
	return nil
}

func (m *memStore) allTrades() []model.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TradeRecord(nil), m.trades...)
}

type stubGate struct{ blocked bool }

func (s *stubGate) AllowBuys() bool { return !s.blocked }

// ─── Fixtures ──────────────────────────────────────────────────────────────────

func newTestAccount(t *testing.T) *vault.Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &vault.Account{
		WalletID: "w1",
		Address:  crypto.PubkeyToAddress(key.PublicKey),
		Key:      key,
	}
}

func gridConfig() model.GridConfig {
	return model.GridConfig{
		NumPositions:       5,
		FloorPrice:         0.001,
		CeilingPrice:       0.002,
		TakeProfitPercent:  10,
		BuysEnabled:        true,
		SellsEnabled:       true,
		MaxActivePositions: 5,
		UseFixedBuyAmount:  true,
		BuyAmount:          model.WeiFromInt64(1_000_000),
		HeartbeatMs:        30000,
		Mode:               model.ModeGrid,
	}
}

func newTestBot(t *testing.T, cfg model.GridConfig) (*TradingBot, *model.BotInstance, *stubChain, *memStore, *stubOracle) {
	t.Helper()
	positions, err := grid.Generate(cfg)
	require.NoError(t, err)

	instance := &model.BotInstance{
		ID:           "bot-1",
		Name:         "test",
		Chain:        "base",
		TokenAddress: "0x1111111111111111111111111111111111111111",
		TokenSymbol:  "TOK",
		Config:       cfg,
		Positions:    positions,
		IsRunning:    true,
		Enabled:      true,
	}

	oracle := &stubOracle{price: 0.00105, confidence: 0.95}
	chainStub := &stubChain{balance: big.NewInt(1e18)}
	store := newMemStore()

	tb := New(instance, Services{
		Oracle:     oracle,
		Dex:        &stubQuoter{},
		Chain:      chainStub,
		Vault:      &stubSigner{account: newTestAccount(t)},
		Store:      store,
		Breaker:    &stubGate{},
		GasReserve: model.WeiFromInt64(1000),
	})
	return tb, instance, chainStub, store, oracle
}

// ─── Tests ─────────────────────────────────────────────────────────────────────

func TestBuySellHappyPath(t *testing.T) {
	tb, instance, _, store, oracle := newTestBot(t, gridConfig())

	// Tick one: price in bucket 0, buy fills position 0.
	tb.Tick(context.Background())

	pos := &instance.Positions[0]
	assert.Equal(t, model.StatusHolding, pos.Status)
	assert.Equal(t, 1, instance.TotalBuys)
	assert.NotEmpty(t, pos.BuyTxHash)
	assert.False(t, pos.EthCost.IsZero())

	// Tick two: price above position 0's sell price triggers the sell. The
	// stub quoter doubles the input so it clears any profit gate.
	oracle.price = 0.00135
	tb.Tick(context.Background())

	assert.Equal(t, model.StatusSold, pos.Status)
	assert.Equal(t, 1, instance.TotalSells)
	assert.Positive(t, instance.TotalProfitEth.Sign())

	trades := store.allTrades()
	require.Len(t, trades, 2)
	assert.Equal(t, model.ActionBuy, trades[0].Action)
	assert.Equal(t, model.ActionSell, trades[1].Action)
}

func TestMaxActiveCap(t *testing.T) {
	cfg := gridConfig()
	cfg.MaxActivePositions = 2
	tb, instance, _, _, oracle := newTestBot(t, cfg)

	// Monotonically decreasing prices walk down through distinct buckets.
	prices := []float64{0.00195, 0.00175, 0.00155, 0.00135}
	for _, p := range prices {
		oracle.price = p
		tb.Tick(context.Background())
	}

	assert.Equal(t, 2, instance.TotalBuys)
	assert.Equal(t, 2, grid.CountActive(instance.Positions))
}

func TestBreakerBlocksBuysNotSells(t *testing.T) {
	tb, instance, _, _, oracle := newTestBot(t, gridConfig())

	// Fill position 0 while the breaker is clear.
	tb.Tick(context.Background())
	require.Equal(t, model.StatusHolding, instance.Positions[0].Status)

	// Trip the breaker; a sell-triggering price must still close it while no
	// new buy lands.
	tb.svc.Breaker = &stubGate{blocked: true}
	oracle.price = 0.00135
	tb.Tick(context.Background())

	assert.Equal(t, model.StatusSold, instance.Positions[0].Status)
	assert.Equal(t, 1, instance.TotalBuys)
}

func TestPriceUnavailableCountsErrors(t *testing.T) {
	tb, instance, _, _, oracle := newTestBot(t, gridConfig())
	oracle.err = errors.New("no price")

	for i := 0; i < maxConsecutiveErrors; i++ {
		assert.True(t, instance.IsRunning)
		tb.Tick(context.Background())
	}

	assert.Equal(t, maxConsecutiveErrors, instance.ConsecutiveErrorCount)
	assert.False(t, instance.IsRunning)

	// A halted bot no longer ticks.
	oracle.err = nil
	tb.Tick(context.Background())
	assert.Equal(t, 0, instance.TotalBuys)
}

func TestGoodPriceResetsErrorCount(t *testing.T) {
	tb, instance, _, _, oracle := newTestBot(t, gridConfig())

	oracle.err = errors.New("no price")
	tb.Tick(context.Background())
	tb.Tick(context.Background())
	require.Equal(t, 2, instance.ConsecutiveErrorCount)

	oracle.err = nil
	tb.Tick(context.Background())
	assert.Zero(t, instance.ConsecutiveErrorCount)
}

func TestConfidenceBelowThresholdSkipsTrade(t *testing.T) {
	cfg := gridConfig()
	cfg.MinConfidence = 0.9
	tb, instance, _, _, oracle := newTestBot(t, cfg)
	oracle.confidence = 0.5

	tb.Tick(context.Background())
	assert.Equal(t, 1, instance.ConsecutiveErrorCount)
	assert.Zero(t, instance.TotalBuys)
}

func TestDryRunLeavesStateUntouched(t *testing.T) {
	tb, instance, chainStub, store, _ := newTestBot(t, gridConfig())
	instance.DryRun = true

	tb.Tick(context.Background())
	tb.Tick(context.Background())

	for _, pos := range instance.Positions {
		assert.Equal(t, model.StatusEmpty, pos.Status)
	}
	assert.Zero(t, instance.TotalBuys)
	assert.Empty(t, store.allTrades())
	assert.Zero(t, chainStub.nextTx, "dry run must not submit transactions")
}

func TestBuyRevertRollsBack(t *testing.T) {
	tb, instance, chainStub, store, _ := newTestBot(t, gridConfig())
	chainStub.revert = true

	tb.Tick(context.Background())

	pos := instance.Positions[0]
	assert.Equal(t, model.StatusEmpty, pos.Status)
	assert.Empty(t, pos.BuyTxHash)
	assert.Equal(t, 1, instance.ConsecutiveErrorCount)
	assert.Empty(t, store.allTrades())
}

func TestSellRevertRollsBackToHolding(t *testing.T) {
	tb, instance, chainStub, _, oracle := newTestBot(t, gridConfig())

	tb.Tick(context.Background())
	require.Equal(t, model.StatusHolding, instance.Positions[0].Status)

	chainStub.revert = true
	oracle.price = 0.00135
	tb.Tick(context.Background())

	assert.Equal(t, model.StatusHolding, instance.Positions[0].Status)
	assert.Zero(t, instance.TotalSells)
	assert.Equal(t, 1, instance.ConsecutiveErrorCount)
}

func TestInsufficientBalanceSkipsBuy(t *testing.T) {
	tb, instance, chainStub, _, _ := newTestBot(t, gridConfig())
	chainStub.balance = big.NewInt(500) // below buyAmount + gasReserve

	tb.Tick(context.Background())
	assert.Zero(t, instance.TotalBuys)
	assert.Zero(t, instance.ConsecutiveErrorCount, "low balance is not an error")
}

func TestPersistenceFailureHaltsBot(t *testing.T) {
	tb, instance, _, store, _ := newTestBot(t, gridConfig())
	store.fail = true

	tb.Tick(context.Background())
	assert.False(t, instance.IsRunning)
}

func TestAccountingConsistency(t *testing.T) {
	tb, instance, _, store, oracle := newTestBot(t, gridConfig())

	tb.Tick(context.Background())
	oracle.price = 0.00135
	tb.Tick(context.Background())

	// totalProfitEth equals the sum of sold-position profits and the sell
	// trade record's profit.
	var sum model.Wei
	for _, pos := range instance.Positions {
		if pos.Status == model.StatusSold {
			sum = sum.Add(pos.Profit)
		}
	}
	assert.Zero(t, instance.TotalProfitEth.Cmp(sum))

	trades := store.allTrades()
	require.Len(t, trades, 2)
	assert.Zero(t, trades[1].Profit.Cmp(sum))
}

func TestLiquidateAllIgnoresMinProfit(t *testing.T) {
	cfg := gridConfig()
	cfg.MinProfitPercent = 500 // impossible via the normal sell path
	tb, instance, _, _, oracle := newTestBot(t, cfg)

	tb.Tick(context.Background())
	require.Equal(t, model.StatusHolding, instance.Positions[0].Status)

	// Price below the sell trigger; the normal path would not sell at all.
	oracle.price = 0.00105
	success, failed := tb.LiquidateAll(context.Background())

	assert.Equal(t, 1, success)
	assert.Zero(t, failed)
	assert.Equal(t, model.StatusSold, instance.Positions[0].Status)
}

func TestStopLossSellsAtALoss(t *testing.T) {
	cfg := gridConfig()
	cfg.StopLossEnabled = true
	cfg.StopLossPercent = 20
	tb, instance, _, store, oracle := newTestBot(t, cfg)

	tb.Tick(context.Background())
	require.Equal(t, model.StatusHolding, instance.Positions[0].Status)

	// Price collapses through the stop and the quote returns far less ETH
	// than the position cost; the exit must still go through.
	oracle.price = 0.0005
	tb.svc.Dex = &stubQuoter{rate: func(req dex.QuoteRequest) *big.Int {
		return new(big.Int).Quo(req.SellAmount, big.NewInt(4))
	}}
	tb.Tick(context.Background())

	pos := instance.Positions[0]
	assert.Equal(t, model.StatusSold, pos.Status)
	assert.Negative(t, pos.Profit.Sign())
	assert.Equal(t, 1, instance.TotalSells)

	trades := store.allTrades()
	require.Len(t, trades, 2)
	assert.Equal(t, model.ActionSell, trades[1].Action)
	assert.Negative(t, trades[1].Profit.Sign())
}

func TestMoonBagReducesSellAmount(t *testing.T) {
	held := model.WeiFromInt64(1000)

	cfg := model.GridConfig{MoonBagEnabled: true, MoonBagPercent: 10}
	assert.Equal(t, "900", sellableTokens(held, cfg).String())

	cfg.MoonBagEnabled = false
	assert.Equal(t, "1000", sellableTokens(held, cfg).String())

	cfg = model.GridConfig{MoonBagEnabled: true, MoonBagPercent: 100}
	assert.Equal(t, "0", sellableTokens(held, cfg).String())
}

func TestIsProfitable(t *testing.T) {
	cost := model.WeiFromInt64(1000)

	assert.True(t, isProfitable(big.NewInt(1100), cost, 10))  // exactly 10%
	assert.False(t, isProfitable(big.NewInt(1050), cost, 10)) // 5% < 10%
	assert.True(t, isProfitable(big.NewInt(1000), cost, 0))   // break-even ok at 0
	assert.False(t, isProfitable(big.NewInt(900), cost, 0))   // loss never ok
}

func TestVolumeModeCycle(t *testing.T) {
	cfg := gridConfig()
	cfg.Mode = model.ModeVolume
	cfg.VolumeBuysPerCycle = 2
	cfg.VolumeBuyAmount = model.WeiFromInt64(1_000_000)
	tb, instance, _, store, _ := newTestBot(t, cfg)
	instance.Positions = nil

	// Two buys fill the cycle.
	tb.Tick(context.Background())
	tb.Tick(context.Background())
	assert.Equal(t, 2, instance.VolumeBuysInCycle)
	assert.Equal(t, 2, instance.TotalBuys)
	assert.False(t, instance.VolumeAccumulatedTokens.IsZero())

	// Third tick dumps the accumulator.
	tb.Tick(context.Background())
	assert.Zero(t, instance.VolumeBuysInCycle)
	assert.True(t, instance.VolumeAccumulatedTokens.IsZero())
	assert.Equal(t, 1, instance.VolumeCycleCount)
	assert.Equal(t, 1, instance.TotalSells)

	trades := store.allTrades()
	require.Len(t, trades, 3)
	assert.Equal(t, model.ActionSell, trades[2].Action)
}

func TestVaultErrorHaltsBot(t *testing.T) {
	tb, instance, _, _, _ := newTestBot(t, gridConfig())
	tb.svc.Vault = &stubSigner{err: errors.New("cannot decrypt")}

	tb.Tick(context.Background())
	assert.False(t, instance.IsRunning)
}
