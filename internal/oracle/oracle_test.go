package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/model"
)

type stubSource struct {
	price      float64
	confidence float64
	err        error
}

func (s *stubSource) Read(context.Context, common.Address) (float64, float64, error) {
	return s.price, s.confidence, s.err
}

var testToken = common.HexToAddress("0x4200000000000000000000000000000000000042")

func TestGetPrice_Agreement_Combined(t *testing.T) {
	o := New(
		&stubSource{price: 1.00, confidence: 0.9},
		&stubSource{price: 1.02, confidence: 0.8},
		Options{Preferred: model.SourceChainlink, AllowFallback: true},
	)

	pd, err := o.GetPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCombined, pd.Source)
	assert.InDelta(t, 1.01, pd.Price, 1e-9)
	// min(1, mean(0.9, 0.8) + 0.1) = 0.95
	assert.InDelta(t, 0.95, pd.Confidence, 1e-9)
	assert.Equal(t, testToken.Hex(), pd.TokenAddress)
}

func TestGetPrice_Disagreement_PenalizedWinner(t *testing.T) {
	// Chainlink 1.00 @ 0.95, TWAP 1.20 @ 0.9, 20% apart.
	o := New(
		&stubSource{price: 1.00, confidence: 0.95},
		&stubSource{price: 1.20, confidence: 0.9},
		Options{Preferred: model.SourceChainlink, AllowFallback: true},
	)

	pd, err := o.GetPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, model.SourceChainlink, pd.Source)
	assert.Equal(t, 1.00, pd.Price)
	assert.InDelta(t, 0.75, pd.Confidence, 1e-9)
}

func TestGetPrice_DisagreementFloor(t *testing.T) {
	o := New(
		&stubSource{price: 1.00, confidence: 0.4},
		&stubSource{price: 2.00, confidence: 0.35},
		Options{Preferred: model.SourceChainlink, AllowFallback: true},
	)

	pd, err := o.GetPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, pd.Confidence, 1e-9)
}

func TestGetPrice_SingleSource(t *testing.T) {
	o := New(
		&stubSource{err: errors.New("rpc down")},
		&stubSource{price: 0.0042, confidence: 0.85},
		Options{Preferred: model.SourceChainlink, AllowFallback: true},
	)

	pd, err := o.GetPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUniswapV3, pd.Source)
	assert.Equal(t, 0.0042, pd.Price)
}

func TestGetPrice_NoFallback(t *testing.T) {
	o := New(
		&stubSource{err: errors.New("rpc down")},
		&stubSource{price: 0.0042, confidence: 0.85},
		Options{Preferred: model.SourceChainlink, AllowFallback: false},
	)

	_, err := o.GetPrice(context.Background(), testToken)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestGetPrice_PreferredOrdering(t *testing.T) {
	o := New(
		&stubSource{err: errors.New("down")},
		&stubSource{price: 3.0, confidence: 0.9},
		Options{Preferred: model.SourceUniswapV3, AllowFallback: false},
	)

	pd, err := o.GetPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUniswapV3, pd.Source)
}

func TestGetPrice_DeviationAnchoredToChainlink(t *testing.T) {
	// Chainlink 1.00, TWAP 0.952: the gap is 4.8% of the Chainlink price but
	// 5.04% of the TWAP price. Preferring the TWAP must not turn agreement
	// into a disagreement.
	o := New(
		&stubSource{price: 1.00, confidence: 0.9},
		&stubSource{price: 0.952, confidence: 0.9},
		Options{Preferred: model.SourceUniswapV3, AllowFallback: true},
	)

	pd, err := o.GetPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCombined, pd.Source)
	assert.InDelta(t, 0.976, pd.Price, 1e-9)
}

func TestGetPrice_RejectsNonPositive(t *testing.T) {
	o := New(
		&stubSource{price: -1, confidence: 1},
		&stubSource{price: 0, confidence: 1},
		Options{AllowFallback: true},
	)
	_, err := o.GetPrice(context.Background(), testToken)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestValidatePrice_ConfidenceGate(t *testing.T) {
	o := New(&stubSource{price: 1.0, confidence: 0.4}, nil, Options{})

	_, err := o.ValidatePrice(context.Background(), testToken, 0.5)
	assert.Error(t, err)

	pd, err := o.ValidatePrice(context.Background(), testToken, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pd.Price)
}

func TestChainlinkConfidence(t *testing.T) {
	stale := time.Hour
	now := int64(1_700_000_000)
	round := big.NewInt(100)

	// Fresh round, consistent answer
	assert.Equal(t, 1.0, chainlinkConfidence(now, now-10, stale, round, round))

	// One second inside the window is still fresh.
	assert.Equal(t, 1.0, chainlinkConfidence(now, now-3599, stale, round, round))

	// Exactly at the stale threshold counts as stale.
	assert.InDelta(t, 0.5, chainlinkConfidence(now, now-3600, stale, round, round), 1e-9)

	// Lagging answeredInRound
	assert.InDelta(t, 0.7, chainlinkConfidence(now, now-10, stale, round, big.NewInt(99)), 1e-9)

	// Both penalties stack.
	assert.InDelta(t, 0.35, chainlinkConfidence(now, now-7200, stale, round, big.NewInt(99)), 1e-9)
}

func TestTwapConfidence(t *testing.T) {
	// Deviation buckets
	assert.InDelta(t, 1.0, twapConfidence(1.00, 1.00, 1800), 1e-9)
	assert.InDelta(t, 0.9, twapConfidence(1.03, 1.00, 1800), 1e-9)
	assert.InDelta(t, 0.7, twapConfidence(1.06, 1.00, 1800), 1e-9)
	assert.InDelta(t, 0.5, twapConfidence(1.20, 1.00, 1800), 1e-9)

	// Short-window multiplier applies under 300s.
	assert.InDelta(t, 0.8, twapConfidence(1.00, 1.00, 299), 1e-9)
	assert.InDelta(t, 1.0, twapConfidence(1.00, 1.00, 300), 1e-9)

	// Stacked: big deviation and short window
	assert.InDelta(t, 0.4, twapConfidence(1.20, 1.00, 200), 1e-9)
}

func TestParseSignedWord(t *testing.T) {
	pos := make([]byte, 32)
	pos[31] = 42
	assert.Equal(t, int64(42), parseSignedWord(pos).Int64())

	neg := make([]byte, 32)
	for i := range neg {
		neg[i] = 0xff
	}
	assert.Equal(t, int64(-1), parseSignedWord(neg).Int64())
}

func TestPriceFromTick(t *testing.T) {
	// Tick 0 with equal decimals is parity.
	assert.InDelta(t, 1.0, priceFromTick(0, 18, 18, true), 1e-12)

	// Inversion for token1-priced tokens
	p := priceFromTick(1000, 18, 18, true)
	inv := priceFromTick(1000, 18, 18, false)
	assert.InDelta(t, 1/p, inv, 1e-9)

	// Decimal adjustment: 6-decimal token vs 18-decimal WETH
	adjusted := priceFromTick(0, 6, 18, true)
	assert.InDelta(t, 1e-12, adjusted, 1e-20)
}
