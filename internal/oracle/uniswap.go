package oracle

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/gridbase/gridbase/internal/chain"
)

// ═══════════════════════════════════════════════════════════════════════════════
// UNISWAP V3 SOURCE - Pool TWAP from cumulative tick observations
// ═══════════════════════════════════════════════════════════════════════════════

const (
	selectorGetPool   = "1698ee82" // getPool(address,address,uint24)
	selectorLiquidity = "1a686502" // liquidity()
	selectorSlot0     = "3850c7bd" // slot0()
	selectorObserve   = "883bdbfd" // observe(uint32[])
	selectorDecimals  = "313ce567" // decimals()

	shortWindowSec = 300
)

// UniswapSource derives a WETH-denominated TWAP from the deepest V3 pool.
type UniswapSource struct {
	caller    Caller
	factory   common.Address
	weth      common.Address
	windowSec int

	pools    map[common.Address]common.Address // token -> best pool, cached
	decimals map[common.Address]int32
}

// NewUniswapSource builds a TWAP source against a V3 factory.
func NewUniswapSource(caller Caller, addrs chain.Addresses, windowSec int) *UniswapSource {
	return &UniswapSource{
		caller:    caller,
		factory:   addrs.UniswapV3Factory,
		weth:      addrs.WETH,
		windowSec: windowSec,
		pools:     make(map[common.Address]common.Address),
		decimals:  make(map[common.Address]int32),
	}
}

// Read returns the pool TWAP and a confidence score. Confidence degrades
// with TWAP-to-spot deviation and with short observation windows.
func (s *UniswapSource) Read(ctx context.Context, token common.Address) (float64, float64, error) {
	pool, err := s.bestPool(ctx, token)
	if err != nil {
		return 0, 0, err
	}

	tokenDec, err := s.tokenDecimals(ctx, token)
	if err != nil {
		return 0, 0, err
	}
	wethDec, err := s.tokenDecimals(ctx, s.weth)
	if err != nil {
		return 0, 0, err
	}

	// Pool token ordering is by address; price math below produces
	// token1-per-token0 which may need inverting to WETH-per-token.
	tokenIsToken0 := tokenLess(token, s.weth)
	dec0, dec1 := tokenDec, wethDec
	if !tokenIsToken0 {
		dec0, dec1 = wethDec, tokenDec
	}

	spot, err := s.spotPrice(ctx, pool, dec0, dec1, tokenIsToken0)
	if err != nil {
		return 0, 0, err
	}

	twap, window, err := s.twapPrice(ctx, pool, dec0, dec1, tokenIsToken0)
	if err != nil {
		return 0, 0, err
	}
	if twap <= 0 || math.IsInf(twap, 0) || math.IsNaN(twap) {
		return 0, 0, fmt.Errorf("degenerate twap %v", twap)
	}

	confidence := twapConfidence(twap, spot, window)

	log.Debug().
		Str("pool", pool.Hex()).
		Float64("twap", twap).
		Float64("spot", spot).
		Int("window_sec", window).
		Float64("confidence", confidence).
		Msg("Uniswap V3 observation")

	return twap, confidence, nil
}

// bestPool enumerates the well-known fee tiers and picks the pool with the
// highest in-range liquidity.
func (s *UniswapSource) bestPool(ctx context.Context, token common.Address) (common.Address, error) {
	if pool, ok := s.pools[token]; ok {
		return pool, nil
	}

	var best common.Address
	bestLiquidity := new(big.Int)

	for _, fee := range chain.UniswapFeeTiers {
		data := common.Hex2Bytes(selectorGetPool)
		data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(s.weth.Bytes(), 32)...)
		data = append(data, common.LeftPadBytes(big.NewInt(fee).Bytes(), 32)...)

		out, err := s.caller.Call(ctx, s.factory, data)
		if err != nil || len(out) < 32 {
			continue
		}
		pool := common.BytesToAddress(out[12:32])
		if pool == (common.Address{}) {
			continue
		}

		liqOut, err := s.caller.Call(ctx, pool, common.Hex2Bytes(selectorLiquidity))
		if err != nil || len(liqOut) < 32 {
			continue
		}
		liquidity := new(big.Int).SetBytes(liqOut)
		if liquidity.Cmp(bestLiquidity) > 0 {
			bestLiquidity = liquidity
			best = pool
		}
	}

	if best == (common.Address{}) {
		return common.Address{}, fmt.Errorf("no uniswap v3 pool for token %s", token.Hex())
	}

	s.pools[token] = best
	return best, nil
}

func (s *UniswapSource) spotPrice(ctx context.Context, pool common.Address, dec0, dec1 int32, tokenIsToken0 bool) (float64, error) {
	out, err := s.caller.Call(ctx, pool, common.Hex2Bytes(selectorSlot0))
	if err != nil {
		return 0, fmt.Errorf("slot0: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("short slot0 response")
	}
	sqrtPriceX96 := new(big.Int).SetBytes(out[0:32])
	return priceFromSqrtX96(sqrtPriceX96, dec0, dec1, tokenIsToken0), nil
}

func (s *UniswapSource) twapPrice(ctx context.Context, pool common.Address, dec0, dec1 int32, tokenIsToken0 bool) (float64, int, error) {
	window := s.windowSec

	// observe([window, 0]) ABI layout: offset, length, elements
	data := common.Hex2Bytes(selectorObserve)
	data = append(data, common.LeftPadBytes(big.NewInt(32).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(2).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(int64(window)).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(0).Bytes(), 32)...)

	out, err := s.caller.Call(ctx, pool, data)
	if err != nil {
		return 0, 0, fmt.Errorf("observe: %w", err)
	}
	// Response: offset to tickCumulatives, offset to liquidity cumulatives,
	// then each array as length-prefixed words.
	if len(out) < 192 {
		return 0, 0, fmt.Errorf("short observe response: %d bytes", len(out))
	}

	tickOffset := new(big.Int).SetBytes(out[0:32]).Int64()
	if int(tickOffset)+96 > len(out) {
		return 0, 0, fmt.Errorf("observe response truncated")
	}
	arr := out[tickOffset:]
	count := new(big.Int).SetBytes(arr[0:32]).Int64()
	if count < 2 {
		return 0, 0, fmt.Errorf("observe returned %d cumulatives", count)
	}
	cumOld := parseSignedWord(arr[32:64])
	cumNow := parseSignedWord(arr[64:96])

	delta := new(big.Int).Sub(cumNow, cumOld)
	avgTick := float64(delta.Int64()) / float64(window)

	return priceFromTick(avgTick, dec0, dec1, tokenIsToken0), window, nil
}

// priceFromSqrtX96 computes (sqrtPriceX96/2^96)^2 adjusted for token
// decimals, inverted when the priced token is token1.
func priceFromSqrtX96(sqrtPriceX96 *big.Int, dec0, dec1 int32, tokenIsToken0 bool) float64 {
	ratio := new(big.Float).SetInt(sqrtPriceX96)
	ratio.Quo(ratio, new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96)))
	f, _ := ratio.Float64()
	raw := f * f
	return adjustAndOrient(raw, dec0, dec1, tokenIsToken0)
}

// priceFromTick is 1.0001^tick with the same decimal adjustment.
func priceFromTick(tick float64, dec0, dec1 int32, tokenIsToken0 bool) float64 {
	raw := math.Pow(1.0001, tick)
	return adjustAndOrient(raw, dec0, dec1, tokenIsToken0)
}

func adjustAndOrient(raw float64, dec0, dec1 int32, tokenIsToken0 bool) float64 {
	// raw is token1-per-token0 in base units; scale to human units.
	human := raw * math.Pow(10, float64(dec0-dec1))
	if tokenIsToken0 {
		return human
	}
	if human == 0 {
		return 0
	}
	return 1 / human
}

// twapConfidence starts at 1.0 and degrades with deviation from spot
// (>10% -> 0.5, >5% -> 0.7, >2% -> 0.9) plus a 0.8 multiplier for windows
// under five minutes. Clamped to [0, 1].
func twapConfidence(twap, spot float64, windowSec int) float64 {
	confidence := 1.0
	if spot > 0 {
		dev := math.Abs(twap-spot) / spot
		switch {
		case dev > 0.10:
			confidence *= 0.5
		case dev > 0.05:
			confidence *= 0.7
		case dev > 0.02:
			confidence *= 0.9
		}
	}
	if windowSec < shortWindowSec {
		confidence *= 0.8
	}
	return math.Max(0, math.Min(1, confidence))
}

func (s *UniswapSource) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	if d, ok := s.decimals[token]; ok {
		return d, nil
	}
	out, err := s.caller.Call(ctx, token, common.Hex2Bytes(selectorDecimals))
	if err != nil {
		return 0, fmt.Errorf("token decimals: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("short decimals response")
	}
	d := int32(out[31])
	s.decimals[token] = d
	return d, nil
}

func tokenLess(a, b common.Address) bool {
	return a.Cmp(b) < 0
}
