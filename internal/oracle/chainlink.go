package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHAINLINK SOURCE - Aggregator proxy reads with staleness scoring
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// Aggregator function selectors
	selectorLatestRoundData = "feaf968c" // latestRoundData()
	selectorFeedDecimals    = "313ce567" // decimals()
)

// Caller performs read-only contract calls. Satisfied by chain.Client.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// ChainlinkSource reads token prices from Chainlink aggregator proxies.
type ChainlinkSource struct {
	caller Caller
	feeds  map[common.Address]common.Address // token -> aggregator proxy
	stale  time.Duration
	now    func() time.Time

	decimals map[common.Address]int32 // feed -> cached decimals
}

// NewChainlinkSource builds a source over a token->feed mapping.
func NewChainlinkSource(caller Caller, feeds map[common.Address]common.Address, stale time.Duration) *ChainlinkSource {
	return &ChainlinkSource{
		caller:   caller,
		feeds:    feeds,
		stale:    stale,
		now:      time.Now,
		decimals: make(map[common.Address]int32),
	}
}

// Read fetches the latest round and scores its confidence. Starts at 1.0,
// halves when the round is stale (age >= threshold, boundary inclusive) and
// takes a 0.7 multiplier when answeredInRound lags roundId.
func (s *ChainlinkSource) Read(ctx context.Context, token common.Address) (float64, float64, error) {
	feed, ok := s.feeds[token]
	if !ok {
		return 0, 0, fmt.Errorf("no chainlink feed for token %s", token.Hex())
	}

	out, err := s.caller.Call(ctx, feed, common.Hex2Bytes(selectorLatestRoundData))
	if err != nil {
		return 0, 0, fmt.Errorf("latestRoundData: %w", err)
	}
	if len(out) < 160 {
		return 0, 0, fmt.Errorf("short latestRoundData response: %d bytes", len(out))
	}

	roundID := new(big.Int).SetBytes(out[0:32])
	answer := parseSignedWord(out[32:64])
	updatedAt := new(big.Int).SetBytes(out[96:128]).Int64()
	answeredInRound := new(big.Int).SetBytes(out[128:160])

	if answer.Sign() <= 0 {
		return 0, 0, fmt.Errorf("chainlink answer not positive: %s", answer)
	}

	dec, err := s.feedDecimals(ctx, feed)
	if err != nil {
		return 0, 0, err
	}

	price := new(big.Float).SetInt(answer)
	price.Quo(price, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)))
	p, _ := price.Float64()

	confidence := chainlinkConfidence(s.now().Unix(), updatedAt, s.stale, roundID, answeredInRound)

	log.Debug().
		Str("feed", feed.Hex()).
		Float64("price", p).
		Float64("confidence", confidence).
		Int64("updated_at", updatedAt).
		Msg("Chainlink round")

	return p, confidence, nil
}

func (s *ChainlinkSource) feedDecimals(ctx context.Context, feed common.Address) (int32, error) {
	if d, ok := s.decimals[feed]; ok {
		return d, nil
	}
	out, err := s.caller.Call(ctx, feed, common.Hex2Bytes(selectorFeedDecimals))
	if err != nil {
		return 0, fmt.Errorf("feed decimals: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("short decimals response")
	}
	d := int32(out[31])
	s.decimals[feed] = d
	return d, nil
}

// chainlinkConfidence scores a round. Age at exactly the stale threshold
// counts as stale.
func chainlinkConfidence(nowUnix, updatedAt int64, stale time.Duration, roundID, answeredInRound *big.Int) float64 {
	confidence := 1.0
	if nowUnix-updatedAt >= int64(stale.Seconds()) {
		confidence *= 0.5
	}
	if answeredInRound.Cmp(roundID) < 0 {
		confidence *= 0.7
	}
	return confidence
}

// parseSignedWord interprets a 32-byte word as a two's-complement int256.
func parseSignedWord(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) == 32 && b[0]&0x80 != 0 {
		max := new(big.Int).Lsh(big.NewInt(1), 256)
		v.Sub(v, max)
	}
	return v
}
