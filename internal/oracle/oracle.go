package oracle

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/gridbase/gridbase/internal/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE ORACLE - Chainlink + Uniswap V3 TWAP with cross-validation
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two independent sources feed one price(token) -> (price, confidence,
// source) function. Agreement within 5% combines them; disagreement returns
// the higher-confidence source with a penalty.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrNoPrice is returned when no source produced a usable observation.
var ErrNoPrice = errors.New("no price source available")

const (
	agreementThreshold  = 0.05
	combinedBonus       = 0.1
	disagreementPenalty = 0.2
	disagreementFloor   = 0.3
)

// Source is a single price backend.
type Source interface {
	Read(ctx context.Context, token common.Address) (price, confidence float64, err error)
}

// Options select source preference and fallback behavior.
type Options struct {
	Preferred     model.PriceSource // SourceChainlink or SourceUniswapV3
	AllowFallback bool
	Timeout       time.Duration
}

// Oracle aggregates the configured sources into one PriceData per call.
type Oracle struct {
	chainlink Source
	uniswap   Source
	opts      Options
	now       func() time.Time
}

// New builds an oracle. Either source may be nil when not configured.
func New(chainlink, uniswap Source, opts Options) *Oracle {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Preferred == "" {
		opts.Preferred = model.SourceChainlink
	}
	return &Oracle{chainlink: chainlink, uniswap: uniswap, opts: opts, now: time.Now}
}

type observation struct {
	price      float64
	confidence float64
	source     model.PriceSource
}

// GetPrice returns the aggregated price for a token, or ErrNoPrice.
func (o *Oracle) GetPrice(ctx context.Context, token common.Address) (*model.PriceData, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	primary, secondary := o.ordered()

	first := o.read(ctx, primary, token)
	var second *observation
	if o.opts.AllowFallback {
		second = o.read(ctx, secondary, token)
	}

	result := aggregate(first, second)
	if result == nil {
		return nil, ErrNoPrice
	}

	return &model.PriceData{
		Price:        result.price,
		Source:       result.source,
		Confidence:   result.confidence,
		Timestamp:    o.now(),
		TokenAddress: token.Hex(),
	}, nil
}

// ValidatePrice fetches and gates a price against a confidence floor.
func (o *Oracle) ValidatePrice(ctx context.Context, token common.Address, minConfidence float64) (*model.PriceData, error) {
	pd, err := o.GetPrice(ctx, token)
	if err != nil {
		return nil, err
	}
	if pd.Confidence < minConfidence {
		return nil, errors.New("price confidence below threshold")
	}
	if pd.Price <= 0 || math.IsNaN(pd.Price) || math.IsInf(pd.Price, 0) {
		return nil, errors.New("price not finite and positive")
	}
	return pd, nil
}

func (o *Oracle) ordered() (primary, secondary sourceRef) {
	cl := sourceRef{o.chainlink, model.SourceChainlink}
	uni := sourceRef{o.uniswap, model.SourceUniswapV3}
	if o.opts.Preferred == model.SourceUniswapV3 {
		return uni, cl
	}
	return cl, uni
}

type sourceRef struct {
	src  Source
	name model.PriceSource
}

func (o *Oracle) read(ctx context.Context, ref sourceRef, token common.Address) *observation {
	if ref.src == nil {
		return nil
	}
	price, confidence, err := ref.src.Read(ctx, token)
	if err != nil {
		log.Debug().Err(err).Str("source", string(ref.name)).Msg("Price source failed")
		return nil
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil
	}
	return &observation{price: price, confidence: confidence, source: ref.name}
}

// aggregate cross-validates up to two observations.
func aggregate(a, b *observation) *observation {
	switch {
	case a == nil && b == nil:
		return nil
	case b == nil:
		return a
	case a == nil:
		return b
	}

	deviation := math.Abs(a.price-b.price) / deviationBase(a, b)
	if deviation < agreementThreshold {
		mean := (a.price + b.price) / 2
		confidence := math.Min(1, (a.confidence+b.confidence)/2+combinedBonus)
		return &observation{price: mean, confidence: confidence, source: model.SourceCombined}
	}

	// Sources disagree: trust the more confident one, penalized.
	winner := a
	if b.confidence > a.confidence {
		winner = b
	}
	confidence := math.Max(disagreementFloor, winner.confidence-disagreementPenalty)

	log.Warn().
		Float64("deviation", deviation).
		Str("winner", string(winner.source)).
		Float64("confidence", confidence).
		Msg("⚠️ Price sources disagree")

	return &observation{price: winner.price, confidence: confidence, source: winner.source}
}

// deviationBase anchors the deviation to the Chainlink observation, so the
// agreement threshold reads the same regardless of which source is
// preferred.
func deviationBase(a, b *observation) float64 {
	if b.source == model.SourceChainlink {
		return b.price
	}
	return a.price
}
