package router

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/config"
	"github.com/web3guy0/execore/pkg/types"
)

// Mode is a route selection strategy.
type Mode string

const (
	ModeBestPrice     Mode = "best_price"
	ModeBestLiquidity Mode = "best_liquidity"
	ModeLowestFee     Mode = "lowest_fee"
	ModeBalanced      Mode = "balanced"
)

var (
	balancedPriceWeight = decimal.NewFromFloat(0.5)
	balancedSizeWeight  = decimal.NewFromFloat(0.3)
	balancedFeeWeight   = decimal.NewFromFloat(0.2)
	balancedSizeDivisor = decimal.NewFromInt(10000)
	balancedFeeDivisor  = decimal.NewFromInt(100)
	spreadPenalty       = decimal.NewFromFloat(0.05)
)

// Select picks the best quote from quotes under mode. instrument is
// used only to look up the optional feature-provider terms the
// balanced mode can add; quotes must be non-empty.
func (r *Router) Select(ctx context.Context, mode Mode, quotes []types.Quote, side types.Side, instrument string, cfg config.RouterConfig) (types.Quote, bool) {
	if len(quotes) == 0 {
		return types.Quote{}, false
	}

	switch mode {
	case ModeBestLiquidity:
		return pickBy(quotes, func(q types.Quote) decimal.Decimal { return q.AvailableSize }, true)
	case ModeLowestFee:
		return pickBy(quotes, func(q types.Quote) decimal.Decimal { return q.EstimatedFees }, false)
	case ModeBalanced:
		return r.pickBalanced(ctx, quotes, side, instrument, cfg)
	case ModeBestPrice:
		fallthrough
	default:
		if side == types.SideBuy {
			return pickBy(quotes, func(q types.Quote) decimal.Decimal { return q.NetPrice }, false)
		}
		return pickBy(quotes, func(q types.Quote) decimal.Decimal { return q.NetPrice }, true)
	}
}

// pickBy returns the quote maximizing (wantMax) or minimizing score.
func pickBy(quotes []types.Quote, score func(types.Quote) decimal.Decimal, wantMax bool) (types.Quote, bool) {
	best := quotes[0]
	bestScore := score(best)
	for _, q := range quotes[1:] {
		s := score(q)
		if (wantMax && s.GreaterThan(bestScore)) || (!wantMax && s.LessThan(bestScore)) {
			best = q
			bestScore = s
		}
	}
	return best, true
}

func (r *Router) pickBalanced(ctx context.Context, quotes []types.Quote, side types.Side, instrument string, cfg config.RouterConfig) (types.Quote, bool) {
	best := quotes[0]
	bestScore := r.balancedScore(ctx, best, side, instrument, cfg)
	for _, q := range quotes[1:] {
		s := r.balancedScore(ctx, q, side, instrument, cfg)
		if s.GreaterThan(bestScore) {
			best = q
			bestScore = s
		}
	}
	return best, true
}

// balancedScore computes 0.5*(price term) + 0.3*(size/10000) +
// 0.2*(-fees/100), optionally plus liquidityWeight*liquidityScore -
// 0.05*spreadPct from the feature provider.
func (r *Router) balancedScore(ctx context.Context, q types.Quote, side types.Side, instrument string, cfg config.RouterConfig) decimal.Decimal {
	priceTerm := q.NetPrice.Neg()
	if side == types.SideSell {
		priceTerm = q.NetPrice
	}

	score := balancedPriceWeight.Mul(priceTerm).
		Add(balancedSizeWeight.Mul(q.AvailableSize.Div(balancedSizeDivisor))).
		Add(balancedFeeWeight.Mul(q.EstimatedFees.Neg().Div(balancedFeeDivisor)))

	if r.features == nil {
		return score
	}

	liquidityScore, err := r.features.LiquidityScore(ctx, q.Venue, instrument)
	if err != nil {
		return score
	}
	spreadPct, err := r.features.SpreadPct(ctx, q.Venue, instrument)
	if err != nil {
		return score
	}

	return score.Add(cfg.LiquidityWeight.Mul(liquidityScore)).Sub(spreadPenalty.Mul(spreadPct))
}
