package router

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/config"
	"github.com/web3guy0/execore/pkg/types"
)

// SplitRoute is one leg of a split execution plan.
type SplitRoute struct {
	Venue types.Venue
	Size  decimal.Decimal
	Price decimal.Decimal
}

// PlanSplit ranks quotes by netPrice (best first) and greedily fills
// size across up to cfg.MaxSplitPlatforms of them. It returns no
// routes unless the split's blended cost improves on the best single
// route by at least cfg.MinSplitImprovement percent.
func PlanSplit(quotes []types.Quote, side types.Side, size decimal.Decimal, cfg config.RouterConfig) []SplitRoute {
	if !cfg.AllowSplitting || len(quotes) == 0 || cfg.MaxSplitPlatforms <= 0 {
		return nil
	}

	ranked := make([]types.Quote, len(quotes))
	copy(ranked, quotes)
	sort.Slice(ranked, func(i, j int) bool {
		if side == types.SideBuy {
			return ranked[i].NetPrice.LessThan(ranked[j].NetPrice)
		}
		return ranked[i].NetPrice.GreaterThan(ranked[j].NetPrice)
	})

	limit := cfg.MaxSplitPlatforms
	if limit > len(ranked) {
		limit = len(ranked)
	}
	candidates := ranked[:limit]

	remaining := size
	var routes []SplitRoute
	splitCost := decimal.Zero
	filled := decimal.Zero
	for _, q := range candidates {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := q.AvailableSize
		if take.GreaterThan(remaining) {
			take = remaining
		}
		if take.LessThanOrEqual(decimal.Zero) {
			continue
		}
		routes = append(routes, SplitRoute{Venue: q.Venue, Size: take, Price: q.NetPrice})
		splitCost = splitCost.Add(take.Mul(q.NetPrice))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if len(routes) < 2 || filled.LessThan(size) {
		return nil
	}

	// Baseline: what the order would cost taken from the single
	// best-priced venue alone. When that venue can't cover the full
	// size, the unfilled remainder is priced at the worst candidate
	// considered, since that's the fallback a non-split execution
	// would be left with.
	bestSingle := candidates[0]
	var singleCost decimal.Decimal
	if bestSingle.AvailableSize.GreaterThanOrEqual(size) {
		singleCost = size.Mul(bestSingle.NetPrice)
	} else {
		worst := candidates[len(candidates)-1]
		singleCost = bestSingle.AvailableSize.Mul(bestSingle.NetPrice).
			Add(size.Sub(bestSingle.AvailableSize).Mul(worst.NetPrice))
	}
	if singleCost.IsZero() {
		return nil
	}

	var improvementPct decimal.Decimal
	if side == types.SideBuy {
		improvementPct = singleCost.Sub(splitCost).Div(singleCost).Mul(decimal.NewFromInt(100))
	} else {
		improvementPct = splitCost.Sub(singleCost).Div(singleCost).Mul(decimal.NewFromInt(100))
	}

	if improvementPct.LessThan(cfg.MinSplitImprovement) {
		return nil
	}

	return routes
}
