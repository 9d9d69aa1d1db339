// Package router implements the smart order router: parallel
// multi-venue quoting, mode-based route selection, and an optional
// split planner that spreads a single order across several venues when
// doing so meaningfully beats the best single route.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/slippage"
	"github.com/web3guy0/execore/pkg/types"
)

// Quoter is the narrow surface the router needs from a venue adapter:
// just enough to build a quote, without importing internal/venue
// directly.
type Quoter interface {
	Venue() types.Venue
	GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error)
}

// FeeSchedule is a venue's maker/taker basis-point pair.
type FeeSchedule struct {
	MakerBps decimal.Decimal
	TakerBps decimal.Decimal
}

// FeatureProvider supplies the optional liquidityScore/spreadPct terms
// the balanced mode can fold in. A nil provider just drops those terms
// from the score.
type FeatureProvider interface {
	LiquidityScore(ctx context.Context, venue types.Venue, instrument string) (decimal.Decimal, error)
	SpreadPct(ctx context.Context, venue types.Venue, instrument string) (decimal.Decimal, error)
}

// Instrument is one venue's alias for the market being routed: the
// router has no single cross-venue instrument id, so callers supply
// one per venue.
type Instrument struct {
	Venue      types.Venue
	Instrument string
}

// Router quotes every configured venue for an instrument and selects a
// route.
type Router struct {
	quoters  map[types.Venue]Quoter
	fees     map[types.Venue]FeeSchedule
	features FeatureProvider
}

// New constructs a Router. features may be nil.
func New(quoters map[types.Venue]Quoter, fees map[types.Venue]FeeSchedule, features FeatureProvider) *Router {
	return &Router{quoters: quoters, fees: fees, features: features}
}

// QuoteAll quotes every venue in instruments concurrently, discarding
// quotes whose slippage exceeds maxSlippage or that errored.
func (r *Router) QuoteAll(ctx context.Context, instruments []Instrument, side types.Side, size decimal.Decimal, limitPrice *decimal.Decimal, preferMaker bool, maxSlippage decimal.Decimal) []types.Quote {
	var (
		mu     sync.Mutex
		quotes []types.Quote
		wg     sync.WaitGroup
	)

	for _, inst := range instruments {
		q, ok := r.quoters[inst.Venue]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(inst Instrument, q Quoter) {
			defer wg.Done()
			quote, err := r.quoteOne(ctx, q, inst.Instrument, side, size, limitPrice, preferMaker)
			if err != nil {
				return
			}
			if quote.Slippage.GreaterThan(maxSlippage) {
				return
			}
			mu.Lock()
			quotes = append(quotes, quote)
			mu.Unlock()
		}(inst, q)
	}

	wg.Wait()
	return quotes
}

func (r *Router) quoteOne(ctx context.Context, q Quoter, instrument string, side types.Side, size decimal.Decimal, limitPrice *decimal.Decimal, preferMaker bool) (types.Quote, error) {
	book, err := q.GetOrderbook(ctx, instrument)
	if err != nil {
		return types.Quote{}, fmt.Errorf("quote %s: %w", q.Venue(), err)
	}
	if book == nil {
		return types.Quote{}, fmt.Errorf("quote %s: nil orderbook", q.Venue())
	}

	reqPrice := book.MidPrice
	if limitPrice != nil {
		reqPrice = *limitPrice
	}
	est := slippage.EstimateSlippage(book, types.OrderRequest{Side: side, Size: size, Price: reqPrice})

	isMaker := preferMaker && limitPrice != nil && crossesFavorably(*limitPrice, side, book)

	fee := r.fees[q.Venue()]
	feeBps := fee.TakerBps
	if isMaker {
		feeBps = fee.MakerBps
	}

	netPrice := netPriceFor(side, est.ExpectedPrice, feeBps)
	available := availableSize(book, side)

	return types.Quote{
		Venue:           q.Venue(),
		Price:           est.ExpectedPrice,
		AvailableSize:   available,
		EstimatedFees:   est.ExpectedPrice.Mul(size).Mul(feeBps).Div(decimal.NewFromInt(10000)),
		NetPrice:        netPrice,
		Slippage:        est.Slippage,
		ExecutionTimeMs: 0,
		IsMaker:         isMaker,
	}, nil
}

// crossesFavorably reports whether a resting limit at price would sit
// strictly inside the spread (buy below best ask, sell above best
// bid), the condition under which a venue treats it as a maker order.
func crossesFavorably(price decimal.Decimal, side types.Side, book *types.Orderbook) bool {
	if side == types.SideBuy {
		ask, ok := book.BestAsk()
		return ok && price.LessThan(ask.Price)
	}
	bid, ok := book.BestBid()
	return ok && price.GreaterThan(bid.Price)
}

func netPriceFor(side types.Side, price, feeBps decimal.Decimal) decimal.Decimal {
	feeFrac := feeBps.Div(decimal.NewFromInt(10000))
	if side == types.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(feeFrac))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(feeFrac))
}

func availableSize(book *types.Orderbook, side types.Side) decimal.Decimal {
	levels := book.Asks
	if side == types.SideSell {
		levels = book.Bids
	}
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Size)
	}
	return total
}
