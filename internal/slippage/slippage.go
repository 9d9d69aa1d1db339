// Package slippage implements the VWAP orderbook walk, the pre-trade
// slippage guard, and the bounded-retry protected execution wrapper
// that sit between the validator gate and a venue adapter's Place.
package slippage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/execerr"
	"github.com/web3guy0/execore/pkg/types"
)

var (
	minPrice = decimal.NewFromFloat(0.01)
	maxPrice = decimal.NewFromFloat(0.99)

	heuristicBase      = decimal.NewFromFloat(0.005)
	heuristicSizeCoeff = decimal.NewFromFloat(0.0001)
	heuristicCap       = decimal.NewFromFloat(0.05)

	minFillableFraction = decimal.NewFromFloat(0.5)
)

// Estimate is the result of estimateSlippage.
type Estimate struct {
	Slippage      decimal.Decimal
	ExpectedPrice decimal.Decimal
}

// Guard holds the slippage configuration shared by protectedBuy/Sell
// and executeWithProtection.
type Guard struct {
	MaxSlippage              decimal.Decimal
	CheckOrderbook           bool
	AutoCancel               bool
	UseLimitOrders           bool
	LimitPriceBuffer         decimal.Decimal
	AbortOnExcessiveSlippage bool
	MaxRetries               int
	RetryDelay               time.Duration
}

// Placer is the narrow surface Guard needs from the execution layer:
// just enough to submit an order and read a book, without importing
// the venue or execution packages directly.
type Placer interface {
	GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error)
	Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
}

// EstimateSlippage walks the relevant side of the orderbook consuming size to
// compute a VWAP fill price, then derives slippage against the book's
// mid price. Buys are penalized for paying above mid, sells for
// selling below it; the result is clamped at zero so favorable moves
// never read as negative slippage. When the book is empty or can fill
// less than half the requested size, falls back to a fixed heuristic.
func EstimateSlippage(book *types.Orderbook, req types.OrderRequest) Estimate {
	if book == nil {
		return heuristic(req)
	}

	levels := book.Asks
	if req.Side == types.SideSell {
		levels = book.Bids
	}

	remaining := req.Size
	notional := decimal.Zero
	filled := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := lvl.Size
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(take.Mul(lvl.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if req.Size.IsZero() || filled.Div(req.Size).LessThan(minFillableFraction) {
		return heuristic(req)
	}

	fillPrice := notional.Div(filled)

	var slip decimal.Decimal
	if req.Side == types.SideBuy {
		slip = fillPrice.Sub(book.MidPrice).Div(book.MidPrice)
	} else {
		slip = book.MidPrice.Sub(fillPrice).Div(book.MidPrice)
	}
	if slip.IsNegative() {
		slip = decimal.Zero
	}

	return Estimate{Slippage: slip, ExpectedPrice: fillPrice}
}

func heuristic(req types.OrderRequest) Estimate {
	sizePart := req.Size.Mul(heuristicSizeCoeff)
	if sizePart.GreaterThan(heuristicCap) {
		sizePart = heuristicCap
	}
	return Estimate{
		Slippage:      heuristicBase.Add(sizePart),
		ExpectedPrice: req.Price,
	}
}

// Protect runs the slippage guard ahead of a single place call. It
// never submits an order itself if the estimate exceeds max; the
// caller's Placer.Place is only invoked once the guard clears.
func Protect(ctx context.Context, p Placer, g Guard, req types.OrderRequest, maxOverride *decimal.Decimal) (types.OrderResult, error) {
	max := g.MaxSlippage
	if maxOverride != nil {
		max = *maxOverride
	}

	var book *types.Orderbook
	if g.CheckOrderbook {
		b, err := p.GetOrderbook(ctx, req.Instrument)
		if err != nil {
			return types.OrderResult{}, fmt.Errorf("slippage: fetch orderbook: %w", err)
		}
		book = b
	}

	est := EstimateSlippage(book, req)
	if est.Slippage.GreaterThan(max) {
		return types.OrderResult{
			Success: false,
			Error:   execerr.New(execerr.CodeSlippageExceeded, fmt.Sprintf("estimated slippage %s exceeds max %s", est.Slippage, max)).Error(),
		}, nil
	}

	if g.UseLimitOrders {
		req = toLimit(req, est.ExpectedPrice, g.LimitPriceBuffer)
	}

	return p.Place(ctx, req)
}

func toLimit(req types.OrderRequest, expected, buffer decimal.Decimal) types.OrderRequest {
	var limit decimal.Decimal
	if req.Side == types.SideBuy {
		limit = expected.Mul(decimal.NewFromInt(1).Add(buffer))
	} else {
		limit = expected.Mul(decimal.NewFromInt(1).Sub(buffer))
	}
	if limit.LessThan(minPrice) {
		limit = minPrice
	}
	if limit.GreaterThan(maxPrice) {
		limit = maxPrice
	}
	req.Price = limit
	req.Discipline = types.DisciplineGTC
	return req
}

// ProtectionResult is what executeWithProtection returns.
type ProtectionResult struct {
	Success        bool
	ActualSlippage decimal.Decimal
	Retries        int
	AbortReason    string
}

// ExecuteWithProtection retries Protect up to g.MaxRetries times,
// re-checking the orderbook each iteration, aborting early if a fresh
// estimate exceeds max and AbortOnExcessiveSlippage is set.
func ExecuteWithProtection(ctx context.Context, p Placer, g Guard, req types.OrderRequest, maxOverride *decimal.Decimal) ProtectionResult {
	var lastResult types.OrderResult
	for attempt := 0; attempt <= g.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ProtectionResult{Success: false, Retries: attempt, AbortReason: "context cancelled"}
			case <-time.After(g.RetryDelay):
			}
		}

		if g.AbortOnExcessiveSlippage && g.CheckOrderbook {
			book, err := p.GetOrderbook(ctx, req.Instrument)
			if err == nil {
				est := EstimateSlippage(book, req)
				max := g.MaxSlippage
				if maxOverride != nil {
					max = *maxOverride
				}
				if est.Slippage.GreaterThan(max) {
					return ProtectionResult{Success: false, Retries: attempt, AbortReason: "slippage exceeded cap"}
				}
			}
		}

		res, err := Protect(ctx, p, g, req, maxOverride)
		lastResult = res
		if err == nil && res.Success {
			actual := decimal.Zero
			if !res.AvgFillPrice.IsZero() {
				actual = res.AvgFillPrice.Sub(req.Price).Div(req.Price).Abs()
			}
			return ProtectionResult{Success: true, ActualSlippage: actual, Retries: attempt}
		}
	}

	reason := "max retries exhausted"
	if lastResult.Error != "" {
		reason = lastResult.Error
	}
	return ProtectionResult{Success: false, Retries: g.MaxRetries, AbortReason: reason}
}
