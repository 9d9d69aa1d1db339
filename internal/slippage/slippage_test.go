package slippage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

func buyReq(size float64) types.OrderRequest {
	return types.OrderRequest{
		Side:       types.SideBuy,
		Price:      decimal.NewFromFloat(0.50),
		Size:       decimal.NewFromFloat(size),
		Instrument: "tok",
	}
}

func fullBook() *types.Orderbook {
	return &types.Orderbook{
		Bids:     []types.Level{{Price: decimal.NewFromFloat(0.49), Size: decimal.NewFromInt(1000)}},
		Asks:     []types.Level{{Price: decimal.NewFromFloat(0.51), Size: decimal.NewFromInt(1000)}},
		MidPrice: decimal.NewFromFloat(0.50),
	}
}

func TestEstimateSlippageWalksAsksForBuy(t *testing.T) {
	est := EstimateSlippage(fullBook(), buyReq(100))
	if !est.Slippage.GreaterThanOrEqual(decimal.Zero) {
		t.Fatalf("expected non-negative slippage, got %s", est.Slippage)
	}
	if !est.ExpectedPrice.Equal(decimal.NewFromFloat(0.51)) {
		t.Fatalf("expected fill price 0.51, got %s", est.ExpectedPrice)
	}
}

func TestEstimateSlippageFallsBackToHeuristicOnThinBook(t *testing.T) {
	thin := &types.Orderbook{
		Asks:     []types.Level{{Price: decimal.NewFromFloat(0.51), Size: decimal.NewFromInt(1)}},
		MidPrice: decimal.NewFromFloat(0.50),
	}
	est := EstimateSlippage(thin, buyReq(100))
	want := heuristicBase.Add(decimal.NewFromFloat(100).Mul(heuristicSizeCoeff))
	if !est.Slippage.Equal(want) {
		t.Fatalf("expected heuristic slippage %s, got %s", want, est.Slippage)
	}
}

func TestEstimateSlippageClampsNegativeToZero(t *testing.T) {
	book := &types.Orderbook{
		Asks:     []types.Level{{Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(1000)}},
		MidPrice: decimal.NewFromFloat(0.50),
	}
	est := EstimateSlippage(book, buyReq(100))
	if !est.Slippage.Equal(decimal.Zero) {
		t.Fatalf("expected clamped zero slippage, got %s", est.Slippage)
	}
}

type fakePlacer struct {
	book       *types.Orderbook
	bookErr    error
	placeCalls int
	placeFn    func(req types.OrderRequest) (types.OrderResult, error)
}

func (f *fakePlacer) GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error) {
	return f.book, f.bookErr
}

func (f *fakePlacer) Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	f.placeCalls++
	if f.placeFn != nil {
		return f.placeFn(req)
	}
	return types.OrderResult{Success: true, AvgFillPrice: req.Price}, nil
}

func TestProtectRejectsWhenSlippageExceedsMax(t *testing.T) {
	p := &fakePlacer{book: fullBook()}
	g := Guard{MaxSlippage: decimal.NewFromFloat(0.001), CheckOrderbook: true}
	res, err := Protect(context.Background(), p, g, buyReq(500), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected rejection, got success")
	}
	if p.placeCalls != 0 {
		t.Fatal("Place must not be called when slippage guard rejects")
	}
}

func TestProtectConvertsToLimitWhenEnabled(t *testing.T) {
	p := &fakePlacer{book: fullBook()}
	g := Guard{MaxSlippage: decimal.NewFromFloat(0.10), CheckOrderbook: true, UseLimitOrders: true, LimitPriceBuffer: decimal.NewFromFloat(0.01)}
	var captured types.OrderRequest
	p.placeFn = func(req types.OrderRequest) (types.OrderResult, error) {
		captured = req
		return types.OrderResult{Success: true, AvgFillPrice: req.Price}, nil
	}
	_, err := Protect(context.Background(), p, g, buyReq(10), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.Discipline != types.DisciplineGTC {
		t.Fatalf("expected limit conversion to set GTC, got %v", captured.Discipline)
	}
}

func TestExecuteWithProtectionSucceedsFirstTry(t *testing.T) {
	p := &fakePlacer{book: fullBook()}
	g := Guard{MaxSlippage: decimal.NewFromFloat(0.10), CheckOrderbook: true, MaxRetries: 3, RetryDelay: time.Millisecond}
	res := ExecuteWithProtection(context.Background(), p, g, buyReq(10), nil)
	if !res.Success || res.Retries != 0 {
		t.Fatalf("expected immediate success, got %+v", res)
	}
}

func TestExecuteWithProtectionExhaustsRetries(t *testing.T) {
	p := &fakePlacer{book: fullBook()}
	p.placeFn = func(req types.OrderRequest) (types.OrderResult, error) {
		return types.OrderResult{Success: false, Error: "rejected"}, nil
	}
	g := Guard{MaxSlippage: decimal.NewFromFloat(0.10), CheckOrderbook: true, MaxRetries: 2, RetryDelay: time.Millisecond}
	res := ExecuteWithProtection(context.Background(), p, g, buyReq(10), nil)
	if res.Success {
		t.Fatal("expected failure after exhausting retries")
	}
	if res.Retries != 2 {
		t.Fatalf("expected 2 retries, got %d", res.Retries)
	}
}

func TestExecuteWithProtectionAbortsOnExcessiveSlippage(t *testing.T) {
	p := &fakePlacer{book: fullBook()}
	g := Guard{
		MaxSlippage:              decimal.NewFromFloat(0.001),
		CheckOrderbook:           true,
		MaxRetries:               3,
		RetryDelay:               time.Millisecond,
		AbortOnExcessiveSlippage: true,
	}
	res := ExecuteWithProtection(context.Background(), p, g, buyReq(500), nil)
	if res.Success {
		t.Fatal("expected abort")
	}
	if res.AbortReason == "" {
		t.Fatal("expected an abort reason")
	}
}

func TestProtectPropagatesOrderbookFetchError(t *testing.T) {
	p := &fakePlacer{bookErr: errors.New("network down")}
	g := Guard{MaxSlippage: decimal.NewFromFloat(0.10), CheckOrderbook: true}
	_, err := Protect(context.Background(), p, g, buyReq(10), nil)
	if err == nil {
		t.Fatal("expected error when orderbook fetch fails")
	}
}
