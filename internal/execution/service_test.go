package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/breaker"
	"github.com/web3guy0/execore/internal/slippage"
	"github.com/web3guy0/execore/internal/venue"
	"github.com/web3guy0/execore/pkg/types"
)

type fakeAdapter struct {
	venueName types.Venue
	placeFn   func(req types.OrderRequest) (types.OrderResult, error)
	book      *types.Orderbook
	open      []types.OpenOrder
	placed    []types.OrderRequest
}

func (f *fakeAdapter) Venue() types.Venue { return f.venueName }

func (f *fakeAdapter) Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	f.placed = append(f.placed, req)
	if f.placeFn != nil {
		return f.placeFn(req)
	}
	return types.OrderResult{Success: true, OrderID: "ord-1", AvgFillPrice: req.Price}, nil
}

func (f *fakeAdapter) PlaceBatch(ctx context.Context, reqs []types.OrderRequest) ([]types.OrderResult, error) {
	out := make([]types.OrderResult, len(reqs))
	for i, r := range reqs {
		out[i], _ = f.Place(ctx, r)
	}
	return out, nil
}

func (f *fakeAdapter) Cancel(ctx context.Context, orderID string) (bool, error) { return true, nil }
func (f *fakeAdapter) CancelBatch(ctx context.Context, orderIDs []string) ([]venue.CancelResult, error) {
	out := make([]venue.CancelResult, len(orderIDs))
	for i, id := range orderIDs {
		out[i] = venue.CancelResult{OrderID: id, Success: true}
	}
	return out, nil
}
func (f *fakeAdapter) CancelAll(ctx context.Context, marketFilter string) (int, error) { return 0, nil }
func (f *fakeAdapter) ListOpen(ctx context.Context) ([]types.OpenOrder, error)         { return f.open, nil }
func (f *fakeAdapter) GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error) {
	return f.book, nil
}
func (f *fakeAdapter) GetPrice(ctx context.Context, instrument string) (*types.Price, error) {
	return nil, nil
}

func baseReq(v types.Venue) types.OrderRequest {
	return types.OrderRequest{
		Venue:      v,
		Instrument: "tok",
		Price:      decimal.NewFromFloat(0.5),
		Size:       decimal.NewFromInt(10),
	}
}

func newTestService(a *fakeAdapter) *Service {
	adapters := map[types.Venue]venue.Adapter{a.venueName: a}
	return New(adapters, decimal.NewFromInt(10000), slippage.Guard{MaxSlippage: decimal.NewFromFloat(0.5)}, "0xabc")
}

func TestBuyLimitSetsSideAndDiscipline(t *testing.T) {
	a := &fakeAdapter{venueName: types.VenuePolymarket}
	s := newTestService(a)
	res, err := s.BuyLimit(context.Background(), baseReq(types.VenuePolymarket))
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v err=%v", res, err)
	}
	if a.placed[0].Side != types.SideBuy || a.placed[0].Discipline != types.DisciplineGTC {
		t.Fatalf("unexpected request shape: %+v", a.placed[0])
	}
}

func TestMarketBuyForcesPriceAndFOK(t *testing.T) {
	a := &fakeAdapter{venueName: types.VenuePolymarket}
	s := newTestService(a)
	_, err := s.MarketBuy(context.Background(), baseReq(types.VenuePolymarket))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := a.placed[0]
	if !req.Price.Equal(decimal.NewFromFloat(0.99)) || req.Discipline != types.DisciplineFOK {
		t.Fatalf("expected 0.99/FOK, got %+v", req)
	}
}

func TestMakerSellSetsPostOnly(t *testing.T) {
	a := &fakeAdapter{venueName: types.VenuePolymarket}
	s := newTestService(a)
	_, err := s.MakerSell(context.Background(), baseReq(types.VenuePolymarket))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.placed[0].PostOnly || a.placed[0].Side != types.SideSell {
		t.Fatalf("expected postOnly sell, got %+v", a.placed[0])
	}
}

func TestPlaceRejectsThroughValidatorWithoutCallingAdapter(t *testing.T) {
	a := &fakeAdapter{venueName: types.VenuePolymarket}
	s := newTestService(a)
	req := baseReq(types.VenuePolymarket)
	req.Price = decimal.NewFromFloat(5.0)
	res, err := s.BuyLimit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected validator rejection")
	}
	if len(a.placed) != 0 {
		t.Fatal("adapter should never see an invalid order")
	}
}

func TestPlaceOrdersBatchSplitsByVenueAndPreservesOrder(t *testing.T) {
	v1 := &fakeAdapter{venueName: types.VenuePolymarket}
	v2 := &fakeAdapter{venueName: types.VenueKalshi}
	adapters := map[types.Venue]venue.Adapter{types.VenuePolymarket: v1, types.VenueKalshi: v2}
	s := New(adapters, decimal.NewFromInt(10000), slippage.Guard{}, "0xabc")

	reqs := []types.OrderRequest{
		baseReq(types.VenuePolymarket),
		baseReq(types.VenueKalshi),
		baseReq(types.VenuePolymarket),
	}
	reqs[1].Instrument = ""
	reqs[1].Market = "TICKER-1"

	results, err := s.PlaceOrdersBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if !r.Success {
			t.Fatalf("expected all to succeed, result %d: %+v", i, r)
		}
	}
}

func TestPlaceOrdersBatchUnknownVenueDoesNotAbortRemainder(t *testing.T) {
	v1 := &fakeAdapter{venueName: types.VenuePolymarket}
	adapters := map[types.Venue]venue.Adapter{types.VenuePolymarket: v1}
	s := New(adapters, decimal.NewFromInt(10000), slippage.Guard{}, "0xabc")

	reqs := []types.OrderRequest{
		baseReq(types.VenueOpinion), // not configured
		baseReq(types.VenuePolymarket),
	}
	reqs[0].Instrument = "tok2"
	results, err := s.PlaceOrdersBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Success {
		t.Fatal("expected failure for unconfigured venue")
	}
	if !results[1].Success {
		t.Fatal("expected the configured venue's order to still succeed")
	}
}

func TestGetOrderFiltersOpenOrders(t *testing.T) {
	a := &fakeAdapter{
		venueName: types.VenuePolymarket,
		open: []types.OpenOrder{
			{OrderID: "a"}, {OrderID: "b"},
		},
	}
	s := newTestService(a)
	found, err := s.GetOrder(context.Background(), types.VenuePolymarket, "b")
	if err != nil || found == nil || found.OrderID != "b" {
		t.Fatalf("expected order b, got %+v err=%v", found, err)
	}

	missing, err := s.GetOrder(context.Background(), types.VenuePolymarket, "z")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing order, got %+v err=%v", missing, err)
	}
}

func TestCircuitBreakerAttachedThroughSetter(t *testing.T) {
	a := &fakeAdapter{venueName: types.VenuePolymarket}
	s := newTestService(a)

	if _, ok := s.GetCircuitBreakerState(); ok {
		t.Fatal("expected no breaker state before SetCircuitBreaker")
	}

	br := breaker.New(breaker.Config{
		MaxLossUsd:      decimal.NewFromInt(100),
		MaxPositionSize: decimal.NewFromInt(1000),
		MaxDailyTrades:  50,
		InitialBalance:  decimal.NewFromInt(1000),
	})
	s.SetCircuitBreaker(br)

	state, ok := s.GetCircuitBreakerState()
	if !ok {
		t.Fatal("expected breaker state after SetCircuitBreaker")
	}
	if state.IsTripped {
		t.Fatal("expected fresh breaker to be untripped")
	}

	br.Trip(breaker.ReasonManual)
	req := baseReq(types.VenuePolymarket)
	res, err := s.BuyLimit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected order to be rejected once the attached breaker is tripped")
	}

	state, _ = s.GetCircuitBreakerState()
	if !state.IsTripped || state.TripReason != breaker.ReasonManual {
		t.Fatalf("expected snapshot to reflect the manual trip, got %+v", state)
	}

	s.SetCircuitBreaker(nil)
	if _, ok := s.GetCircuitBreakerState(); ok {
		t.Fatal("expected no breaker state after detaching")
	}
}
