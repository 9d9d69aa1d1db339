package execution

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

func TestGetPendingSettlementsSkipsUnresolved(t *testing.T) {
	a := &fakeAdapter{venueName: types.VenuePolymarket}
	s := newTestService(a)
	s.resolveFn = func(ctx context.Context, conditionID string) (bool, error) { return false, nil }

	out, err := s.GetPendingSettlements(context.Background(), []PositionHolding{
		{ConditionID: "c1", InstrumentID: "i1", Size: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no pending settlements for unresolved condition, got %+v", out)
	}
}

func TestGetPendingSettlementsIncludesResolvedWithClaimable(t *testing.T) {
	a := &fakeAdapter{venueName: types.VenuePolymarket}
	s := newTestService(a)
	s.resolveFn = func(ctx context.Context, conditionID string) (bool, error) { return true, nil }

	out, err := s.GetPendingSettlements(context.Background(), []PositionHolding{
		{ConditionID: "c1", InstrumentID: "i1", Size: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || !out[0].Claimable.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected one claimable settlement of 10, got %+v", out)
	}
}

func TestGetPendingSettlementsSkipsZeroSizeHoldings(t *testing.T) {
	a := &fakeAdapter{venueName: types.VenuePolymarket}
	s := newTestService(a)
	s.resolveFn = func(ctx context.Context, conditionID string) (bool, error) { return true, nil }

	out, err := s.GetPendingSettlements(context.Background(), []PositionHolding{
		{ConditionID: "c1", InstrumentID: "i1", Size: decimal.Zero},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected zero-size holding to be skipped, got %+v", out)
	}
}
