package redeem

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

type fakeReader struct {
	mu        sync.Mutex
	denom     map[string]uint64
	balance   map[string]decimal.Decimal
	denomErr  error
	balErr    error
	denomCall int
}

func newFakeReader() *fakeReader {
	return &fakeReader{denom: make(map[string]uint64), balance: make(map[string]decimal.Decimal)}
}

func (f *fakeReader) PayoutDenominator(ctx context.Context, conditionID string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denomCall++
	if f.denomErr != nil {
		return 0, f.denomErr
	}
	return f.denom[conditionID], nil
}

func (f *fakeReader) TokenBalance(ctx context.Context, conditionID string, indexSet uint) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return decimal.Zero, f.balErr
	}
	return f.balance[conditionID], nil
}

type fakeRedeemer struct {
	mu      sync.Mutex
	calls   []string
	negRisk []bool
	fail    bool
}

func (f *fakeRedeemer) RedeemPositions(ctx context.Context, conditionID string, indexSets []uint, negRisk bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("submit failed")
	}
	f.calls = append(f.calls, conditionID)
	f.negRisk = append(f.negRisk, negRisk)
	return "0xtxhash", nil
}

func TestSweepSkipsUnresolvedCondition(t *testing.T) {
	reader := newFakeReader()
	redeemer := &fakeRedeemer{}
	s := New(reader, redeemer, 0)

	events := s.Sweep(context.Background(), []Position{
		{ConditionID: "c1", InstrumentID: "i1", Size: decimal.NewFromInt(10)},
	})
	if len(events) != 0 {
		t.Fatalf("expected no events for unresolved condition, got %+v", events)
	}
	if s.IsRedeemed("c1") {
		t.Fatal("unresolved condition should not be marked redeemed")
	}
}

func TestSweepMarksZeroBalanceAsExpired(t *testing.T) {
	reader := newFakeReader()
	reader.denom["c1"] = 1
	reader.balance["c1"] = decimal.Zero
	redeemer := &fakeRedeemer{}
	s := New(reader, redeemer, 0)

	events := s.Sweep(context.Background(), []Position{
		{ConditionID: "c1", InstrumentID: "i1", Size: decimal.NewFromInt(10)},
	})
	if len(events) != 1 || events[0].Status != StatusExpired {
		t.Fatalf("expected one position_expired event, got %+v", events)
	}
	if !s.IsRedeemed("c1") {
		t.Fatal("expected condition to be marked redeemed after expiry")
	}
	if len(redeemer.calls) != 0 {
		t.Fatalf("expected no redemption tx for a losing position, got %+v", redeemer.calls)
	}
}

func TestSweepRedeemsWinningPosition(t *testing.T) {
	reader := newFakeReader()
	reader.denom["c1"] = 1
	reader.balance["c1"] = decimal.NewFromInt(100)
	redeemer := &fakeRedeemer{}
	s := New(reader, redeemer, 0)

	events := s.Sweep(context.Background(), []Position{
		{ConditionID: "c1", InstrumentID: "i1", Size: decimal.NewFromInt(10), NegRisk: true},
	})
	if len(events) != 1 || events[0].Status != StatusRedeemed || events[0].TxHash != "0xtxhash" {
		t.Fatalf("expected one redemption_success event, got %+v", events)
	}
	if !s.IsRedeemed("c1") {
		t.Fatal("expected condition to be marked redeemed")
	}
	if len(redeemer.negRisk) != 1 || !redeemer.negRisk[0] {
		t.Fatalf("expected negRisk flag to be forwarded, got %+v", redeemer.negRisk)
	}
}

func TestSweepRecordsPendingRetryOnSubmitFailure(t *testing.T) {
	reader := newFakeReader()
	reader.denom["c1"] = 1
	reader.balance["c1"] = decimal.NewFromInt(100)
	redeemer := &fakeRedeemer{fail: true}
	s := New(reader, redeemer, 0)

	events := s.Sweep(context.Background(), []Position{
		{ConditionID: "c1", InstrumentID: "i1", Size: decimal.NewFromInt(10)},
	})
	if len(events) != 1 || events[0].Status != StatusFailed {
		t.Fatalf("expected one redemption_failed event, got %+v", events)
	}
	if s.IsRedeemed("c1") {
		t.Fatal("a failed redemption should not be marked redeemed")
	}

	s.mu.Lock()
	_, pending := s.pending["c1"]
	s.mu.Unlock()
	if !pending {
		t.Fatal("expected the failed position to be queued for retry")
	}
}

func TestSweepSkipsAlreadyRedeemedAndNonPositiveSize(t *testing.T) {
	reader := newFakeReader()
	reader.denom["c1"] = 1
	reader.balance["c1"] = decimal.NewFromInt(100)
	redeemer := &fakeRedeemer{}
	s := New(reader, redeemer, 0)

	s.Sweep(context.Background(), []Position{{ConditionID: "c1", Size: decimal.NewFromInt(10)}})
	if len(redeemer.calls) != 1 {
		t.Fatalf("expected one redemption on first sweep, got %d", len(redeemer.calls))
	}

	// Second sweep with the same condition shouldn't resubmit.
	events := s.Sweep(context.Background(), []Position{{ConditionID: "c1", Size: decimal.NewFromInt(10)}})
	if len(events) != 0 {
		t.Fatalf("expected no events for an already-redeemed condition, got %+v", events)
	}
	if len(redeemer.calls) != 1 {
		t.Fatalf("expected no second redemption tx, got %d calls", len(redeemer.calls))
	}

	events = s.Sweep(context.Background(), []Position{{ConditionID: "c2", Size: decimal.Zero}})
	if len(events) != 0 {
		t.Fatalf("expected zero-size position to be skipped, got %+v", events)
	}
}

func TestSweepRetriesPendingPositionOnNextCall(t *testing.T) {
	reader := newFakeReader()
	reader.denom["c1"] = 1
	reader.balance["c1"] = decimal.NewFromInt(100)
	redeemer := &fakeRedeemer{fail: true}
	s := New(reader, redeemer, 0)

	s.Sweep(context.Background(), []Position{{ConditionID: "c1", Size: decimal.NewFromInt(10)}})

	redeemer.fail = false
	events := s.Sweep(context.Background(), nil)
	if len(events) != 1 || events[0].Status != StatusRedeemed {
		t.Fatalf("expected the carried-over pending position to redeem on retry, got %+v", events)
	}
}
