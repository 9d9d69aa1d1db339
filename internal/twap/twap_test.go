package twap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

type fakeExecutor struct {
	mu        sync.Mutex
	calls     int
	nextPrice decimal.Decimal
	fail      bool
	cancelled []string
}

func (f *fakeExecutor) BuyLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return f.place(req)
}

func (f *fakeExecutor) SellLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return f.place(req)
}

func (f *fakeExecutor) place(req types.OrderRequest) (types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return types.OrderResult{Success: false, Error: "rejected"}, nil
	}
	price := f.nextPrice
	if price.IsZero() {
		price = req.Price
	}
	return types.OrderResult{Success: true, OrderID: "slice-" + decimal.NewFromInt(int64(f.calls)).String(), FilledSize: req.Size, AvgFillPrice: price}, nil
}

func (f *fakeExecutor) CancelOrder(ctx context.Context, v types.Venue, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return true, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func baseConfig() Config {
	return Config{
		Venue:      types.VenuePolymarket,
		Market:     "m1",
		Instrument: "tok-1",
		Side:       types.SideBuy,
		Discipline: types.DisciplineGTC,
		TotalSize:  decimal.NewFromInt(10),
		SliceSize:  decimal.NewFromInt(3),
		Price:      decimal.NewFromFloat(0.50),
		IntervalMs: 20,
	}
}

func waitForStatus(t *testing.T, tw *TWAP, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tw.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, got %s", want, tw.Snapshot().Status)
}

func TestSlicesTotalRoundsUp(t *testing.T) {
	tw := New("tw-1", baseConfig(), &fakeExecutor{})
	if got := tw.SlicesTotal(); got != 4 {
		t.Fatalf("expected ceil(10/3)=4 slices, got %d", got)
	}
}

func TestRunsToCompletion(t *testing.T) {
	exec := &fakeExecutor{}
	tw := New("tw-2", baseConfig(), exec)

	if err := tw.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitForStatus(t, tw, StatusCompleted, 2*time.Second)

	snap := tw.Snapshot()
	if !snap.FilledSize.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected filled size 10, got %s", snap.FilledSize)
	}
	if snap.SlicesCompleted != 4 {
		t.Fatalf("expected 4 slices completed (3+3+3+1), got %d", snap.SlicesCompleted)
	}
	if !snap.TotalCost.Equal(decimal.NewFromInt(10).Mul(decimal.NewFromFloat(0.50))) {
		t.Fatalf("expected total cost 5.0, got %s", snap.TotalCost)
	}
}

func TestLastSliceIsRemainderNotFullSliceSize(t *testing.T) {
	exec := &fakeExecutor{}
	tw := New("tw-3", baseConfig(), exec)
	if err := tw.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitForStatus(t, tw, StatusCompleted, 2*time.Second)
	if exec.callCount() != 4 {
		t.Fatalf("expected exactly 4 slice placements, got %d", exec.callCount())
	}
}

func TestPriceLimitBreachCancelsRemaining(t *testing.T) {
	exec := &fakeExecutor{nextPrice: decimal.NewFromFloat(0.70)}
	cfg := baseConfig()
	limit := decimal.NewFromFloat(0.60)
	cfg.PriceLimit = &limit
	tw := New("tw-4", cfg, exec)

	if err := tw.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitForStatus(t, tw, StatusCancelled, 2*time.Second)

	snap := tw.Snapshot()
	if snap.SlicesCompleted != 1 {
		t.Fatalf("expected exactly one slice before the price-limit abort, got %d", snap.SlicesCompleted)
	}
}

func TestMaxDurationWatchdogCancels(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := baseConfig()
	cfg.IntervalMs = 500
	cfg.MaxDurationMs = 50
	tw := New("tw-5", cfg, exec)

	if err := tw.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitForStatus(t, tw, StatusCancelled, 2*time.Second)
}

func TestSliceFailureContinuesRetrying(t *testing.T) {
	exec := &fakeExecutor{fail: true}
	cfg := baseConfig()
	cfg.IntervalMs = 20
	tw := New("tw-6", cfg, exec)

	var events []Event
	var mu sync.Mutex
	tw.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	if err := tw.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) && exec.callCount() < 3 {
		time.Sleep(10 * time.Millisecond)
	}
	if exec.callCount() < 3 {
		t.Fatalf("expected repeated retries after slice failure, got %d calls", exec.callCount())
	}
	if tw.Snapshot().Status != StatusExecuting {
		t.Fatalf("expected the slicer to stay in executing after failures, got %s", tw.Snapshot().Status)
	}
	_ = tw.Cancel(context.Background())
}

func TestCancelStopsSlicing(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := baseConfig()
	cfg.IntervalMs = 500
	tw := New("tw-7", cfg, exec)

	if err := tw.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := tw.Cancel(context.Background()); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	if tw.Snapshot().Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", tw.Snapshot().Status)
	}

	calls := exec.callCount()
	time.Sleep(600 * time.Millisecond)
	if exec.callCount() != calls {
		t.Fatalf("expected no further slices after cancel, calls went from %d to %d", calls, exec.callCount())
	}
}

func TestNewIcebergUsesVisibleSizeAsSliceSize(t *testing.T) {
	cfg := baseConfig()
	tw := NewIceberg("ib-1", cfg, decimal.NewFromInt(2), &fakeExecutor{})
	if got := tw.SlicesTotal(); got != 5 {
		t.Fatalf("expected ceil(10/2)=5 slices for the iceberg, got %d", got)
	}
}
