package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

type fakeFeed struct {
	mu   sync.Mutex
	subs map[string][]func(decimal.Decimal)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string][]func(decimal.Decimal))}
}

func (f *fakeFeed) subscribe(platform types.Venue, instrument string, cb func(decimal.Decimal)) func() {
	key := string(platform) + ":" + instrument
	f.mu.Lock()
	f.subs[key] = append(f.subs[key], cb)
	idx := len(f.subs[key]) - 1
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subs[key][idx] = nil
	}
}

func (f *fakeFeed) push(platform types.Venue, instrument string, price decimal.Decimal) {
	key := string(platform) + ":" + instrument
	f.mu.Lock()
	cbs := append([]func(decimal.Decimal){}, f.subs[key]...)
	f.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(price)
		}
	}
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeExecutor) BuyLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return f.record()
}
func (f *fakeExecutor) SellLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return f.record()
}
func (f *fakeExecutor) MarketBuy(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return f.record()
}
func (f *fakeExecutor) MarketSell(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return f.record()
}
func (f *fakeExecutor) record() (types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return types.OrderResult{Success: true, OrderID: "trig-order"}, nil
}
func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitForStatus(t *testing.T, tr *Trigger, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tr.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s, got %s", want, tr.Snapshot().Status)
}

func TestPriceAboveFiresOnFirstCross(t *testing.T) {
	feed := newFakeFeed()
	exec := &fakeExecutor{}
	mgr := NewManager(feed.subscribe, exec)

	tr := mgr.Add("t1", Config{
		Platform:   types.VenuePolymarket,
		Instrument: "tok-1",
		Kind:       KindPriceAbove,
		Threshold:  decimal.NewFromFloat(0.60),
		OrderMode:  OrderModeMarket,
		Order:      types.OrderRequest{Side: types.SideBuy, Size: decimal.NewFromInt(10)},
	})

	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.55))
	if tr.Snapshot().Status != StatusActive {
		t.Fatalf("expected still active below threshold, got %s", tr.Snapshot().Status)
	}

	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.61))
	waitForStatus(t, tr, StatusTriggered, time.Second)

	if exec.callCount() != 1 {
		t.Fatalf("expected exactly one order placed, got %d", exec.callCount())
	}

	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.70))
	if exec.callCount() != 1 {
		t.Fatalf("expected oneShot to unsubscribe and prevent a second fire, got %d calls", exec.callCount())
	}
}

func TestPriceCrossRequiresPriorSample(t *testing.T) {
	feed := newFakeFeed()
	exec := &fakeExecutor{}
	mgr := NewManager(feed.subscribe, exec)

	tr := mgr.Add("t2", Config{
		Platform:   types.VenuePolymarket,
		Instrument: "tok-1",
		Kind:       KindPriceCross,
		Threshold:  decimal.NewFromFloat(0.50),
		CrossUp:    true,
		OrderMode:  OrderModeMarket,
		Order:      types.OrderRequest{Side: types.SideBuy, Size: decimal.NewFromInt(1)},
	})

	// First sample above threshold shouldn't fire: no prior sample to
	// cross from.
	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.55))
	time.Sleep(20 * time.Millisecond)
	if tr.Snapshot().Status != StatusActive {
		t.Fatalf("expected no fire without a prior sample, got %s", tr.Snapshot().Status)
	}

	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.45))
	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.52))
	waitForStatus(t, tr, StatusTriggered, time.Second)
}

func TestSpreadBelowNeverFires(t *testing.T) {
	feed := newFakeFeed()
	exec := &fakeExecutor{}
	mgr := NewManager(feed.subscribe, exec)

	tr := mgr.Add("t3", Config{
		Platform:   types.VenuePolymarket,
		Instrument: "tok-1",
		Kind:       KindSpreadBelow,
		Threshold:  decimal.NewFromFloat(0.05),
	})

	for i := 0; i < 5; i++ {
		feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.01))
	}
	time.Sleep(20 * time.Millisecond)
	if tr.Snapshot().Status != StatusActive {
		t.Fatalf("expected spread_below to never fire from a price-only feed, got %s", tr.Snapshot().Status)
	}
}

func TestExpirySweepExpiresPastDeadline(t *testing.T) {
	feed := newFakeFeed()
	exec := &fakeExecutor{}
	mgr := NewManager(feed.subscribe, exec)

	tr := mgr.Add("t4", Config{
		Platform:   types.VenuePolymarket,
		Instrument: "tok-1",
		Kind:       KindPriceAbove,
		Threshold:  decimal.NewFromFloat(0.99),
		ExpiresAt:  time.Now().Add(-time.Second),
	})

	mgr.sweepOnce()
	if tr.Snapshot().Status != StatusExpired {
		t.Fatalf("expected expired after a sweep past the deadline, got %s", tr.Snapshot().Status)
	}
}

func TestNonOneShotLeavesSubscriptionInPlace(t *testing.T) {
	feed := newFakeFeed()
	exec := &fakeExecutor{}
	mgr := NewManager(feed.subscribe, exec)

	notOneShot := false
	tr := mgr.Add("t5", Config{
		Platform:   types.VenuePolymarket,
		Instrument: "tok-1",
		Kind:       KindPriceAbove,
		Threshold:  decimal.NewFromFloat(0.50),
		OneShot:    &notOneShot,
		OrderMode:  OrderModeMarket,
		Order:      types.OrderRequest{Side: types.SideBuy, Size: decimal.NewFromInt(1)},
	})

	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.60))
	waitForStatus(t, tr, StatusTriggered, time.Second)

	feed.mu.Lock()
	cb := feed.subs["V1:tok-1"][0]
	feed.mu.Unlock()
	if cb == nil {
		t.Fatal("expected a non-oneShot trigger to leave its price subscription in place after firing")
	}
}

func TestCancelFromActiveUnsubscribesAndTransitions(t *testing.T) {
	feed := newFakeFeed()
	exec := &fakeExecutor{}
	mgr := NewManager(feed.subscribe, exec)

	tr := mgr.Add("t6", Config{
		Platform:   types.VenuePolymarket,
		Instrument: "tok-1",
		Kind:       KindPriceAbove,
		Threshold:  decimal.NewFromFloat(0.50),
		OrderMode:  OrderModeMarket,
		Order:      types.OrderRequest{Side: types.SideBuy, Size: decimal.NewFromInt(1)},
	})

	if err := tr.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if tr.Snapshot().Status != StatusCancelled {
		t.Fatalf("expected status cancelled, got %s", tr.Snapshot().Status)
	}

	feed.mu.Lock()
	cb := feed.subs["V1:tok-1"][0]
	feed.mu.Unlock()
	if cb != nil {
		t.Fatal("expected Cancel to unsubscribe from the price feed")
	}

	// A price crossing the threshold afterward must not fire the order.
	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.90))
	time.Sleep(20 * time.Millisecond)
	if exec.callCount() != 0 {
		t.Fatalf("expected no order to fire after cancel, got %d calls", exec.callCount())
	}
}

func TestCancelIsNoOpOnceAlreadyTriggered(t *testing.T) {
	feed := newFakeFeed()
	exec := &fakeExecutor{}
	mgr := NewManager(feed.subscribe, exec)

	tr := mgr.Add("t7", Config{
		Platform:   types.VenuePolymarket,
		Instrument: "tok-1",
		Kind:       KindPriceAbove,
		Threshold:  decimal.NewFromFloat(0.50),
		OrderMode:  OrderModeMarket,
		Order:      types.OrderRequest{Side: types.SideBuy, Size: decimal.NewFromInt(1)},
	})

	feed.push(types.VenuePolymarket, "tok-1", decimal.NewFromFloat(0.60))
	waitForStatus(t, tr, StatusTriggered, time.Second)

	if err := tr.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if tr.Snapshot().Status != StatusTriggered {
		t.Fatalf("expected Cancel to be a no-op once triggered, got %s", tr.Snapshot().Status)
	}
}
