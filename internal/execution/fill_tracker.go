package execution

import (
	"context"
	"sync"
	"time"

	"github.com/web3guy0/execore/pkg/types"
)

// FillTracker is the WS-push fill table: one entry per orderId, updated
// only when a new event outranks what's already there, plus a set of
// promise-style waiters that get resolved the moment an order reaches a
// terminal fill status.
type FillTracker struct {
	mu sync.Mutex

	fills     map[string]trackedFill
	waiters   map[string][]chan types.Fill
	subs      map[uint64]func(types.Fill)
	nextSubID uint64
}

type trackedFill struct {
	fill       types.Fill
	receivedAt time.Time
}

// NewFillTracker constructs an empty tracker.
func NewFillTracker() *FillTracker {
	return &FillTracker{
		fills:   make(map[string]trackedFill),
		waiters: make(map[string][]chan types.Fill),
		subs:    make(map[uint64]func(types.Fill)),
	}
}

// OnFill applies one fill event from the venue push stream. The entry
// for OrderID is only overwritten when the new status outranks the
// stored one; FAILED only ever lands on an absent/unknown entry since
// it ranks below MATCHED. Terminal statuses resolve any waiters parked
// on waitForFill for this order.
func (t *FillTracker) OnFill(f types.Fill) {
	t.mu.Lock()

	existing, ok := t.fills[f.OrderID]
	if ok && types.FillPriority(f.Status) <= types.FillPriority(existing.fill.Status) {
		t.mu.Unlock()
		return
	}

	f.ReceivedAt = time.Now()
	t.fills[f.OrderID] = trackedFill{fill: f, receivedAt: f.ReceivedAt}

	var toResolve []chan types.Fill
	if types.IsFillTerminal(f.Status) {
		toResolve = t.waiters[f.OrderID]
		delete(t.waiters, f.OrderID)
	}
	subs := make([]func(types.Fill), 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}

	t.mu.Unlock()

	for _, sub := range subs {
		sub(f)
	}
	for _, ch := range toResolve {
		ch <- f
	}
}

// Subscribe registers a callback invoked synchronously (relative to the
// caller of OnFill) on every accepted fill event. The returned
// function removes the subscription; calling it more than once is a
// no-op.
func (t *FillTracker) Subscribe(fn func(types.Fill)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Get returns the currently tracked fill for an order, if any.
func (t *FillTracker) Get(orderID string) (types.Fill, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tf, ok := t.fills[orderID]
	return tf.fill, ok
}

// WaitForFill blocks until orderID reaches a terminal fill status
// (CONFIRMED or FAILED), the timeout elapses, or ctx is cancelled. It
// always removes itself from the waiter table before returning.
func (t *FillTracker) WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (*types.Fill, error) {
	t.mu.Lock()
	if tf, ok := t.fills[orderID]; ok && types.IsFillTerminal(tf.fill.Status) {
		t.mu.Unlock()
		f := tf.fill
		return &f, nil
	}
	ch := make(chan types.Fill, 1)
	t.waiters[orderID] = append(t.waiters[orderID], ch)
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-ch:
		return &f, nil
	case <-timer.C:
		t.removeWaiter(orderID, ch)
		return nil, nil
	case <-ctx.Done():
		t.removeWaiter(orderID, ch)
		return nil, ctx.Err()
	}
}

func (t *FillTracker) removeWaiter(orderID string, ch chan types.Fill) {
	t.mu.Lock()
	defer t.mu.Unlock()
	chans := t.waiters[orderID]
	for i, c := range chans {
		if c == ch {
			t.waiters[orderID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(t.waiters[orderID]) == 0 {
		delete(t.waiters, orderID)
	}
}

// ClearOldFills evicts entries received more than maxAge ago.
func (t *FillTracker) ClearOldFills(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for id, tf := range t.fills {
		if tf.receivedAt.Before(cutoff) {
			delete(t.fills, id)
			n++
		}
	}
	return n
}
