package execution

import (
	"sync"
	"time"

	"github.com/web3guy0/execore/pkg/types"
)

// OrderEvent is one order-status push from the fills WebSocket.
type OrderEvent struct {
	OrderID    string
	Status     types.OrderStatus
	FilledSize string
	ReceivedAt time.Time
}

// OrderTracker mirrors FillTracker's table shape for order-status push
// events. Status only ever advances forward at the venue, so entries
// are overwritten unconditionally rather than priority-checked.
type OrderTracker struct {
	mu        sync.Mutex
	orders    map[string]OrderEvent
	subs      map[uint64]func(OrderEvent)
	nextSubID uint64
}

func NewOrderTracker() *OrderTracker {
	return &OrderTracker{
		orders: make(map[string]OrderEvent),
		subs:   make(map[uint64]func(OrderEvent)),
	}
}

// OnOrder records an order-status event and notifies subscribers.
func (t *OrderTracker) OnOrder(e OrderEvent) {
	t.mu.Lock()
	e.ReceivedAt = time.Now()
	t.orders[e.OrderID] = e
	subs := make([]func(OrderEvent), 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub(e)
	}
}

// Subscribe registers a callback invoked on every order-status event.
// The returned function removes the subscription; calling it more
// than once is a no-op.
func (t *OrderTracker) Subscribe(fn func(OrderEvent)) (unsubscribe func()) {
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

func (t *OrderTracker) Get(orderID string) (OrderEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.orders[orderID]
	return e, ok
}
