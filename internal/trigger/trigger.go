// Package trigger implements condition-triggered order placement:
// price_above/price_below/price_cross conditions evaluated on every
// push from a price feed, firing a configured order the first time the
// condition holds, plus a periodic sweep that expires triggers whose
// deadline has passed.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

// Status is a trigger's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusTriggered Status = "triggered"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Kind is the condition a trigger evaluates.
type Kind string

const (
	KindPriceAbove  Kind = "price_above"
	KindPriceBelow  Kind = "price_below"
	KindPriceCross  Kind = "price_cross"
	KindSpreadBelow Kind = "spread_below"
)

const sweepInterval = 5 * time.Second

// OrderMode selects how the configured order is placed once a trigger
// fires.
type OrderMode string

const (
	OrderModeLimit  OrderMode = "limit"
	OrderModeMarket OrderMode = "market"
)

// Config is one trigger's condition and the order it fires.
type Config struct {
	Platform   types.Venue
	Instrument string

	Kind      Kind
	Threshold decimal.Decimal
	CrossUp   bool // only meaningful for price_cross

	OneShot   *bool // nil means true
	ExpiresAt time.Time // zero means never expires

	OrderMode OrderMode
	Order     types.OrderRequest
}

func wantsOneShot(cfg Config) bool {
	if cfg.OneShot == nil {
		return true
	}
	return *cfg.OneShot
}

// Executor is the narrow surface trigger needs to fire its configured
// order.
type Executor interface {
	BuyLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	SellLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	MarketBuy(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	MarketSell(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
}

// PriceSubscriber wires a trigger to a feed's price stream: it
// registers callback for (platform, instrument) and returns a function
// that tears the subscription down.
type PriceSubscriber func(platform types.Venue, instrument string, callback func(price decimal.Decimal)) (unsubscribe func())

// Event is one trigger state transition.
type Event struct {
	TriggerID   string
	Status      Status
	OrderResult types.OrderResult
	Error       string
	At          time.Time
}

// Snapshot is a trigger's current state.
type Snapshot struct {
	TriggerID string
	Status    Status
	Result    types.OrderResult
}

// Trigger evaluates one condition against a price stream.
type Trigger struct {
	id  string
	cfg Config
	mgr *Manager

	mu          sync.Mutex
	status      Status
	prevPrice   decimal.Decimal
	havePrev    bool
	unsubscribe func()
	result      types.OrderResult
}

// Snapshot returns the trigger's current state.
func (t *Trigger) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{TriggerID: t.id, Status: t.status, Result: t.result}
}

func (t *Trigger) onPrice(price decimal.Decimal) {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return
	}
	fire := t.evaluateLocked(price)
	t.prevPrice = price
	t.havePrev = true
	t.mu.Unlock()

	if fire {
		t.fire()
	}
}

// evaluateLocked must be called with t.mu held.
func (t *Trigger) evaluateLocked(price decimal.Decimal) bool {
	switch t.cfg.Kind {
	case KindPriceAbove:
		return price.GreaterThanOrEqual(t.cfg.Threshold)
	case KindPriceBelow:
		return price.LessThanOrEqual(t.cfg.Threshold)
	case KindPriceCross:
		if !t.havePrev {
			return false
		}
		if t.cfg.CrossUp {
			return t.prevPrice.LessThan(t.cfg.Threshold) && price.GreaterThanOrEqual(t.cfg.Threshold)
		}
		return t.prevPrice.GreaterThan(t.cfg.Threshold) && price.LessThanOrEqual(t.cfg.Threshold)
	case KindSpreadBelow:
		// Price-only feeds carry no spread; this condition only ever
		// fires from an orderbook subscription, which this manager
		// doesn't have.
		return false
	default:
		return false
	}
}

func (t *Trigger) fire() {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return
	}
	t.status = StatusTriggered
	unsub := t.unsubscribe
	oneShot := wantsOneShot(t.cfg)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := t.mgr.placeOrder(ctx, t.cfg)

	t.mu.Lock()
	t.result = res
	t.mu.Unlock()

	if oneShot && unsub != nil {
		unsub()
	}

	t.mgr.emit(Event{TriggerID: t.id, Status: StatusTriggered, OrderResult: res, Error: errString(err), At: time.Now()})
}

// Cancel is only meaningful from active; it unsubscribes from the
// price feed and transitions to cancelled. Safe to call from any
// state — a no-op once the trigger has already fired, expired, or
// been cancelled.
func (t *Trigger) Cancel() error {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusCancelled
	unsub := t.unsubscribe
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	t.mgr.emit(Event{TriggerID: t.id, Status: StatusCancelled, At: time.Now()})
	return nil
}

func (t *Trigger) expireIfPast(now time.Time) {
	t.mu.Lock()
	if t.status != StatusActive || t.cfg.ExpiresAt.IsZero() || now.Before(t.cfg.ExpiresAt) {
		t.mu.Unlock()
		return
	}
	t.status = StatusExpired
	unsub := t.unsubscribe
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	t.mgr.emit(Event{TriggerID: t.id, Status: StatusExpired, At: now})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Manager owns a set of triggers, the feed subscription function, and
// the periodic expiry sweep.
type Manager struct {
	subscribe PriceSubscriber
	exec      Executor

	mu        sync.Mutex
	triggers  map[string]*Trigger
	subs      []func(Event)
	stopSweep context.CancelFunc
}

// NewManager constructs an empty trigger manager.
func NewManager(subscribe PriceSubscriber, exec Executor) *Manager {
	return &Manager{subscribe: subscribe, exec: exec, triggers: make(map[string]*Trigger)}
}

// Add registers a new active trigger and subscribes it to its price
// feed.
func (m *Manager) Add(id string, cfg Config) *Trigger {
	t := &Trigger{id: id, cfg: cfg, mgr: m, status: StatusActive}

	m.mu.Lock()
	m.triggers[id] = t
	m.mu.Unlock()

	unsub := m.subscribe(cfg.Platform, cfg.Instrument, t.onPrice)
	t.mu.Lock()
	t.unsubscribe = unsub
	t.mu.Unlock()

	return t
}

// Get returns a previously added trigger, if any.
func (m *Manager) Get(id string) (*Trigger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	return t, ok
}

func (m *Manager) placeOrder(ctx context.Context, cfg Config) (types.OrderResult, error) {
	if cfg.OrderMode == OrderModeMarket {
		if cfg.Order.Side == types.SideBuy {
			return m.exec.MarketBuy(ctx, cfg.Order)
		}
		return m.exec.MarketSell(ctx, cfg.Order)
	}
	if cfg.Order.Side == types.SideBuy {
		return m.exec.BuyLimit(ctx, cfg.Order)
	}
	return m.exec.SellLimit(ctx, cfg.Order)
}

// Subscribe registers a callback invoked on every trigger state
// transition.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Manager) emit(e Event) {
	m.mu.Lock()
	subs := append([]func(Event){}, m.subs...)
	m.mu.Unlock()
	for _, s := range subs {
		s(e)
	}
}

// StartSweep launches the periodic expiry sweep. It's a no-op if
// already running.
func (m *Manager) StartSweep(ctx context.Context) {
	m.mu.Lock()
	if m.stopSweep != nil {
		m.mu.Unlock()
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	m.stopSweep = cancel
	m.mu.Unlock()

	go m.sweepLoop(sctx)
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	m.mu.Lock()
	triggers := make([]*Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		triggers = append(triggers, t)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, t := range triggers {
		t.expireIfPast(now)
	}
}

// StopSweep stops the periodic expiry sweep.
func (m *Manager) StopSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopSweep != nil {
		m.stopSweep()
	}
}
