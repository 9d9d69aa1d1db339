// Package bracket implements the OCO (one-cancels-other) take-profit /
// stop-loss pair: two resting sell legs where the first fill cancels
// the other. It watches both the fill-push table and a polling loop
// independently, since either can observe the winning leg first; the
// state guard makes whichever fires first authoritative.
package bracket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

// Status is a bracket's lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusActive        Status = "active"
	StatusTakeProfitHit Status = "take_profit_hit"
	StatusStopLossHit   Status = "stop_loss_hit"
	StatusCancelled     Status = "cancelled"
	StatusFailed        Status = "failed"
)

// FilledSide names which leg won.
type FilledSide string

const (
	FilledSideTakeProfit FilledSide = "take_profit"
	FilledSideStopLoss   FilledSide = "stop_loss"
)

const defaultPollInterval = 2 * time.Second

// Config is one bracket's parameters.
type Config struct {
	Venue      types.Venue
	Market     string
	Instrument string

	Size            decimal.Decimal // stop-loss leg size, and take-profit default
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitSize  decimal.Decimal // optional fractional take-profit; zero means Size

	PollInterval time.Duration
}

// Executor is the narrow surface bracket needs from the execution
// service: placing the sell legs, cancelling the loser, and checking
// whether a leg is still resting.
type Executor interface {
	SellLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	CancelOrder(ctx context.Context, v types.Venue, orderID string) (bool, error)
	GetOrder(ctx context.Context, v types.Venue, orderID string) (*types.OpenOrder, error)
}

// FillSource is the narrow surface bracket needs from the fill-push
// table: a subscription for the push path, and a lookup for the
// polling path to recover the fill price once a leg drops off the
// open-order list.
type FillSource interface {
	Subscribe(fn func(types.Fill))
	Get(orderID string) (types.Fill, bool)
}

// Event is one bracket state transition.
type Event struct {
	BracketID  string
	Status     Status
	FilledSide FilledSide
	FillPrice  decimal.Decimal
	At         time.Time
}

// Snapshot is a bracket's current state.
type Snapshot struct {
	BracketID         string
	TakeProfitOrderID string
	StopLossOrderID   string
	Status            Status
	FilledSide        FilledSide
	FillPrice         decimal.Decimal
}

// Bracket tracks one OCO take-profit/stop-loss pair.
type Bracket struct {
	id    string
	cfg   Config
	exec  Executor
	fills FillSource

	mu                sync.Mutex
	status            Status
	takeProfitOrderID string
	stopLossOrderID   string
	filledSide        FilledSide
	fillPrice         decimal.Decimal
	stopPoll          context.CancelFunc
	subs              []func(Event)
}

// New constructs a pending bracket. PollInterval defaults to 2s.
func New(id string, cfg Config, exec Executor, fills FillSource) *Bracket {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Bracket{id: id, cfg: cfg, exec: exec, fills: fills, status: StatusPending}
}

// Subscribe registers a callback invoked on every state transition.
func (b *Bracket) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Snapshot returns the bracket's current state.
func (b *Bracket) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		BracketID:         b.id,
		TakeProfitOrderID: b.takeProfitOrderID,
		StopLossOrderID:   b.stopLossOrderID,
		Status:            b.status,
		FilledSide:        b.filledSide,
		FillPrice:         b.fillPrice,
	}
}

// Start places both legs concurrently. At least one must succeed to
// reach active; if both fail the bracket goes straight to failed. ctx
// governs the lifetime of the polling loop and fill subscription, not
// just the initial placement.
func (b *Bracket) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.status != StatusPending {
		b.mu.Unlock()
		return fmt.Errorf("bracket: start called from state %s", b.status)
	}
	b.mu.Unlock()

	tpSize := b.cfg.TakeProfitSize
	if tpSize.IsZero() {
		tpSize = b.cfg.Size
	}

	var wg sync.WaitGroup
	var tpRes, slRes types.OrderResult
	var tpErr, slErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		tpRes, tpErr = b.exec.SellLimit(ctx, types.OrderRequest{
			Venue: b.cfg.Venue, Market: b.cfg.Market, Instrument: b.cfg.Instrument,
			Price: b.cfg.TakeProfitPrice, Size: tpSize, Discipline: types.DisciplineGTC,
		})
	}()
	go func() {
		defer wg.Done()
		slRes, slErr = b.exec.SellLimit(ctx, types.OrderRequest{
			Venue: b.cfg.Venue, Market: b.cfg.Market, Instrument: b.cfg.Instrument,
			Price: b.cfg.StopLossPrice, Size: b.cfg.Size, Discipline: types.DisciplineGTC,
		})
	}()
	wg.Wait()

	tpOK := tpErr == nil && tpRes.Success
	slOK := slErr == nil && slRes.Success

	b.mu.Lock()
	if !tpOK && !slOK {
		b.status = StatusFailed
		b.mu.Unlock()
		b.emit(Event{Status: StatusFailed, At: time.Now()})
		return fmt.Errorf("bracket: both legs failed to place")
	}
	if tpOK {
		b.takeProfitOrderID = tpRes.OrderID
	}
	if slOK {
		b.stopLossOrderID = slRes.OrderID
	}
	b.status = StatusActive
	pollCtx, cancel := context.WithCancel(ctx)
	b.stopPoll = cancel
	b.mu.Unlock()

	b.fills.Subscribe(b.onFillEvent)
	go b.pollLoop(pollCtx)

	b.emit(Event{Status: StatusActive, At: time.Now()})
	return nil
}

func (b *Bracket) onFillEvent(f types.Fill) {
	if types.FillPriority(f.Status) < 1 {
		return // FAILED is not a fill
	}
	b.resolveLeg(f.OrderID, f.Price)
}

func (b *Bracket) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}
}

func (b *Bracket) pollOnce(ctx context.Context) {
	b.mu.Lock()
	if b.status != StatusActive {
		b.mu.Unlock()
		return
	}
	venue := b.cfg.Venue
	legs := []string{b.takeProfitOrderID, b.stopLossOrderID}
	b.mu.Unlock()

	for _, leg := range legs {
		if leg == "" {
			continue
		}
		open, err := b.exec.GetOrder(ctx, venue, leg)
		if err != nil || open != nil {
			continue
		}
		price := decimal.Zero
		if f, ok := b.fills.Get(leg); ok {
			price = f.Price
		}
		b.resolveLeg(leg, price)
	}
}

// resolveLeg transitions the bracket once a leg is observed filled,
// whichever path (push or poll) calls it first. Guarded on current
// state so a second, later call for the sibling is a no-op.
func (b *Bracket) resolveLeg(orderID string, price decimal.Decimal) {
	b.mu.Lock()
	if b.status != StatusActive {
		b.mu.Unlock()
		return
	}

	var side FilledSide
	var sibling string
	var newStatus Status
	switch orderID {
	case b.takeProfitOrderID:
		side, sibling, newStatus = FilledSideTakeProfit, b.stopLossOrderID, StatusTakeProfitHit
	case b.stopLossOrderID:
		side, sibling, newStatus = FilledSideStopLoss, b.takeProfitOrderID, StatusStopLossHit
	default:
		b.mu.Unlock()
		return
	}

	b.status = newStatus
	b.filledSide = side
	b.fillPrice = price
	if b.stopPoll != nil {
		b.stopPoll()
	}
	b.mu.Unlock()

	if sibling != "" {
		go b.cancelSibling(sibling)
	}
	b.emit(Event{Status: newStatus, FilledSide: side, FillPrice: price, At: time.Now()})
}

func (b *Bracket) cancelSibling(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = b.exec.CancelOrder(ctx, b.cfg.Venue, orderID)
}

// Cancel is only meaningful from active; it cancels both legs
// best-effort and transitions to cancelled.
func (b *Bracket) Cancel(ctx context.Context) error {
	b.mu.Lock()
	if b.status != StatusActive {
		b.mu.Unlock()
		return nil
	}
	b.status = StatusCancelled
	tpID, slID := b.takeProfitOrderID, b.stopLossOrderID
	if b.stopPoll != nil {
		b.stopPoll()
	}
	b.mu.Unlock()

	if tpID != "" {
		_, _ = b.exec.CancelOrder(ctx, b.cfg.Venue, tpID)
	}
	if slID != "" {
		_, _ = b.exec.CancelOrder(ctx, b.cfg.Venue, slID)
	}
	b.emit(Event{Status: StatusCancelled, At: time.Now()})
	return nil
}

func (b *Bracket) emit(e Event) {
	e.BracketID = b.id
	b.mu.Lock()
	subs := append([]func(Event){}, b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		s(e)
	}
}
