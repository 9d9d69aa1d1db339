// Package twap implements the TWAP/Iceberg order slicer: a fixed total
// size broken into slices placed on a jittered interval, optionally
// watched by a max-duration watchdog and a price-limit abort check.
// Iceberg is the same lifecycle with sliceSize set to the visible
// size.
package twap

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

// Status is a slicer's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

const minJitteredInterval = 100 * time.Millisecond

// Config is one slicer's parameters.
type Config struct {
	Venue      types.Venue
	Market     string
	Instrument string
	Side       types.Side
	Discipline types.Discipline

	TotalSize decimal.Decimal
	SliceSize decimal.Decimal
	Price     decimal.Decimal // limit price used for every slice

	IntervalMs    int
	Jitter        float64 // fraction in [0,1]
	MaxDurationMs int64   // 0 means no watchdog
	PriceLimit    *decimal.Decimal
}

// Executor is the narrow surface the slicer needs to place a slice and
// cancel the last resting one.
type Executor interface {
	BuyLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	SellLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	CancelOrder(ctx context.Context, v types.Venue, orderID string) (bool, error)
}

// Event is one slicer progress notification.
type Event struct {
	TWAPID     string
	Status     Status
	SliceIndex int
	FilledSize decimal.Decimal
	TotalCost  decimal.Decimal
	Error      string
	At         time.Time
}

// Snapshot is a slicer's current state.
type Snapshot struct {
	TWAPID          string
	Status          Status
	FilledSize      decimal.Decimal
	TotalCost       decimal.Decimal
	SlicesCompleted int
	SlicesTotal     int
}

// TWAP tracks one slicing run.
type TWAP struct {
	id   string
	cfg  Config
	exec Executor

	mu              sync.Mutex
	status          Status
	filledSize      decimal.Decimal
	totalCost       decimal.Decimal
	slicesCompleted int
	lastOrderID     string
	nextTimer       *time.Timer
	watchdog        *time.Timer
	subs            []func(Event)
}

// New constructs a pending slicer.
func New(id string, cfg Config, exec Executor) *TWAP {
	return &TWAP{id: id, cfg: cfg, exec: exec, status: StatusPending, filledSize: decimal.Zero, totalCost: decimal.Zero}
}

// NewIceberg is New with sliceSize replaced by visibleSize.
func NewIceberg(id string, cfg Config, visibleSize decimal.Decimal, exec Executor) *TWAP {
	cfg.SliceSize = visibleSize
	return New(id, cfg, exec)
}

// SlicesTotal returns ceil(totalSize/sliceSize).
func (t *TWAP) SlicesTotal() int {
	return slicesTotal(t.cfg.TotalSize, t.cfg.SliceSize)
}

func slicesTotal(totalSize, sliceSize decimal.Decimal) int {
	if sliceSize.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	return int(totalSize.Div(sliceSize).Ceil().IntPart())
}

// Subscribe registers a callback invoked on every progress event.
func (t *TWAP) Subscribe(fn func(Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Snapshot returns the slicer's current state.
func (t *TWAP) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		TWAPID:          t.id,
		Status:          t.status,
		FilledSize:      t.filledSize,
		TotalCost:       t.totalCost,
		SlicesCompleted: t.slicesCompleted,
		SlicesTotal:     slicesTotal(t.cfg.TotalSize, t.cfg.SliceSize),
	}
}

// Start transitions pending to executing and places the first slice
// immediately. ctx governs the lifetime of every scheduled slice and
// the watchdog.
func (t *TWAP) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return fmt.Errorf("twap: start called from state %s", t.status)
	}
	t.status = StatusExecuting
	if t.cfg.MaxDurationMs > 0 {
		t.watchdog = time.AfterFunc(time.Duration(t.cfg.MaxDurationMs)*time.Millisecond, func() {
			t.stopRemaining(ctx, "max duration exceeded")
		})
	}
	t.mu.Unlock()

	t.emit(Event{Status: StatusExecuting, At: time.Now()})
	go t.runSlice(ctx)
	return nil
}

func (t *TWAP) runSlice(ctx context.Context) {
	t.mu.Lock()
	if t.status != StatusExecuting {
		t.mu.Unlock()
		return
	}
	remaining := t.cfg.TotalSize.Sub(t.filledSize)
	t.mu.Unlock()

	if remaining.LessThanOrEqual(decimal.Zero) {
		t.complete()
		return
	}

	nextSize := t.cfg.SliceSize
	if nextSize.GreaterThan(remaining) {
		nextSize = remaining
	}

	req := types.OrderRequest{
		Venue: t.cfg.Venue, Market: t.cfg.Market, Instrument: t.cfg.Instrument,
		Side: t.cfg.Side, Price: t.cfg.Price, Size: nextSize, Discipline: t.cfg.Discipline,
	}

	var res types.OrderResult
	var err error
	if t.cfg.Side == types.SideBuy {
		res, err = t.exec.BuyLimit(ctx, req)
	} else {
		res, err = t.exec.SellLimit(ctx, req)
	}

	t.mu.Lock()
	if t.status != StatusExecuting {
		t.mu.Unlock()
		return
	}

	if err != nil || !res.Success {
		t.mu.Unlock()
		msg := ""
		if err != nil {
			msg = err.Error()
		} else {
			msg = res.Error
		}
		t.emit(Event{Status: StatusExecuting, Error: msg, At: time.Now()})
		t.scheduleNext(ctx)
		return
	}

	filled := res.FilledSize
	if filled.IsZero() {
		filled = nextSize
	}
	price := res.AvgFillPrice
	if price.IsZero() {
		price = t.cfg.Price
	}

	t.filledSize = t.filledSize.Add(filled)
	t.totalCost = t.totalCost.Add(filled.Mul(price))
	t.slicesCompleted++
	t.lastOrderID = res.OrderID

	completedIdx := t.slicesCompleted
	filledNow := t.filledSize
	costNow := t.totalCost
	totalSize := t.cfg.TotalSize
	priceLimit := t.cfg.PriceLimit
	side := t.cfg.Side
	t.mu.Unlock()

	t.emit(Event{Status: StatusExecuting, SliceIndex: completedIdx, FilledSize: filledNow, TotalCost: costNow, At: time.Now()})

	if priceLimit != nil {
		breach := (side == types.SideBuy && price.GreaterThan(*priceLimit)) ||
			(side == types.SideSell && price.LessThan(*priceLimit))
		if breach {
			t.stopRemaining(ctx, "price limit breached")
			return
		}
	}

	if filledNow.GreaterThanOrEqual(totalSize) {
		t.complete()
		return
	}

	t.scheduleNext(ctx)
}

func (t *TWAP) scheduleNext(ctx context.Context) {
	t.mu.Lock()
	if t.status != StatusExecuting {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	d := jitteredInterval(t.cfg.IntervalMs, t.cfg.Jitter)
	timer := time.AfterFunc(d, func() { t.runSlice(ctx) })

	t.mu.Lock()
	t.nextTimer = timer
	t.mu.Unlock()
}

func jitteredInterval(intervalMs int, jitter float64) time.Duration {
	if jitter <= 0 {
		return time.Duration(intervalMs) * time.Millisecond
	}
	factor := 1 + (rand.Float64()*2-1)*jitter
	ms := int(math.Round(float64(intervalMs) * factor))
	d := time.Duration(ms) * time.Millisecond
	if d < minJitteredInterval {
		return minJitteredInterval
	}
	return d
}

func (t *TWAP) complete() {
	t.mu.Lock()
	if t.status != StatusExecuting {
		t.mu.Unlock()
		return
	}
	t.status = StatusCompleted
	t.stopTimersLocked()
	t.mu.Unlock()
	t.emit(Event{Status: StatusCompleted, At: time.Now()})
}

func (t *TWAP) stopRemaining(ctx context.Context, reason string) {
	t.mu.Lock()
	if t.status != StatusExecuting {
		t.mu.Unlock()
		return
	}
	t.status = StatusCancelled
	lastID := t.lastOrderID
	venue := t.cfg.Venue
	t.stopTimersLocked()
	t.mu.Unlock()

	if lastID != "" {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = t.exec.CancelOrder(cctx, venue, lastID)
	}
	t.emit(Event{Status: StatusCancelled, Error: reason, At: time.Now()})
}

func (t *TWAP) stopTimersLocked() {
	if t.nextTimer != nil {
		t.nextTimer.Stop()
	}
	if t.watchdog != nil {
		t.watchdog.Stop()
	}
}

// Cancel is only meaningful from executing; it clears timers and
// best-effort cancels the latest slice's open order.
func (t *TWAP) Cancel(ctx context.Context) error {
	t.stopRemaining(ctx, "cancelled by caller")
	return nil
}

func (t *TWAP) emit(e Event) {
	e.TWAPID = t.id
	t.mu.Lock()
	subs := append([]func(Event){}, t.subs...)
	t.mu.Unlock()
	for _, s := range subs {
		s(e)
	}
}
