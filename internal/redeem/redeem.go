// Package redeem implements the auto-redeemer: a periodic sweep over
// caller-supplied positions that checks each condition's on-chain
// resolution, detects losing positions by a zero token balance, and
// submits the on-chain redemption transaction for winning ones through
// either the standard CTF contract or the neg-risk adapter.
package redeem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the outcome recorded for one sweep pass over a position.
type Status string

const (
	StatusExpired  Status = "position_expired"
	StatusRedeemed Status = "redemption_success"
	StatusFailed   Status = "redemption_failed"
)

const defaultSweepInterval = 60 * time.Second

// Position is one holding a caller wants checked for redemption. The
// engine has no venue-uniform "list my positions" call, so the caller
// supplies the set to sweep, the same pattern getPendingSettlements
// uses for holdings.
type Position struct {
	ConditionID  string
	InstrumentID string
	Size         decimal.Decimal
	NegRisk      bool
	IndexSet     uint // which outcome index this holding covers
}

// OnChainReader is the read surface the sweep needs: resolution status
// and the caller's token balance for a condition's outcome.
type OnChainReader interface {
	PayoutDenominator(ctx context.Context, conditionID string) (uint64, error)
	TokenBalance(ctx context.Context, conditionID string, indexSet uint) (decimal.Decimal, error)
}

// Redeemer submits the on-chain redemption call. The standard CTF
// contract and the neg-risk adapter share this call shape; which one
// gets used is resolved per position from NegRisk.
type Redeemer interface {
	RedeemPositions(ctx context.Context, conditionID string, indexSets []uint, negRisk bool) (txHash string, err error)
}

// Event is one sweep outcome for a single position.
type Event struct {
	ConditionID string
	Status      Status
	TxHash      string
	Error       string
	At          time.Time
}

// pendingRetry is a failed redemption kept for the next sweep.
type pendingRetry struct {
	position Position
	lastErr  string
}

// Sweeper owns the redeemed set and the periodic sweep loop.
type Sweeper struct {
	reader   OnChainReader
	redeemer Redeemer
	interval time.Duration

	mu       sync.Mutex
	redeemed map[string]bool
	pending  map[string]pendingRetry
	subs     []func(Event)
	stop     context.CancelFunc
}

// New constructs a sweeper with the given sweep interval. A zero
// interval defaults to 60s.
func New(reader OnChainReader, redeemer Redeemer, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		reader:   reader,
		redeemer: redeemer,
		interval: interval,
		redeemed: make(map[string]bool),
		pending:  make(map[string]pendingRetry),
	}
}

// Subscribe registers a callback invoked on every sweep outcome.
func (s *Sweeper) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Sweeper) emit(e Event) {
	s.mu.Lock()
	subs := append([]func(Event){}, s.subs...)
	s.mu.Unlock()
	for _, sub := range subs {
		sub(e)
	}
}

// IsRedeemed reports whether a conditionId has already been redeemed
// (or marked expired) this process lifetime.
func (s *Sweeper) IsRedeemed(conditionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redeemed[conditionID]
}

// Sweep runs one pass: fetched positions are the caller's reported
// holdings (the venue's authenticated positions endpoint is out of
// this package's scope — the caller owns fetching and passes the
// result in). Positions already in the redeemed set, or with
// non-positive size, are skipped.
func (s *Sweeper) Sweep(ctx context.Context, positions []Position) []Event {
	var events []Event

	// Retry positions carried over from a prior failed redemption
	// attempt, alongside whatever the caller passed this round.
	s.mu.Lock()
	for _, p := range s.pending {
		positions = append(positions, p.position)
	}
	s.mu.Unlock()

	seen := make(map[string]bool, len(positions))
	for _, pos := range positions {
		if pos.ConditionID == "" || seen[pos.ConditionID] || !pos.Size.IsPositive() {
			continue
		}
		seen[pos.ConditionID] = true

		if s.IsRedeemed(pos.ConditionID) {
			continue
		}

		if e := s.sweepOne(ctx, pos); e != nil {
			events = append(events, *e)
		}
	}
	return events
}

func (s *Sweeper) sweepOne(ctx context.Context, pos Position) *Event {
	denom, err := s.reader.PayoutDenominator(ctx, pos.ConditionID)
	if err != nil || denom == 0 {
		// Not yet resolved on-chain; leave it for the next sweep.
		return nil
	}

	balance, err := s.reader.TokenBalance(ctx, pos.ConditionID, pos.IndexSet)
	if err != nil {
		return s.fail(pos, fmt.Errorf("check token balance: %w", err))
	}
	if balance.IsZero() {
		s.mu.Lock()
		s.redeemed[pos.ConditionID] = true
		delete(s.pending, pos.ConditionID)
		s.mu.Unlock()
		e := Event{ConditionID: pos.ConditionID, Status: StatusExpired, At: time.Now()}
		s.emit(e)
		return &e
	}

	indexSets := []uint{1, 2}
	if pos.IndexSet == 1 || pos.IndexSet == 2 {
		indexSets = []uint{pos.IndexSet}
	}

	txHash, err := s.redeemer.RedeemPositions(ctx, pos.ConditionID, indexSets, pos.NegRisk)
	if err != nil {
		return s.fail(pos, err)
	}

	s.mu.Lock()
	s.redeemed[pos.ConditionID] = true
	delete(s.pending, pos.ConditionID)
	s.mu.Unlock()

	e := Event{ConditionID: pos.ConditionID, Status: StatusRedeemed, TxHash: txHash, At: time.Now()}
	s.emit(e)
	return &e
}

func (s *Sweeper) fail(pos Position, err error) *Event {
	s.mu.Lock()
	s.pending[pos.ConditionID] = pendingRetry{position: pos, lastErr: err.Error()}
	s.mu.Unlock()

	e := Event{ConditionID: pos.ConditionID, Status: StatusFailed, Error: err.Error(), At: time.Now()}
	s.emit(e)
	return &e
}

// SourceFunc supplies the positions to sweep on each tick; it's the
// seam the caller plugs a venue positions endpoint into.
type SourceFunc func(ctx context.Context) ([]Position, error)

// Start launches the periodic sweep loop. It's a no-op if already
// running.
func (s *Sweeper) Start(ctx context.Context, source SourceFunc) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.mu.Unlock()

	go s.loop(sctx, source)
}

func (s *Sweeper) loop(ctx context.Context, source SourceFunc) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			positions, err := source(ctx)
			if err != nil {
				continue
			}
			s.Sweep(ctx, positions)
		}
	}
}

// Stop stops the periodic sweep loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
	}
}
