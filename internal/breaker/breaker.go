// Package breaker implements the circuit breaker state machine that
// guards the Execution Service against runaway loss or error rates:
// a single tripped bit, a fixed reason enum, and trip evaluation run
// in a fixed order every time a trade is recorded.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Reason is one of the fixed trip causes.
type Reason string

const (
	ReasonMaxLoss            Reason = "max_loss"
	ReasonMaxLossPct         Reason = "max_loss_pct"
	ReasonConsecutiveLosses  Reason = "consecutive_losses"
	ReasonHighErrorRate      Reason = "high_error_rate"
	ReasonMaxPosition        Reason = "max_position"
	ReasonMaxDailyTrades     Reason = "max_daily_trades"
	ReasonManual             Reason = "manual"
	ReasonSystemError        Reason = "system_error"
)

// TradeRecord is the outcome reported to recordTrade after a fill or a
// rejection.
type TradeRecord struct {
	PnLUsd  decimal.Decimal
	Success bool
	SizeUsd decimal.Decimal
}

// Config configures the thresholds the breaker evaluates against.
type Config struct {
	MaxLossUsd            decimal.Decimal
	MaxLossPct            decimal.Decimal
	MaxConsecutiveLosses  int
	MaxErrorRate          decimal.Decimal
	MinTradesForErrorRate int
	MaxPositionSize       decimal.Decimal
	MaxDailyTrades        int
	ResetTimeout          time.Duration
	InitialBalance        decimal.Decimal
}

// Breaker is the circuit breaker.
type Breaker struct {
	cfg Config

	mu sync.Mutex

	tripped   bool
	reason    Reason
	trippedAt time.Time
	resetTimer *time.Timer

	sessionPnL        decimal.Decimal
	consecutiveLosses int
	errorCount        int
	totalTrades       int
	dailyTrades       int
	openPositionSize  decimal.Decimal

	lastResetDay int
}

// New constructs a breaker seeded with cfg.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, lastResetDay: time.Now().YearDay()}
}

// RecordTrade applies one trade outcome and evaluates trip conditions
// in the fixed order: max_loss, max_loss_pct, consecutive_losses,
// high_error_rate.
func (b *Breaker) RecordTrade(rec TradeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkDayReset()

	b.sessionPnL = b.sessionPnL.Add(rec.PnLUsd)
	b.dailyTrades++
	b.totalTrades++

	if rec.Success && !rec.PnLUsd.IsNegative() {
		b.consecutiveLosses = 0
	} else {
		b.consecutiveLosses++
		if !rec.Success {
			b.errorCount++
		}
	}

	switch {
	case b.sessionPnL.LessThanOrEqual(b.cfg.MaxLossUsd.Neg()):
		b.trip(ReasonMaxLoss)
	case b.lossPctExceeded():
		b.trip(ReasonMaxLossPct)
	case b.consecutiveLosses >= b.cfg.MaxConsecutiveLosses:
		b.trip(ReasonConsecutiveLosses)
	case b.totalTrades >= b.cfg.MinTradesForErrorRate && b.errorRate().GreaterThanOrEqual(b.cfg.MaxErrorRate):
		b.trip(ReasonHighErrorRate)
	}
}

func (b *Breaker) lossPctExceeded() bool {
	if b.cfg.InitialBalance.IsZero() {
		return false
	}
	pct := b.sessionPnL.Div(b.cfg.InitialBalance).Abs().Mul(decimal.NewFromInt(100))
	return b.sessionPnL.IsNegative() && pct.GreaterThanOrEqual(b.cfg.MaxLossPct)
}

func (b *Breaker) errorRate() decimal.Decimal {
	if b.totalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(b.errorCount)).Div(decimal.NewFromInt(int64(b.totalTrades)))
}

// UpdatePositionSize records the current open position size and trips
// max_position if it has reached the configured cap.
func (b *Breaker) UpdatePositionSize(size decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openPositionSize = size
	if size.GreaterThanOrEqual(b.cfg.MaxPositionSize) {
		b.trip(ReasonMaxPosition)
	}
}

// CanTrade reports whether the gate is open and, if not, why.
func (b *Breaker) CanTrade() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		return false, string(b.reason)
	}
	if b.openPositionSize.GreaterThanOrEqual(b.cfg.MaxPositionSize) {
		return false, string(ReasonMaxPosition)
	}
	if b.dailyTrades >= b.cfg.MaxDailyTrades {
		return false, string(ReasonMaxDailyTrades)
	}
	return true, ""
}

// Trip trips the breaker for an externally-observed reason (e.g. a
// manual halt or an unrecoverable system error). First call wins;
// later calls before a reset are no-ops.
func (b *Breaker) Trip(reason Reason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip(reason)
}

// trip is idempotent: once tripped, later calls before Reset are
// no-ops, and it schedules an automatic reset after ResetTimeout.
func (b *Breaker) trip(reason Reason) {
	if b.tripped {
		return
	}
	b.tripped = true
	b.reason = reason
	b.trippedAt = time.Now()

	log.Warn().Str("reason", string(reason)).Msg("🚨 circuit breaker tripped")

	if b.cfg.ResetTimeout > 0 {
		if b.resetTimer != nil {
			b.resetTimer.Stop()
		}
		b.resetTimer = time.AfterFunc(b.cfg.ResetTimeout, b.Reset)
	}
}

// Reset clears the tripped state and the counters that feed it, but
// leaves sessionPnL and dailyTrades alone: those only clear at the
// local-midnight daily reset.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripped = false
	b.reason = ""
	b.consecutiveLosses = 0
	b.errorCount = 0
	log.Info().Msg("✅ circuit breaker reset")
}

func (b *Breaker) checkDayReset() {
	today := time.Now().YearDay()
	if b.lastResetDay == today {
		return
	}
	b.lastResetDay = today
	b.sessionPnL = decimal.Zero
	b.dailyTrades = 0
	log.Info().Msg("📅 circuit breaker daily stats reset")
}

// IsTripped reports the current trip state and reason.
func (b *Breaker) IsTripped() (bool, Reason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped, b.reason
}

// State is a point-in-time snapshot of the breaker's full circuit-
// breaker state entity, for callers (dashboards, risk reports) that
// need more than the pass/fail CanTrade check.
type State struct {
	IsTripped         bool
	TripReason        Reason
	TrippedAt         time.Time
	SessionPnL        decimal.Decimal
	ConsecutiveLosses int
	OpenPositionSize  decimal.Decimal
	DailyTrades       int
	ErrorCount        int
	TotalTrades       int
}

// Snapshot materializes the current state entity under lock.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		IsTripped:         b.tripped,
		TripReason:        b.reason,
		TrippedAt:         b.trippedAt,
		SessionPnL:        b.sessionPnL,
		ConsecutiveLosses: b.consecutiveLosses,
		OpenPositionSize:  b.openPositionSize,
		DailyTrades:       b.dailyTrades,
		ErrorCount:        b.errorCount,
		TotalTrades:       b.totalTrades,
	}
}
