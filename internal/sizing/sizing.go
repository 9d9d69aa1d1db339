// Package sizing is a caller-side position-sizing helper: percent-of-
// equity risk sizing with an optional Kelly-criterion variant. The
// engine takes order size as a given input; this package is offered to
// callers that want to derive that input from equity and a stop
// distance.
package sizing

import (
	"github.com/shopspring/decimal"
)

// Trade is the entry/stop pair a sizing calculation risks capital
// against.
type Trade struct {
	Entry    decimal.Decimal
	StopLoss decimal.Decimal
}

// Sizer computes a position size from a fixed percent of equity risked
// per trade, compounding as equity grows.
type Sizer struct {
	riskPct     decimal.Decimal
	minPosition decimal.Decimal
	maxPct      decimal.Decimal // never more than this fraction of equity in one trade
}

// New constructs a sizer risking riskPct of equity per trade (e.g. 0.01
// for 1%).
func New(riskPct float64) *Sizer {
	return &Sizer{
		riskPct:     decimal.NewFromFloat(riskPct),
		minPosition: decimal.NewFromInt(1),
		maxPct:      decimal.NewFromFloat(0.25),
	}
}

// Calculate returns size = (equity * riskPct) / |entry - stop|, clamped
// to [minPosition, maxPct*equity/entry].
func (s *Sizer) Calculate(t Trade, equity decimal.Decimal) decimal.Decimal {
	riskAmount := equity.Mul(s.riskPct)
	riskPerUnit := t.Entry.Sub(t.StopLoss).Abs()
	if riskPerUnit.IsZero() {
		return s.minPosition
	}

	size := riskAmount.Div(riskPerUnit)
	return s.applyConstraints(size, t.Entry, equity).Truncate(2)
}

func (s *Sizer) applyConstraints(size, entryPrice, equity decimal.Decimal) decimal.Decimal {
	if size.LessThan(s.minPosition) {
		return s.minPosition
	}
	maxUnits := equity.Mul(s.maxPct).Div(entryPrice)
	if size.GreaterThan(maxUnits) {
		return maxUnits
	}
	return size
}

// CalculateWithKelly sizes from a half-Kelly fraction derived from
// historical win rate and average win/loss ratio, clamped to the
// sizer's base risk percentage. Falls back to Calculate when
// avgWinLoss is zero; a negative Kelly fraction returns the minimum
// position, and a zero fraction ends at the minimum through the usual
// constraints.
func (s *Sizer) CalculateWithKelly(t Trade, equity, winRate, avgWinLoss decimal.Decimal) decimal.Decimal {
	if avgWinLoss.IsZero() {
		return s.Calculate(t, equity)
	}

	one := decimal.NewFromInt(1)
	kellyPct := winRate.Sub(one.Sub(winRate).Div(avgWinLoss))
	halfKelly := kellyPct.Div(decimal.NewFromInt(2))

	if halfKelly.GreaterThan(s.riskPct) {
		halfKelly = s.riskPct
	}
	if halfKelly.LessThan(decimal.Zero) {
		return s.minPosition
	}

	riskAmount := equity.Mul(halfKelly)
	riskPerUnit := t.Entry.Sub(t.StopLoss).Abs()
	if riskPerUnit.IsZero() {
		return s.minPosition
	}

	size := riskAmount.Div(riskPerUnit)
	return s.applyConstraints(size, t.Entry, equity).Truncate(2)
}

// RiskAmount returns the dollar amount a position of size at entry
// with stop puts at risk.
func (s *Sizer) RiskAmount(size, entry, stop decimal.Decimal) decimal.Decimal {
	return size.Mul(entry.Sub(stop).Abs())
}

// RiskPercentage returns RiskAmount as a percentage of equity.
func (s *Sizer) RiskPercentage(size, entry, stop, equity decimal.Decimal) decimal.Decimal {
	if equity.IsZero() {
		return decimal.Zero
	}
	return s.RiskAmount(size, entry, stop).Div(equity).Mul(decimal.NewFromInt(100))
}
