// Package validate implements the pre-trade validator gate every order
// passes through before it reaches a venue adapter: an ordered chain of
// checks that stops at the first rejection, so an order is never
// partially validated.
package validate

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/execerr"
	"github.com/web3guy0/execore/pkg/types"
)

var (
	minPrice = decimal.NewFromFloat(0.01)
	maxPrice = decimal.NewFromFloat(0.99)
)

// Breaker is the minimal circuit-breaker surface the gate consults.
// Defined here, rather than importing internal/breaker directly, to
// avoid a dependency from the validator onto the breaker's full state
// machine.
type Breaker interface {
	CanTrade() (bool, string)
}

// Gate runs every order through the fixed six-step pre-trade check.
type Gate struct {
	maxOrderSize decimal.Decimal

	mu      sync.RWMutex
	breaker Breaker
}

// New constructs a validator gate. breaker may be nil, in which case
// step 1 is skipped until one is attached through SetBreaker.
func New(maxOrderSize decimal.Decimal, breaker Breaker) *Gate {
	return &Gate{maxOrderSize: maxOrderSize, breaker: breaker}
}

// SetBreaker (re)attaches the circuit-breaker handle the gate
// consults, or detaches it when passed nil. Safe to call concurrently
// with Validate.
func (g *Gate) SetBreaker(breaker Breaker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.breaker = breaker
}

// Validate runs req through the ordered gate, returning the first
// rejection encountered, or nil if every step passes. Rejections are
// always fatal: callers must not retry the same request.
func (g *Gate) Validate(req types.OrderRequest) *execerr.Error {
	g.mu.RLock()
	br := g.breaker
	g.mu.RUnlock()
	if br != nil {
		if ok, reason := br.CanTrade(); !ok {
			return execerr.New(execerr.CodeCircuitBreaker, reason)
		}
	}

	if req.Notional().GreaterThan(g.maxOrderSize) {
		return execerr.New(execerr.CodeInvalidSize, fmt.Sprintf("notional %s exceeds max order size %s", req.Notional(), g.maxOrderSize))
	}

	if req.Price.LessThan(minPrice) || req.Price.GreaterThan(maxPrice) {
		return execerr.New(execerr.CodeInvalidPrice, fmt.Sprintf("price %s outside [0.01, 0.99]", req.Price))
	}

	if !req.Size.IsPositive() {
		return execerr.New(execerr.CodeInvalidSize, "size must be positive")
	}

	if req.Venue == "" {
		return execerr.New(execerr.CodeInvalidSize, "venue not configured")
	}
	if req.Instrument == "" && req.Venue != types.VenueKalshi {
		return execerr.New(execerr.CodeInvalidSize, "instrument identifier required")
	}

	// Tick-size and postOnly cross checks are venue-specific (only V1
	// publishes a tick size) and run inside the adapter itself, which
	// is the only place that holds the cached tick/orderbook state this
	// step needs.

	return nil
}
