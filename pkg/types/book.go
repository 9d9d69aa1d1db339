package types

import "github.com/shopspring/decimal"

// Level is a single (price, size) entry in an orderbook side.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Orderbook is a two-sided snapshot used by the slippage guard, the
// router and postOnly pre-checks. Bids are sorted descending by price,
// asks ascending, so index 0 of each is always the best level.
type Orderbook struct {
	Bids     []Level
	Asks     []Level
	MidPrice decimal.Decimal
}

// BestBid returns the highest bid level, or false if the book has no
// bids.
func (ob Orderbook) BestBid() (Level, bool) {
	if len(ob.Bids) == 0 {
		return Level{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if the book has no
// asks.
func (ob Orderbook) BestAsk() (Level, bool) {
	if len(ob.Asks) == 0 {
		return Level{}, false
	}
	return ob.Asks[0], true
}

// Price is a simple best-price quote for an instrument.
type Price struct {
	Mid decimal.Decimal
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Quote is what a venue adapter returns to the smart router for one
// side of one instrument.
type Quote struct {
	Venue           Venue
	Price           decimal.Decimal
	AvailableSize   decimal.Decimal
	EstimatedFees   decimal.Decimal
	NetPrice        decimal.Decimal
	Slippage        decimal.Decimal
	ExecutionTimeMs int64
	IsMaker         bool
}
