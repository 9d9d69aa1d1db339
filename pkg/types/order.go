package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is the tagged-union shape every `place` call accepts.
// Venue selects which optional fields are meaningful; adapters
// pattern-match on Venue rather than the caller constructing a
// per-venue type.
type OrderRequest struct {
	Venue      Venue
	Market     string // market identifier
	Instrument string // token / outcome identifier, optional for some venues

	Side       Side
	Price      decimal.Decimal // in [0.01, 0.99]
	Size       decimal.Decimal // > 0
	Discipline Discipline

	Expiration *time.Time // only meaningful with DisciplineGTD

	PostOnly bool
	NegRisk  bool

	PerOrderMaxSlippage *decimal.Decimal

	// V3 only: vault/multisig address passed through to the external
	// signing SDK.
	VaultAddress string
}

// Notional returns price*size, the figure checked against the
// per-order notional cap.
func (r OrderRequest) Notional() decimal.Decimal {
	return r.Price.Mul(r.Size)
}

// OrderResult is what every place-style operation returns.
type OrderResult struct {
	Success         bool
	OrderID         string
	FilledSize      decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Status          OrderStatus
	Error           string // "[CODE] message" when Success is false
	TransactionHash string
}

// OpenOrder is a materialized view of an in-flight order.
type OpenOrder struct {
	OrderID       string
	Venue         Venue
	Market        string
	Instrument    string
	Side          Side
	Price         decimal.Decimal
	OriginalSize  decimal.Decimal
	RemainingSize decimal.Decimal
	FilledSize    decimal.Decimal
	Discipline    Discipline
	Status        OrderStatus
	CreatedAt     time.Time
	Expiration    *time.Time
	TransactionHash string
	FillStatus    *FillStatus
}

// Fill is a single tracked fill event for an order.
type Fill struct {
	OrderID         string
	Venue           Venue
	Market          string
	Instrument      string
	Side            Side
	Size            decimal.Decimal
	Price           decimal.Decimal
	Status          FillStatus
	TransactionHash string
	VenueTimestamp  time.Time
	ReceivedAt      time.Time
}
