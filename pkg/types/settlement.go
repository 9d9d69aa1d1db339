package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResolutionStatus is the on-chain/venue resolution state of a market
// a held position references.
type ResolutionStatus string

const (
	ResolutionResolved ResolutionStatus = "resolved"
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionDisputed ResolutionStatus = "disputed"
)

// PendingSettlement is one resolved-but-unredeemed position.
type PendingSettlement struct {
	ConditionID      string
	InstrumentID     string
	Size             decimal.Decimal
	Claimable        decimal.Decimal
	ResolutionStatus ResolutionStatus
	ResolvedAt       *time.Time
}
