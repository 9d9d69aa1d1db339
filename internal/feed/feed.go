// Package feed declares the outbound collaborator surfaces the engine
// consumes but doesn't implement: a market-data feed provider and an
// EVM read/write provider. Market data ingestion and wallet/chain
// plumbing beyond these small call shapes are external systems; only
// the calling convention lives here.
package feed

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

// Provider is the market-data surface the engine consumes: orderbook
// and last-price lookups, plus a price-stream subscription.
type Provider interface {
	GetOrderbook(ctx context.Context, venue types.Venue, market string) (*types.Orderbook, error)
	GetPrice(ctx context.Context, venue types.Venue, market string) (decimal.Decimal, error)
	SubscribePrice(venue types.Venue, marketOrInstrument string, callback func(price decimal.Decimal)) (unsubscribe func())
}

// ContractCall describes a read (callContract) or write (writeContract)
// against an EVM chain.
type ContractCall struct {
	Chain      string
	Address    string
	ABI        string
	Method     string
	Args       []any
	PrivateKey string // only set for writeContract
}

// WriteResult is the outcome of a submitted contract write.
type WriteResult struct {
	Success bool
	TxHash  string
	Error   string
}

// EVMProvider is the chain read/write surface the engine consumes for
// allowance checks and on-chain redemption, independent of any single
// RPC vendor.
type EVMProvider interface {
	CallContract(ctx context.Context, call ContractCall) (any, error)
	WriteContract(ctx context.Context, call ContractCall) (WriteResult, error)
}
