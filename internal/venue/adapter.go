// Package venue implements the per-venue adapters (component #1):
// REST/WS translation, signing, error mapping for the four supported
// CLOB-style exchanges.
package venue

import (
	"context"

	"github.com/web3guy0/execore/pkg/types"
)

// Adapter is the uniform surface every venue exposes to the Execution
// Service, regardless of its wire protocol.
type Adapter interface {
	Venue() types.Venue

	Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	PlaceBatch(ctx context.Context, reqs []types.OrderRequest) ([]types.OrderResult, error)

	Cancel(ctx context.Context, orderID string) (bool, error)
	CancelBatch(ctx context.Context, orderIDs []string) ([]CancelResult, error)
	CancelAll(ctx context.Context, marketFilter string) (int, error)

	ListOpen(ctx context.Context) ([]types.OpenOrder, error)
	GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error)
	GetPrice(ctx context.Context, instrument string) (*types.Price, error)
}

// CancelResult is one element of a batch-cancel response.
type CancelResult struct {
	OrderID string
	Success bool
}

// NegRiskProbe resolves whether an instrument belongs to a neg-risk
// market. It is injected into adapters at construction time rather
// than imported directly, breaking the import cycle that would
// otherwise exist between execution, neg-risk resolution, and the
// adapters themselves.
type NegRiskProbe func(ctx context.Context, instrument string) (bool, error)
