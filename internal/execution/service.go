// Package execution implements the Execution Service: the single
// surface callers submit orders through, uniform across all four
// venues. It owns batching, the fill/order push tables, the V1
// heartbeat, and settlement reads; order validation and slippage
// protection are delegated to the validate and slippage packages
// rather than reimplemented here.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/breaker"
	"github.com/web3guy0/execore/internal/slippage"
	"github.com/web3guy0/execore/internal/validate"
	"github.com/web3guy0/execore/internal/venue"
	"github.com/web3guy0/execore/pkg/execerr"
	"github.com/web3guy0/execore/pkg/types"
)

// Service wires together the per-venue adapters with the shared
// validation, slippage, and tracking layers.
type Service struct {
	adapters map[types.Venue]venue.Adapter

	validator     *validate.Gate
	slippageGuard slippage.Guard

	fills  *FillTracker
	orders *OrderTracker

	heartbeats map[types.Venue]*Heartbeat
	usdc       *USDCReader

	// resolveFn overrides the on-chain condition-resolution check used
	// by GetPendingSettlements; nil means use the real RPC call.
	resolveFn func(ctx context.Context, conditionID string) (bool, error)

	breaker *breaker.Breaker

	walletAddress string
}

// New constructs a Service over a fixed adapter set, with no
// circuit-breaker handle attached. Wire one in with SetCircuitBreaker
// before accepting orders; until then the validator skips that check.
func New(adapters map[types.Venue]venue.Adapter, maxOrderSize decimal.Decimal, sg slippage.Guard, walletAddress string) *Service {
	return &Service{
		adapters:      adapters,
		validator:     validate.New(maxOrderSize, nil),
		slippageGuard: sg,
		fills:         NewFillTracker(),
		orders:        NewOrderTracker(),
		heartbeats:    make(map[types.Venue]*Heartbeat),
		usdc:          NewUSDCReader(),
		walletAddress: walletAddress,
	}
}

// SetCircuitBreaker (re)attaches the shared circuit-breaker handle the
// validator consults before every order, per the Execution Service's
// exclusive ownership of that handle. Pass nil to detach it.
func (s *Service) SetCircuitBreaker(br *breaker.Breaker) {
	s.breaker = br
	var gateBreaker validate.Breaker
	if br != nil {
		gateBreaker = br
	}
	s.validator.SetBreaker(gateBreaker)
}

// GetCircuitBreakerState returns the attached breaker's current state
// snapshot, or false if none is attached.
func (s *Service) GetCircuitBreakerState() (breaker.State, bool) {
	if s.breaker == nil {
		return breaker.State{}, false
	}
	return s.breaker.Snapshot(), true
}

// Fills exposes the fill-tracking table so callers can Subscribe or
// WaitForFill directly.
func (s *Service) Fills() *FillTracker { return s.fills }

// Orders exposes the order-status push table.
func (s *Service) Orders() *OrderTracker { return s.orders }

func (s *Service) adapterFor(v types.Venue) (venue.Adapter, error) {
	a, ok := s.adapters[v]
	if !ok {
		return nil, fmt.Errorf("execution: no adapter configured for venue %s", v)
	}
	return a, nil
}

func (s *Service) place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return types.OrderResult{Success: false, Error: err.Error()}, nil
	}
	a, err := s.adapterFor(req.Venue)
	if err != nil {
		return types.OrderResult{}, err
	}
	return a.Place(ctx, req)
}

// BuyLimit places a resting GTC buy at req.Price.
func (s *Service) BuyLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	req.Side = types.SideBuy
	if req.Discipline == "" {
		req.Discipline = types.DisciplineGTC
	}
	return s.place(ctx, req)
}

// SellLimit places a resting GTC sell at req.Price.
func (s *Service) SellLimit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	req.Side = types.SideSell
	if req.Discipline == "" {
		req.Discipline = types.DisciplineGTC
	}
	return s.place(ctx, req)
}

// MarketBuy crosses the book at 0.99, fill-or-kill.
func (s *Service) MarketBuy(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	req.Side = types.SideBuy
	req.Price = decimal.NewFromFloat(0.99)
	req.Discipline = types.DisciplineFOK
	return s.place(ctx, req)
}

// MarketSell crosses the book at 0.01, fill-or-kill.
func (s *Service) MarketSell(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	req.Side = types.SideSell
	req.Price = decimal.NewFromFloat(0.01)
	req.Discipline = types.DisciplineFOK
	return s.place(ctx, req)
}

// MakerBuy places a postOnly GTC buy, rejected by the adapter if it
// would cross the book.
func (s *Service) MakerBuy(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	req.Side = types.SideBuy
	req.Discipline = types.DisciplineGTC
	req.PostOnly = true
	return s.place(ctx, req)
}

// MakerSell places a postOnly GTC sell.
func (s *Service) MakerSell(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	req.Side = types.SideSell
	req.Discipline = types.DisciplineGTC
	req.PostOnly = true
	return s.place(ctx, req)
}

// ProtectedBuy validates, runs the slippage guard, and places a buy
// through the bounded-retry protected path.
func (s *Service) ProtectedBuy(ctx context.Context, req types.OrderRequest) (slippage.ProtectionResult, error) {
	req.Side = types.SideBuy
	return s.protected(ctx, req)
}

// ProtectedSell is ProtectedBuy's sell-side counterpart.
func (s *Service) ProtectedSell(ctx context.Context, req types.OrderRequest) (slippage.ProtectionResult, error) {
	req.Side = types.SideSell
	return s.protected(ctx, req)
}

func (s *Service) protected(ctx context.Context, req types.OrderRequest) (slippage.ProtectionResult, error) {
	if err := s.validator.Validate(req); err != nil {
		return slippage.ProtectionResult{Success: false, AbortReason: err.Error()}, nil
	}
	a, err := s.adapterFor(req.Venue)
	if err != nil {
		return slippage.ProtectionResult{}, err
	}
	return slippage.ExecuteWithProtection(ctx, a, s.slippageGuard, req, req.PerOrderMaxSlippage), nil
}

// CancelOrder cancels a single order at the named venue.
func (s *Service) CancelOrder(ctx context.Context, v types.Venue, orderID string) (bool, error) {
	a, err := s.adapterFor(v)
	if err != nil {
		return false, err
	}
	return a.Cancel(ctx, orderID)
}

// CancelAllOrders cancels every open order at the named venue,
// optionally filtered to one market.
func (s *Service) CancelAllOrders(ctx context.Context, v types.Venue, marketFilter string) (int, error) {
	a, err := s.adapterFor(v)
	if err != nil {
		return 0, err
	}
	return a.CancelAll(ctx, marketFilter)
}

// GetOpenOrders lists open orders at the named venue.
func (s *Service) GetOpenOrders(ctx context.Context, v types.Venue) ([]types.OpenOrder, error) {
	a, err := s.adapterFor(v)
	if err != nil {
		return nil, err
	}
	return a.ListOpen(ctx)
}

// GetOrder finds a single open order by id. Adapters expose no
// single-order lookup, so this filters ListOpen; callers that need a
// terminal order's last known state should check Orders()/Fills()
// instead, since a filled or cancelled order drops out of ListOpen.
func (s *Service) GetOrder(ctx context.Context, v types.Venue, orderID string) (*types.OpenOrder, error) {
	open, err := s.GetOpenOrders(ctx, v)
	if err != nil {
		return nil, err
	}
	for _, o := range open {
		if o.OrderID == orderID {
			return &o, nil
		}
	}
	return nil, nil
}

// PlaceOrdersBatch splits requests by venue, calls each venue's batch
// path (or falls back to sequential placement when it has none), and
// splices results back in input order. A single per-order failure does
// not abort the remainder.
func (s *Service) PlaceOrdersBatch(ctx context.Context, reqs []types.OrderRequest) ([]types.OrderResult, error) {
	results := make([]types.OrderResult, len(reqs))
	groups := make(map[types.Venue][]int)
	for i, req := range reqs {
		groups[req.Venue] = append(groups[req.Venue], i)
	}

	for v, idxs := range groups {
		a, err := s.adapterFor(v)
		if err != nil {
			for _, i := range idxs {
				results[i] = types.OrderResult{Success: false, Error: execerr.New(execerr.CodeUnknown, err.Error()).Error()}
			}
			continue
		}

		grouped := make([]types.OrderRequest, len(idxs))
		for j, i := range idxs {
			grouped[j] = reqs[i]
		}

		batchResults, err := a.PlaceBatch(ctx, grouped)
		if err != nil {
			for _, i := range idxs {
				results[i] = types.OrderResult{Success: false, Error: execerr.New(execerr.CodeUnknown, err.Error()).Error()}
			}
			continue
		}
		for j, i := range idxs {
			if j < len(batchResults) {
				results[i] = batchResults[j]
			}
		}
	}

	return results, nil
}

// CancelOrdersBatch cancels a list of order ids at one venue through
// that venue's batch-cancel path.
func (s *Service) CancelOrdersBatch(ctx context.Context, v types.Venue, orderIDs []string) ([]venue.CancelResult, error) {
	a, err := s.adapterFor(v)
	if err != nil {
		return nil, err
	}
	return a.CancelBatch(ctx, orderIDs)
}

// EstimateFill returns the VWAP-walk estimate for req without
// submitting it.
func (s *Service) EstimateFill(ctx context.Context, req types.OrderRequest) (slippage.Estimate, error) {
	a, err := s.adapterFor(req.Venue)
	if err != nil {
		return slippage.Estimate{}, err
	}
	book, err := a.GetOrderbook(ctx, req.Instrument)
	if err != nil {
		return slippage.Estimate{}, err
	}
	return slippage.EstimateSlippage(book, req), nil
}

// EstimateSlippage is an alias of EstimateFill's slippage figure,
// exposed separately since callers may want just the number without
// the expected-price leg.
func (s *Service) EstimateSlippage(ctx context.Context, req types.OrderRequest) (decimal.Decimal, error) {
	est, err := s.EstimateFill(ctx, req)
	if err != nil {
		return decimal.Zero, err
	}
	return est.Slippage, nil
}

// GetOrderbooksBatch fetches orderbooks for a set of (venue,
// instrument) pairs, continuing past individual failures.
func (s *Service) GetOrderbooksBatch(ctx context.Context, reqs []struct {
	Venue      types.Venue
	Instrument string
}) (map[string]*types.Orderbook, error) {
	out := make(map[string]*types.Orderbook, len(reqs))
	for _, r := range reqs {
		a, err := s.adapterFor(r.Venue)
		if err != nil {
			continue
		}
		book, err := a.GetOrderbook(ctx, r.Instrument)
		if err != nil {
			continue
		}
		out[string(r.Venue)+":"+r.Instrument] = book
	}
	return out, nil
}

// ApproveUSDC submits an on-chain approve(spender, amount) tx from the
// configured wallet. A zero amount approves the max uint256.
func (s *Service) ApproveUSDC(ctx context.Context, privateKeyHex, spender string, amount decimal.Decimal) (string, error) {
	return s.usdc.ApproveUSDC(ctx, privateKeyHex, spender, amount)
}

// GetUSDCAllowance reads the current allowance in dollars.
func (s *Service) GetUSDCAllowance(ctx context.Context, owner, spender string) (decimal.Decimal, error) {
	return s.usdc.GetAllowance(ctx, owner, spender)
}

// StartHeartbeat starts the V1 keep-alive loop for the given venue.
// Only meaningful for V1; other venues don't require one.
func (s *Service) StartHeartbeat(ctx context.Context, v types.Venue, post HeartbeatPoster, interval time.Duration) {
	hb := NewHeartbeat(post, interval)
	s.heartbeats[v] = hb
	hb.Start(ctx)
}

func (s *Service) StopHeartbeat(v types.Venue) {
	if hb, ok := s.heartbeats[v]; ok {
		hb.Stop()
	}
}

func (s *Service) IsHeartbeatActive(v types.Venue) bool {
	hb, ok := s.heartbeats[v]
	return ok && hb.IsActive()
}
