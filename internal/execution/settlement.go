package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

const (
	ctfAddress           = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	payoutDenominatorSel = "0x4d86c8dd" // payoutDenominator(bytes32)
)

// PositionHolding is one currently-held position a caller reports to
// getPendingSettlements. The Execution Service has no venue-uniform
// "list my positions" call, so callers (the redeemer or a strategy
// layer) supply the holdings they want checked for resolution.
type PositionHolding struct {
	ConditionID  string
	InstrumentID string
	Size         decimal.Decimal
}

// GetPendingSettlements checks each holding's condition for on-chain
// resolution (payoutDenominator > 0) and returns the ones with a
// positive claimable amount. Claimable is reported at face value for a
// resolved, unredeemed position; working out the winning/losing split
// requires the full CTF index-set math the auto-redeemer performs at
// redemption time.
func (s *Service) GetPendingSettlements(ctx context.Context, holdings []PositionHolding) ([]types.PendingSettlement, error) {
	var out []types.PendingSettlement
	for _, h := range holdings {
		if !h.Size.IsPositive() {
			continue
		}

		resolved, err := s.resolveCondition(ctx, h.ConditionID)
		if err != nil {
			return nil, fmt.Errorf("check resolution for %s: %w", h.ConditionID, err)
		}
		if !resolved {
			out = append(out, types.PendingSettlement{
				ConditionID:      h.ConditionID,
				InstrumentID:     h.InstrumentID,
				Size:             h.Size,
				Claimable:        decimal.Zero,
				ResolutionStatus: types.ResolutionPending,
			})
			continue
		}

		out = append(out, types.PendingSettlement{
			ConditionID:      h.ConditionID,
			InstrumentID:     h.InstrumentID,
			Size:             h.Size,
			Claimable:        h.Size,
			ResolutionStatus: types.ResolutionResolved,
		})
	}

	var positive []types.PendingSettlement
	for _, p := range out {
		if p.Claimable.IsPositive() {
			positive = append(positive, p)
		}
	}
	return positive, nil
}

// resolveCondition checks on-chain resolution unless a test (or a
// caller wiring an alternate resolver) has overridden resolveFn.
func (s *Service) resolveCondition(ctx context.Context, conditionID string) (bool, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, conditionID)
	}
	data := payoutDenominatorSel + pad32(conditionID)
	result, err := s.usdc.ethCall(ctx, ctfAddress, data)
	if err != nil {
		return false, err
	}
	return hexToUint64(result) > 0, nil
}

func pad32(hexVal string) string {
	clean := hexVal
	if len(clean) > 2 && clean[:2] == "0x" {
		clean = clean[2:]
	}
	if len(clean) < 64 {
		clean = fmt.Sprintf("%064s", clean)
	}
	return clean
}
