package execution

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Start reconciles the order tracker against each venue's live order
// snapshot before the service starts serving traffic: any order the
// venue still considers open is seeded into the tracker so a process
// restart doesn't leave it silently untracked. Per-venue failures are
// logged and skipped rather than aborting the whole reconciliation.
func (s *Service) Start(ctx context.Context) {
	for v, a := range s.adapters {
		open, err := a.ListOpen(ctx)
		if err != nil {
			log.Warn().Err(err).Str("venue", string(v)).Msg("reconcile: failed to list open orders at startup")
			continue
		}
		for _, o := range open {
			s.orders.OnOrder(OrderEvent{
				OrderID:    o.OrderID,
				Status:     o.Status,
				FilledSize: o.FilledSize.String(),
			})
		}
		log.Info().Str("venue", string(v)).Int("recovered", len(open)).Msg("🔄 reconciled open orders at startup")
	}
}
