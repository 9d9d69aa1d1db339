// execored is the Execution Core process: it loads configuration, wires
// the per-venue adapters into the Execution Service, and starts the
// standing tasks layered above it — the V1 fill stream and heartbeat,
// the trigger manager's expiry sweep, and the auto-redeem sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/breaker"
	"github.com/web3guy0/execore/internal/config"
	"github.com/web3guy0/execore/internal/execution"
	"github.com/web3guy0/execore/internal/redeem"
	"github.com/web3guy0/execore/internal/router"
	"github.com/web3guy0/execore/internal/slippage"
	"github.com/web3guy0/execore/internal/trigger"
	"github.com/web3guy0/execore/internal/venue"
	"github.com/web3guy0/execore/pkg/types"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Info().Str("version", version).Bool("dry_run", cfg.DryRun).Msg("execored starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	br := breaker.New(breaker.Config{
		MaxLossUsd:            cfg.Breaker.MaxLossUsd,
		MaxLossPct:            cfg.Breaker.MaxLossPct,
		MaxConsecutiveLosses:  cfg.Breaker.MaxConsecutiveLosses,
		MaxErrorRate:          cfg.Breaker.MaxErrorRate,
		MinTradesForErrorRate: cfg.Breaker.MinTradesForErrorRate,
		MaxPositionSize:       cfg.Breaker.MaxPositionSize,
		MaxDailyTrades:        cfg.Breaker.MaxDailyTrades,
		ResetTimeout:          cfg.Breaker.ResetTimeout,
		InitialBalance:        cfg.Breaker.InitialBalance,
	})

	adapters, err := buildAdapters(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build venue adapters")
	}
	if len(adapters) == 0 {
		log.Warn().Msg("no venue credentials configured, running with zero adapters")
	}

	guard := slippage.Guard{
		MaxSlippage:              cfg.Slippage.MaxSlippage,
		CheckOrderbook:           cfg.Slippage.CheckOrderbook,
		AutoCancel:               cfg.Slippage.AutoCancel,
		UseLimitOrders:           cfg.Slippage.UseLimitOrders,
		LimitPriceBuffer:         cfg.Slippage.LimitPriceBuffer,
		AbortOnExcessiveSlippage: cfg.Slippage.AbortOnExcessiveSlippage,
		MaxRetries:               cfg.Slippage.MaxRetries,
		RetryDelay:               cfg.Slippage.RetryDelay,
	}

	walletAddress := cfg.Venues[types.VenuePolymarket].FunderAddress
	svc := execution.New(adapters, cfg.MaxOrderSize, guard, walletAddress)
	svc.SetCircuitBreaker(br)

	if _, ok := adapters[types.VenuePolymarket]; ok {
		fills := execution.NewFillsStream(cfg.Venues[types.VenuePolymarket], svc.Fills(), svc.Orders())
		if err := fills.Connect(ctx); err != nil {
			log.Error().Err(err).Msg("fills websocket connect failed, continuing without push fills")
		} else {
			defer fills.Close()
		}

		svc.StartHeartbeat(ctx, types.VenuePolymarket, listOpenPoster(adapters[types.VenuePolymarket]), cfg.HeartbeatInterval)
		defer svc.StopHeartbeat(types.VenuePolymarket)
	}

	quoters := make(map[types.Venue]router.Quoter, len(adapters))
	fees := make(map[types.Venue]router.FeeSchedule, len(adapters))
	for v, a := range adapters {
		quoters[v] = a
		fees[v] = router.FeeSchedule{} // adapters net venue fees into their own quoted price
	}
	rt := router.New(quoters, fees, nil)
	_ = rt // held for strategies layered on top of this process; not exercised by the standing tasks below

	triggerMgr := trigger.NewManager(pollingSubscriber(ctx, adapters), svc)
	triggerMgr.StartSweep(ctx)
	defer triggerMgr.StopSweep()

	onchain := redeem.NewOnChainClient(cfg.Venues[types.VenuePolymarket].WalletPrivateKey, walletAddress)
	sweeper := redeem.New(onchain, onchain, cfg.RedeemSweepInterval)
	sweeper.Subscribe(func(e redeem.Event) {
		log.Info().Str("condition_id", e.ConditionID).Str("status", string(e.Status)).Str("tx", e.TxHash).Str("error", e.Error).Msg("redeem sweep")
	})
	// No venue exposes a uniform authenticated positions endpoint, so the
	// redeemer's position source is left for the operator to supply;
	// without one the sweep loop has nothing to check each tick.
	sweeper.Start(ctx, func(ctx context.Context) ([]redeem.Position, error) { return nil, nil })
	defer sweeper.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping")
	cancel()
	time.Sleep(200 * time.Millisecond)
	log.Info().Msg("execored stopped")
}

func buildAdapters(cfg *config.Config) (map[types.Venue]venue.Adapter, error) {
	adapters := make(map[types.Venue]venue.Adapter)

	if auth, ok := cfg.Venues[types.VenuePolymarket]; ok && auth.WalletPrivateKey != "" {
		v1, err := venue.NewV1Polymarket(auth, cfg, nil)
		if err != nil {
			return nil, err
		}
		adapters[types.VenuePolymarket] = v1
	}
	if auth, ok := cfg.Venues[types.VenueKalshi]; ok && auth.APIKey != "" {
		adapters[types.VenueKalshi] = venue.NewV2Kalshi(auth, cfg)
	}
	if auth, ok := cfg.Venues[types.VenuePredictFun]; ok && auth.WalletPrivateKey != "" {
		v4, err := venue.NewV4PredictFun(auth, cfg, nil, nil)
		if err != nil {
			return nil, err
		}
		adapters[types.VenuePredictFun] = v4
	}
	// V3 (Opinion) needs an external signing SDK wired in as a
	// venue.ExternalSigner; left out until an operator supplies one.

	return adapters, nil
}

// listOpenPoster is the V1 heartbeat poster: an authenticated
// ListOpen call is a real hit against the venue, which is what keeps
// a resting order session from being cancelled for inactivity. id is
// unused by this venue's keep-alive, so it just echoes lastID back.
func listOpenPoster(a venue.Adapter) execution.HeartbeatPoster {
	return func(ctx context.Context, lastID string) (string, error) {
		_, err := a.ListOpen(ctx)
		return lastID, err
	}
}

// pollingSubscriber adapts the venue adapters' GetPrice into a
// trigger.PriceSubscriber by polling every 2s, since no concrete
// feed.Provider is wired into this process.
func pollingSubscriber(ctx context.Context, adapters map[types.Venue]venue.Adapter) trigger.PriceSubscriber {
	return func(platform types.Venue, instrument string, callback func(price decimal.Decimal)) func() {
		a, ok := adapters[platform]
		if !ok {
			return func() {}
		}

		pctx, cancel := context.WithCancel(ctx)
		var once sync.Once
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-pctx.Done():
					return
				case <-ticker.C:
					p, err := a.GetPrice(pctx, instrument)
					if err != nil || p == nil {
						continue
					}
					callback(p.Mid)
				}
			}
		}()

		return func() { once.Do(cancel) }
	}
}
