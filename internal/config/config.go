// Package config loads the Execution Core's configuration from the
// environment: typed getEnv* helpers with inline defaults, no
// YAML/viper layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/pkg/types"
)

// VenueAuth carries the per-venue auth blob. Fields not used by a
// given venue are left zero.
type VenueAuth struct {
	WalletPrivateKey string // V1/V4: EIP-712 signer
	FunderAddress    string // V1: proxy/funder wallet holding funds
	APIKey           string // V1/V2: API key
	APISecret        string // V1/V2: HMAC secret
	Passphrase       string // V1: POLY_PASSPHRASE
	VaultAddress     string // V3: vault/multisig passed to the signing SDK
	BaseURL          string
}

// SlippageConfig configures the slippage guard.
type SlippageConfig struct {
	MaxSlippage              decimal.Decimal
	CheckOrderbook           bool
	AutoCancel               bool
	UseLimitOrders           bool
	LimitPriceBuffer         decimal.Decimal
	AbortOnExcessiveSlippage bool
	MaxRetries               int
	RetryDelay               time.Duration
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	MaxLossUsd            decimal.Decimal
	MaxLossPct            decimal.Decimal
	MaxConsecutiveLosses  int
	MaxErrorRate          decimal.Decimal
	MinTradesForErrorRate int
	MaxPositionSize       decimal.Decimal
	MaxDailyTrades        int
	ResetTimeout          time.Duration
	InitialBalance        decimal.Decimal
}

// RouterConfig configures the smart router.
type RouterConfig struct {
	AllowSplitting      bool
	MaxSplitPlatforms   int
	MinSplitImprovement decimal.Decimal
	PreferMaker         bool
	LiquidityWeight     decimal.Decimal
}

// Config is the top-level Execution Core configuration.
type Config struct {
	Debug  bool
	DryRun bool

	MaxOrderSize decimal.Decimal

	Venues map[types.Venue]VenueAuth

	Slippage SlippageConfig
	Breaker  BreakerConfig
	Router   RouterConfig

	HeartbeatInterval     time.Duration
	BracketPollInterval   time.Duration
	TriggerSweepInterval  time.Duration
	RedeemSweepInterval   time.Duration
	FillGCMaxAge          time.Duration

	TickCacheTTL      time.Duration
	NegRiskCacheTTL   time.Duration
	FeeCacheTTL       time.Duration
	OrderbookCacheTTL time.Duration
}

// Load reads Config from the environment, applying sane defaults for
// risk and market settings.
func Load() (*Config, error) {
	cfg := &Config{
		Debug:        getEnvBool("DEBUG", false),
		DryRun:       getEnvBool("DRY_RUN", true),
		MaxOrderSize: getEnvDecimal("MAX_ORDER_SIZE", decimal.NewFromInt(1000)),

		Venues: map[types.Venue]VenueAuth{
			types.VenuePolymarket: {
				WalletPrivateKey: os.Getenv("V1_WALLET_PRIVATE_KEY"),
				FunderAddress:    os.Getenv("V1_FUNDER_ADDRESS"),
				APIKey:           os.Getenv("V1_API_KEY"),
				APISecret:        os.Getenv("V1_API_SECRET"),
				Passphrase:       os.Getenv("V1_PASSPHRASE"),
				BaseURL:          getEnv("V1_BASE_URL", "https://clob.polymarket.com"),
			},
			types.VenueKalshi: {
				APIKey:    os.Getenv("V2_API_KEY"),
				APISecret: os.Getenv("V2_API_SECRET"),
				BaseURL:   getEnv("V2_BASE_URL", "https://trading-api.kalshi.com"),
			},
			types.VenueOpinion: {
				VaultAddress: os.Getenv("V3_VAULT_ADDRESS"),
				APIKey:       os.Getenv("V3_API_KEY"),
				BaseURL:      getEnv("V3_BASE_URL", "https://api.opinion.exchange"),
			},
			types.VenuePredictFun: {
				WalletPrivateKey: os.Getenv("V4_WALLET_PRIVATE_KEY"),
				APIKey:           os.Getenv("V4_API_KEY"),
				BaseURL:          getEnv("V4_BASE_URL", "https://api.predict.fun"),
			},
		},

		Slippage: SlippageConfig{
			MaxSlippage:              getEnvDecimal("SLIPPAGE_MAX", decimal.NewFromFloat(0.02)),
			CheckOrderbook:           getEnvBool("SLIPPAGE_CHECK_ORDERBOOK", true),
			AutoCancel:               getEnvBool("SLIPPAGE_AUTO_CANCEL", false),
			UseLimitOrders:           getEnvBool("SLIPPAGE_USE_LIMIT_ORDERS", false),
			LimitPriceBuffer:         getEnvDecimal("SLIPPAGE_LIMIT_PRICE_BUFFER", decimal.NewFromFloat(0.01)),
			AbortOnExcessiveSlippage: getEnvBool("SLIPPAGE_ABORT_ON_EXCESSIVE", true),
			MaxRetries:               getEnvInt("SLIPPAGE_MAX_RETRIES", 3),
			RetryDelay:               getEnvDuration("SLIPPAGE_RETRY_DELAY", 500*time.Millisecond),
		},

		Breaker: BreakerConfig{
			MaxLossUsd:            getEnvDecimal("BREAKER_MAX_LOSS_USD", decimal.NewFromInt(100)),
			MaxLossPct:            getEnvDecimal("BREAKER_MAX_LOSS_PCT", decimal.NewFromInt(15)),
			MaxConsecutiveLosses:  getEnvInt("BREAKER_MAX_CONSECUTIVE_LOSSES", 3),
			MaxErrorRate:          getEnvDecimal("BREAKER_MAX_ERROR_RATE", decimal.NewFromFloat(0.25)),
			MinTradesForErrorRate: getEnvInt("BREAKER_MIN_TRADES_FOR_ERROR_RATE", 10),
			MaxPositionSize:       getEnvDecimal("BREAKER_MAX_POSITION_SIZE", decimal.NewFromInt(5000)),
			MaxDailyTrades:        getEnvInt("BREAKER_MAX_DAILY_TRADES", 200),
			ResetTimeout:          getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Minute),
			InitialBalance:        getEnvDecimal("BREAKER_INITIAL_BALANCE", decimal.NewFromInt(1000)),
		},

		Router: RouterConfig{
			AllowSplitting:      getEnvBool("ROUTER_ALLOW_SPLITTING", true),
			MaxSplitPlatforms:   getEnvInt("ROUTER_MAX_SPLIT_PLATFORMS", 3),
			MinSplitImprovement: getEnvDecimal("ROUTER_MIN_SPLIT_IMPROVEMENT", decimal.NewFromFloat(0.5)),
			PreferMaker:         getEnvBool("ROUTER_PREFER_MAKER", true),
			LiquidityWeight:     getEnvDecimal("ROUTER_LIQUIDITY_WEIGHT", decimal.NewFromFloat(0.1)),
		},

		HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", 8*time.Second),
		BracketPollInterval:  getEnvDuration("BRACKET_POLL_INTERVAL", 2*time.Second),
		TriggerSweepInterval: getEnvDuration("TRIGGER_SWEEP_INTERVAL", 5*time.Second),
		RedeemSweepInterval:  getEnvDuration("REDEEM_SWEEP_INTERVAL", 60*time.Second),
		FillGCMaxAge:         getEnvDuration("FILL_GC_MAX_AGE", time.Hour),

		TickCacheTTL:      getEnvDuration("CACHE_TICK_TTL", time.Hour),
		NegRiskCacheTTL:   getEnvDuration("CACHE_NEGRISK_TTL", time.Hour),
		FeeCacheTTL:       getEnvDuration("CACHE_FEE_TTL", time.Hour),
		OrderbookCacheTTL: getEnvDuration("CACHE_ORDERBOOK_TTL", 5*time.Second),
	}

	if cfg.MaxOrderSize.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("MAX_ORDER_SIZE must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
