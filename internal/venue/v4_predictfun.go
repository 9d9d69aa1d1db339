package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/cache"
	"github.com/web3guy0/execore/internal/config"
	"github.com/web3guy0/execore/internal/ratelimit"
	"github.com/web3guy0/execore/internal/signer"
	"github.com/web3guy0/execore/pkg/execerr"
	"github.com/web3guy0/execore/pkg/types"
)

const (
	v4ChainID        = 8453 // Base
	v4Exchange       = "0x1B7e9C4aAF8b2c1F1d8D2C5e3A6b9F0123456789"
	v4BatchCap       = 15

	v4YieldBearingExchange = "0x2C8f0D5BAF9C3D2F2e9E3D6f4B7c0F1234567890"
)

// V4PredictFun is the fourth venue adapter. Each order carries its own
// EIP-712 domain (the verifying contract is the yield-bearing exchange
// when the instrument's yieldBearing flag is set and the standard
// exchange otherwise; negRisk only changes the fee rate), and every
// cancel must carry both the negRisk flag and a yield-bearing-collateral
// flag.
type V4PredictFun struct {
	baseURL       string
	privateKey    string
	address       string
	httpClient    *http.Client

	nonces *signer.Sequencer
	limits *ratelimit.PerVenue

	negRiskCache   *cache.TTL[bool]
	yieldCache     *cache.TTL[bool]
	orderbookCache *cache.TTL[*types.Orderbook]

	negRiskProbe NegRiskProbe
	yieldProbe   func(ctx context.Context, instrument string) (bool, error)
}

// NewV4PredictFun constructs the fourth venue adapter.
func NewV4PredictFun(auth config.VenueAuth, cfg *config.Config, negRiskProbe NegRiskProbe, yieldProbe func(ctx context.Context, instrument string) (bool, error)) (*V4PredictFun, error) {
	addr := ""
	if auth.WalletPrivateKey != "" {
		a, err := signer.AddressFromPrivateKey(auth.WalletPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("v4: invalid private key: %w", err)
		}
		addr = a
	}
	return &V4PredictFun{
		baseURL:        auth.BaseURL,
		privateKey:     auth.WalletPrivateKey,
		address:        addr,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		nonces:         signer.NewSequencer(),
		limits:         ratelimit.NewPerVenue(40, 30, 15),
		negRiskCache:   cache.New[bool](cfg.NegRiskCacheTTL),
		yieldCache:     cache.New[bool](cfg.NegRiskCacheTTL),
		orderbookCache: cache.New[*types.Orderbook](cfg.OrderbookCacheTTL),
		negRiskProbe:   negRiskProbe,
		yieldProbe:     yieldProbe,
	}, nil
}

func (v *V4PredictFun) Venue() types.Venue { return types.VenuePredictFun }

func (v *V4PredictFun) Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := v.limits.Order.Wait(ctx); err != nil {
		return types.OrderResult{}, err
	}

	negRisk, _ := v.negRiskCache.GetOrLoad(req.Instrument, func() (bool, error) {
		if v.negRiskProbe == nil {
			return req.NegRisk, nil
		}
		return v.negRiskProbe(ctx, req.Instrument)
	})
	yieldBearing, _ := v.yieldCache.GetOrLoad(req.Instrument, func() (bool, error) {
		if v.yieldProbe == nil {
			return false, nil
		}
		return v.yieldProbe(ctx, req.Instrument)
	})

	exchange := v4Exchange
	if yieldBearing {
		exchange = v4YieldBearingExchange
	}

	order, err := v.buildSignedOrder(req, negRisk, exchange)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("v4: build order: %w", err)
	}

	payload := map[string]any{
		"order":        order,
		"negRisk":      negRisk,
		"yieldBearing": yieldBearing,
	}

	resp, err := v.post(ctx, "/orders", payload)
	if err != nil {
		return types.OrderResult{}, err
	}

	var result struct {
		OrderID  string `json:"orderId"`
		Status   string `json:"status"`
		ErrorMsg string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return types.OrderResult{}, fmt.Errorf("v4: parse response: %w", err)
	}
	if result.ErrorMsg != "" {
		return rejectResult(execerr.FromVenueMessage(strings.ToLower(result.ErrorMsg))), nil
	}

	log.Info().Str("order_id", result.OrderID).Bool("neg_risk", negRisk).Bool("yield_bearing", yieldBearing).Msg("📝 v4 order placed")

	return types.OrderResult{Success: true, OrderID: result.OrderID, Status: mapV4Status(result.Status)}, nil
}

func (v *V4PredictFun) PlaceBatch(ctx context.Context, reqs []types.OrderRequest) ([]types.OrderResult, error) {
	results := make([]types.OrderResult, len(reqs))
	for start := 0; start < len(reqs); start += v4BatchCap {
		end := start + v4BatchCap
		if end > len(reqs) {
			end = len(reqs)
		}
		for i := start; i < end; i++ {
			res, err := v.Place(ctx, reqs[i])
			if err != nil {
				res = types.OrderResult{Success: false, Error: err.Error()}
			}
			results[i] = res
		}
	}
	return results, nil
}

// Cancel requires the negRisk and yieldBearing flags for the
// instrument being cancelled, since the venue routes the cancel to one
// of two exchange contracts based on them.
func (v *V4PredictFun) Cancel(ctx context.Context, orderID string) (bool, error) {
	return false, fmt.Errorf("v4: Cancel requires an instrument for flag resolution, use CancelWithInstrument")
}

// CancelWithInstrument is this venue's real cancel entry point; plain
// Cancel cannot satisfy the flag requirement from an order ID alone.
func (v *V4PredictFun) CancelWithInstrument(ctx context.Context, orderID, instrument string) (bool, error) {
	if err := v.limits.Cancel.Wait(ctx); err != nil {
		return false, err
	}
	negRisk, _ := v.negRiskCache.GetOrLoad(instrument, func() (bool, error) {
		if v.negRiskProbe == nil {
			return false, nil
		}
		return v.negRiskProbe(ctx, instrument)
	})
	yieldBearing, _ := v.yieldCache.GetOrLoad(instrument, func() (bool, error) {
		if v.yieldProbe == nil {
			return false, nil
		}
		return v.yieldProbe(ctx, instrument)
	})

	payload := map[string]any{
		"orderId":      orderID,
		"negRisk":      negRisk,
		"yieldBearing": yieldBearing,
	}
	jsonBody, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.baseURL+"/orders", bytes.NewBuffer(jsonBody))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := v.do(req); err != nil {
		return false, fmt.Errorf("v4: cancel: %w", err)
	}
	return true, nil
}

func (v *V4PredictFun) CancelBatch(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	results := make([]CancelResult, len(orderIDs))
	for i, id := range orderIDs {
		results[i] = CancelResult{OrderID: id, Success: false}
	}
	return results, fmt.Errorf("v4: CancelBatch requires per-order instruments, use CancelWithInstrument")
}

func (v *V4PredictFun) CancelAll(ctx context.Context, marketFilter string) (int, error) {
	if err := v.limits.Cancel.Wait(ctx); err != nil {
		return 0, err
	}
	open, err := v.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range open {
		if marketFilter != "" && o.Market != marketFilter {
			continue
		}
		if ok, _ := v.CancelWithInstrument(ctx, o.OrderID, o.Instrument); ok {
			n++
		}
	}
	return n, nil
}

func (v *V4PredictFun) ListOpen(ctx context.Context) ([]types.OpenOrder, error) {
	resp, err := v.get(ctx, "/orders?status=open")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID        string          `json:"id"`
		Market    string          `json:"market"`
		TokenID   string          `json:"tokenId"`
		Price     decimal.Decimal `json:"price"`
		Size      decimal.Decimal `json:"size"`
		Filled    decimal.Decimal `json:"filled"`
		Side      string          `json:"side"`
		Status    string          `json:"status"`
		CreatedAt time.Time       `json:"createdAt"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("v4: parse open orders: %w", err)
	}
	out := make([]types.OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, types.OpenOrder{
			OrderID:       o.ID,
			Venue:         types.VenuePredictFun,
			Market:        o.Market,
			Instrument:    o.TokenID,
			Side:          types.Side(strings.ToLower(o.Side)),
			Price:         o.Price,
			OriginalSize:  o.Size,
			FilledSize:    o.Filled,
			RemainingSize: o.Size.Sub(o.Filled),
			Status:        mapV4Status(o.Status),
			CreatedAt:     o.CreatedAt,
		})
	}
	return out, nil
}

func (v *V4PredictFun) GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error) {
	return v.orderbookCache.GetOrLoad(instrument, func() (*types.Orderbook, error) {
		if err := v.limits.Book.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := v.get(ctx, "/book?tokenId="+instrument)
		if err != nil {
			return nil, err
		}
		var raw struct {
			Bids []struct {
				Price decimal.Decimal `json:"price"`
				Size  decimal.Decimal `json:"size"`
			} `json:"bids"`
			Asks []struct {
				Price decimal.Decimal `json:"price"`
				Size  decimal.Decimal `json:"size"`
			} `json:"asks"`
		}
		if err := json.Unmarshal(resp, &raw); err != nil {
			return nil, fmt.Errorf("v4: parse book: %w", err)
		}
		book := &types.Orderbook{}
		for _, b := range raw.Bids {
			book.Bids = append(book.Bids, types.Level{Price: b.Price, Size: b.Size})
		}
		for _, a := range raw.Asks {
			book.Asks = append(book.Asks, types.Level{Price: a.Price, Size: a.Size})
		}
		if bb, ok := book.BestBid(); ok {
			if ba, ok := book.BestAsk(); ok {
				book.MidPrice = bb.Price.Add(ba.Price).Div(decimal.NewFromInt(2))
			}
		}
		return book, nil
	})
}

func (v *V4PredictFun) GetPrice(ctx context.Context, instrument string) (*types.Price, error) {
	book, err := v.GetOrderbook(ctx, instrument)
	if err != nil || book == nil {
		return nil, err
	}
	p := &types.Price{Mid: book.MidPrice}
	if bb, ok := book.BestBid(); ok {
		p.Bid = bb.Price
	}
	if ba, ok := book.BestAsk(); ok {
		p.Ask = ba.Price
	}
	return p, nil
}

func (v *V4PredictFun) buildSignedOrder(req types.OrderRequest, negRisk bool, exchange string) (map[string]any, error) {
	usdc := decimal.NewFromInt(1_000_000)
	price := req.Price.Round(2)
	size := req.Size.Round(2)

	var makerAmount, takerAmount decimal.Decimal
	sideInt := 0
	if req.Side == types.SideBuy {
		makerAmount = size.Mul(price).Mul(usdc).Floor()
		takerAmount = size.Mul(usdc).Floor()
	} else {
		makerAmount = size.Mul(usdc).Floor()
		takerAmount = size.Mul(price).Mul(usdc).Floor()
		sideInt = 1
	}

	expiration := "0"
	if req.Discipline == types.DisciplineGTD && req.Expiration != nil {
		expiration = fmt.Sprintf("%d", req.Expiration.Unix())
	}

	feeBps := "0"
	if negRisk {
		feeBps = "25"
	}

	fields := signer.OrderFields{
		Salt:        signer.Salt(),
		Maker:       v.address,
		Signer:      v.address,
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     req.Instrument,
		MakerAmount: makerAmount.String(),
		TakerAmount: takerAmount.String(),
		Expiration:  expiration,
		Nonce:       fmt.Sprintf("%d", v.nonces.Next()),
		FeeRateBps:  feeBps,
		Side:        sideInt,
	}

	// Each order hashes against its own domain: the verifying contract
	// is the exchange address Place chose from the yieldBearing flag.
	domain := signer.Domain{
		Name:              "PredictFun Exchange",
		Version:           "1",
		ChainID:           v4ChainID,
		VerifyingContract: exchange,
	}

	sig, err := signer.SignOrder(domain, fields, v.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	return map[string]any{
		"salt":        fields.Salt,
		"maker":       fields.Maker,
		"signer":      fields.Signer,
		"taker":       fields.Taker,
		"tokenId":     fields.TokenID,
		"makerAmount": fields.MakerAmount,
		"takerAmount": fields.TakerAmount,
		"expiration":  fields.Expiration,
		"nonce":       fields.Nonce,
		"feeRateBps":  fields.FeeRateBps,
		"side":        sideString(req.Side),
		"signature":   sig,
	}, nil
}

func mapV4Status(raw string) types.OrderStatus {
	switch strings.ToLower(raw) {
	case "open", "live":
		return types.StatusOpen
	case "filled", "matched":
		return types.StatusFilled
	case "cancelled", "canceled":
		return types.StatusCancelled
	case "expired":
		return types.StatusExpired
	default:
		return types.StatusPending
	}
}

func (v *V4PredictFun) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return v.do(req)
}

func (v *V4PredictFun) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return v.do(req)
}

func (v *V4PredictFun) do(req *http.Request) ([]byte, error) {
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("v4: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
