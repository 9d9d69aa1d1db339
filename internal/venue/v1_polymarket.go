package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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

// Polymarket (V1) contract addresses and chain parameters.
const (
	v1StandardExchange = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	v1NegRiskExchange   = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	v1ChainID           = 137

	v1SigTypeEOA       = 0
	v1SigTypePolyProxy = 1
	v1SigTypeBrowser   = 2

	v1USDCDecimals = 1_000_000 // 6 decimals
	v1BatchCap     = 15

	v1NegRiskFeeBps    = "25"
	v1StandardFeeBps   = "0"
)

// V1Polymarket is the primary venue adapter: EIP-712 signed orders over
// a CLOB-style REST API authenticated with HMAC L2 headers.
type V1Polymarket struct {
	baseURL       string
	privateKey    string
	address       string
	funderAddress string
	apiKey        string
	apiSecret     string
	passphrase    string
	sigType       int
	httpClient    *http.Client

	nonces *signer.Sequencer
	limits *ratelimit.PerVenue

	tickCache     *cache.TTL[decimal.Decimal]
	negRiskCache  *cache.TTL[bool]
	orderbookCache *cache.TTL[*types.Orderbook]

	negRiskProbe NegRiskProbe
}

// NewV1Polymarket constructs the primary venue adapter.
func NewV1Polymarket(auth config.VenueAuth, cfg *config.Config, negRiskProbe NegRiskProbe) (*V1Polymarket, error) {
	sigType := v1SigTypePolyProxy
	if auth.FunderAddress == "" {
		sigType = v1SigTypeEOA
	}

	addr := ""
	if auth.WalletPrivateKey != "" {
		a, err := signer.AddressFromPrivateKey(auth.WalletPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("v1: invalid private key: %w", err)
		}
		addr = a
	}

	return &V1Polymarket{
		baseURL:        auth.BaseURL,
		privateKey:     auth.WalletPrivateKey,
		address:        addr,
		funderAddress:  auth.FunderAddress,
		apiKey:         auth.APIKey,
		apiSecret:      auth.APISecret,
		passphrase:     auth.Passphrase,
		sigType:        sigType,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		nonces:         signer.NewSequencer(),
		limits:         ratelimit.NewPerVenue(50, 30, 15),
		tickCache:      cache.New[decimal.Decimal](cfg.TickCacheTTL),
		negRiskCache:   cache.New[bool](cfg.NegRiskCacheTTL),
		orderbookCache: cache.New[*types.Orderbook](cfg.OrderbookCacheTTL),
		negRiskProbe:   negRiskProbe,
	}, nil
}

func (v *V1Polymarket) Venue() types.Venue { return types.VenuePolymarket }

// Place validates tick size, resolves negRisk, runs the postOnly cross
// pre-check, assembles and EIP-712 signs the order, then submits it as
// a single-order POST.
func (v *V1Polymarket) Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := v.limits.Order.Wait(ctx); err != nil {
		return types.OrderResult{}, err
	}

	tick, err := v.resolveTick(ctx, req.Instrument)
	if err != nil {
		return rejectResult(execerr.New(execerr.CodeInvalidTickSize, err.Error())), nil
	}
	if !isTickMultiple(req.Price, tick) {
		return rejectResult(execerr.New(execerr.CodeInvalidTickSize, fmt.Sprintf("price %s is not a multiple of tick %s", req.Price, tick))), nil
	}

	negRisk, err := v.resolveNegRisk(ctx, req.Instrument)
	if err != nil {
		negRisk = req.NegRisk // fall back to caller-supplied flag on probe failure
	}

	if req.PostOnly {
		book, err := v.GetOrderbook(ctx, req.Instrument)
		if err == nil && book != nil {
			if crosses, reason := wouldCross(book, req); crosses {
				return rejectResult(execerr.New(execerr.CodeOrderWouldMatch, reason)), nil
			}
		}
	}

	return v.submitSignedOrder(ctx, req, negRisk, true)
}

// submitSignedOrder signs and posts req once. On an INVALID_NONCE
// rejection, it draws a fresh nonce and resubmits exactly once when
// allowRetry is set, matching the taxonomy's "retry once with fresh
// nonce" policy for that code.
func (v *V1Polymarket) submitSignedOrder(ctx context.Context, req types.OrderRequest, negRisk, allowRetry bool) (types.OrderResult, error) {
	order, err := v.buildSignedOrder(req, negRisk)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("v1: build order: %w", err)
	}

	payload := map[string]any{
		"order":     order,
		"owner":     v.apiKey,
		"orderType": string(req.Discipline),
		"deferExec": false,
	}
	if req.PostOnly {
		payload["postOnly"] = true
	}

	resp, err := v.post(ctx, "/order", payload)
	if err != nil {
		return types.OrderResult{}, err
	}

	var result struct {
		OrderID  string `json:"orderID"`
		Status   string `json:"status"`
		ErrorMsg string `json:"errorMsg"`
		Success  bool   `json:"success"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return types.OrderResult{}, fmt.Errorf("v1: parse response: %w", err)
	}
	if result.ErrorMsg != "" {
		rejErr := execerr.FromVenueMessage(strings.ToLower(result.ErrorMsg))
		if allowRetry && rejErr.Retryable() {
			log.Warn().Str("code", string(rejErr.Code)).Msg("🔁 v1 order rejected, retrying once with fresh nonce")
			return v.submitSignedOrder(ctx, req, negRisk, false)
		}
		return rejectResult(rejErr), nil
	}

	log.Info().Str("order_id", result.OrderID).Str("status", result.Status).Msg("📝 v1 order placed")

	return types.OrderResult{
		Success: true,
		OrderID: result.OrderID,
		Status:  mapV1Status(result.Status),
	}, nil
}

// PlaceBatch walks requests in groups of at most v1BatchCap and places
// each order with its own single-order Place call (no multi-order POST);
// a per-order failure never aborts the remainder.
func (v *V1Polymarket) PlaceBatch(ctx context.Context, reqs []types.OrderRequest) ([]types.OrderResult, error) {
	results := make([]types.OrderResult, len(reqs))
	for start := 0; start < len(reqs); start += v1BatchCap {
		end := start + v1BatchCap
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

func (v *V1Polymarket) Cancel(ctx context.Context, orderID string) (bool, error) {
	if err := v.limits.Cancel.Wait(ctx); err != nil {
		return false, err
	}
	_, err := v.deleteWithBody(ctx, "/order", map[string]string{"orderID": orderID})
	if err != nil {
		return false, fmt.Errorf("v1: cancel: %w", err)
	}
	return true, nil
}

func (v *V1Polymarket) CancelBatch(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	results := make([]CancelResult, len(orderIDs))
	for i, id := range orderIDs {
		ok, err := v.Cancel(ctx, id)
		results[i] = CancelResult{OrderID: id, Success: err == nil && ok}
	}
	return results, nil
}

func (v *V1Polymarket) CancelAll(ctx context.Context, marketFilter string) (int, error) {
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
		if ok, _ := v.Cancel(ctx, o.OrderID); ok {
			n++
		}
	}
	return n, nil
}

func (v *V1Polymarket) ListOpen(ctx context.Context) ([]types.OpenOrder, error) {
	resp, err := v.get(ctx, "/orders?status=live")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID        string          `json:"id"`
		TokenID   string          `json:"asset_id"`
		Price     decimal.Decimal `json:"price"`
		Size      decimal.Decimal `json:"original_size"`
		Filled    decimal.Decimal `json:"size_matched"`
		Side      string          `json:"side"`
		Status    string          `json:"status"`
		CreatedAt time.Time       `json:"created_at"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("v1: parse open orders: %w", err)
	}
	out := make([]types.OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, types.OpenOrder{
			OrderID:       o.ID,
			Venue:         types.VenuePolymarket,
			Instrument:    o.TokenID,
			Price:         o.Price,
			OriginalSize:  o.Size,
			FilledSize:    o.Filled,
			RemainingSize: o.Size.Sub(o.Filled),
			Side:          types.Side(strings.ToLower(o.Side)),
			Status:        mapV1Status(o.Status),
			CreatedAt:     o.CreatedAt,
		})
	}
	return out, nil
}

func (v *V1Polymarket) GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error) {
	return v.orderbookCache.GetOrLoad(instrument, func() (*types.Orderbook, error) {
		if err := v.limits.Book.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := v.get(ctx, "/book?token_id="+instrument)
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
			return nil, fmt.Errorf("v1: parse book: %w", err)
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

func (v *V1Polymarket) GetPrice(ctx context.Context, instrument string) (*types.Price, error) {
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

// resolveTick fetches and caches the venue-published tick size for an
// instrument.
func (v *V1Polymarket) resolveTick(ctx context.Context, instrument string) (decimal.Decimal, error) {
	return v.tickCache.GetOrLoad(instrument, func() (decimal.Decimal, error) {
		resp, err := v.get(ctx, "/tick-size?token_id="+instrument)
		if err != nil {
			return decimal.Zero, err
		}
		var raw struct {
			MinimumTickSize decimal.Decimal `json:"minimum_tick_size"`
		}
		if err := json.Unmarshal(resp, &raw); err != nil || raw.MinimumTickSize.IsZero() {
			return decimal.NewFromFloat(0.01), nil
		}
		return raw.MinimumTickSize, nil
	})
}

// resolveNegRisk resolves the neg-risk flag via the injected probe,
// caching the result.
func (v *V1Polymarket) resolveNegRisk(ctx context.Context, instrument string) (bool, error) {
	if v.negRiskProbe == nil {
		return false, nil
	}
	return v.negRiskCache.GetOrLoad(instrument, func() (bool, error) {
		return v.negRiskProbe(ctx, instrument)
	})
}

func isTickMultiple(price, tick decimal.Decimal) bool {
	if tick.IsZero() {
		return true
	}
	ratio := price.Div(tick)
	nearest := ratio.Round(0)
	diff := ratio.Sub(nearest).Abs()
	tolerance := decimal.NewFromFloat(0.01) // tick/100 tolerance, expressed as a fraction of a tick unit
	return diff.LessThanOrEqual(tolerance)
}

// wouldCross reports whether a postOnly order would immediately match
// the resting book.
func wouldCross(book *types.Orderbook, req types.OrderRequest) (bool, string) {
	if req.Side == types.SideBuy {
		if ask, ok := book.BestAsk(); ok && req.Price.GreaterThanOrEqual(ask.Price) {
			return true, fmt.Sprintf("postOnly buy at %s would cross best ask %s", req.Price, ask.Price)
		}
	} else {
		if bid, ok := book.BestBid(); ok && req.Price.LessThanOrEqual(bid.Price) {
			return true, fmt.Sprintf("postOnly sell at %s would cross best bid %s", req.Price, bid.Price)
		}
	}
	return false, ""
}

func (v *V1Polymarket) buildSignedOrder(req types.OrderRequest, negRisk bool) (map[string]any, error) {
	maker := v.funderAddress
	if maker == "" {
		maker = v.address
	}

	usdc := decimal.NewFromInt(v1USDCDecimals)
	// Round to cent/0.01-share precision before scaling, matching the
	// on-chain precision the venue verifies against.
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

	exchange := v1StandardExchange
	feeBps := v1StandardFeeBps
	if negRisk {
		exchange = v1NegRiskExchange
		feeBps = v1NegRiskFeeBps
	}

	fields := signer.OrderFields{
		Salt:          signer.Salt(),
		Maker:         maker,
		Signer:        v.address,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.Instrument,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    expiration,
		Nonce:         fmt.Sprintf("%d", v.nonces.Next()),
		FeeRateBps:    feeBps,
		Side:          sideInt,
		SignatureType: v.sigType,
	}

	domain := signer.Domain{
		Name:              "Primary CTF Exchange",
		Version:           "1",
		ChainID:           v1ChainID,
		VerifyingContract: exchange,
	}

	sig, err := signer.SignOrder(domain, fields, v.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	return map[string]any{
		"salt":          fields.Salt,
		"maker":         fields.Maker,
		"signer":        fields.Signer,
		"taker":         fields.Taker,
		"tokenId":       fields.TokenID,
		"makerAmount":   fields.MakerAmount,
		"takerAmount":   fields.TakerAmount,
		"expiration":    fields.Expiration,
		"nonce":         fields.Nonce,
		"feeRateBps":    fields.FeeRateBps,
		"side":          sideString(req.Side),
		"signatureType": fields.SignatureType,
		"signature":     sig,
	}, nil
}

func sideString(s types.Side) string {
	if s == types.SideBuy {
		return "BUY"
	}
	return "SELL"
}

func mapV1Status(raw string) types.OrderStatus {
	switch strings.ToLower(raw) {
	case "live", "open":
		return types.StatusOpen
	case "matched", "filled":
		return types.StatusFilled
	case "cancelled", "canceled":
		return types.StatusCancelled
	case "expired":
		return types.StatusExpired
	default:
		return types.StatusPending
	}
}

func rejectResult(e *execerr.Error) types.OrderResult {
	return types.OrderResult{Success: false, Error: e.Error()}
}

// ── HTTP + HMAC L2 auth plumbing, adapted from exec/client.go ──

func (v *V1Polymarket) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	v.addHeaders(req)
	return v.do(req)
}

func (v *V1Polymarket) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	v.addHeaders(req)
	return v.do(req)
}

func (v *V1Polymarket) deleteWithBody(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	v.addHeaders(req)
	return v.do(req)
}

func (v *V1Polymarket) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_ADDRESS", v.address)
	req.Header.Set("POLY_API_KEY", v.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", v.passphrase)

	if v.apiSecret == "" {
		return
	}

	message := timestamp + req.Method + req.URL.Path
	if req.Body != nil {
		bodyBytes, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		if len(bodyBytes) > 0 {
			message += string(bodyBytes)
		}
	}
	req.Header.Set("POLY_SIGNATURE", v.hmacSign(message))
}

func (v *V1Polymarket) hmacSign(message string) string {
	key, err := base64.URLEncoding.DecodeString(v.apiSecret)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(v.apiSecret)
		if err != nil {
			key = []byte(v.apiSecret)
		}
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

func (v *V1Polymarket) do(req *http.Request) ([]byte, error) {
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
		return nil, fmt.Errorf("v1: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
