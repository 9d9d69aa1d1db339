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
	"github.com/web3guy0/execore/pkg/execerr"
	"github.com/web3guy0/execore/pkg/types"
)

// ExternalSigner is the signing SDK V3 delegates order signing to,
// rather than holding raw private key material itself. A production
// deployment wires this to the vendor's client library; the Execution
// Core only depends on this narrow interface.
type ExternalSigner interface {
	SignOrder(ctx context.Context, vaultAddress string, payload map[string]any) (signature string, err error)
}

// V3Opinion is the tertiary venue adapter: order signing is delegated
// to an external SDK, and every order is attributed to a vault/multisig
// address rather than a single EOA. Its request rate is the tightest of
// the four venues (spec'd around 14 req/s).
type V3Opinion struct {
	baseURL      string
	vaultAddress string
	signer       ExternalSigner
	httpClient   *http.Client

	limits         *ratelimit.PerVenue
	orderbookCache *cache.TTL[*types.Orderbook]
}

// NewV3Opinion constructs the tertiary venue adapter.
func NewV3Opinion(auth config.VenueAuth, cfg *config.Config, signer ExternalSigner) *V3Opinion {
	return &V3Opinion{
		baseURL:        auth.BaseURL,
		vaultAddress:   auth.VaultAddress,
		signer:         signer,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		limits:         ratelimit.NewPerVenue(14, 14, 14),
		orderbookCache: cache.New[*types.Orderbook](cfg.OrderbookCacheTTL),
	}
}

func (v *V3Opinion) Venue() types.Venue { return types.VenueOpinion }

func (v *V3Opinion) Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := v.limits.Order.Wait(ctx); err != nil {
		return types.OrderResult{}, err
	}

	vault := req.VaultAddress
	if vault == "" {
		vault = v.vaultAddress
	}
	if vault == "" {
		return rejectResult(execerr.New(execerr.CodeInvalidSize, "v3 requires a vault/multisig address")), nil
	}

	payload := map[string]any{
		"market":     req.Market,
		"instrument": req.Instrument,
		"side":       sideString(req.Side),
		"price":      req.Price.String(),
		"size":       req.Size.String(),
		"tif":        string(req.Discipline),
		"vault":      vault,
	}
	if req.Discipline == types.DisciplineGTD && req.Expiration != nil {
		payload["expiration"] = req.Expiration.Unix()
	}

	sig, err := v.signer.SignOrder(ctx, vault, payload)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("v3: external sign: %w", err)
	}
	payload["signature"] = sig

	resp, err := v.post(ctx, "/v1/orders", payload)
	if err != nil {
		return types.OrderResult{}, err
	}

	var result struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return types.OrderResult{}, fmt.Errorf("v3: parse response: %w", err)
	}
	if result.Message != "" && result.ID == "" {
		return rejectResult(execerr.FromVenueMessage(strings.ToLower(result.Message))), nil
	}

	log.Info().Str("order_id", result.ID).Str("vault", vault).Msg("📝 v3 order placed")

	return types.OrderResult{Success: true, OrderID: result.ID, Status: mapV3Status(result.Status)}, nil
}

// PlaceBatch has no dedicated batch endpoint on this venue; requests
// are submitted serially, rate-limited individually.
func (v *V3Opinion) PlaceBatch(ctx context.Context, reqs []types.OrderRequest) ([]types.OrderResult, error) {
	results := make([]types.OrderResult, len(reqs))
	for i, r := range reqs {
		res, err := v.Place(ctx, r)
		if err != nil {
			res = types.OrderResult{Success: false, Error: err.Error()}
		}
		results[i] = res
	}
	return results, nil
}

func (v *V3Opinion) Cancel(ctx context.Context, orderID string) (bool, error) {
	if err := v.limits.Cancel.Wait(ctx); err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.baseURL+"/v1/orders/"+orderID, nil)
	if err != nil {
		return false, err
	}
	if _, err := v.do(req); err != nil {
		return false, fmt.Errorf("v3: cancel: %w", err)
	}
	return true, nil
}

func (v *V3Opinion) CancelBatch(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	results := make([]CancelResult, len(orderIDs))
	for i, id := range orderIDs {
		ok, err := v.Cancel(ctx, id)
		results[i] = CancelResult{OrderID: id, Success: err == nil && ok}
	}
	return results, nil
}

func (v *V3Opinion) CancelAll(ctx context.Context, marketFilter string) (int, error) {
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

func (v *V3Opinion) ListOpen(ctx context.Context) ([]types.OpenOrder, error) {
	resp, err := v.get(ctx, "/v1/orders?status=open&vault="+v.vaultAddress)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID         string          `json:"id"`
		Market     string          `json:"market"`
		Instrument string          `json:"instrument"`
		Side       string          `json:"side"`
		Price      decimal.Decimal `json:"price"`
		Size       decimal.Decimal `json:"size"`
		Filled     decimal.Decimal `json:"filled"`
		Status     string          `json:"status"`
		CreatedAt  time.Time       `json:"created_at"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("v3: parse open orders: %w", err)
	}
	out := make([]types.OpenOrder, 0, len(raw))
	for _, o := range raw {
		out = append(out, types.OpenOrder{
			OrderID:       o.ID,
			Venue:         types.VenueOpinion,
			Market:        o.Market,
			Instrument:    o.Instrument,
			Side:          types.Side(strings.ToLower(o.Side)),
			Price:         o.Price,
			OriginalSize:  o.Size,
			FilledSize:    o.Filled,
			RemainingSize: o.Size.Sub(o.Filled),
			Status:        mapV3Status(o.Status),
			CreatedAt:     o.CreatedAt,
		})
	}
	return out, nil
}

func (v *V3Opinion) GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error) {
	return v.orderbookCache.GetOrLoad(instrument, func() (*types.Orderbook, error) {
		if err := v.limits.Book.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := v.get(ctx, "/v1/markets/"+instrument+"/book")
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
			return nil, fmt.Errorf("v3: parse book: %w", err)
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

func (v *V3Opinion) GetPrice(ctx context.Context, instrument string) (*types.Price, error) {
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

func mapV3Status(raw string) types.OrderStatus {
	switch strings.ToLower(raw) {
	case "open", "live":
		return types.StatusOpen
	case "filled", "matched":
		return types.StatusFilled
	case "cancelled", "canceled":
		return types.StatusCancelled
	case "rejected":
		return types.StatusRejected
	default:
		return types.StatusPending
	}
}

func (v *V3Opinion) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return v.do(req)
}

func (v *V3Opinion) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return v.do(req)
}

func (v *V3Opinion) do(req *http.Request) ([]byte, error) {
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
		return nil, fmt.Errorf("v3: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
