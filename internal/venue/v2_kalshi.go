package venue

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
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

const (
	v2BatchCap = 20

	// Kalshi quotes prices in integer cents rather than a [0,1] decimal.
	v2CentsPerDollar = 100
)

// V2Kalshi is the secondary venue adapter: HMAC API-key auth, integer
// cent pricing, and amend-in-place order support instead of
// cancel/replace.
type V2Kalshi struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client

	limits         *ratelimit.PerVenue
	orderbookCache *cache.TTL[*types.Orderbook]
}

// NewV2Kalshi constructs the secondary venue adapter.
func NewV2Kalshi(auth config.VenueAuth, cfg *config.Config) *V2Kalshi {
	return &V2Kalshi{
		baseURL:        auth.BaseURL,
		apiKey:         auth.APIKey,
		apiSecret:      auth.APISecret,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		limits:         ratelimit.NewPerVenue(20, 20, 10),
		orderbookCache: cache.New[*types.Orderbook](cfg.OrderbookCacheTTL),
	}
}

func (v *V2Kalshi) Venue() types.Venue { return types.VenueKalshi }

func (v *V2Kalshi) Place(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := v.limits.Order.Wait(ctx); err != nil {
		return types.OrderResult{}, err
	}

	cents := priceToCents(req.Price)
	if cents < 1 || cents > 99 {
		return rejectResult(execerr.New(execerr.CodeInvalidPrice, fmt.Sprintf("price %s out of [0.01, 0.99] range", req.Price))), nil
	}

	payload := map[string]any{
		"ticker":       req.Market,
		"action":       strings.ToLower(string(req.Side)),
		"side":         kalshiSide(req.Instrument),
		"type":         kalshiOrderType(req.Discipline),
		"count":        req.Size.IntPart(),
		"client_order_id": fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	if req.Side == types.SideBuy {
		payload["yes_price"] = cents
	} else {
		payload["no_price"] = v2CentsPerDollar - cents
	}
	if req.Discipline == types.DisciplineGTD && req.Expiration != nil {
		payload["expiration_ts"] = req.Expiration.Unix()
	}
	if req.PostOnly {
		payload["post_only"] = true
	}

	resp, err := v.post(ctx, "/trade-api/v2/portfolio/orders", payload)
	if err != nil {
		return types.OrderResult{}, err
	}

	var result struct {
		Order struct {
			OrderID string `json:"order_id"`
			Status  string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return types.OrderResult{}, fmt.Errorf("v2: parse response: %w", err)
	}

	log.Info().Str("order_id", result.Order.OrderID).Str("status", result.Order.Status).Msg("📝 v2 order placed")

	return types.OrderResult{
		Success: true,
		OrderID: result.Order.OrderID,
		Status:  mapV2Status(result.Order.Status),
	}, nil
}

// PlaceBatch respects Kalshi's 20-order batch cap.
func (v *V2Kalshi) PlaceBatch(ctx context.Context, reqs []types.OrderRequest) ([]types.OrderResult, error) {
	results := make([]types.OrderResult, len(reqs))
	for start := 0; start < len(reqs); start += v2BatchCap {
		end := start + v2BatchCap
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

// Amend changes price/size on a resting order in place rather than
// cancel/replace, a capability specific to this venue.
func (v *V2Kalshi) Amend(ctx context.Context, orderID string, newPrice, newSize decimal.Decimal) (types.OrderResult, error) {
	if err := v.limits.Order.Wait(ctx); err != nil {
		return types.OrderResult{}, err
	}
	payload := map[string]any{
		"price": priceToCents(newPrice),
		"count": newSize.IntPart(),
	}
	resp, err := v.post(ctx, "/trade-api/v2/portfolio/orders/"+orderID+"/amend", payload)
	if err != nil {
		return types.OrderResult{}, err
	}
	var result struct {
		Order struct {
			OrderID string `json:"order_id"`
			Status  string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return types.OrderResult{}, fmt.Errorf("v2: parse amend response: %w", err)
	}
	return types.OrderResult{Success: true, OrderID: result.Order.OrderID, Status: mapV2Status(result.Order.Status)}, nil
}

func (v *V2Kalshi) Cancel(ctx context.Context, orderID string) (bool, error) {
	if err := v.limits.Cancel.Wait(ctx); err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.baseURL+"/trade-api/v2/portfolio/orders/"+orderID, nil)
	if err != nil {
		return false, err
	}
	v.addHeaders(req, nil)
	if _, err := v.do(req); err != nil {
		return false, fmt.Errorf("v2: cancel: %w", err)
	}
	return true, nil
}

func (v *V2Kalshi) CancelBatch(ctx context.Context, orderIDs []string) ([]CancelResult, error) {
	results := make([]CancelResult, len(orderIDs))
	for i, id := range orderIDs {
		ok, err := v.Cancel(ctx, id)
		results[i] = CancelResult{OrderID: id, Success: err == nil && ok}
	}
	return results, nil
}

func (v *V2Kalshi) CancelAll(ctx context.Context, marketFilter string) (int, error) {
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

func (v *V2Kalshi) ListOpen(ctx context.Context) ([]types.OpenOrder, error) {
	resp, err := v.get(ctx, "/trade-api/v2/portfolio/orders?status=resting")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Orders []struct {
			OrderID      string `json:"order_id"`
			Ticker       string `json:"ticker"`
			Action       string `json:"action"`
			YesPrice     int    `json:"yes_price"`
			NoPrice      int    `json:"no_price"`
			RemainingCount int  `json:"remaining_count"`
			InitialCount int    `json:"initial_count"`
			Status       string `json:"status"`
			CreatedTime  time.Time `json:"created_time"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("v2: parse open orders: %w", err)
	}
	out := make([]types.OpenOrder, 0, len(raw.Orders))
	for _, o := range raw.Orders {
		price := o.YesPrice
		if price == 0 {
			price = v2CentsPerDollar - o.NoPrice
		}
		out = append(out, types.OpenOrder{
			OrderID:       o.OrderID,
			Venue:         types.VenueKalshi,
			Market:        o.Ticker,
			Side:          types.Side(strings.ToLower(o.Action)),
			Price:         centsToPrice(price),
			OriginalSize:  decimal.NewFromInt(int64(o.InitialCount)),
			RemainingSize: decimal.NewFromInt(int64(o.RemainingCount)),
			FilledSize:    decimal.NewFromInt(int64(o.InitialCount - o.RemainingCount)),
			Status:        mapV2Status(o.Status),
			CreatedAt:     o.CreatedTime,
		})
	}
	return out, nil
}

func (v *V2Kalshi) GetOrderbook(ctx context.Context, instrument string) (*types.Orderbook, error) {
	return v.orderbookCache.GetOrLoad(instrument, func() (*types.Orderbook, error) {
		if err := v.limits.Book.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := v.get(ctx, "/trade-api/v2/markets/"+instrument+"/orderbook")
		if err != nil {
			return nil, err
		}
		var raw struct {
			Orderbook struct {
				Yes [][2]int `json:"yes"`
				No  [][2]int `json:"no"`
			} `json:"orderbook"`
		}
		if err := json.Unmarshal(resp, &raw); err != nil {
			return nil, fmt.Errorf("v2: parse book: %w", err)
		}
		book := &types.Orderbook{}
		for _, lvl := range raw.Orderbook.Yes {
			book.Bids = append(book.Bids, types.Level{Price: centsToPrice(lvl[0]), Size: decimal.NewFromInt(int64(lvl[1]))})
		}
		for _, lvl := range raw.Orderbook.No {
			// No-side resting orders are equivalent yes-side asks at (100 - price).
			book.Asks = append(book.Asks, types.Level{Price: centsToPrice(v2CentsPerDollar - lvl[0]), Size: decimal.NewFromInt(int64(lvl[1]))})
		}
		if bb, ok := book.BestBid(); ok {
			if ba, ok := book.BestAsk(); ok {
				book.MidPrice = bb.Price.Add(ba.Price).Div(decimal.NewFromInt(2))
			}
		}
		return book, nil
	})
}

func (v *V2Kalshi) GetPrice(ctx context.Context, instrument string) (*types.Price, error) {
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

func priceToCents(p decimal.Decimal) int64 {
	return p.Mul(decimal.NewFromInt(v2CentsPerDollar)).Round(0).IntPart()
}

func centsToPrice(cents int) decimal.Decimal {
	return decimal.NewFromInt(int64(cents)).Div(decimal.NewFromInt(v2CentsPerDollar))
}

func kalshiSide(instrument string) string {
	if instrument == "" {
		return "yes"
	}
	return strings.ToLower(instrument)
}

func kalshiOrderType(d types.Discipline) string {
	if d == types.DisciplineFOK || d == types.DisciplineFAK {
		return "market"
	}
	return "limit"
}

func mapV2Status(raw string) types.OrderStatus {
	switch strings.ToLower(raw) {
	case "resting", "open":
		return types.StatusOpen
	case "executed", "filled":
		return types.StatusFilled
	case "canceled", "cancelled":
		return types.StatusCancelled
	default:
		return types.StatusPending
	}
}

func (v *V2Kalshi) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	v.addHeaders(req, nil)
	return v.do(req)
}

func (v *V2Kalshi) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	v.addHeaders(req, jsonBody)
	return v.do(req)
}

// addHeaders signs the request with KALSHI-ACCESS-SIGNATURE, an
// HMAC-SHA256 over timestamp+method+path(+body).
func (v *V2Kalshi) addHeaders(req *http.Request, body []byte) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := timestamp + req.Method + req.URL.Path
	if len(body) > 0 {
		message += string(body)
	}

	mac := hmac.New(sha256.New, []byte(v.apiSecret))
	mac.Write([]byte(message))
	sig := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("KALSHI-ACCESS-KEY", v.apiKey)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", sig)
}

func (v *V2Kalshi) do(req *http.Request) ([]byte, error) {
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
		return nil, fmt.Errorf("v2: HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
