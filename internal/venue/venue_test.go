package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execore/internal/config"
	"github.com/web3guy0/execore/pkg/execerr"
	"github.com/web3guy0/execore/pkg/types"
)

func TestIsTickMultiple(t *testing.T) {
	tick := decimal.NewFromFloat(0.01)
	cases := []struct {
		price decimal.Decimal
		want  bool
	}{
		{decimal.NewFromFloat(0.50), true},
		{decimal.NewFromFloat(0.55), true},
		{decimal.NewFromFloat(0.555), false},
	}
	for _, c := range cases {
		if got := isTickMultiple(c.price, tick); got != c.want {
			t.Errorf("isTickMultiple(%s, %s) = %v, want %v", c.price, tick, got, c.want)
		}
	}
}

func TestWouldCrossBuyAboveAsk(t *testing.T) {
	book := &types.Orderbook{
		Asks: []types.Level{{Price: decimal.NewFromFloat(0.60), Size: decimal.NewFromInt(100)}},
	}
	req := types.OrderRequest{Side: types.SideBuy, Price: decimal.NewFromFloat(0.65)}
	crosses, _ := wouldCross(book, req)
	if !crosses {
		t.Fatal("expected buy above best ask to cross")
	}
}

func TestWouldCrossSellBelowBid(t *testing.T) {
	book := &types.Orderbook{
		Bids: []types.Level{{Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(100)}},
	}
	req := types.OrderRequest{Side: types.SideSell, Price: decimal.NewFromFloat(0.35)}
	crosses, _ := wouldCross(book, req)
	if !crosses {
		t.Fatal("expected sell below best bid to cross")
	}
}

func TestWouldCrossRestingOrderDoesNotCross(t *testing.T) {
	book := &types.Orderbook{
		Bids: []types.Level{{Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(100)}},
		Asks: []types.Level{{Price: decimal.NewFromFloat(0.60), Size: decimal.NewFromInt(100)}},
	}
	buy := types.OrderRequest{Side: types.SideBuy, Price: decimal.NewFromFloat(0.50)}
	if crosses, _ := wouldCross(book, buy); crosses {
		t.Fatal("buy inside the spread should not cross")
	}
	sell := types.OrderRequest{Side: types.SideSell, Price: decimal.NewFromFloat(0.50)}
	if crosses, _ := wouldCross(book, sell); crosses {
		t.Fatal("sell inside the spread should not cross")
	}
}

func TestPriceCentsRoundTrip(t *testing.T) {
	p := decimal.NewFromFloat(0.37)
	cents := priceToCents(p)
	if cents != 37 {
		t.Fatalf("priceToCents(0.37) = %d, want 37", cents)
	}
	back := centsToPrice(int(cents))
	if !back.Equal(p) {
		t.Fatalf("centsToPrice(37) = %s, want %s", back, p)
	}
}

func TestMapV1StatusTransitions(t *testing.T) {
	cases := map[string]types.OrderStatus{
		"live":      types.StatusOpen,
		"matched":   types.StatusFilled,
		"cancelled": types.StatusCancelled,
		"expired":   types.StatusExpired,
		"unknown":   types.StatusPending,
	}
	for raw, want := range cases {
		if got := mapV1Status(raw); got != want {
			t.Errorf("mapV1Status(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestMapV2StatusTransitions(t *testing.T) {
	cases := map[string]types.OrderStatus{
		"resting":  types.StatusOpen,
		"executed": types.StatusFilled,
		"canceled": types.StatusCancelled,
	}
	for raw, want := range cases {
		if got := mapV2Status(raw); got != want {
			t.Errorf("mapV2Status(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestSideString(t *testing.T) {
	if sideString(types.SideBuy) != "BUY" {
		t.Fatal("expected BUY")
	}
	if sideString(types.SideSell) != "SELL" {
		t.Fatal("expected SELL")
	}
}

func TestRejectResultCarriesCode(t *testing.T) {
	res := rejectResult(execerr.New(execerr.CodeInvalidPrice, "bad price"))
	if res.Success {
		t.Fatal("expected Success = false")
	}
	if res.Error == "" {
		t.Fatal("expected non-empty error string")
	}
}

// TestPlaceRetriesOnceOnInvalidNonce drives a fake V1 server that
// rejects the first /order POST with "invalid nonce" and accepts the
// second, verifying Place resubmits exactly once with a fresh nonce
// rather than surfacing the rejection.
func TestPlaceRetriesOnceOnInvalidNonce(t *testing.T) {
	var orderPosts int
	var nonces []string

	mux := http.NewServeMux()
	mux.HandleFunc("/tick-size", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"minimum_tick_size": "0.01"})
	})
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Order map[string]any `json:"order"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		nonces = append(nonces, body.Order["nonce"].(string))

		orderPosts++
		if orderPosts == 1 {
			json.NewEncoder(w).Encode(map[string]string{"errorMsg": "invalid nonce"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"orderID": "ord-1", "status": "live", "success": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	privHex := hexutil.Encode(crypto.FromECDSA(pk))

	v, err := NewV1Polymarket(config.VenueAuth{
		WalletPrivateKey: privHex,
		BaseURL:          srv.URL,
	}, &config.Config{
		TickCacheTTL:      time.Minute,
		NegRiskCacheTTL:   time.Minute,
		OrderbookCacheTTL: time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewV1Polymarket() error = %v", err)
	}

	req := types.OrderRequest{
		Venue:      types.VenuePolymarket,
		Instrument: "tok-1",
		Side:       types.SideBuy,
		Price:      decimal.NewFromFloat(0.5),
		Size:       decimal.NewFromInt(10),
		Discipline: types.DisciplineGTC,
	}
	res, err := v.Place(context.Background(), req)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("expected the retried order to succeed, got %+v", res)
	}
	if orderPosts != 2 {
		t.Fatalf("expected exactly 2 order POSTs (original + one retry), got %d", orderPosts)
	}
	if len(nonces) != 2 || nonces[0] == nonces[1] {
		t.Fatalf("expected the retry to use a fresh nonce, got %v", nonces)
	}
}

// TestPlaceDoesNotRetryTwiceOnRepeatedInvalidNonce confirms the retry
// is a single attempt: a server that always rejects with invalid nonce
// should see exactly 2 POSTs (the original plus one retry), not an
// unbounded loop.
func TestPlaceDoesNotRetryTwiceOnRepeatedInvalidNonce(t *testing.T) {
	var orderPosts int

	mux := http.NewServeMux()
	mux.HandleFunc("/tick-size", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"minimum_tick_size": "0.01"})
	})
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		orderPosts++
		json.NewEncoder(w).Encode(map[string]string{"errorMsg": "invalid nonce"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	privHex := hexutil.Encode(crypto.FromECDSA(pk))

	v, err := NewV1Polymarket(config.VenueAuth{
		WalletPrivateKey: privHex,
		BaseURL:          srv.URL,
	}, &config.Config{
		TickCacheTTL:      time.Minute,
		NegRiskCacheTTL:   time.Minute,
		OrderbookCacheTTL: time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewV1Polymarket() error = %v", err)
	}

	req := types.OrderRequest{
		Venue:      types.VenuePolymarket,
		Instrument: "tok-1",
		Side:       types.SideBuy,
		Price:      decimal.NewFromFloat(0.5),
		Size:       decimal.NewFromInt(10),
		Discipline: types.DisciplineGTC,
	}
	res, err := v.Place(context.Background(), req)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if res.Success {
		t.Fatal("expected the order to still be rejected after the single retry")
	}
	if orderPosts != 2 {
		t.Fatalf("expected exactly 2 order POSTs (original + one retry, no more), got %d", orderPosts)
	}
}
