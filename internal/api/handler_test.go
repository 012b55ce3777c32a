package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/api"
	"github.com/atmx/lmsr-amm/internal/exchange"
	"github.com/atmx/lmsr-amm/internal/ledger"
	"github.com/atmx/lmsr-amm/internal/limits"
	"github.com/atmx/lmsr-amm/internal/model"
	"github.com/atmx/lmsr-amm/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a router over an in-memory manager.
func newTestEnv(t *testing.T) (*exchange.Manager, http.Handler) {
	t.Helper()
	limiter := limits.NewPositionLimiter(d(1000), d(5000), false)
	m := exchange.NewManager(store.NewMemoryStore(), exchange.Options{Limiter: limiter})
	return m, api.NewRouter(api.NewHandler(m), nil)
}

// seedMarket opens a binary market and funds one participant.
func seedMarket(t *testing.T, m *exchange.Manager, participant string, collateral float64) string {
	t.Helper()
	ctx := context.Background()
	mv, err := m.OpenMarket(ctx, exchange.OpenRequest{
		Description: "who wins nationals",
		Outcomes:    []string{"CESAR", "ALIEN"},
		Liquidity:   100,
	})
	if err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	if collateral > 0 {
		if _, err := m.Deposit(ctx, mv.ID, participant, d(collateral)); err != nil {
			t.Fatalf("failed to fund %s: %v", participant, err)
		}
	}
	return mv.ID
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

// --- Market tests ---

func TestOpenMarket(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, http.MethodPost, "/api/v1/markets", exchange.OpenRequest{
		Description: "election",
		Outcomes:    []string{"A", "B", "C"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var mv exchange.MarketView
	decode(t, w, &mv)
	if mv.ID == "" {
		t.Error("expected non-empty market id")
	}
	if len(mv.Prices) != 3 {
		t.Fatalf("expected 3 prices, got %d", len(mv.Prices))
	}
	for i, p := range mv.Prices {
		if p < 0.333 || p > 0.334 {
			t.Errorf("price %d should be 1/3 at origin, got %v", i, p)
		}
	}
	if mv.Liquidity != exchange.DefaultLiquidity {
		t.Errorf("expected default liquidity, got %v", mv.Liquidity)
	}

	w = do(t, router, http.MethodGet, "/api/v1/markets/"+mv.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestOpenMarket_Invalid(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, http.MethodPost, "/api/v1/markets", exchange.OpenRequest{Outcomes: []string{"only"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for one outcome, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/markets", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, http.MethodGet, "/api/v1/markets/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListMarkets_StatusFilter(t *testing.T) {
	m, router := newTestEnv(t)
	open := seedMarket(t, m, "", 0)
	closed := seedMarket(t, m, "", 0)
	if _, err := m.CloseMarket(context.Background(), closed); err != nil {
		t.Fatal(err)
	}

	var all []exchange.MarketView
	decode(t, do(t, router, http.MethodGet, "/api/v1/markets", nil), &all)
	if len(all) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(all))
	}

	var onlyOpen []exchange.MarketView
	decode(t, do(t, router, http.MethodGet, "/api/v1/markets?status=open", nil), &onlyOpen)
	if len(onlyOpen) != 1 || onlyOpen[0].ID != open {
		t.Errorf("expected only %s, got %+v", open, onlyOpen)
	}
}

// --- Trade tests ---

func TestTrade_Buy(t *testing.T) {
	m, router := newTestEnv(t)
	id := seedMarket(t, m, "cesar", 100)

	w := do(t, router, http.MethodPost, "/api/v1/markets/"+id+"/trades", api.TradeRequest{
		ParticipantID: "cesar",
		Outcome:       0,
		Shares:        d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.TradeResponse
	decode(t, w, &resp)
	if resp.Status != ledger.StatusExecuted {
		t.Errorf("expected executed, got %s", resp.Status)
	}
	if resp.Cost.Sub(d(5.124947)).Abs().GreaterThan(d(1e-4)) {
		t.Errorf("cost should be ≈ 5.124947, got %s", resp.Cost)
	}
	if !resp.Collateral.Equal(d(100).Sub(resp.Cost)) {
		t.Errorf("collateral should be 100 - cost, got %s", resp.Collateral)
	}
	if resp.Price <= 0.5 {
		t.Errorf("price should rise after a buy, got %v", resp.Price)
	}
}

func TestTrade_Declined(t *testing.T) {
	m, router := newTestEnv(t)
	id := seedMarket(t, m, "cesar", 1)

	w := do(t, router, http.MethodPost, "/api/v1/markets/"+id+"/trades", api.TradeRequest{
		ParticipantID: "cesar",
		Outcome:       0,
		Shares:        d(10),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error  string        `json:"error"`
		Status ledger.Status `json:"status"`
	}
	decode(t, w, &resp)
	if resp.Status != ledger.StatusInsufficientCollateral {
		t.Errorf("expected insufficient_collateral, got %s", resp.Status)
	}
	if resp.Error == "" {
		t.Error("expected error message")
	}
}

func TestTrade_Validation(t *testing.T) {
	m, router := newTestEnv(t)
	id := seedMarket(t, m, "cesar", 100)
	path := "/api/v1/markets/" + id + "/trades"

	cases := []struct {
		name string
		req  api.TradeRequest
		want int
	}{
		{"missing participant", api.TradeRequest{Outcome: 0, Shares: d(1)}, http.StatusBadRequest},
		{"zero shares", api.TradeRequest{ParticipantID: "cesar", Outcome: 0}, http.StatusBadRequest},
		{"bad outcome", api.TradeRequest{ParticipantID: "cesar", Outcome: 7, Shares: d(1)}, http.StatusBadRequest},
		{"short sale", api.TradeRequest{ParticipantID: "cesar", Outcome: 1, Shares: d(-5)}, http.StatusConflict},
		{"over limit", api.TradeRequest{ParticipantID: "cesar", Outcome: 0, Shares: d(1001)}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, path, tc.req)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}

	w := do(t, router, http.MethodPost, "/api/v1/markets/nope/trades", api.TradeRequest{ParticipantID: "cesar", Shares: d(1)})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown market, got %d", w.Code)
	}
}

func TestCappedBuy(t *testing.T) {
	m, router := newTestEnv(t)
	id := seedMarket(t, m, "cesar", 500)

	w := do(t, router, http.MethodPost, "/api/v1/markets/"+id+"/capped-buys", api.CappedBuyRequest{
		ParticipantID: "cesar",
		Outcome:       1,
		Shares:        d(500),
		MaxPrice:      0.6,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.TradeResponse
	decode(t, w, &resp)
	if resp.Price > 0.6+1e-6 {
		t.Errorf("price must not pass the cap, got %v", resp.Price)
	}
	if !resp.Shares.LessThan(d(500)) {
		t.Errorf("expected a partial fill, got %s", resp.Shares)
	}

	w = do(t, router, http.MethodPost, "/api/v1/markets/"+id+"/capped-buys", api.CappedBuyRequest{
		ParticipantID: "cesar",
		Outcome:       1,
		Shares:        d(10),
		MaxPrice:      0.2,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for nothing to buy, got %d", w.Code)
	}

	w = do(t, router, http.MethodPost, "/api/v1/markets/"+id+"/capped-buys", api.CappedBuyRequest{
		ParticipantID: "cesar",
		Outcome:       1,
		Shares:        d(10),
		MaxPrice:      1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a cap of 1, got %d", w.Code)
	}
}

// --- Query tests ---

func TestQuoteAndTarget(t *testing.T) {
	m, router := newTestEnv(t)
	id := seedMarket(t, m, "", 0)

	w := do(t, router, http.MethodGet, "/api/v1/markets/"+id+"/quote?outcome=0&shares=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var q exchange.QuoteView
	decode(t, w, &q)
	if q.Cost.Sub(d(5.124947)).Abs().GreaterThan(d(1e-4)) {
		t.Errorf("quote cost should be ≈ 5.124947, got %s", q.Cost)
	}

	w = do(t, router, http.MethodGet, "/api/v1/markets/"+id+"/quote?outcome=x&shares=10", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad outcome, got %d", w.Code)
	}

	w = do(t, router, http.MethodGet, "/api/v1/markets/"+id+"/target?outcome=0&price=0.5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var target api.TargetResponse
	decode(t, w, &target)
	if !target.Shares.IsZero() {
		t.Errorf("reaching the current price needs no shares, got %s", target.Shares)
	}

	w = do(t, router, http.MethodGet, "/api/v1/markets/"+id+"/target?outcome=0&price=1.5", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range price, got %d", w.Code)
	}
}

// --- Lifecycle tests ---

func TestDepositCloseResolve(t *testing.T) {
	m, router := newTestEnv(t)
	id := seedMarket(t, m, "", 0)
	base := "/api/v1/markets/" + id

	w := do(t, router, http.MethodPost, base+"/deposits", api.DepositRequest{ParticipantID: "cesar", Amount: d(50)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, base+"/deposits", api.DepositRequest{ParticipantID: "cesar", Amount: d(-1)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative deposit, got %d", w.Code)
	}

	w = do(t, router, http.MethodPost, base+"/trades", api.TradeRequest{ParticipantID: "cesar", Outcome: 1, Shares: d(20)})
	if w.Code != http.StatusOK {
		t.Fatalf("trade failed: %d %s", w.Code, w.Body.String())
	}

	if w := do(t, router, http.MethodPost, base+"/close", nil); w.Code != http.StatusOK {
		t.Fatalf("close failed: %d", w.Code)
	}
	w = do(t, router, http.MethodPost, base+"/trades", api.TradeRequest{ParticipantID: "cesar", Outcome: 1, Shares: d(1)})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on a closed market, got %d", w.Code)
	}

	w = do(t, router, http.MethodPost, base+"/resolve", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without outcome, got %d", w.Code)
	}
	w = do(t, router, http.MethodPost, base+"/resolve", map[string]int{"outcome": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve failed: %d %s", w.Code, w.Body.String())
	}
	var settlement exchange.Settlement
	decode(t, w, &settlement)
	if !settlement.Payouts["cesar"].Equal(d(20)) {
		t.Errorf("expected payout 20, got %s", settlement.Payouts["cesar"])
	}

	w = do(t, router, http.MethodPost, base+"/resolve", map[string]int{"outcome": 0})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on second resolve, got %d", w.Code)
	}

	var pos exchange.PositionView
	decode(t, do(t, router, http.MethodGet, base+"/positions/cesar", nil), &pos)
	if !pos.Shares[1].Equal(d(20)) {
		t.Errorf("expected 20 shares held, got %s", pos.Shares[1])
	}

	var history []model.LedgerEntry
	decode(t, do(t, router, http.MethodGet, base+"/history", nil), &history)
	kinds := make([]string, len(history))
	for i, e := range history {
		kinds[i] = e.Kind
	}
	if got, want := fmt.Sprint(kinds), fmt.Sprint([]string{model.KindDeposit, model.KindTrade, model.KindSettle}); got != want {
		t.Errorf("history kinds = %s, want %s", got, want)
	}

	var byParticipant []model.LedgerEntry
	decode(t, do(t, router, http.MethodGet, "/api/v1/participants/cesar/history", nil), &byParticipant)
	if len(byParticipant) != 3 {
		t.Errorf("expected 3 entries for cesar, got %d", len(byParticipant))
	}

	w = do(t, router, http.MethodGet, base+"/positions/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown participant, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"ok"`)) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}
