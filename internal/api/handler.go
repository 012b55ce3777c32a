// Package api exposes the exchange over HTTP and WebSocket.
//
// Money and share quantities travel as decimal strings; prices are JSON
// numbers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-amm/internal/exchange"
	"github.com/atmx/lmsr-amm/internal/ledger"
	"github.com/atmx/lmsr-amm/internal/limits"
	"github.com/atmx/lmsr-amm/internal/lmsr"
)

// Handler serves the market endpoints.
type Handler struct {
	markets *exchange.Manager
}

// NewHandler creates a handler backed by the manager.
func NewHandler(m *exchange.Manager) *Handler {
	return &Handler{markets: m}
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /markets/{marketID}/deposits.
type DepositRequest struct {
	ParticipantID string          `json:"participant_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// TradeRequest is the JSON body for POST /markets/{marketID}/trades.
type TradeRequest struct {
	ParticipantID string          `json:"participant_id"`
	Outcome       int             `json:"outcome"`
	Shares        decimal.Decimal `json:"shares"` // positive = buy, negative = sell
}

// CappedBuyRequest is the JSON body for POST /markets/{marketID}/capped-buys.
type CappedBuyRequest struct {
	ParticipantID string          `json:"participant_id"`
	Outcome       int             `json:"outcome"`
	Shares        decimal.Decimal `json:"shares"`
	MaxPrice      float64         `json:"max_price"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Outcome *int `json:"outcome"`
}

// TradeResponse is returned for executed and declined trades.
type TradeResponse struct {
	MarketID      string `json:"market_id"`
	ParticipantID string `json:"participant_id"`
	ledger.TradeResult
}

// TargetResponse is returned from GET /markets/{marketID}/target.
type TargetResponse struct {
	MarketID string          `json:"market_id"`
	Outcome  int             `json:"outcome"`
	Price    float64         `json:"price"`
	Shares   decimal.Decimal `json:"shares"`
}

// --- HTTP Handlers ---

// ListMarkets handles GET /api/v1/markets, optionally filtered by ?status=.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.Markets(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]exchange.MarketView, 0, len(markets))
		for _, m := range markets {
			if m.Status == status {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}
	writeJSON(w, http.StatusOK, markets)
}

// OpenMarket handles POST /api/v1/markets.
func (h *Handler) OpenMarket(w http.ResponseWriter, r *http.Request) {
	var req exchange.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := h.markets.OpenMarket(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.markets.Market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// Quote handles GET /api/v1/markets/{marketID}/quote?outcome=&shares=.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	outcome, err := strconv.Atoi(r.URL.Query().Get("outcome"))
	if err != nil {
		writeError(w, "outcome must be an integer", http.StatusBadRequest)
		return
	}
	shares, err := decimal.NewFromString(r.URL.Query().Get("shares"))
	if err != nil {
		writeError(w, "shares must be a decimal number", http.StatusBadRequest)
		return
	}

	q, err := h.markets.Quote(r.Context(), chi.URLParam(r, "marketID"), outcome, shares)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Target handles GET /api/v1/markets/{marketID}/target?outcome=&price=.
func (h *Handler) Target(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	outcome, err := strconv.Atoi(r.URL.Query().Get("outcome"))
	if err != nil {
		writeError(w, "outcome must be an integer", http.StatusBadRequest)
		return
	}
	price, err := strconv.ParseFloat(r.URL.Query().Get("price"), 64)
	if err != nil {
		writeError(w, "price must be a number", http.StatusBadRequest)
		return
	}

	shares, err := h.markets.TargetShares(r.Context(), marketID, outcome, price)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TargetResponse{MarketID: marketID, Outcome: outcome, Price: price, Shares: shares})
}

// History handles GET /api/v1/markets/{marketID}/history.
// Returns ledger entries to reconstruct price history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.markets.History(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ParticipantHistory handles GET /api/v1/participants/{participantID}/history.
func (h *Handler) ParticipantHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.markets.ParticipantHistory(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Deposit handles POST /api/v1/markets/{marketID}/deposits.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pos, err := h.markets.Deposit(r.Context(), chi.URLParam(r, "marketID"), req.ParticipantID, req.Amount)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Trade handles POST /api/v1/markets/{marketID}/trades.
func (h *Handler) Trade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		writeError(w, "participant_id is required", http.StatusBadRequest)
		return
	}
	if req.Shares.IsZero() {
		writeError(w, "shares must be non-zero", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	res, err := h.markets.Trade(r.Context(), marketID, req.ParticipantID, req.Outcome, req.Shares)
	h.writeTrade(w, r, marketID, req.ParticipantID, res, err)
}

// CappedBuy handles POST /api/v1/markets/{marketID}/capped-buys.
func (h *Handler) CappedBuy(w http.ResponseWriter, r *http.Request) {
	var req CappedBuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		writeError(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	res, err := h.markets.BuyWithMaxPrice(r.Context(), marketID, req.ParticipantID, req.Outcome, req.Shares, req.MaxPrice)
	h.writeTrade(w, r, marketID, req.ParticipantID, res, err)
}

func (h *Handler) writeTrade(w http.ResponseWriter, r *http.Request, marketID, participantID string, res ledger.TradeResult, err error) {
	resp := TradeResponse{MarketID: marketID, ParticipantID: participantID, TradeResult: res}
	if errors.Is(err, exchange.ErrTradeDeclined) {
		writeJSON(w, http.StatusConflict, struct {
			Error string `json:"error"`
			TradeResponse
		}{Error: err.Error(), TradeResponse: resp})
		return
	}
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Position handles GET /api/v1/markets/{marketID}/positions/{participantID}.
func (h *Handler) Position(w http.ResponseWriter, r *http.Request) {
	pos, err := h.markets.Position(r.Context(), chi.URLParam(r, "marketID"), chi.URLParam(r, "participantID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Close handles POST /api/v1/markets/{marketID}/close.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	market, err := h.markets.CloseMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Outcome == nil {
		writeError(w, "outcome is required", http.StatusBadRequest)
		return
	}

	settlement, err := h.markets.ResolveMarket(r.Context(), chi.URLParam(r, "marketID"), *req.Outcome)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case exchange.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrInvalidMarket),
		errors.Is(err, exchange.ErrMissingParticipant),
		errors.Is(err, ledger.ErrNegativeDeposit),
		errors.Is(err, lmsr.ErrInvalidLiquidity),
		errors.Is(err, lmsr.ErrInvalidOutcomeCount),
		errors.Is(err, lmsr.ErrInvalidOutcome),
		errors.Is(err, lmsr.ErrInvalidPriceTarget),
		errors.Is(err, lmsr.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, exchange.ErrMarketNotOpen),
		errors.Is(err, exchange.ErrMarketResolved),
		errors.Is(err, exchange.ErrTradeDeclined),
		errors.Is(err, lmsr.ErrPriceSaturated),
		errors.Is(err, ledger.ErrUnpriceable),
		errors.Is(err, limits.ErrShortSale),
		errors.Is(err, limits.ErrPerOutcomeLimitExceeded),
		errors.Is(err, limits.ErrGrossLimitExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure maps err to a status and writes it. Internal errors are
// logged and hidden from the client.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request-failed")
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response-encode-failed")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
