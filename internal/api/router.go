package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/atmx/lmsr-amm/internal/metrics"
)

// NewRouter wires every route. hub may be nil to disable /api/v1/ws.
func NewRouter(h *Handler, hub *WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lmsr-amm"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			// WebSocket endpoint for real-time price updates.
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Market management.
			r.Get("/markets", h.ListMarkets)
			r.Post("/markets", h.OpenMarket)
			r.Route("/markets/{marketID}", func(r chi.Router) {
				r.Get("/", h.GetMarket)
				r.Get("/quote", h.Quote)
				r.Get("/target", h.Target)
				r.Get("/history", h.History)
				r.Get("/positions/{participantID}", h.Position)

				r.Post("/deposits", h.Deposit)
				r.Post("/trades", h.Trade)
				r.Post("/capped-buys", h.CappedBuy)

				r.Post("/close", h.Close)
				r.Post("/resolve", h.Resolve)
			})

			r.Get("/participants/{participantID}/history", h.ParticipantHistory)
		})
	})

	return r
}

// requestLogger writes one access log line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request-id", middleware.GetReqID(r.Context())).
			Msg("http-request")
	})
}

// cors allows cross-origin requests from browser front ends.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
