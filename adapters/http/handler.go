// Package http provides the JSON/HTTP façade over the quota service. It
// translates requests into Check/Record/CheckAndRecord calls and formats
// denials; it makes no quota decisions of its own.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/codelens/quotagate/adapters/metrics"
	"github.com/codelens/quotagate/app"
	"github.com/codelens/quotagate/domain/quota"
	"github.com/codelens/quotagate/ports"
)

// Handler serves the usage endpoints.
type Handler struct {
	svc    *app.QuotaService
	logger zerolog.Logger
}

// NewHandler creates a usage handler.
func NewHandler(svc *app.QuotaService, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// statusResponse mirrors the JSON contract of the original product's
// usage endpoints.
type statusResponse struct {
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetTime string `json:"resetTime"`
	Degraded  bool   `json:"degraded,omitempty"`
}

func toStatusResponse(s quota.Status) statusResponse {
	return statusResponse{
		Limit:     s.Limit,
		Used:      s.Used,
		Remaining: s.Remaining,
		ResetTime: s.ResetAt.UTC().Format(time.RFC3339),
		Degraded:  s.Degraded,
	}
}

// Check handles GET /usage/check?identity=<id>.
// Under the fail-open policy a well-formed identity never sees a 5xx here.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	status, err := h.svc.Check(r.Context(), identity)
	if err != nil {
		// Only invalid identities reach here.
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

type recordRequest struct {
	Identity string `json:"identity"`
}

// Record handles POST /usage/record {identity}.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	if err := h.svc.Record(r.Context(), req.Identity); err != nil {
		if errors.Is(err, app.ErrInvalidIdentity) {
			writeError(w, http.StatusBadRequest, "identity is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Consume handles POST /usage/consume {identity}: check and record in one
// call. An exhausted quota answers 429 with the reset time; a record failure
// after admission answers 500 (the primary action is not rolled back).
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	status, admitted, err := h.svc.CheckAndRecord(r.Context(), req.Identity)
	if err != nil {
		if errors.Is(err, app.ErrInvalidIdentity) {
			writeError(w, http.StatusBadRequest, "identity is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record usage")
		return
	}

	if !admitted {
		resp := struct {
			Error string `json:"error"`
			statusResponse
		}{
			Error:          "daily limit reached, try again after " + status.ResetAt.UTC().Format(time.RFC3339),
			statusResponse: toStatusResponse(status),
		}
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

// History handles GET /usage/history?identity=<id>&days=<n>.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	history, err := h.svc.History(r.Context(), identity, days)
	if err != nil {
		if errors.Is(err, app.ErrInvalidIdentity) {
			writeError(w, http.StatusBadRequest, "identity is required")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "usage store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"days":     history,
	})
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store ports.UsageStore
}

// NewHealthHandler creates a health handler. The store is probed for
// readiness when it implements ports.Pinger.
func NewHealthHandler(store ports.UsageStore) *HealthHandler {
	return &HealthHandler{store: store}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks if the usage store answers. A degraded store still
// returns 200 with a note: the service stays useful through fail-open.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if p, ok := h.store.(ports.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusOK, map[string]string{
				"status": "degraded",
				"store":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RouterConfig configures optional router features.
type RouterConfig struct {
	MetricsEnabled bool
	MetricsPath    string
	Metrics        *metrics.Collector
}

// NewRouter assembles the HTTP surface.
func NewRouter(h *Handler, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger, cfg.Metrics))

	r.Route("/usage", func(r chi.Router) {
		r.Get("/check", h.Check)
		r.Post("/record", h.Record)
		r.Post("/consume", h.Consume)
		r.Get("/history", h.History)
	})

	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	return r
}

// requestLogger logs each request and feeds the HTTP metrics.
func requestLogger(logger zerolog.Logger, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", elapsed).
				Msg("request")

			if m != nil {
				code := strconv.Itoa(ww.Status())
				m.RequestsTotal.WithLabelValues(r.URL.Path, code).Inc()
				m.RequestDuration.WithLabelValues(r.URL.Path, code).Observe(elapsed.Seconds())
			}
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
