// Package admin serves the read-only administration API: the generation log,
// cache store statistics and per-credential breaker state. All routes sit
// behind AuthMiddleware.
package admin

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/direitopremium/lexgen/internal/cache"
	"github.com/direitopremium/lexgen/internal/genlog"
	"github.com/direitopremium/lexgen/internal/logging"
)

// StatsSource reports cache statistics.
type StatsSource interface {
	Stats(ctx context.Context) (cache.Stats, error)
}

// BreakerSource reports breaker states keyed "provider/fingerprint".
type BreakerSource interface {
	BreakerStates() map[string]string
}

// Handlers holds dependencies for admin HTTP handlers. Nil fields disable
// their routes with 501.
type Handlers struct {
	Logs     genlog.Reader
	Cache    StatsSource
	Breakers BreakerSource
}

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/generations", h.listGenerations)
	r.Get("/cache/stats", h.cacheStats)
	r.Get("/breakers", h.breakers)
	return r
}

func (h *Handlers) listGenerations(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "generation log storage is not enabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer")
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset: must be a non-negative integer")
			return
		}
		offset = parsed
	}

	query := genlog.Query{
		Limit:   limit,
		Offset:  offset,
		Profile: r.URL.Query().Get("profile"),
		Outcome: r.URL.Query().Get("outcome"),
	}
	result, err := h.Logs.List(r.Context(), query)
	if err != nil {
		logging.FromContext(r.Context()).Error("list generation log failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list generation log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": result.Data,
		"total":   result.Total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *Handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		writeError(w, http.StatusNotImplemented, "cache is not enabled")
		return
	}
	st, err := h.Cache.Stats(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("cache stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) breakers(w http.ResponseWriter, _ *http.Request) {
	if h.Breakers == nil {
		writeError(w, http.StatusNotImplemented, "circuit breakers are not enabled")
		return
	}
	type breaker struct {
		Credential string `json:"credential"`
		State      string `json:"state"`
	}
	states := h.Breakers.BreakerStates()
	out := make([]breaker, 0, len(states))
	for k, s := range states {
		out = append(out, breaker{Credential: k, State: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credential < out[j].Credential })
	writeJSON(w, http.StatusOK, out)
}
