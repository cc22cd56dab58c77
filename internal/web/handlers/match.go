package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/kozaktomas/gate-attendance/internal/logger"
	"github.com/kozaktomas/gate-attendance/internal/matcher"
)

// maxBatchProbes caps the number of probes in one match request.
const maxBatchProbes = 64

// Matcher is the subset of the matcher used by the API.
type Matcher interface {
	MatchBatch(ctx context.Context, probes [][]float32, threshold float64) ([]matcher.Result, error)
	Refresh(ctx context.Context) error
	Stats() matcher.Stats
}

// SettingsCache is the cached gate configuration, dropped on a forced refresh so that
// settings changed by the administration take effect immediately.
type SettingsCache interface {
	Invalidate()
}

// MatchRequest represents a match request from a camera client.
// Embedding is accepted as shorthand for a single-probe batch.
type MatchRequest struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding,omitempty"`
	Threshold  float64     `json:"threshold,omitempty"`
}

// MatchResult represents the outcome for one probe.
type MatchResult struct {
	Identity   string  `json:"identity,omitempty"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
	Matched    bool    `json:"matched"`
	Error      string  `json:"error,omitempty"`
}

// MatchResponse holds one result per probe, in request order.
type MatchResponse struct {
	Results []MatchResult `json:"results"`
}

// MatchHandler serves face matching and cache maintenance.
type MatchHandler struct {
	matcher  Matcher
	settings SettingsCache
	log      *logger.Logger
}

// NewMatchHandler creates a new match handler. settings may be nil.
func NewMatchHandler(m Matcher, settings SettingsCache, log *logger.Logger) *MatchHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &MatchHandler{matcher: m, settings: settings, log: log}
}

// Match handles POST /api/v1/match
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	probes := req.Embeddings
	if len(req.Embedding) > 0 {
		probes = append([][]float32{req.Embedding}, probes...)
	}
	if len(probes) == 0 {
		respondError(w, http.StatusBadRequest, "no embeddings provided")
		return
	}
	if len(probes) > maxBatchProbes {
		respondError(w, http.StatusBadRequest, "too many embeddings in one request")
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		respondError(w, http.StatusBadRequest, "threshold must be between 0 and 1")
		return
	}

	results, err := h.matcher.MatchBatch(r.Context(), probes, req.Threshold)
	if errors.Is(err, matcher.ErrEmptyCache) {
		respondError(w, http.StatusServiceUnavailable, "embedding cache not loaded")
		return
	}
	if err != nil {
		h.log.Error("match failed", "error", err)
		respondError(w, http.StatusInternalServerError, "match failed")
		return
	}

	resp := MatchResponse{Results: make([]MatchResult, len(results))}
	for i, res := range results {
		out := MatchResult{Confidence: res.Score, Matched: res.Matched}
		if res.Matched {
			out.Identity = res.StudentID
			out.Name = res.Name
		}
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		resp.Results[i] = out
	}
	respondJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /api/v1/cache/refresh. It reloads the embedding cache and drops the
// cached gate configuration.
func (h *MatchHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.settings != nil {
		h.settings.Invalidate()
	}
	if err := h.matcher.Refresh(r.Context()); err != nil {
		h.log.Error("forced cache refresh failed", "error", err)
		respondError(w, http.StatusInternalServerError, "cache refresh failed")
		return
	}
	respondJSON(w, http.StatusOK, h.matcher.Stats())
}

// Stats handles GET /api/v1/cache/stats
func (h *MatchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.matcher.Stats())
}
