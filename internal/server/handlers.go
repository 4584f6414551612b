package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/memsearch/mem-search/internal/classify"
	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
	"github.com/memsearch/mem-search/internal/pkg/logger"
	"github.com/memsearch/mem-search/internal/rerank"
	"github.com/memsearch/mem-search/internal/search"
)

// Searcher runs one retrieval flavor. The retriever, session retriever,
// and multi-query retriever all satisfy it.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

// UsageSource reports accumulated LLM expansion usage.
type UsageSource interface {
	GetUsage() search.Usage
}

// Handler serves the search API.
type Handler struct {
	search   Searcher
	sessions Searcher
	multi    Searcher
	usage    UsageSource
	log      *logger.Logger
}

// NewHandler creates the API handler. sessions, multi, and usage may be
// nil when the corresponding feature is disabled.
func NewHandler(searcher, sessions, multi Searcher, usage UsageSource, log *logger.Logger) *Handler {
	return &Handler{
		search:   searcher,
		sessions: sessions,
		multi:    multi,
		usage:    usage,
		log:      log.WithComponent("http"),
	}
}

// SearchRequest is the JSON request body for search endpoints.
type SearchRequest struct {
	Query        string  `json:"query"`
	OrgID        string  `json:"org_id,omitempty"`
	SessionID    string  `json:"session_id,omitempty"`
	Type         string  `json:"type,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	Threshold    float32 `json:"threshold,omitempty"`
	Strategy     string  `json:"strategy,omitempty"`
	Rerank       bool    `json:"rerank,omitempty"`
	RerankTier   string  `json:"rerank_tier,omitempty"`
	RerankDepth  int     `json:"rerank_depth,omitempty"`
	MultiQuery   bool    `json:"multi_query,omitempty"`
	TimeStartMs  int64   `json:"time_start_ms,omitempty"`
	TimeEndMs    int64   `json:"time_end_ms,omitempty"`
	VTEndAfterMs int64   `json:"vt_end_after_ms,omitempty"`
}

// UsageResponse reports LLM expansion spend.
type UsageResponse struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	CostCents        int64 `json:"cost_cents"`
	Expansions       int   `json:"expansions"`
}

const maxLimit = 100

// parseRequest decodes and validates the request body. Validation runs
// before any embedding or store work.
func parseRequest(r *http.Request) (search.Query, SearchRequest, error) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return search.Query{}, req, apperrors.ValidationError("invalid request body: " + err.Error())
	}

	if req.Query == "" {
		return search.Query{}, req, apperrors.ValidationError("query is required")
	}
	if req.Limit < 0 || req.Limit > maxLimit {
		return search.Query{}, req, apperrors.ValidationError("limit must be between 1 and 100")
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return search.Query{}, req, apperrors.ValidationError("threshold must be between 0 and 1")
	}
	if req.RerankDepth < 0 || req.RerankDepth > maxLimit {
		return search.Query{}, req, apperrors.ValidationError("rerank_depth must be between 1 and 100")
	}

	// The org header is the default tenant scope; an explicit body
	// field wins.
	if req.OrgID == "" {
		req.OrgID = r.Header.Get("X-Org-ID")
	}
	if req.OrgID == "" {
		return search.Query{}, req, apperrors.TenantMissingError()
	}

	tier := rerank.Tier(req.RerankTier)
	if tier != "" && !tier.Valid() {
		return search.Query{}, req, apperrors.ValidationError("unknown rerank tier: " + req.RerankTier)
	}

	q := search.Query{
		Text:        req.Query,
		Limit:       req.Limit,
		Threshold:   req.Threshold,
		Strategy:    classify.Strategy(req.Strategy),
		Rerank:      req.Rerank,
		Tier:        tier,
		RerankDepth: req.RerankDepth,
		Filters: search.Filters{
			OrgID:        req.OrgID,
			SessionID:    req.SessionID,
			Type:         req.Type,
			TimeStartMs:  req.TimeStartMs,
			TimeEndMs:    req.TimeEndMs,
			VTEndAfterMs: req.VTEndAfterMs,
		},
	}
	return q, req, nil
}

// HandleSearch handles POST /v1/search.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q, req, err := parseRequest(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	searcher := h.search
	if req.MultiQuery && h.multi != nil {
		searcher = h.multi
	}

	h.serveSearch(w, r, searcher, q)
}

// HandleSessionSearch handles POST /v1/search/sessions.
func (h *Handler) HandleSessionSearch(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		apperrors.WriteError(w, apperrors.New(apperrors.CodeUnavailable, "session search is not configured"))
		return
	}

	q, _, err := parseRequest(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	h.serveSearch(w, r, h.sessions, q)
}

// HandleUsage handles GET /v1/usage.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		writeJSON(w, http.StatusOK, UsageResponse{})
		return
	}

	u := h.usage.GetUsage()
	writeJSON(w, http.StatusOK, UsageResponse{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CostCents:        u.CostCents,
		Expansions:       u.Expansions,
	})
}

func (h *Handler) serveSearch(w http.ResponseWriter, r *http.Request, searcher Searcher, q search.Query) {
	start := time.Now()

	results, err := searcher.Search(r.Context(), q)
	if err != nil {
		h.log.WithError(err).Error("search failed", "org_id", q.Filters.OrgID)
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, search.Response{
		Results: results,
		Total:   len(results),
		TookMs:  time.Since(start).Milliseconds(),
	})
}

// RegisterRoutes registers the API routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/search", h.HandleSearch)
	mux.HandleFunc("POST /v1/search/sessions", h.HandleSessionSearch)
	mux.HandleFunc("GET /v1/usage", h.HandleUsage)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
