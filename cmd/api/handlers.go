package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/carsgate/portal-engine/engine/domain"
	"github.com/carsgate/portal-engine/engine/pricing"
	"github.com/carsgate/portal-engine/engine/remote"
	"github.com/carsgate/portal-engine/engine/store"
	"github.com/carsgate/portal-engine/engine/sync"
	"github.com/carsgate/portal-engine/engine/workflow"
	"github.com/carsgate/portal-engine/pkg/metrics"
	"github.com/carsgate/portal-engine/pkg/mid"
	"github.com/carsgate/portal-engine/pkg/resilience"
)

type server struct {
	store *store.Store
	sync  *sync.Subscriber
	reg   *metrics.Registry
	log   *slog.Logger

	// importLimiter throttles batch endpoints; a misbehaving script must
	// not hammer the extraction service through us.
	importLimiter *resilience.Limiter
}

func newServer(st *store.Store, sub *sync.Subscriber, reg *metrics.Registry, log *slog.Logger) *server {
	return &server{
		store:         st,
		sync:          sub,
		reg:           reg,
		log:           log,
		importLimiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: 2, Burst: 5}),
	}
}

func (s *server) handler(corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", s.reg.Handler())

	mux.HandleFunc("GET /api/posts", s.handleList)
	mux.HandleFunc("POST /api/posts/import", s.limited(s.handleImport))
	mux.HandleFunc("POST /api/posts/import-images", s.limited(s.handleImportImages))
	mux.HandleFunc("POST /api/posts/analyze-all", s.limited(s.handleAnalyzeAll))
	mux.HandleFunc("DELETE /api/posts", s.handleReset)

	mux.HandleFunc("GET /api/posts/active", s.handleGetActive)
	mux.HandleFunc("POST /api/posts/active", s.handleSetActive)
	mux.HandleFunc("POST /api/posts/active/next", s.handleNext)
	mux.HandleFunc("POST /api/posts/active/prev", s.handlePrev)

	mux.HandleFunc("GET /api/posts/{id}", s.handleGet)
	mux.HandleFunc("POST /api/posts/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/posts/{id}/undo-reject", s.handleUndoReject)
	mux.HandleFunc("PUT /api/posts/{id}/raw", s.handleSaveRaw)
	mux.HandleFunc("POST /api/posts/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/posts/{id}/analyze/cancel", s.handleCancelAnalyze)
	mux.HandleFunc("POST /api/posts/{id}/analyze/accept", s.handleAcceptAnalysis)
	mux.HandleFunc("PUT /api/posts/{id}/details", s.handleSaveDetails)
	mux.HandleFunc("PUT /api/posts/{id}/images", s.handleSetImages)
	mux.HandleFunc("POST /api/posts/{id}/images/accept", s.handleAcceptImages)
	mux.HandleFunc("PUT /api/posts/{id}/pricing", s.handleSavePricing)
	mux.HandleFunc("POST /api/posts/{id}/workflow/next", s.handleWorkflowNext)
	mux.HandleFunc("POST /api/posts/{id}/workflow/prev", s.handleWorkflowPrev)
	mux.HandleFunc("POST /api/posts/{id}/finalize", s.handleFinalize)

	return mid.Chain(mux,
		mid.Recover(s.log),
		mid.OTel("portal-api"),
		mid.Logger(s.log),
		mid.CORS(corsOrigin),
	)
}

// limited gates a handler on the batch limiter with 429 on refusal.
func (s *server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.importLimiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next(w, r)
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

// writeStoreError maps engine errors onto HTTP statuses.
func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPostNotFound), errors.Is(err, remote.ErrNotFound):
		writeError(w, http.StatusNotFound, "post not found")
	case errors.Is(err, domain.ErrAnalysisInFlight):
		writeError(w, http.StatusConflict, "analysis already running")
	case errors.Is(err, remote.ErrDuplicateURL):
		writeError(w, http.StatusConflict, "url already imported")
	case errors.Is(err, domain.ErrPostRejected),
		errors.Is(err, domain.ErrEmptyRawContent),
		errors.Is(err, domain.ErrInvalidURL),
		errors.Is(err, domain.ErrInvalidStep),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrNoEntries):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, remote.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, remote.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "remote store unavailable")
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": s.sync.Online(),
	})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("q"); r.URL.Query().Has("q") {
		s.store.SetSearch(q)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posts":  s.store.Posts(),
		"active": s.store.Active(),
	})
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ImportRequest is the JSON body for POST /api/posts/import.
type ImportRequest struct {
	Entries []domain.ImportEntry `json:"entries"`
}

func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := s.store.ImportPosts(r.Context(), req.Entries)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"imported": n})
}

func (s *server) handleImportImages(w http.ResponseWriter, r *http.Request) {
	var rows []store.ImageImport
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.ImportImages(r.Context(), rows); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RejectRequest is the JSON body for POST /api/posts/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.store.Reject(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *server) handleUndoReject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.UndoReject(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

// RawRequest is the JSON body for PUT /api/posts/{id}/raw.
type RawRequest struct {
	Text string `json:"text"`
}

func (s *server) handleSaveRaw(w http.ResponseWriter, r *http.Request) {
	var req RawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SaveRaw(r.Context(), r.PathValue("id"), req.Text); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Analyze(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	p, _ := s.store.Get(id)
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleCancelAnalyze(w http.ResponseWriter, r *http.Request) {
	canceled := s.store.CancelAnalysis(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

func (s *server) handleAcceptAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := s.store.AcceptAnalysis(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleAnalyzeAll(w http.ResponseWriter, r *http.Request) {
	failed := s.store.AnalyzeAll(r.Context())
	out := make(map[string]string, len(failed))
	for id, err := range failed {
		out[id] = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed": out})
}

func (s *server) handleSaveDetails(w http.ResponseWriter, r *http.Request) {
	var details domain.ParsedPost
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SaveDetails(r.Context(), r.PathValue("id"), &details); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleSetImages(w http.ResponseWriter, r *http.Request) {
	var images []domain.ImageItem
	if err := json.NewDecoder(r.Body).Decode(&images); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := r.PathValue("id")
	if err := s.store.SetImages(r.Context(), id, images); err != nil {
		s.writeStoreError(w, err)
		return
	}
	p, _ := s.store.Get(id)
	writeJSON(w, http.StatusOK, p.Images)
}

func (s *server) handleAcceptImages(w http.ResponseWriter, r *http.Request) {
	if err := s.store.AcceptImages(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PricingRequest is the JSON body for PUT /api/posts/{id}/pricing.
// Debounced saves collapse rapid edits; the explicit save flushes now.
type PricingRequest struct {
	Inputs   pricing.Inputs `json:"inputs"`
	Debounce bool           `json:"debounce,omitempty"`
}

func (s *server) handleSavePricing(w http.ResponseWriter, r *http.Request) {
	var req PricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := r.PathValue("id")
	if req.Debounce {
		s.store.SavePricingDebounced(id, req.Inputs)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
		return
	}
	if err := s.store.SavePricing(r.Context(), id, req.Inputs); err != nil {
		s.writeStoreError(w, err)
		return
	}
	p, _ := s.store.Get(id)
	writeJSON(w, http.StatusOK, p.Pricing)
}

func (s *server) handleWorkflowNext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	next := workflow.Next(p.Step)
	if next == p.Step {
		writeError(w, http.StatusConflict, "already at the last step")
		return
	}
	if !workflow.CanProceed(p) {
		writeError(w, http.StatusConflict, "current step is not complete")
		return
	}
	if err := s.store.SetWorkflowStep(r.Context(), id, next); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"step": string(next)})
}

func (s *server) handleWorkflowPrev(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	prev := workflow.Prev(p.Step)
	if prev == p.Step {
		writeError(w, http.StatusConflict, "already at the first step")
		return
	}
	if err := s.store.SetWorkflowStep(r.Context(), id, prev); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"step": string(prev)})
}

func (s *server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if err := s.store.FinalizePost(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ActiveRequest is the JSON body for POST /api/posts/active.
type ActiveRequest struct {
	ID string `json:"id"`
}

func (s *server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.store.SetActive(req.ID)
	writeJSON(w, http.StatusOK, map[string]string{"active": req.ID})
}

func (s *server) handleGetActive(w http.ResponseWriter, _ *http.Request) {
	id := s.store.Active()
	if id == "" {
		writeJSON(w, http.StatusOK, map[string]any{"active": nil})
		return
	}
	p, ok := s.store.Get(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": id, "post": p})
}

func (s *server) handleNext(w http.ResponseWriter, _ *http.Request) {
	s.store.Next()
	writeJSON(w, http.StatusOK, map[string]string{"active": s.store.Active()})
}

func (s *server) handlePrev(w http.ResponseWriter, _ *http.Request) {
	s.store.Prev()
	writeJSON(w, http.StatusOK, map[string]string{"active": s.store.Active()})
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "reset requires confirm=true")
		return
	}
	if err := s.store.Reset(r.Context()); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
