package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feedback"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/routing"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	pipeline *pipeline.Pipeline
	registry *registry.Registry
	router   *routing.Engine
	store    *feedback.Store
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	pipe *pipeline.Pipeline,
	reg *registry.Registry,
	router *routing.Engine,
	store *feedback.Store,
	version string,
) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		pipeline: pipe,
		registry: reg,
		router:   router,
		store:    store,
		version:  version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// IngestBatch handles POST /batches. The request body is the raw CSV
// upload; the batch is normalized and persisted as a new intake-stage run.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	run, cases, err := h.pipeline.Ingest(ctx, tenantID, r.Body)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"run":       run,
		"caseCount": len(cases),
	})
}

// ListBatches returns all runs for the tenant, newest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	runs, err := h.repo.ListRuns(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetBatch returns one run by ID.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	run, err := h.repo.GetRun(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// AnonymizeBatch handles POST /batches/{id}/anonymize.
func (h *Handler) AnonymizeBatch(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, h.pipeline.Anonymize)
}

// VerifyBatch handles POST /batches/{id}/verify.
func (h *Handler) VerifyBatch(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, h.pipeline.Verify)
}

// ScoreBatch handles POST /batches/{id}/score.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, h.pipeline.Score)
}

// ListBatchCases returns every case in a run.
func (h *Handler) ListBatchCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.repo.ListCasesByRun(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// GetCase returns one case by ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetCase(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetAssessment returns the fraud assessment for a case, served from cache
// when possible.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	if h.cache != nil {
		if cached, err := h.cache.GetAssessment(ctx, tenantID, caseID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	c, err := h.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if c.Assessment == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "case has not been scored",
		})
		return
	}
	writeJSON(w, http.StatusOK, c.Assessment)
}

// ListPendingReview returns scored Review cases created since the given
// time (RFC 3339 `since` query parameter; default: no lower bound).
func (h *Handler) ListPendingReview(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC 3339",
			})
			return
		}
		since = parsed
	}

	cases, err := h.repo.ListPendingReview(r.Context(), GetTenantID(r.Context()), since)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// ListFeedback returns the current reviewer feedback table.
func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.List(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feedback": records,
		"count":    len(records),
	})
}

// SaveFeedback handles PUT /feedback. The body is the full reviewer-edited
// table and replaces whatever was stored before.
func (h *Handler) SaveFeedback(w http.ResponseWriter, r *http.Request) {
	var records []*domain.FeedbackRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.store.Save(r.Context(), GetTenantID(r.Context()), records); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"saved": len(records),
	})
}

// BuildFeedbackTable returns a prefilled feedback table for a scored run
// (`run` query parameter), one row per scored case.
func (h *Handler) BuildFeedbackTable(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run query parameter is required",
		})
		return
	}

	cases, err := h.repo.ListCasesByRun(r.Context(), GetTenantID(r.Context()), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	records := feedback.BuildTable(cases)
	writeJSON(w, http.StatusOK, map[string]any{
		"feedback": records,
		"count":    len(records),
	})
}

// LogReview handles POST /reviews, appending one entry to the audit trail.
func (h *Handler) LogReview(w http.ResponseWriter, r *http.Request) {
	var entry domain.ReviewLogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	logged, err := h.store.LogReview(r.Context(), GetTenantID(r.Context()), &entry)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, logged)
}

// ListCaseReviews returns the audit trail for a case, oldest first.
func (h *Handler) ListCaseReviews(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.History(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reviews": entries,
		"count":   len(entries),
	})
}

// TrainRequest is the request body for POST /train.
type TrainRequest struct {
	Algorithm string `json:"algorithm"`
}

// Train handles POST /train: builds a labeled dataset from feedback (or the
// latest scored run) and fits a candidate model into the trained slot.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if r.Body != nil {
		// An empty body selects the default algorithm.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Algorithm == "" {
		req.Algorithm = domain.AlgoLogisticRegression
	}

	result, err := h.pipeline.TrainModel(r.Context(), GetTenantID(r.Context()), req.Algorithm)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListModels returns the artifacts in a registry slot (`slot` query
// parameter, default trained), newest first.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	slot := domain.ModelSlot(r.URL.Query().Get("slot"))
	if slot == "" {
		slot = domain.SlotTrained
	}
	if slot != domain.SlotTrained && slot != domain.SlotProduction {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "slot must be trained or production",
		})
		return
	}

	models, err := h.registry.List(slot)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models": models,
		"count":  len(models),
		"slot":   slot,
	})
}

// Promote handles POST /models/promote: the newest trained artifact becomes
// the production model.
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	record, err := h.pipeline.PromoteModel(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// PromotionMeta returns the current promotion record, or 404 when no model
// has been promoted.
func (h *Handler) PromotionMeta(w http.ResponseWriter, r *http.Request) {
	record, err := h.registry.PromotionMeta()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no model has been promoted",
		})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ListRoutingRules returns the tenant's persisted routing rules, highest
// priority first.
func (h *Handler) ListRoutingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.repo.ListRoutingRules(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.router.RulesCount(),
	})
}

// CreateRoutingRule validates and persists a routing rule. The engine picks
// it up on the next reload.
func (h *Handler) CreateRoutingRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.RoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rule.ID == "" || rule.Name == "" || rule.Expression == "" || rule.Queue == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, expression, and queue are required",
		})
		return
	}
	rule.TenantID = tenantID

	if err := h.router.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRoutingRule(ctx, tenantID, &rule); err != nil {
		h.writeError(w, err)
		return
	}

	slog.Info("routing rule created", "id", rule.ID, "queue", rule.Queue)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /routing/rules/reload to apply changes.",
	})
}

// DeleteRoutingRule removes a persisted routing rule.
func (h *Handler) DeleteRoutingRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRoutingRule(ctx, tenantID, ruleID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Rule deleted. Call POST /routing/rules/reload to apply changes.",
	})
}

// ReloadRoutingRules reloads the engine from the database plus the builtin
// rule set. This enables hot-reloading without server restart.
func (h *Handler) ReloadRoutingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.repo.ListRoutingRules(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	rules = append(rules, routing.BuiltinRules()...)

	if err := h.router.ReloadRules(rules); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("routing rules reloaded", "count", h.router.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.router.RulesCount(),
	})
}

// runStage invokes one pipeline stage against the run in the URL.
func (h *Handler) runStage(
	w http.ResponseWriter,
	r *http.Request,
	stage func(ctx context.Context, tenantID, runID string) ([]*domain.Case, error),
) {
	ctx := r.Context()
	cases, err := stage(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// writeError maps domain error classes onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInputFormat), errors.Is(err, repository.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientClasses):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
