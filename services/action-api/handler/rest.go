package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	redisstore "github.com/rhoffman0214/BobsComponents/internal/redis"
	"github.com/rhoffman0214/BobsComponents/pkg/telemetry"
	"github.com/rhoffman0214/BobsComponents/services/action-api/launcher"
)

// Launcher starts and cancels action runs.
type Launcher interface {
	Submit(sub launcher.Submission) (domain.OperationMetadata, error)
	Cancel(actionID string) error
	Stats() map[string]domain.ErrorMetadata
	Operations() []string
}

// Queue is the read and maintenance side of the action queue.
type Queue interface {
	Actions() []domain.ActionMetadata
	Get(id string) (domain.ActionMetadata, error)
	RunningCount() int
	IsAtLimit() bool
	MaxConcurrent() int
	CleanupCompletedActions() int
	ClearAll()
}

// REST handles HTTP requests for the action API.
type REST struct {
	launcher Launcher
	queue    Queue
	limiter  redisstore.RateLimiter
	logger   *slog.Logger
}

// NewREST creates a REST handler. limiter may be nil to accept every
// submission.
func NewREST(l Launcher, q Queue, limiter redisstore.RateLimiter, logger *slog.Logger) *REST {
	return &REST{launcher: l, queue: q, limiter: limiter, logger: logger}
}

// Routes mounts the /api/v1 endpoints on r.
func (h *REST) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/actions", h.SubmitAction)
		r.Get("/actions", h.ListActions)
		r.Delete("/actions", h.ClearActions)
		r.Post("/actions/cleanup", h.CleanupActions)
		r.Get("/actions/{id}", h.GetAction)
		r.Post("/actions/{id}/cancel", h.CancelAction)
		r.Get("/errors", h.ErrorStats)
		r.Get("/operations", h.ListOperations)
	})
}

// SubmitActionRequest is the JSON body for POST /api/v1/actions.
type SubmitActionRequest struct {
	Operation string `json:"operation"`
	Name      string `json:"name,omitempty"`
	Retry     string `json:"retry,omitempty"`
}

// SubmitActionResponse is the 202 response body.
type SubmitActionResponse struct {
	ActionID    string             `json:"action_id"`
	OperationID string             `json:"operation_id"`
	State       domain.ActionState `json:"state"`
}

// ListActionsResponse is the GET /api/v1/actions response body.
type ListActionsResponse struct {
	Actions       []domain.ActionMetadata `json:"actions"`
	Running       int                     `json:"running"`
	AtLimit       bool                    `json:"at_limit"`
	MaxConcurrent int                     `json:"max_concurrent"`
}

// SubmitAction handles POST /api/v1/actions.
func (h *REST) SubmitAction(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer("action-api").Start(r.Context(), "action_api.submit_action")
	defer span.End()

	var req SubmitActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Operation) == "" {
		writeError(w, http.StatusBadRequest, "field 'operation' is required")
		return
	}
	span.SetAttributes(attribute.String("operation.name", req.Operation))

	if !h.allow(ctx, clientKey(r)) {
		telemetry.APIRateLimitedTotal.Inc()
		telemetry.APIActionsSubmitted.WithLabelValues(req.Operation, "rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	started, err := h.launcher.Submit(launcher.Submission{
		Operation: req.Operation,
		Name:      req.Name,
		Retry:     req.Retry,
	})
	if err != nil {
		var unknown *domain.UnknownOperationError
		switch {
		case errors.Is(err, launcher.ErrAtCapacity):
			telemetry.APIActionsSubmitted.WithLabelValues(req.Operation, "at_capacity").Inc()
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.As(err, &unknown), errors.Is(err, domain.ErrInvalidArgument):
			telemetry.APIActionsSubmitted.WithLabelValues(req.Operation, "rejected").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "launch failed")
			h.logger.Error("failed to launch action",
				slog.String("operation", req.Operation),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to launch action")
		}
		return
	}

	span.SetAttributes(attribute.String("action.id", started.ActionID))
	telemetry.APIActionsSubmitted.WithLabelValues(req.Operation, "accepted").Inc()
	h.logger.Info("action submitted",
		slog.String("action_id", started.ActionID),
		slog.String("operation", req.Operation),
	)

	writeJSON(w, http.StatusAccepted, SubmitActionResponse{
		ActionID:    started.ActionID,
		OperationID: started.ID,
		State:       domain.StateLoading,
	})
}

// ListActions handles GET /api/v1/actions.
func (h *REST) ListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ListActionsResponse{
		Actions:       h.queue.Actions(),
		Running:       h.queue.RunningCount(),
		AtLimit:       h.queue.IsAtLimit(),
		MaxConcurrent: h.queue.MaxConcurrent(),
	})
}

// GetAction handles GET /api/v1/actions/{id}.
func (h *REST) GetAction(w http.ResponseWriter, r *http.Request) {
	a, err := h.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CancelAction handles POST /api/v1/actions/{id}/cancel.
func (h *REST) CancelAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.launcher.Cancel(id)

	var notFound *domain.ActionNotFoundError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "action not found")
	case errors.Is(err, launcher.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("failed to cancel action", slog.String("action_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to cancel action")
	}
}

// CleanupActions handles POST /api/v1/actions/cleanup.
func (h *REST) CleanupActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": h.queue.CleanupCompletedActions()})
}

// ClearActions handles DELETE /api/v1/actions.
func (h *REST) ClearActions(w http.ResponseWriter, _ *http.Request) {
	h.queue.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

// ErrorStats handles GET /api/v1/errors.
func (h *REST) ErrorStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.launcher.Stats())
}

// ListOperations handles GET /api/v1/operations.
func (h *REST) ListOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"operations": h.launcher.Operations()})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// allow fails open: a limiter outage must not take submissions down with it.
func (h *REST) allow(ctx context.Context, key string) bool {
	if h.limiter == nil {
		return true
	}
	err := redisstore.Check(ctx, h.limiter, key)
	var exceeded *domain.RateLimitExceededError
	switch {
	case err == nil:
		return true
	case errors.As(err, &exceeded):
		h.logger.Warn("submission rate limited", slog.String("key", key), slog.Int("limit", exceeded.Limit))
		return false
	default:
		h.logger.Error("rate limiter unavailable, allowing request", slog.String("error", err.Error()))
		return true
	}
}

// clientKey identifies the caller for rate limiting. chi's RealIP middleware
// has already folded proxy headers into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
