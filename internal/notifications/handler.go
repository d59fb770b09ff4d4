package notifications

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bissquit/outbox-dispatcher/internal/domain"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrCacheDisabled, Status: http.StatusNotFound},
	{Error: domain.ErrSecretKeyMissing, Status: http.StatusConflict, Message: "secret key is not configured"},
}

// QueueStatsReader reports queue depth by status.
type QueueStatsReader interface {
	QueueStats(ctx context.Context) (*QueueStats, error)
}

// CacheInvalidator drops cached task, profile and template lookups.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Handler serves the operator control endpoints.
type Handler struct {
	control   *Control
	stats     QueueStatsReader
	cache     CacheInvalidator
	secretKey *[32]byte
	validator *validator.Validate
}

// NewHandler creates a control handler. cache and secretKey may be nil.
func NewHandler(control *Control, stats QueueStatsReader, cache CacheInvalidator, secretKey *[32]byte) *Handler {
	return &Handler{
		control:   control,
		stats:     stats,
		cache:     cache,
		secretKey: secretKey,
		validator: validator.New(),
	}
}

// RegisterRoutes registers control routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/control", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
		r.Post("/cache/invalidate", h.InvalidateCache)
		r.Post("/secrets/seal", h.SealSecret)
	})
}

// StatusResponse describes the loop state.
type StatusResponse struct {
	Paused bool        `json:"paused"`
	Queue  *QueueStats `json:"queue,omitempty"`
}

// SealSecretRequest represents request body for sealing a profile secret.
type SealSecretRequest struct {
	Secret string `json:"secret" validate:"required,max=1024"`
}

// SealSecretResponse carries the stored form of a sealed secret.
type SealSecretResponse struct {
	Secret string `json:"secret"`
}

// Status handles GET /control/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Paused: h.control.Paused()}

	if h.stats != nil {
		stats, err := h.stats.QueueStats(r.Context())
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
		resp.Queue = stats
	}

	httputil.Success(w, http.StatusOK, resp)
}

// Pause handles POST /control/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if h.control.Pause() {
		ctxlog.FromContext(r.Context()).Info("dispatch paused")
	}
	httputil.Success(w, http.StatusOK, StatusResponse{Paused: true})
}

// Resume handles POST /control/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if h.control.Resume() {
		ctxlog.FromContext(r.Context()).Info("dispatch resumed")
	}
	httputil.Success(w, http.StatusOK, StatusResponse{Paused: false})
}

// InvalidateCache handles POST /control/cache/invalidate.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		httputil.HandleError(r.Context(), w, ErrCacheDisabled, errorMappings)
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	ctxlog.FromContext(r.Context()).Info("configuration cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}

// SealSecret handles POST /control/secrets/seal.
func (h *Handler) SealSecret(w http.ResponseWriter, r *http.Request) {
	var req SealSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sealed, err := domain.SealSecret(req.Secret, h.secretKey)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, SealSecretResponse{Secret: sealed})
}
