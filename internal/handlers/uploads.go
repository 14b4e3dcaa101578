package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/katkisiz/api/internal/platform/auth"
	"github.com/katkisiz/api/internal/platform/httpx"
	"github.com/katkisiz/api/internal/services"
)

// UploadHandlers issues signed URLs for product label photos.
type UploadHandlers struct {
	authn       *auth.Authenticator
	uploads     services.UploadService
	middlewares []func(http.Handler) http.Handler
}

// UploadHandlerOption customises UploadHandlers.
type UploadHandlerOption func(*UploadHandlers)

// WithUploadMiddlewares adds middleware that runs after authentication.
func WithUploadMiddlewares(mw ...func(http.Handler) http.Handler) UploadHandlerOption {
	return func(h *UploadHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewUploadHandlers constructs upload handlers.
func NewUploadHandlers(authn *auth.Authenticator, uploads services.UploadService, opts ...UploadHandlerOption) *UploadHandlers {
	h := &UploadHandlers{authn: authn, uploads: uploads}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers upload endpoints.
func (h *UploadHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(authed chi.Router) {
		if h.authn != nil {
			authed.Use(h.authn.RequireFirebaseAuth())
		}
		useAll(authed, h.middlewares)
		authed.Post("/uploads:product-image", h.issueProductImageURL)
	})
}

type uploadRequest struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type uploadResponse struct {
	UploadID   string            `json:"upload_id"`
	ObjectPath string            `json:"object_path"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ExpiresAt  string            `json:"expires_at"`
}

func (h *UploadHandlers) issueProductImageURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.uploads == nil {
		httpx.WriteError(ctx, w, httpx.NewError("upload_service_unavailable", "upload service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req uploadRequest
	if !decodeJSONBody(w, r, httpx.DefaultMaxBodyBytes, &req) {
		return
	}

	ticket, err := h.uploads.IssueUploadURL(ctx, services.IssueUploadURLCommand{
		Actor:       actor,
		ContentType: req.ContentType,
		Size:        req.Size,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUploadInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrUploadTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("file_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		case errors.Is(err, services.ErrUploadForbidden):
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "uploads require an authenticated user", http.StatusForbidden))
		case errors.Is(err, services.ErrUploadUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("upload_unavailable", "unable to issue upload url", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("upload_error", "failed to issue upload url", http.StatusInternalServerError))
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, uploadResponse{
		UploadID:   ticket.UploadID,
		ObjectPath: ticket.ObjectPath,
		URL:        ticket.URL,
		Method:     ticket.Method,
		Headers:    ticket.Headers,
		ExpiresAt:  ticket.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
