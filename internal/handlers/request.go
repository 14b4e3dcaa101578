package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/katkisiz/api/internal/platform/auth"
	"github.com/katkisiz/api/internal/platform/httpx"
	"github.com/katkisiz/api/internal/platform/requestctx"
	"github.com/katkisiz/api/internal/services"
)

// decodeJSONBody decodes a bounded JSON body, writing the error response itself on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	err := httpx.DecodeJSON(r, limit, dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, httpx.ErrEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
	}
	return false
}

// actorFromContext maps the Firebase identity (if any) to a service actor.
func actorFromContext(ctx context.Context) services.Actor {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return services.Actor{}
	}
	return services.Actor{
		UserID:   strings.TrimSpace(identity.UID),
		Reviewer: identity.IsReviewer(),
	}
}

// requestLocale prefers the Accept-Language header, then the locale claim of the caller's token.
func requestLocale(r *http.Request) string {
	if preference := requestctx.Locale(r.Context()); preference != "" {
		return preference
	}
	if preference := strings.TrimSpace(r.Header.Get("Accept-Language")); preference != "" {
		return preference
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Locale
	}
	return ""
}

func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor := actorFromContext(r.Context())
	if !actor.Authenticated() {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actor, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
