package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]any{
				"role":   []any{"Expert", "user", "expert"},
				"locale": "tr-TR",
				"email":  "uzman@katkisiz.app",
			},
		},
	}

	authn := NewAuthenticator(verifier)

	handlerCalled := false
	handler := authn.RequireFirebaseAuth(RoleExpert, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" {
			t.Fatalf("unexpected uid: %s", identity.UID)
		}
		if len(identity.Roles) != 2 || !identity.HasRole(RoleExpert) || !identity.IsReviewer() {
			t.Fatalf("unexpected roles %v", identity.Roles)
		}
		if identity.Locale != "tr-TR" {
			t.Fatalf("expected locale tr-TR, got %s", identity.Locale)
		}
		if identity.Email != "uzman@katkisiz.app" {
			t.Fatalf("unexpected email %s", identity.Email)
		}
		if identity.Token() == nil {
			t.Fatalf("expected decoded token")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected verifier to receive token-abc, got %q", verifier.received)
	}
}

func TestRequireFirebaseAuth_FallbackRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	var roles []string
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		roles = identity.Roles
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer t")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(roles) != 1 || roles[0] != RoleUser {
		t.Fatalf("expected fallback user role, got %v", roles)
	}
}

func TestRequireFirebaseAuth_RoleClaimMap(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{
		"roles": map[string]any{"admin": true, "expert": false},
	}}}
	authn := NewAuthenticator(verifier, WithRoleClaim("roles"))

	called := false
	handler := authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("expected admin role from claim map")
	}
}

func TestRequireFirebaseAuth_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})

	rr := httptest.NewRecorder()
	authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	if got := decodeError(t, rr)["error"]; got != "unauthenticated" {
		t.Fatalf("unexpected error code %v", got)
	}
}

func TestRequireFirebaseAuth_InvalidToken(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{name: "expired", err: ErrTokenExpired, code: "token_expired"},
		{name: "invalid", err: ErrTokenInvalid, code: "invalid_token"},
		{name: "other", err: errors.New("boom"), code: "invalid_token"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{err: tc.err})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer bad")
			rr := httptest.NewRecorder()
			authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not be called")
			})).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if got := decodeError(t, rr)["error"]; got != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, got)
			}
		})
	}
}

func TestRequireFirebaseAuth_InsufficientRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{"role": "user"}}}
	authn := NewAuthenticator(verifier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses/a1/verify", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr := httptest.NewRecorder()
	authn.RequireFirebaseAuth(RoleExpert, RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := decodeError(t, rr)["error"]; got != "insufficient_role" {
		t.Fatalf("unexpected error code %v", got)
	}
}

func TestRequireFirebaseAuth_NoVerifier(t *testing.T) {
	authn := NewAuthenticator(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr := httptest.NewRecorder()
	authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestOptionalFirebaseAuth(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-9", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	var gotUID string
	handler := authn.OptionalFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUID = ""
		if identity, ok := IdentityFromContext(r.Context()); ok {
			gotUID = identity.UID
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/public/analyses", nil))
	if rr.Code != http.StatusOK || gotUID != "" {
		t.Fatalf("anonymous request: code=%d uid=%q", rr.Code, gotUID)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/analyses", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || gotUID != "uid-9" {
		t.Fatalf("authenticated request: code=%d uid=%q", rr.Code, gotUID)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/public/analyses", nil)
	req.Header.Set("Authorization", "Basic abc")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("malformed header: expected 401, got %d", rr.Code)
	}
}

func TestIdentityContextHelpers(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("expected no identity")
	}
	var nilIdentity *Identity
	if nilIdentity.HasRole(RoleAdmin) || nilIdentity.Token() != nil {
		t.Fatalf("nil identity must not report roles")
	}
	ctx := WithIdentity(context.Background(), &Identity{UID: "u", Roles: []string{"ADMIN"}})
	identity, ok := IdentityFromContext(ctx)
	if !ok || !identity.HasRole(RoleAdmin) || !identity.IsReviewer() {
		t.Fatalf("unexpected identity %+v", identity)
	}
}
