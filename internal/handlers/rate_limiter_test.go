package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/katkisiz/api/internal/platform/auth"
)

func TestKeyedRateLimiterRefill(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("ip:1.2.3.4"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, retry := limiter.Allow("ip:1.2.3.4")
	if ok {
		t.Fatalf("third request should be throttled")
	}
	if retry < 29*time.Second || retry > 30*time.Second+time.Millisecond {
		t.Fatalf("expected retry after about 30s, got %s", retry)
	}
	if ok, _ := limiter.Allow("ip:1.2.3.4"); ok {
		t.Fatalf("throttled attempts must not consume tokens ahead of time")
	}
	if ok, _ := limiter.Allow("ip:5.6.7.8"); !ok {
		t.Fatalf("other keys should not share the budget")
	}

	now = now.Add(31 * time.Second)
	if ok, _ := limiter.Allow("ip:1.2.3.4"); !ok {
		t.Fatalf("refilled token should allow the key again")
	}
	if ok, _ := limiter.Allow("ip:1.2.3.4"); ok {
		t.Fatalf("only one token should have refilled")
	}
}

func TestKeyedRateLimiterPrunesIdleKeys(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(5, time.Minute, func() time.Time { return now }).(*keyedRateLimiter)

	for _, key := range []string{"ip:a", "ip:b", "ip:c"} {
		limiter.Allow(key)
	}
	if got := limiter.size(); got != 3 {
		t.Fatalf("expected 3 buckets, got %d", got)
	}

	now = now.Add(30 * time.Second)
	limiter.Allow("ip:d")
	if got := limiter.size(); got != 4 {
		t.Fatalf("expected no prune within a window, got %d buckets", got)
	}

	now = now.Add(45 * time.Second)
	limiter.Allow("ip:d")
	if got := limiter.size(); got != 1 {
		t.Fatalf("expected idle buckets pruned, got %d", got)
	}
}

func TestNewKeyedRateLimiterDisabled(t *testing.T) {
	if newKeyedRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	handler := RateLimitMiddleware(1, func() time.Time { return now })(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(remote string, uid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if uid != "" {
			req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("10.0.0.1:1234", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", rr.Code)
	}
	rr := send("10.0.0.1:5678", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same ip, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}
	if rr := send("10.0.0.1:5678", "user-1"); rr.Code != http.StatusNoContent {
		t.Fatalf("authenticated callers are keyed by uid, got %d", rr.Code)
	}
}
