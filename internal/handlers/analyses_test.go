package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/katkisiz/api/internal/domain"
	"github.com/katkisiz/api/internal/platform/auth"
	"github.com/katkisiz/api/internal/platform/idempotency"
	"github.com/katkisiz/api/internal/services"
)

type stubAnalysisService struct {
	analyzeText        func(context.Context, services.AnalyzeTextCommand) (services.AnalysisOutcome, error)
	analyzeIngredients func(context.Context, services.AnalyzeIngredientsCommand) (services.AnalysisOutcome, error)
	quickStatus        func(context.Context, []string) (services.ProductStatus, error)
	analyzeImage       func(context.Context, services.AnalyzeImageCommand) (services.AnalysisOutcome, error)
	processStorage     func(context.Context, services.StorageObjectEvent) (services.StorageProcessingResult, error)
	getAnalysis        func(context.Context, services.GetAnalysisCommand) (services.Analysis, error)
	listAnalyses       func(context.Context, services.ListAnalysesCommand) (domain.CursorPage[services.Analysis], error)
	verifyAnalysis     func(context.Context, services.VerifyAnalysisCommand) (services.Analysis, error)
}

func (s *stubAnalysisService) AnalyzeText(ctx context.Context, cmd services.AnalyzeTextCommand) (services.AnalysisOutcome, error) {
	if s.analyzeText == nil {
		return services.AnalysisOutcome{}, errors.New("not implemented")
	}
	return s.analyzeText(ctx, cmd)
}

func (s *stubAnalysisService) AnalyzeIngredients(ctx context.Context, cmd services.AnalyzeIngredientsCommand) (services.AnalysisOutcome, error) {
	if s.analyzeIngredients == nil {
		return services.AnalysisOutcome{}, errors.New("not implemented")
	}
	return s.analyzeIngredients(ctx, cmd)
}

func (s *stubAnalysisService) QuickStatus(ctx context.Context, ingredients []string) (services.ProductStatus, error) {
	if s.quickStatus == nil {
		return "", errors.New("not implemented")
	}
	return s.quickStatus(ctx, ingredients)
}

func (s *stubAnalysisService) AnalyzeImage(ctx context.Context, cmd services.AnalyzeImageCommand) (services.AnalysisOutcome, error) {
	if s.analyzeImage == nil {
		return services.AnalysisOutcome{}, errors.New("not implemented")
	}
	return s.analyzeImage(ctx, cmd)
}

func (s *stubAnalysisService) ProcessStorageObject(ctx context.Context, event services.StorageObjectEvent) (services.StorageProcessingResult, error) {
	if s.processStorage == nil {
		return services.StorageProcessingResult{}, errors.New("not implemented")
	}
	return s.processStorage(ctx, event)
}

func (s *stubAnalysisService) GetAnalysis(ctx context.Context, cmd services.GetAnalysisCommand) (services.Analysis, error) {
	if s.getAnalysis == nil {
		return services.Analysis{}, errors.New("not implemented")
	}
	return s.getAnalysis(ctx, cmd)
}

func (s *stubAnalysisService) ListAnalyses(ctx context.Context, cmd services.ListAnalysesCommand) (domain.CursorPage[services.Analysis], error) {
	if s.listAnalyses == nil {
		return domain.CursorPage[services.Analysis]{}, errors.New("not implemented")
	}
	return s.listAnalyses(ctx, cmd)
}

func (s *stubAnalysisService) VerifyAnalysis(ctx context.Context, cmd services.VerifyAnalysisCommand) (services.Analysis, error) {
	if s.verifyAnalysis == nil {
		return services.Analysis{}, errors.New("not implemented")
	}
	return s.verifyAnalysis(ctx, cmd)
}

func sampleAnalysis(now time.Time) services.Analysis {
	return services.Analysis{
		ID:       "ana_123",
		UserID:   "user-1",
		Source:   domain.AnalysisSourceText,
		FullText: "İçindekiler: şeker, aspartam",
		Product:  services.ProductInfo{Name: "Gazoz"},
		Result: services.AnalysisResult{
			Status:           domain.ProductStatusRed,
			Score:            75,
			IngredientsFound: true,
			Ingredients:      []string{"şeker", "aspartam"},
			Additives: []domain.DetectedAdditive{{
				Code:     "E951",
				Name:     "Aspartam",
				Category: domain.AdditiveCategoryAvoid,
				Known:    true,
			}},
			Counts:               domain.AdditiveCounts{Total: 1, Dangerous: 1},
			Locale:               "tr",
			KnowledgeBaseVersion: "2024.1-tr",
		},
		AnalyzedBy: domain.AnalyzedByAI,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func withUser(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func TestAnalysisHandlersAnalyzeTextPersisted(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var captured services.AnalyzeTextCommand
	svc := &stubAnalysisService{
		analyzeText: func(_ context.Context, cmd services.AnalyzeTextCommand) (services.AnalysisOutcome, error) {
			captured = cmd
			return services.AnalysisOutcome{Analysis: sampleAnalysis(now), Persisted: true}, nil
		},
	}
	router := NewRouter(WithAnalysisRoutes(NewAnalysisHandlers(nil, svc).Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses:text", strings.NewReader(`{"text":"İçindekiler: şeker, aspartam","product":{"name":"Gazoz"}}`))
	req.Header.Set("Accept-Language", "tr-TR")
	req = withUser(req, "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.UserID != "user-1" || !captured.Persist {
		t.Fatalf("expected persisted run for user-1, got %+v", captured)
	}
	if captured.Locale != "tr-TR" {
		t.Fatalf("expected locale from header, got %q", captured.Locale)
	}
	if captured.Product.Name != "Gazoz" {
		t.Fatalf("expected product name, got %+v", captured.Product)
	}

	var payload analysisResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Analysis.ID != "ana_123" || payload.Analysis.Status != "red" {
		t.Fatalf("unexpected payload %+v", payload.Analysis)
	}
	if payload.Persisted == nil || !*payload.Persisted {
		t.Fatalf("expected persisted flag")
	}
	if len(payload.Analysis.Additives) != 1 || payload.Analysis.Additives[0].Code != "E951" {
		t.Fatalf("unexpected additives %+v", payload.Analysis.Additives)
	}
	if payload.Analysis.FullText != "" {
		t.Fatalf("analysis responses should omit full text")
	}
	if payload.Analysis.CreatedAt != formatTime(now) {
		t.Fatalf("expected created_at %s, got %s", formatTime(now), payload.Analysis.CreatedAt)
	}
}

func TestAnalysisHandlersPersistOptOut(t *testing.T) {
	var captured services.AnalyzeIngredientsCommand
	svc := &stubAnalysisService{
		analyzeIngredients: func(_ context.Context, cmd services.AnalyzeIngredientsCommand) (services.AnalysisOutcome, error) {
			captured = cmd
			return services.AnalysisOutcome{Analysis: services.Analysis{Result: services.AnalysisResult{Status: domain.ProductStatusGreen}}}, nil
		},
	}
	router := NewRouter(WithAnalysisRoutes(NewAnalysisHandlers(nil, svc).Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses:ingredients", strings.NewReader(`{"ingredients":["su","tuz"],"persist":false}`))
	req = withUser(req, "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.Persist {
		t.Fatalf("expected persist opt-out to be honoured")
	}
	if len(captured.Ingredients) != 2 {
		t.Fatalf("expected ingredients forwarded, got %v", captured.Ingredients)
	}
}

func TestAnalysisHandlersPublicNeverPersists(t *testing.T) {
	var captured services.AnalyzeTextCommand
	svc := &stubAnalysisService{
		analyzeText: func(_ context.Context, cmd services.AnalyzeTextCommand) (services.AnalysisOutcome, error) {
			captured = cmd
			return services.AnalysisOutcome{Analysis: services.Analysis{Result: services.AnalysisResult{Status: domain.ProductStatusYellow}}}, nil
		},
	}
	router := NewRouter(WithPublicRoutes(NewAnalysisHandlers(nil, svc).PublicRoutes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/analyses:text", strings.NewReader(`{"text":"içindekiler: E330","persist":true}`))
	req = withUser(req, "user-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Persist || captured.Actor.Authenticated() {
		t.Fatalf("public analyses must be anonymous, got %+v", captured)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["persisted"] != false {
		t.Fatalf("expected persisted=false, got %v", payload["persisted"])
	}
}

func TestAnalysisHandlersQuickStatus(t *testing.T) {
	svc := &stubAnalysisService{
		quickStatus: func(_ context.Context, ingredients []string) (services.ProductStatus, error) {
			if len(ingredients) != 1 {
				return "", fmt.Errorf("%w: unexpected", services.ErrAnalysisInvalidInput)
			}
			return domain.ProductStatusRed, nil
		},
	}
	router := NewRouter(WithPublicRoutes(NewAnalysisHandlers(nil, svc).PublicRoutes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/public/analyses:quick", strings.NewReader(`{"ingredients":["E621"]}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "red" {
		t.Fatalf("expected red, got %v", payload)
	}
}

func TestAnalysisHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid", fmt.Errorf("%w: text is required", services.ErrAnalysisInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"no ingredients", services.ErrAnalysisNoIngredients, http.StatusUnprocessableEntity, "no_ingredients"},
		{"forbidden", services.ErrAnalysisForbidden, http.StatusForbidden, "forbidden"},
		{"not found", services.ErrAnalysisNotFound, http.StatusNotFound, "analysis_not_found"},
		{"conflict", services.ErrAnalysisConflict, http.StatusConflict, "analysis_conflict"},
		{"unavailable", services.ErrAnalysisUnavailable, http.StatusServiceUnavailable, "analysis_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "analysis_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubAnalysisService{
				analyzeImage: func(context.Context, services.AnalyzeImageCommand) (services.AnalysisOutcome, error) {
					return services.AnalysisOutcome{}, tc.err
				},
			}
			router := NewRouter(WithAnalysisRoutes(NewAnalysisHandlers(nil, svc).Routes))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses:image", strings.NewReader(`{"object_path":"products/user-1/a.png"}`))
			req = withUser(req, "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestAnalysisHandlersRequireIdentity(t *testing.T) {
	router := NewRouter(WithAnalysisRoutes(NewAnalysisHandlers(nil, &stubAnalysisService{}).Routes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/me/analyses", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAnalysisHandlersInvalidJSON(t *testing.T) {
	router := NewRouter(WithAnalysisRoutes(NewAnalysisHandlers(nil, &stubAnalysisService{}).Routes))

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/analyses:text", strings.NewReader(`{"text":`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAnalysisHandlersListMyAnalyses(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var captured services.ListAnalysesCommand
	svc := &stubAnalysisService{
		listAnalyses: func(_ context.Context, cmd services.ListAnalysesCommand) (domain.CursorPage[services.Analysis], error) {
			captured = cmd
			return domain.CursorPage[services.Analysis]{
				Items:         []services.Analysis{sampleAnalysis(now)},
				NextPageToken: "next",
			}, nil
		},
	}
	router := NewRouter(WithAnalysisRoutes(NewAnalysisHandlers(nil, svc).Routes))

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/me/analyses?pageSize=5&status=RED", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Pagination.PageSize != 5 || captured.Status != domain.ProductStatusRed {
		t.Fatalf("unexpected command %+v", captured)
	}

	var payload analysisListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 1 || payload.NextPageToken != "next" {
		t.Fatalf("unexpected list payload %+v", payload)
	}

	bad := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/me/analyses?pageSize=abc", nil), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, bad)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid page size, got %d", rr.Code)
	}
}

func TestAnalysisHandlersGetIncludesFullText(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var captured services.GetAnalysisCommand
	svc := &stubAnalysisService{
		getAnalysis: func(_ context.Context, cmd services.GetAnalysisCommand) (services.Analysis, error) {
			captured = cmd
			return sampleAnalysis(now), nil
		},
	}
	router := NewRouter(WithAnalysisRoutes(NewAnalysisHandlers(nil, svc).Routes))

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/ana_123", nil), "user-2", auth.RoleExpert)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.AnalysisID != "ana_123" || !captured.Actor.Reviewer {
		t.Fatalf("unexpected command %+v", captured)
	}
	var payload analysisResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Analysis.FullText == "" {
		t.Fatalf("expected full text on detail response")
	}
	if payload.Persisted != nil {
		t.Fatalf("detail response should not carry persisted flag")
	}
}

func TestAnalysisHandlersVerify(t *testing.T) {
	now := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	var captured services.VerifyAnalysisCommand
	svc := &stubAnalysisService{
		verifyAnalysis: func(_ context.Context, cmd services.VerifyAnalysisCommand) (services.Analysis, error) {
			captured = cmd
			analysis := sampleAnalysis(now)
			analysis.Verified = true
			analysis.VerifiedBy = cmd.Actor.UserID
			analysis.VerifiedAt = &now
			analysis.AnalyzedBy = domain.AnalyzedByExpert
			return analysis, nil
		},
	}
	router := NewRouter(WithAnalysisRoutes(NewAnalysisHandlers(nil, svc).Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses/ana_123:verify", strings.NewReader(`{"note":"checked label"}`))
	req = withUser(req, "expert-1", auth.RoleExpert)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.AnalysisID != "ana_123" || captured.Note != "checked label" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var payload analysisResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Analysis.Verified || payload.Analysis.AnalyzedBy != "expert" || payload.Analysis.VerifiedAt != formatTime(now) {
		t.Fatalf("unexpected verified payload %+v", payload.Analysis)
	}
}

func TestAnalysisHandlersUnavailableService(t *testing.T) {
	router := NewRouter(WithPublicRoutes(NewAnalysisHandlers(nil, nil).PublicRoutes))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/public/analyses:quick", strings.NewReader(`{}`)))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAnalysisHandlersReplayWithIdempotencyKey(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	svc := &stubAnalysisService{
		analyzeText: func(context.Context, services.AnalyzeTextCommand) (services.AnalysisOutcome, error) {
			calls++
			return services.AnalysisOutcome{Analysis: sampleAnalysis(now), Persisted: true}, nil
		},
	}
	h := NewAnalysisHandlers(nil, svc, WithAnalysisMiddlewares(idempotency.Middleware(idempotency.NewMemoryStore())))
	router := NewRouter(WithAnalysisRoutes(h.Routes))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses:text", strings.NewReader(`{"text":"aspartam"}`))
		req.Header.Set(idempotency.HeaderName, "retry-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, withUser(req, "user-1"))
		return rr
	}

	first := send()
	second := send()

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 for both attempts, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected the analysis to run once, got %d", calls)
	}
	if second.Header().Get(idempotency.ReplayHeaderName) != "true" {
		t.Fatalf("expected replayed response")
	}
}
