package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/katkisiz/api/internal/domain"
	"github.com/katkisiz/api/internal/platform/auth"
	"github.com/katkisiz/api/internal/platform/httpx"
	"github.com/katkisiz/api/internal/platform/pagination"
	"github.com/katkisiz/api/internal/services"
)

// AnalysisHandlers exposes ingredient analysis and history endpoints.
type AnalysisHandlers struct {
	authn       *auth.Authenticator
	analyses    services.AnalysisService
	maxBody     int64
	middlewares []func(http.Handler) http.Handler
}

// AnalysisHandlerOption customises AnalysisHandlers.
type AnalysisHandlerOption func(*AnalysisHandlers)

// WithAnalysisMaxBody overrides the request body limit.
func WithAnalysisMaxBody(limit int64) AnalysisHandlerOption {
	return func(h *AnalysisHandlers) {
		if limit > 0 {
			h.maxBody = limit
		}
	}
}

// WithAnalysisMiddlewares adds middleware that runs after authentication on the authenticated routes.
func WithAnalysisMiddlewares(mw ...func(http.Handler) http.Handler) AnalysisHandlerOption {
	return func(h *AnalysisHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewAnalysisHandlers constructs analysis handlers.
func NewAnalysisHandlers(authn *auth.Authenticator, analyses services.AnalysisService, opts ...AnalysisHandlerOption) *AnalysisHandlers {
	h := &AnalysisHandlers{
		authn:    authn,
		analyses: analyses,
		maxBody:  httpx.DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// PublicRoutes registers anonymous analysis endpoints under /public. Results are never stored.
func (h *AnalysisHandlers) PublicRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/analyses:text", h.analyzeText(false))
	r.Post("/analyses:ingredients", h.analyzeIngredients(false))
	r.Post("/analyses:quick", h.quickStatus)
}

// Routes registers the authenticated analysis endpoints.
func (h *AnalysisHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(authed chi.Router) {
		if h.authn != nil {
			authed.Use(h.authn.RequireFirebaseAuth())
		}
		useAll(authed, h.middlewares)
		authed.Post("/analyses:text", h.analyzeText(true))
		authed.Post("/analyses:ingredients", h.analyzeIngredients(true))
		authed.Post("/analyses:image", h.analyzeImage)
		authed.Get("/analyses/{analysisId}", h.getAnalysis)
		authed.Get("/me/analyses", h.listMyAnalyses)
	})
	r.Group(func(reviewers chi.Router) {
		if h.authn != nil {
			reviewers.Use(h.authn.RequireFirebaseAuth(auth.RoleExpert, auth.RoleAdmin))
		}
		useAll(reviewers, h.middlewares)
		reviewers.Post("/analyses/{analysisId}:verify", h.verifyAnalysis)
	})
}

type productRequest struct {
	Name    string `json:"name"`
	Brand   string `json:"brand"`
	Barcode string `json:"barcode"`
}

func (p *productRequest) toDomain() services.ProductInfo {
	if p == nil {
		return services.ProductInfo{}
	}
	return services.ProductInfo{Name: p.Name, Brand: p.Brand, Barcode: p.Barcode}
}

type analyzeTextRequest struct {
	Text    string          `json:"text"`
	Product *productRequest `json:"product,omitempty"`
	Persist *bool           `json:"persist,omitempty"`
}

type analyzeIngredientsRequest struct {
	Ingredients []string        `json:"ingredients"`
	Product     *productRequest `json:"product,omitempty"`
	Persist     *bool           `json:"persist,omitempty"`
}

type analyzeImageRequest struct {
	ObjectPath string          `json:"object_path"`
	Product    *productRequest `json:"product,omitempty"`
	Persist    *bool           `json:"persist,omitempty"`
}

type quickStatusRequest struct {
	Ingredients []string `json:"ingredients"`
}

type verifyAnalysisRequest struct {
	Note string `json:"note"`
}

func (h *AnalysisHandlers) analyzeText(authenticated bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready(w, r) {
			return
		}
		var req analyzeTextRequest
		if !decodeJSONBody(w, r, h.maxBody, &req) {
			return
		}
		cmd := services.AnalyzeTextCommand{
			Text:    req.Text,
			Product: req.Product.toDomain(),
			Locale:  requestLocale(r),
		}
		if authenticated {
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			cmd.Actor = actor
			cmd.Persist = persistRequested(req.Persist)
		}
		outcome, err := h.analyses.AnalyzeText(r.Context(), cmd)
		if err != nil {
			writeAnalysisError(r.Context(), w, err)
			return
		}
		writeOutcome(w, outcome)
	}
}

func (h *AnalysisHandlers) analyzeIngredients(authenticated bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready(w, r) {
			return
		}
		var req analyzeIngredientsRequest
		if !decodeJSONBody(w, r, h.maxBody, &req) {
			return
		}
		cmd := services.AnalyzeIngredientsCommand{
			Ingredients: req.Ingredients,
			Product:     req.Product.toDomain(),
			Locale:      requestLocale(r),
		}
		if authenticated {
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			cmd.Actor = actor
			cmd.Persist = persistRequested(req.Persist)
		}
		outcome, err := h.analyses.AnalyzeIngredients(r.Context(), cmd)
		if err != nil {
			writeAnalysisError(r.Context(), w, err)
			return
		}
		writeOutcome(w, outcome)
	}
}

func (h *AnalysisHandlers) quickStatus(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	var req quickStatusRequest
	if !decodeJSONBody(w, r, h.maxBody, &req) {
		return
	}
	status, err := h.analyses.QuickStatus(r.Context(), req.Ingredients)
	if err != nil {
		writeAnalysisError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (h *AnalysisHandlers) analyzeImage(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req analyzeImageRequest
	if !decodeJSONBody(w, r, h.maxBody, &req) {
		return
	}
	outcome, err := h.analyses.AnalyzeImage(r.Context(), services.AnalyzeImageCommand{
		Actor:      actor,
		ObjectPath: req.ObjectPath,
		Product:    req.Product.toDomain(),
		Locale:     requestLocale(r),
		Persist:    persistRequested(req.Persist),
	})
	if err != nil {
		writeAnalysisError(r.Context(), w, err)
		return
	}
	writeOutcome(w, outcome)
}

func (h *AnalysisHandlers) getAnalysis(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	analysis, err := h.analyses.GetAnalysis(r.Context(), services.GetAnalysisCommand{
		Actor:      actor,
		AnalysisID: chi.URLParam(r, "analysisId"),
	})
	if err != nil {
		writeAnalysisError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, analysisResponse{Analysis: buildAnalysisPayload(analysis, true)})
}

func (h *AnalysisHandlers) listMyAnalyses(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.analyses.ListAnalyses(r.Context(), services.ListAnalysesCommand{
		Actor:  actor,
		Status: domain.ProductStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeAnalysisError(r.Context(), w, err)
		return
	}

	items := make([]analysisPayload, 0, len(page.Items))
	for _, analysis := range page.Items {
		items = append(items, buildAnalysisPayload(analysis, false))
	}
	httpx.WriteJSON(w, http.StatusOK, analysisListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AnalysisHandlers) verifyAnalysis(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req verifyAnalysisRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, h.maxBody, &req) {
			return
		}
	}
	analysis, err := h.analyses.VerifyAnalysis(r.Context(), services.VerifyAnalysisCommand{
		Actor:      actor,
		AnalysisID: chi.URLParam(r, "analysisId"),
		Note:       req.Note,
	})
	if err != nil {
		writeAnalysisError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, analysisResponse{Analysis: buildAnalysisPayload(analysis, true)})
}

func (h *AnalysisHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h == nil || h.analyses == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("analysis_service_unavailable", "analysis service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func persistRequested(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}

type analysisResponse struct {
	Analysis  analysisPayload `json:"analysis"`
	Persisted *bool           `json:"persisted,omitempty"`
}

type analysisListResponse struct {
	Items         []analysisPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type analysisPayload struct {
	ID                   string            `json:"id,omitempty"`
	UserID               string            `json:"user_id,omitempty"`
	Source               string            `json:"source"`
	Status               string            `json:"status"`
	Score                int               `json:"score"`
	IngredientsFound     bool              `json:"ingredients_found"`
	Ingredients          []string          `json:"ingredients"`
	Additives            []additivePayload `json:"additives"`
	Counts               countsPayload     `json:"counts"`
	Recommendations      []string          `json:"recommendations"`
	Locale               string            `json:"locale,omitempty"`
	KnowledgeBaseVersion string            `json:"knowledge_base_version,omitempty"`
	Product              *productPayload   `json:"product,omitempty"`
	ImageURL             string            `json:"image_url,omitempty"`
	FullText             string            `json:"full_text,omitempty"`
	AnalyzedBy           string            `json:"analyzed_by"`
	Verified             bool              `json:"verified"`
	VerifiedBy           string            `json:"verified_by,omitempty"`
	VerifiedAt           string            `json:"verified_at,omitempty"`
	VerifyNote           string            `json:"verify_note,omitempty"`
	CreatedAt            string            `json:"created_at,omitempty"`
}

type additivePayload struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Description  string `json:"description,omitempty"`
	HealthImpact string `json:"health_impact,omitempty"`
	Known        bool   `json:"known"`
}

type countsPayload struct {
	Total     int `json:"total"`
	Dangerous int `json:"dangerous"`
	Caution   int `json:"caution"`
	Safe      int `json:"safe"`
}

type productPayload struct {
	Name    string `json:"name,omitempty"`
	Brand   string `json:"brand,omitempty"`
	Barcode string `json:"barcode,omitempty"`
}

func writeOutcome(w http.ResponseWriter, outcome services.AnalysisOutcome) {
	status := http.StatusOK
	if outcome.Persisted {
		status = http.StatusCreated
	}
	persisted := outcome.Persisted
	httpx.WriteJSON(w, status, analysisResponse{
		Analysis:  buildAnalysisPayload(outcome.Analysis, false),
		Persisted: &persisted,
	})
}

func buildAnalysisPayload(analysis services.Analysis, includeText bool) analysisPayload {
	result := analysis.Result
	payload := analysisPayload{
		ID:                   analysis.ID,
		UserID:               analysis.UserID,
		Source:               string(analysis.Source),
		Status:               string(result.Status),
		Score:                result.Score,
		IngredientsFound:     result.IngredientsFound,
		Ingredients:          nonNilStrings(result.Ingredients),
		Additives:            make([]additivePayload, 0, len(result.Additives)),
		Counts:               countsPayload(result.Counts),
		Recommendations:      nonNilStrings(result.Recommendations),
		Locale:               result.Locale,
		KnowledgeBaseVersion: result.KnowledgeBaseVersion,
		ImageURL:             analysis.ImageURL,
		AnalyzedBy:           string(analysis.AnalyzedBy),
		Verified:             analysis.Verified,
		VerifiedBy:           analysis.VerifiedBy,
		VerifiedAt:           formatTimePointer(analysis.VerifiedAt),
		VerifyNote:           analysis.VerifyNote,
		CreatedAt:            formatTime(analysis.CreatedAt),
	}
	if includeText {
		payload.FullText = analysis.FullText
	}
	for _, additive := range result.Additives {
		payload.Additives = append(payload.Additives, additivePayload{
			Code:         additive.Code,
			Name:         additive.Name,
			Category:     string(additive.Category),
			Description:  additive.Description,
			HealthImpact: additive.HealthImpact,
			Known:        additive.Known,
		})
	}
	if product := analysis.Product; product != (services.ProductInfo{}) {
		payload.Product = &productPayload{Name: product.Name, Brand: product.Brand, Barcode: product.Barcode}
	}
	return payload
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func writeAnalysisError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrAnalysisInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAnalysisNoIngredients):
		httpx.WriteError(ctx, w, httpx.NewError("no_ingredients", "no ingredient list could be found in the input", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrAnalysisForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions for analysis", http.StatusForbidden))
	case errors.Is(err, services.ErrAnalysisNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("analysis_not_found", "analysis not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAnalysisConflict):
		httpx.WriteError(ctx, w, httpx.NewError("analysis_conflict", "analysis already exists", http.StatusConflict))
	case errors.Is(err, services.ErrAnalysisUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("analysis_unavailable", "a required dependency is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("analysis_error", "failed to process analysis request", http.StatusInternalServerError))
	}
}
