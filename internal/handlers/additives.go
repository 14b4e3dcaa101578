package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/katkisiz/api/internal/domain"
	"github.com/katkisiz/api/internal/platform/httpx"
	"github.com/katkisiz/api/internal/services"
)

// AdditiveHandlers serves the public read-only additive catalog.
type AdditiveHandlers struct {
	catalog services.AdditiveCatalogService
}

// NewAdditiveHandlers constructs catalog handlers.
func NewAdditiveHandlers(catalog services.AdditiveCatalogService) *AdditiveHandlers {
	return &AdditiveHandlers{catalog: catalog}
}

// Routes registers catalog endpoints on the public router group.
func (h *AdditiveHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/additives", h.listAdditives)
	r.Get("/additives/{code}", h.getAdditive)
	r.Get("/knowledge-base", h.knowledgeBase)
}

type additiveRecordPayload struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	Description   string `json:"description,omitempty"`
	HealthConcern string `json:"health_concern,omitempty"`
	CommonUses    string `json:"common_uses,omitempty"`
}

type additiveListResponse struct {
	Items []additiveRecordPayload `json:"items"`
	Total int                     `json:"total"`
}

type knowledgeBaseResponse struct {
	Version    string         `json:"version"`
	Total      int            `json:"total"`
	Categories map[string]int `json:"categories"`
}

func (h *AdditiveHandlers) listAdditives(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "additive catalog unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	records, err := h.catalog.ListAdditives(ctx, services.AdditiveFilter{
		Category: domain.AdditiveCategory(strings.ToLower(strings.TrimSpace(query.Get("category")))),
		Query:    query.Get("q"),
	})
	if err != nil {
		writeAdditiveError(w, r, err)
		return
	}

	items := make([]additiveRecordPayload, 0, len(records))
	for _, record := range records {
		items = append(items, buildAdditiveRecordPayload(record))
	}
	httpx.WriteJSON(w, http.StatusOK, additiveListResponse{Items: items, Total: len(items)})
}

func (h *AdditiveHandlers) getAdditive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "additive catalog unavailable", http.StatusServiceUnavailable))
		return
	}
	record, err := h.catalog.GetAdditive(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeAdditiveError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAdditiveRecordPayload(record))
}

func (h *AdditiveHandlers) knowledgeBase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "additive catalog unavailable", http.StatusServiceUnavailable))
		return
	}
	info := h.catalog.KnowledgeBaseInfo(ctx)
	categories := make(map[string]int, len(info.Categories))
	for category, count := range info.Categories {
		categories[string(category)] = count
	}
	httpx.WriteJSON(w, http.StatusOK, knowledgeBaseResponse{
		Version:    info.Version,
		Total:      info.Total,
		Categories: categories,
	})
}

func buildAdditiveRecordPayload(record services.AdditiveRecord) additiveRecordPayload {
	return additiveRecordPayload{
		Code:          record.Code,
		Name:          record.Name,
		Category:      string(record.Category),
		Description:   record.Description,
		HealthConcern: record.HealthConcern,
		CommonUses:    record.CommonUses,
	}
}

func writeAdditiveError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrAdditiveInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAdditiveNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("additive_not_found", "additive not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read additive catalog", http.StatusInternalServerError))
	}
}
