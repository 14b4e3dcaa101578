package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/katkisiz/api/internal/additives"
)

var (
	// ErrAdditiveInvalidInput indicates a malformed catalog query.
	ErrAdditiveInvalidInput = errors.New("additive: invalid input")
	// ErrAdditiveNotFound indicates the code is not in the knowledge base.
	ErrAdditiveNotFound = errors.New("additive: not found")
)

const maxAdditiveQueryLength = 64

type additiveCatalogService struct {
	kb *additives.KnowledgeBase
}

var _ AdditiveCatalogService = (*additiveCatalogService)(nil)

// NewAdditiveCatalogService exposes the knowledge base used by the analyzer.
func NewAdditiveCatalogService(kb *additives.KnowledgeBase) (AdditiveCatalogService, error) {
	if kb == nil {
		return nil, errors.New("additive catalog service: knowledge base is required")
	}
	return &additiveCatalogService{kb: kb}, nil
}

func (s *additiveCatalogService) ListAdditives(_ context.Context, filter AdditiveFilter) ([]AdditiveRecord, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, fmt.Errorf("%w: unsupported category %q", ErrAdditiveInvalidInput, filter.Category)
	}
	query := strings.TrimSpace(filter.Query)
	if len([]rune(query)) > maxAdditiveQueryLength {
		return nil, fmt.Errorf("%w: query is too long", ErrAdditiveInvalidInput)
	}
	foldedQuery := additives.Fold(query)
	codeQuery := additives.CanonicalCode(query)

	records := s.kb.Records()
	out := make([]AdditiveRecord, 0, len(records))
	for _, record := range records {
		if filter.Category != "" && record.Category != filter.Category {
			continue
		}
		if query != "" &&
			!strings.Contains(record.Code, codeQuery) &&
			!strings.Contains(additives.Fold(record.Name), foldedQuery) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *additiveCatalogService) GetAdditive(_ context.Context, code string) (AdditiveRecord, error) {
	if strings.TrimSpace(code) == "" {
		return AdditiveRecord{}, fmt.Errorf("%w: code is required", ErrAdditiveInvalidInput)
	}
	record, ok := s.kb.Lookup(code)
	if !ok {
		return AdditiveRecord{}, fmt.Errorf("%w: %s", ErrAdditiveNotFound, additives.CanonicalCode(code))
	}
	return record, nil
}

func (s *additiveCatalogService) KnowledgeBaseInfo(context.Context) KnowledgeBaseInfo {
	return KnowledgeBaseInfo{
		Version:    s.kb.Version(),
		Total:      s.kb.Len(),
		Categories: s.kb.CategoryCounts(),
	}
}
