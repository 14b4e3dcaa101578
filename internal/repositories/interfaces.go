package repositories

import (
	"context"
	"time"

	domain "github.com/katkisiz/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Analyses() AnalysisRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// AnalysisRepository persists analysis records.
type AnalysisRepository interface {
	// Insert stores a new analysis. An existing ID yields a conflict error.
	Insert(ctx context.Context, analysis domain.Analysis) error
	FindByID(ctx context.Context, analysisID string) (domain.Analysis, error)
	// ListByUser returns the user's analyses newest first.
	ListByUser(ctx context.Context, userID string, filter AnalysisListFilter) (domain.CursorPage[domain.Analysis], error)
	// MarkVerified applies the verification atomically and returns the updated record.
	MarkVerified(ctx context.Context, analysisID string, verification AnalysisVerification) (domain.Analysis, error)
}

// AnalysisListFilter narrows history listings.
type AnalysisListFilter struct {
	Status     domain.ProductStatus
	Pagination domain.Pagination
}

// AnalysisVerification records an expert confirmation.
type AnalysisVerification struct {
	VerifiedBy string
	Note       string
	VerifiedAt time.Time
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
