package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/katkisiz/api/internal/platform/firestore"
	"github.com/katkisiz/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories and owns the provider lifecycle.
type Registry struct {
	provider *pfirestore.Provider
	analyses *AnalysisRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs repositories over the shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry: firestore provider is required")
	}
	analyses, err := NewAnalysisRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, analyses: analyses, health: health}, nil
}

func (r *Registry) Analyses() repositories.AnalysisRepository { return r.analyses }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
