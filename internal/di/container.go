package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/katkisiz/api/internal/additives"
	"github.com/katkisiz/api/internal/platform/config"
	"github.com/katkisiz/api/internal/platform/metrics"
	"github.com/katkisiz/api/internal/platform/observability"
	"github.com/katkisiz/api/internal/repositories"
	"github.com/katkisiz/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Analyses  services.AnalysisService
	Uploads   services.UploadService
	Additives services.AdditiveCatalogService
	System    services.SystemService
}

// Infrastructure carries the external clients built by main. Every field is optional; services that
// need a missing collaborator are either skipped or report it as unavailable at request time.
type Infrastructure struct {
	OCR          services.TextDetector
	Objects      services.ObjectInspector
	Signer       services.UploadSigner
	Alternatives services.AlternativesPublisher
	Metrics      *metrics.Registry
	Logger       *zap.Logger
	Build        services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	KnowledgeBase *additives.KnowledgeBase
	Repositories  repositories.Registry
	Services      Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore-backed
// registries, while tests can supply in-memory ones.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	kb, err := LoadKnowledgeBase(cfg.Analysis)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(cfg, reg, kb, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:        cfg,
		KnowledgeBase: kb,
		Repositories:  reg,
		Services:      svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// LoadKnowledgeBase reads the configured dataset, falling back to the embedded one.
func LoadKnowledgeBase(cfg config.AnalysisConfig) (*additives.KnowledgeBase, error) {
	policy, err := additives.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}
	if path := strings.TrimSpace(cfg.KnowledgeBaseFile); path != "" {
		kb, err := additives.LoadFile(path, additives.WithDuplicatePolicy(policy))
		if err != nil {
			return nil, fmt.Errorf("knowledge base: load %s: %w", path, err)
		}
		return kb, nil
	}
	kb, err := additives.LoadEmbedded(additives.WithDuplicatePolicy(policy))
	if err != nil {
		return nil, fmt.Errorf("knowledge base: load embedded: %w", err)
	}
	return kb, nil
}

func buildServices(cfg config.Config, reg repositories.Registry, kb *additives.KnowledgeBase, infra Infrastructure) (Services, error) {
	var svc Services

	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := services.NewAdditiveCatalogService(kb)
	if err != nil {
		return Services{}, fmt.Errorf("build additive catalog service: %w", err)
	}
	svc.Additives = catalog

	if infra.Metrics != nil {
		counts := make(map[string]int)
		for category, count := range kb.CategoryCounts() {
			counts[string(category)] = count
		}
		infra.Metrics.SetKnowledgeBase(counts)
	}

	analyzer, err := additives.NewAnalyzer(kb, additives.WithDefaultLocale(additives.ParseLocale(cfg.Analysis.DefaultLocale)))
	if err != nil {
		return Services{}, fmt.Errorf("build analyzer: %w", err)
	}

	if analysesRepo := reg.Analyses(); analysesRepo != nil {
		deps := services.AnalysisServiceDeps{
			Analyzer:     analyzer,
			Analyses:     analysesRepo,
			OCR:          infra.OCR,
			Objects:      infra.Objects,
			Alternatives: infra.Alternatives,
			ImagesBucket: cfg.Storage.ImagesBucket,
			MaxTextBytes: cfg.Analysis.MaxTextBytes,
			Clock:        time.Now,
			Logger:       observability.EventLogger(logger.Named("analysis")),
		}
		if infra.Metrics != nil {
			deps.Metrics = infra.Metrics
		}
		analysisSvc, err := services.NewAnalysisService(deps)
		if err != nil {
			return Services{}, fmt.Errorf("build analysis service: %w", err)
		}
		svc.Analyses = analysisSvc
	}

	if infra.Signer != nil {
		uploadSvc, err := services.NewUploadService(services.UploadServiceDeps{
			Signer:   infra.Signer,
			Bucket:   cfg.Storage.ImagesBucket,
			MaxBytes: cfg.Storage.MaxUploadBytes,
			Expiry:   cfg.Storage.UploadExpiry,
			Clock:    time.Now,
			Logger:   observability.EventLogger(logger.Named("uploads")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build upload service: %w", err)
		}
		svc.Uploads = uploadSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            infra.Build,
			Catalog:          catalog,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
