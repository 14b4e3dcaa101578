package services

import (
	"context"
	"time"

	domain "github.com/katkisiz/api/internal/domain"
	"github.com/katkisiz/api/internal/platform/storage"
	"github.com/katkisiz/api/internal/platform/vision"
)

// Domain type aliases keep handler signatures short.
type (
	Pagination         = domain.Pagination
	Analysis           = domain.Analysis
	AnalysisResult     = domain.AnalysisResult
	AdditiveRecord     = domain.AdditiveRecord
	AdditiveCategory   = domain.AdditiveCategory
	ProductInfo        = domain.ProductInfo
	ProductStatus      = domain.ProductStatus
	SystemHealthReport = domain.SystemHealthReport
)

// AnalysisService runs the classification engine and manages persisted analysis history.
type AnalysisService interface {
	AnalyzeText(ctx context.Context, cmd AnalyzeTextCommand) (AnalysisOutcome, error)
	AnalyzeIngredients(ctx context.Context, cmd AnalyzeIngredientsCommand) (AnalysisOutcome, error)
	QuickStatus(ctx context.Context, ingredients []string) (ProductStatus, error)
	AnalyzeImage(ctx context.Context, cmd AnalyzeImageCommand) (AnalysisOutcome, error)
	ProcessStorageObject(ctx context.Context, event StorageObjectEvent) (StorageProcessingResult, error)
	GetAnalysis(ctx context.Context, cmd GetAnalysisCommand) (Analysis, error)
	ListAnalyses(ctx context.Context, cmd ListAnalysesCommand) (domain.CursorPage[Analysis], error)
	VerifyAnalysis(ctx context.Context, cmd VerifyAnalysisCommand) (Analysis, error)
}

// UploadService issues signed upload URLs for product label photos.
type UploadService interface {
	IssueUploadURL(ctx context.Context, cmd IssueUploadURLCommand) (UploadTicket, error)
}

// AdditiveCatalogService exposes the loaded knowledge base read-only.
type AdditiveCatalogService interface {
	ListAdditives(ctx context.Context, filter AdditiveFilter) ([]AdditiveRecord, error)
	GetAdditive(ctx context.Context, code string) (AdditiveRecord, error)
	KnowledgeBaseInfo(ctx context.Context) KnowledgeBaseInfo
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Actor identifies the caller. A blank UserID means an anonymous request.
type Actor struct {
	UserID   string
	Reviewer bool
}

// Authenticated reports whether the actor carries a user id.
func (a Actor) Authenticated() bool {
	return a.UserID != ""
}

// AnalyzeTextCommand analyses OCR or typed label text.
type AnalyzeTextCommand struct {
	Actor   Actor
	Text    string
	Product ProductInfo
	Locale  string
	Persist bool
}

// AnalyzeIngredientsCommand analyses an already segmented ingredient list.
type AnalyzeIngredientsCommand struct {
	Actor       Actor
	Ingredients []string
	Product     ProductInfo
	Locale      string
	Persist     bool
}

// AnalyzeImageCommand runs OCR on an uploaded product image before analysing it.
type AnalyzeImageCommand struct {
	Actor      Actor
	ObjectPath string
	Product    ProductInfo
	Locale     string
	Persist    bool
}

// AnalysisOutcome wraps the analysis. Persisted is false for anonymous or non-persisted runs, in which case
// Analysis.ID is empty.
type AnalysisOutcome struct {
	Analysis  Analysis
	Persisted bool
}

// StorageObjectEvent is the subset of a Cloud Storage finalize notification the pipeline needs.
type StorageObjectEvent struct {
	Bucket      string
	Name        string
	ContentType string
	Generation  int64
}

// StorageProcessingResult reports what happened to one finalize notification.
type StorageProcessingResult struct {
	AnalysisID string
	Status     ProductStatus
	Skipped    bool
	Reason     string
}

// GetAnalysisCommand fetches a single analysis on behalf of an actor.
type GetAnalysisCommand struct {
	Actor      Actor
	AnalysisID string
}

// ListAnalysesCommand lists the actor's analysis history.
type ListAnalysesCommand struct {
	Actor      Actor
	Status     ProductStatus
	Pagination Pagination
}

// VerifyAnalysisCommand records an expert confirmation.
type VerifyAnalysisCommand struct {
	Actor      Actor
	AnalysisID string `validate:"required"`
	Note       string `validate:"max=500"`
}

// IssueUploadURLCommand requests a signed PUT URL for a product image.
type IssueUploadURLCommand struct {
	Actor       Actor
	ContentType string `validate:"required"`
	Size        int64  `validate:"gte=0"`
}

// UploadTicket is returned to clients so they can PUT the image straight to Cloud Storage.
type UploadTicket struct {
	UploadID   string
	ObjectPath string
	URL        string
	Method     string
	Headers    map[string]string
	ExpiresAt  time.Time
}

// AdditiveFilter narrows catalog listings.
type AdditiveFilter struct {
	Category AdditiveCategory
	Query    string
}

// KnowledgeBaseInfo summarises the loaded dataset.
type KnowledgeBaseInfo struct {
	Version    string
	Total      int
	Categories map[AdditiveCategory]int
}

// TextDetector performs OCR on stored images.
type TextDetector interface {
	DetectText(ctx context.Context, img vision.Image) (vision.Text, error)
}

// ObjectInspector reads Cloud Storage object attributes.
type ObjectInspector interface {
	Inspect(ctx context.Context, bucket, object string) (storage.ObjectInfo, error)
}

// AlternativesPublisher enqueues red-verdict products for the alternatives worker.
type AlternativesPublisher interface {
	PublishAlternatives(ctx context.Context, req domain.AlternativesRequest) (string, error)
}

// UploadSigner creates signed upload URLs.
type UploadSigner interface {
	SignedUploadURL(ctx context.Context, bucket, object string, opts storage.UploadOptions) (storage.SignedURL, error)
}

// AnalysisMetrics receives pipeline counters. *metrics.Registry satisfies it.
type AnalysisMetrics interface {
	RecordAnalysis(source, status string, categories []string)
	RecordNoIngredients(source string)
	ObserveOCR(latency time.Duration, err error)
	RecordAlternatives(err error)
	RecordStorageSkipped(reason string)
}

type noopAnalysisMetrics struct{}

func (noopAnalysisMetrics) RecordAnalysis(string, string, []string) {}
func (noopAnalysisMetrics) RecordNoIngredients(string)              {}
func (noopAnalysisMetrics) ObserveOCR(time.Duration, error)         {}
func (noopAnalysisMetrics) RecordAlternatives(error)                {}
func (noopAnalysisMetrics) RecordStorageSkipped(string)             {}
