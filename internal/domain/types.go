package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// AdditiveCategory classifies an additive by health concern.
type AdditiveCategory string

const (
	// AdditiveCategoryAvoid marks additives considered dangerous.
	AdditiveCategoryAvoid AdditiveCategory = "avoid"
	// AdditiveCategoryCaution marks additives of moderate concern.
	AdditiveCategoryCaution AdditiveCategory = "caution"
	// AdditiveCategorySafe marks naturally derived or low-concern additives.
	AdditiveCategorySafe AdditiveCategory = "safe"
)

// Valid reports whether the category is one of the known values.
func (c AdditiveCategory) Valid() bool {
	switch c {
	case AdditiveCategoryAvoid, AdditiveCategoryCaution, AdditiveCategorySafe:
		return true
	default:
		return false
	}
}

// Severity orders categories; higher is worse. Unknown categories rank as caution.
func (c AdditiveCategory) Severity() int {
	switch c {
	case AdditiveCategoryAvoid:
		return 3
	case AdditiveCategorySafe:
		return 1
	default:
		return 2
	}
}

// ProductStatus is the tri-state verdict for one analysed ingredient list.
type ProductStatus string

const (
	// ProductStatusGreen means no additive was detected.
	ProductStatusGreen ProductStatus = "green"
	// ProductStatusYellow means additives were detected but none dangerous.
	ProductStatusYellow ProductStatus = "yellow"
	// ProductStatusRed means at least one dangerous additive was detected.
	ProductStatusRed ProductStatus = "red"
)

// Valid reports whether the status is one of the known values.
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusGreen, ProductStatusYellow, ProductStatusRed:
		return true
	default:
		return false
	}
}

// GenericAdditiveCode is the sentinel code used for keyword-only detections.
const GenericAdditiveCode = "GENERIC"

// AdditiveRecord is an immutable knowledge base entry.
type AdditiveRecord struct {
	Code          string
	Name          string
	Category      AdditiveCategory
	Description   string
	HealthConcern string
	CommonUses    string
}

// DetectedAdditive is an additive found in one analysis run.
type DetectedAdditive struct {
	Code         string
	Name         string
	Category     AdditiveCategory
	Description  string
	HealthImpact string
	// Known is false for synthesized detections (unknown E-numbers and generic keywords).
	Known bool
}

// AdditiveCounts tallies detected additives by category.
type AdditiveCounts struct {
	Total     int
	Dangerous int
	Caution   int
	Safe      int
}

// AnalysisResult is the engine output for one ingredient list.
type AnalysisResult struct {
	Status               ProductStatus
	Additives            []DetectedAdditive
	Ingredients          []string
	Counts               AdditiveCounts
	Recommendations      []string
	Score                int
	IngredientsFound     bool
	Locale               string
	KnowledgeBaseVersion string
}

// AnalysisSource records how the analysed text reached the service.
type AnalysisSource string

const (
	// AnalysisSourceText is OCR or typed text supplied by the client.
	AnalysisSourceText AnalysisSource = "text"
	// AnalysisSourceIngredients is a pre-segmented ingredient list.
	AnalysisSourceIngredients AnalysisSource = "ingredients"
	// AnalysisSourceImage is an uploaded image processed on request.
	AnalysisSourceImage AnalysisSource = "image"
	// AnalysisSourceStorage is an uploaded image processed by the storage trigger.
	AnalysisSourceStorage AnalysisSource = "storage"
)

// AnalyzedBy records who produced or last confirmed the analysis.
type AnalyzedBy string

const (
	// AnalyzedByAI marks automatic engine output.
	AnalyzedByAI AnalyzedBy = "ai"
	// AnalyzedByExpert marks analyses confirmed by an expert.
	AnalyzedByExpert AnalyzedBy = "expert"
	// AnalyzedByManual marks analyses entered by hand.
	AnalyzedByManual AnalyzedBy = "manual"
	// AnalyzedBySystem marks analyses produced by background processing.
	AnalyzedBySystem AnalyzedBy = "system"
)

// ProductInfo carries optional product metadata supplied alongside an analysis.
type ProductInfo struct {
	Name    string
	Brand   string
	Barcode string
}

// Analysis is the persisted record of one analysis run.
type Analysis struct {
	ID         string
	UserID     string
	Source     AnalysisSource
	Product    ProductInfo
	ImageURL   string
	ObjectPath string
	FullText   string
	Result     AnalysisResult
	AnalyzedBy AnalyzedBy
	Verified   bool
	VerifiedBy string
	VerifiedAt *time.Time
	VerifyNote string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AlternativesRequest is published when a product is rated red so nearby alternatives can be suggested.
type AlternativesRequest struct {
	AnalysisID  string
	UserID      string
	Status      ProductStatus
	Score       int
	Codes       []string
	ProductName string
	RequestedAt time.Time
}

// Health statuses reported by dependency checks.
const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
	// KnowledgeBaseVersion identifies the additive dataset serving requests.
	KnowledgeBaseVersion string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
