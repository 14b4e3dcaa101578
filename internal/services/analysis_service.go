package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/katkisiz/api/internal/additives"
	domain "github.com/katkisiz/api/internal/domain"
	"github.com/katkisiz/api/internal/platform/pagination"
	"github.com/katkisiz/api/internal/platform/storage"
	"github.com/katkisiz/api/internal/platform/vision"
	"github.com/katkisiz/api/internal/repositories"
)

const (
	analysisIDPrefix        = "ana_"
	storageAnalysisIDPrefix = "gcs_"
	defaultMaxTextBytes     = 32 << 10

	analysisEventCompleted      = "analysis.completed"
	analysisEventPersistFailed  = "analysis.persist.failed"
	analysisEventAlternatives   = "analysis.alternatives.failed"
	analysisEventStorageSkipped = "analysis.storage.skipped"
	analysisEventVerified       = "analysis.verified"

	skipReasonNotImage      = "not_image"
	skipReasonProcessed     = "processed"
	skipReasonForeignPath   = "foreign_path"
	skipReasonNoText        = "no_text"
	skipReasonNoIngredients = "no_ingredients"
	skipReasonDuplicate     = "duplicate"
	skipReasonMissing       = "object_missing"
)

var (
	// ErrAnalysisInvalidInput indicates validation failures for analysis requests.
	ErrAnalysisInvalidInput = errors.New("analysis: invalid input")
	// ErrAnalysisNoIngredients indicates the supplied text contained no recognisable ingredient list.
	ErrAnalysisNoIngredients = errors.New("analysis: no ingredients found")
	// ErrAnalysisNotFound indicates the analysis or its source image does not exist.
	ErrAnalysisNotFound = errors.New("analysis: not found")
	// ErrAnalysisForbidden indicates the actor may not access the analysis.
	ErrAnalysisForbidden = errors.New("analysis: forbidden")
	// ErrAnalysisConflict indicates the analysis already exists.
	ErrAnalysisConflict = errors.New("analysis: conflict")
	// ErrAnalysisUnavailable indicates a backing dependency (OCR, storage, Firestore) is unavailable.
	ErrAnalysisUnavailable = errors.New("analysis: dependency unavailable")
)

// AnalysisServiceDeps bundles collaborators required to construct an AnalysisService.
type AnalysisServiceDeps struct {
	Analyzer     *additives.Analyzer
	Analyses     repositories.AnalysisRepository
	OCR          TextDetector
	Objects      ObjectInspector
	Alternatives AlternativesPublisher
	Metrics      AnalysisMetrics
	ImagesBucket string
	MaxTextBytes int
	Clock        func() time.Time
	IDGenerator  func() string
	Sanitizer    func(string) string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type analysisService struct {
	analyzer     *additives.Analyzer
	analyses     repositories.AnalysisRepository
	ocr          TextDetector
	objects      ObjectInspector
	alternatives AlternativesPublisher
	metrics      AnalysisMetrics
	bucket       string
	maxTextBytes int
	clock        func() time.Time
	newID        func() string
	sanitize     func(string) string
	validate     *validator.Validate
	logger       func(context.Context, string, map[string]any)
}

var _ AnalysisService = (*analysisService)(nil)

// NewAnalysisService wires dependencies into a concrete AnalysisService implementation. OCR, object
// inspection and alternatives publishing are optional; operations that need a missing collaborator
// fail with ErrAnalysisUnavailable.
func NewAnalysisService(deps AnalysisServiceDeps) (AnalysisService, error) {
	if deps.Analyzer == nil {
		return nil, errors.New("analysis service: analyzer is required")
	}
	if deps.Analyses == nil {
		return nil, errors.New("analysis service: analysis repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return analysisIDPrefix + ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = newPlainTextSanitizer()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopAnalysisMetrics{}
	}
	maxText := deps.MaxTextBytes
	if maxText <= 0 {
		maxText = defaultMaxTextBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &analysisService{
		analyzer:     deps.Analyzer,
		analyses:     deps.Analyses,
		ocr:          deps.OCR,
		objects:      deps.Objects,
		alternatives: deps.Alternatives,
		metrics:      metrics,
		bucket:       strings.TrimSpace(deps.ImagesBucket),
		maxTextBytes: maxText,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}, nil
}

// newPlainTextSanitizer strips all markup from product metadata while keeping literal characters such as '&'.
func newPlainTextSanitizer() func(string) string {
	policy := bluemonday.StrictPolicy()
	return func(value string) string {
		cleaned := html.UnescapeString(policy.Sanitize(value))
		return strings.Join(strings.Fields(cleaned), " ")
	}
}

func (s *analysisService) AnalyzeText(ctx context.Context, cmd AnalyzeTextCommand) (AnalysisOutcome, error) {
	if len(cmd.Text) > s.maxTextBytes {
		return AnalysisOutcome{}, fmt.Errorf("%w: text exceeds %d bytes", ErrAnalysisInvalidInput, s.maxTextBytes)
	}
	product, err := s.cleanProduct(cmd.Product)
	if err != nil {
		return AnalysisOutcome{}, err
	}

	result, err := s.analyzer.AnalyzeText(cmd.Text, additives.AnalyzeOptions{Locale: cmd.Locale})
	if err != nil {
		return AnalysisOutcome{}, s.mapEngineError(err)
	}

	return s.complete(ctx, analysisRun{
		source:   domain.AnalysisSourceText,
		actor:    cmd.Actor,
		product:  product,
		persist:  cmd.Persist,
		fullText: cmd.Text,
	}, result)
}

func (s *analysisService) AnalyzeIngredients(ctx context.Context, cmd AnalyzeIngredientsCommand) (AnalysisOutcome, error) {
	if len(cmd.Ingredients) == 0 {
		return AnalysisOutcome{}, fmt.Errorf("%w: ingredients are required", ErrAnalysisInvalidInput)
	}
	if total := ingredientBytes(cmd.Ingredients); total > s.maxTextBytes {
		return AnalysisOutcome{}, fmt.Errorf("%w: ingredients exceed %d bytes", ErrAnalysisInvalidInput, s.maxTextBytes)
	}
	product, err := s.cleanProduct(cmd.Product)
	if err != nil {
		return AnalysisOutcome{}, err
	}

	result, err := s.analyzer.AnalyzeIngredients(cmd.Ingredients, additives.AnalyzeOptions{Locale: cmd.Locale})
	if err != nil {
		return AnalysisOutcome{}, s.mapEngineError(err)
	}

	return s.complete(ctx, analysisRun{
		source:  domain.AnalysisSourceIngredients,
		actor:   cmd.Actor,
		product: product,
		persist: cmd.Persist,
	}, result)
}

func (s *analysisService) QuickStatus(_ context.Context, ingredients []string) (ProductStatus, error) {
	if len(ingredients) == 0 {
		return "", fmt.Errorf("%w: ingredients are required", ErrAnalysisInvalidInput)
	}
	if total := ingredientBytes(ingredients); total > s.maxTextBytes {
		return "", fmt.Errorf("%w: ingredients exceed %d bytes", ErrAnalysisInvalidInput, s.maxTextBytes)
	}
	status, err := s.analyzer.QuickStatus(ingredients)
	if err != nil {
		return "", s.mapEngineError(err)
	}
	return status, nil
}

func (s *analysisService) AnalyzeImage(ctx context.Context, cmd AnalyzeImageCommand) (AnalysisOutcome, error) {
	if !cmd.Actor.Authenticated() {
		return AnalysisOutcome{}, fmt.Errorf("%w: authentication required", ErrAnalysisForbidden)
	}
	objectPath := strings.TrimPrefix(strings.TrimSpace(cmd.ObjectPath), "/")
	owner, err := storage.ProductImageOwner(objectPath)
	if err != nil {
		return AnalysisOutcome{}, fmt.Errorf("%w: object path must be a product image path", ErrAnalysisInvalidInput)
	}
	if owner != cmd.Actor.UserID {
		return AnalysisOutcome{}, fmt.Errorf("%w: image belongs to another user", ErrAnalysisForbidden)
	}
	product, err := s.cleanProduct(cmd.Product)
	if err != nil {
		return AnalysisOutcome{}, err
	}
	if s.ocr == nil || s.bucket == "" {
		return AnalysisOutcome{}, fmt.Errorf("%w: image analysis is not configured", ErrAnalysisUnavailable)
	}

	if s.objects != nil {
		info, err := s.objects.Inspect(ctx, s.bucket, objectPath)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			return AnalysisOutcome{}, fmt.Errorf("%w: image %s", ErrAnalysisNotFound, objectPath)
		case err != nil:
			return AnalysisOutcome{}, fmt.Errorf("%w: inspect image: %v", ErrAnalysisUnavailable, err)
		case !info.IsImage():
			return AnalysisOutcome{}, fmt.Errorf("%w: object is not an image", ErrAnalysisInvalidInput)
		}
	}

	uri := storage.GCSURI(s.bucket, objectPath)
	text, err := s.detectText(ctx, uri)
	if errors.Is(err, vision.ErrNoText) {
		s.metrics.RecordNoIngredients(string(domain.AnalysisSourceImage))
		return AnalysisOutcome{}, fmt.Errorf("%w: no text detected in image", ErrAnalysisNoIngredients)
	}
	if err != nil {
		return AnalysisOutcome{}, fmt.Errorf("%w: ocr: %v", ErrAnalysisUnavailable, err)
	}

	result, err := s.analyzer.AnalyzeText(text.FullText, additives.AnalyzeOptions{Locale: cmd.Locale})
	if err != nil {
		return AnalysisOutcome{}, s.mapEngineError(err)
	}

	return s.complete(ctx, analysisRun{
		source:     domain.AnalysisSourceImage,
		actor:      cmd.Actor,
		product:    product,
		persist:    cmd.Persist,
		fullText:   text.FullText,
		imageURL:   uri,
		objectPath: objectPath,
	}, result)
}

func (s *analysisService) ProcessStorageObject(ctx context.Context, event StorageObjectEvent) (StorageProcessingResult, error) {
	bucket := strings.TrimSpace(event.Bucket)
	name := strings.TrimSpace(event.Name)
	if bucket == "" || name == "" {
		return StorageProcessingResult{}, fmt.Errorf("%w: bucket and object name are required", ErrAnalysisInvalidInput)
	}
	if s.ocr == nil {
		return StorageProcessingResult{}, fmt.Errorf("%w: image analysis is not configured", ErrAnalysisUnavailable)
	}

	fields := map[string]any{"bucket": bucket, "object": name, "generation": event.Generation}

	if storage.IsProcessedObject(name) {
		return s.skip(ctx, skipReasonProcessed, fields), nil
	}
	owner, err := storage.ProductImageOwner(name)
	if err != nil {
		return s.skip(ctx, skipReasonForeignPath, fields), nil
	}

	contentType := strings.TrimSpace(event.ContentType)
	generation := event.Generation
	if (contentType == "" || generation == 0) && s.objects != nil {
		info, err := s.objects.Inspect(ctx, bucket, name)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			return s.skip(ctx, skipReasonMissing, fields), nil
		case err != nil:
			return StorageProcessingResult{}, fmt.Errorf("%w: inspect object: %v", ErrAnalysisUnavailable, err)
		}
		if contentType == "" {
			contentType = info.ContentType
		}
		if generation == 0 {
			generation = info.Generation
		}
	}
	if !(storage.ObjectInfo{ContentType: contentType}).IsImage() {
		return s.skip(ctx, skipReasonNotImage, fields), nil
	}

	uri := storage.GCSURI(bucket, name)
	text, err := s.detectText(ctx, uri)
	if errors.Is(err, vision.ErrNoText) {
		return s.skip(ctx, skipReasonNoText, fields), nil
	}
	if err != nil {
		return StorageProcessingResult{}, fmt.Errorf("%w: ocr: %v", ErrAnalysisUnavailable, err)
	}

	result, err := s.analyzer.AnalyzeText(text.FullText, additives.AnalyzeOptions{Locale: text.Locale})
	if err != nil {
		return StorageProcessingResult{}, s.mapEngineError(err)
	}

	outcome, err := s.complete(ctx, analysisRun{
		id:         storageAnalysisID(bucket, name, generation),
		source:     domain.AnalysisSourceStorage,
		actor:      Actor{UserID: owner},
		persist:    true,
		strict:     true,
		analyzedBy: domain.AnalyzedBySystem,
		fullText:   text.FullText,
		imageURL:   uri,
		objectPath: name,
	}, result)
	switch {
	case errors.Is(err, ErrAnalysisNoIngredients):
		return s.skip(ctx, skipReasonNoIngredients, fields), nil
	case errors.Is(err, ErrAnalysisConflict):
		return s.skip(ctx, skipReasonDuplicate, fields), nil
	case err != nil:
		return StorageProcessingResult{}, err
	}

	return StorageProcessingResult{
		AnalysisID: outcome.Analysis.ID,
		Status:     outcome.Analysis.Result.Status,
	}, nil
}

func (s *analysisService) GetAnalysis(ctx context.Context, cmd GetAnalysisCommand) (Analysis, error) {
	analysisID := strings.TrimSpace(cmd.AnalysisID)
	if analysisID == "" {
		return Analysis{}, fmt.Errorf("%w: analysis id is required", ErrAnalysisInvalidInput)
	}
	if !cmd.Actor.Authenticated() {
		return Analysis{}, fmt.Errorf("%w: authentication required", ErrAnalysisForbidden)
	}

	analysis, err := s.analyses.FindByID(ctx, analysisID)
	if err != nil {
		return Analysis{}, s.mapRepositoryError(err)
	}
	if analysis.UserID != cmd.Actor.UserID && !cmd.Actor.Reviewer {
		// Hide existence from other users.
		return Analysis{}, ErrAnalysisNotFound
	}
	return analysis, nil
}

func (s *analysisService) ListAnalyses(ctx context.Context, cmd ListAnalysesCommand) (domain.CursorPage[Analysis], error) {
	if !cmd.Actor.Authenticated() {
		return domain.CursorPage[Analysis]{}, fmt.Errorf("%w: authentication required", ErrAnalysisForbidden)
	}
	if cmd.Status != "" && !cmd.Status.Valid() {
		return domain.CursorPage[Analysis]{}, fmt.Errorf("%w: unsupported status %q", ErrAnalysisInvalidInput, cmd.Status)
	}

	page, err := s.analyses.ListByUser(ctx, cmd.Actor.UserID, repositories.AnalysisListFilter{
		Status:     cmd.Status,
		Pagination: cmd.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Analysis]{}, s.mapRepositoryError(err)
	}
	if page.Items == nil {
		page.Items = []Analysis{}
	}
	return page, nil
}

func (s *analysisService) VerifyAnalysis(ctx context.Context, cmd VerifyAnalysisCommand) (Analysis, error) {
	cmd.AnalysisID = strings.TrimSpace(cmd.AnalysisID)
	cmd.Note = s.sanitize(cmd.Note)
	if err := s.validate.Struct(cmd); err != nil {
		return Analysis{}, fmt.Errorf("%w: %s", ErrAnalysisInvalidInput, describeValidation(err))
	}
	if !cmd.Actor.Authenticated() || !cmd.Actor.Reviewer {
		return Analysis{}, fmt.Errorf("%w: expert role required", ErrAnalysisForbidden)
	}

	updated, err := s.analyses.MarkVerified(ctx, cmd.AnalysisID, repositories.AnalysisVerification{
		VerifiedBy: cmd.Actor.UserID,
		Note:       cmd.Note,
		VerifiedAt: s.clock(),
	})
	if err != nil {
		return Analysis{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, analysisEventVerified, map[string]any{
		"analysisId": updated.ID,
		"verifiedBy": cmd.Actor.UserID,
	})
	return updated, nil
}

type analysisRun struct {
	id         string
	source     domain.AnalysisSource
	actor      Actor
	product    ProductInfo
	persist    bool
	strict     bool
	analyzedBy domain.AnalyzedBy
	fullText   string
	imageURL   string
	objectPath string
}

// complete records metrics, persists when requested and fans out red verdicts. Persistence failures are
// only returned for strict runs; interactive callers still get their result.
func (s *analysisService) complete(ctx context.Context, run analysisRun, result AnalysisResult) (AnalysisOutcome, error) {
	source := string(run.source)
	if !result.IngredientsFound {
		s.metrics.RecordNoIngredients(source)
		return AnalysisOutcome{}, ErrAnalysisNoIngredients
	}

	categories := make([]string, 0, len(result.Additives))
	for _, additive := range result.Additives {
		categories = append(categories, string(additive.Category))
	}
	s.metrics.RecordAnalysis(source, string(result.Status), categories)

	now := s.clock()
	analyzedBy := run.analyzedBy
	if analyzedBy == "" {
		analyzedBy = domain.AnalyzedByAI
	}
	analysis := Analysis{
		UserID:     run.actor.UserID,
		Source:     run.source,
		Product:    run.product,
		ImageURL:   run.imageURL,
		ObjectPath: run.objectPath,
		FullText:   run.fullText,
		Result:     result,
		AnalyzedBy: analyzedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.logger(ctx, analysisEventCompleted, map[string]any{
		"source":    source,
		"status":    string(result.Status),
		"additives": result.Counts.Total,
		"score":     result.Score,
	})

	if !run.persist || !run.actor.Authenticated() {
		return AnalysisOutcome{Analysis: analysis}, nil
	}

	analysis.ID = run.id
	if analysis.ID == "" {
		analysis.ID = s.newID()
	}
	if err := s.analyses.Insert(ctx, analysis); err != nil {
		mapped := s.mapRepositoryError(err)
		if run.strict {
			return AnalysisOutcome{}, mapped
		}
		s.logger(ctx, analysisEventPersistFailed, map[string]any{
			"analysisId": analysis.ID,
			"error":      err.Error(),
		})
		analysis.ID = ""
		return AnalysisOutcome{Analysis: analysis}, nil
	}

	if result.Status == domain.ProductStatusRed {
		s.requestAlternatives(ctx, analysis)
	}
	return AnalysisOutcome{Analysis: analysis, Persisted: true}, nil
}

func (s *analysisService) requestAlternatives(ctx context.Context, analysis Analysis) {
	if s.alternatives == nil {
		return
	}
	codes := make([]string, 0, len(analysis.Result.Additives))
	for _, additive := range analysis.Result.Additives {
		if additive.Category == domain.AdditiveCategoryAvoid {
			codes = append(codes, additive.Code)
		}
	}
	_, err := s.alternatives.PublishAlternatives(ctx, domain.AlternativesRequest{
		AnalysisID:  analysis.ID,
		UserID:      analysis.UserID,
		Status:      analysis.Result.Status,
		Score:       analysis.Result.Score,
		Codes:       codes,
		ProductName: analysis.Product.Name,
		RequestedAt: analysis.CreatedAt,
	})
	s.metrics.RecordAlternatives(err)
	if err != nil {
		s.logger(ctx, analysisEventAlternatives, map[string]any{
			"analysisId": analysis.ID,
			"error":      err.Error(),
		})
	}
}

func (s *analysisService) detectText(ctx context.Context, uri string) (vision.Text, error) {
	started := time.Now()
	text, err := s.ocr.DetectText(ctx, vision.Image{GCSURI: uri})
	observed := err
	if errors.Is(err, vision.ErrNoText) {
		observed = nil
	}
	s.metrics.ObserveOCR(time.Since(started), observed)
	return text, err
}

func (s *analysisService) skip(ctx context.Context, reason string, fields map[string]any) StorageProcessingResult {
	s.metrics.RecordStorageSkipped(reason)
	logged := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		logged[key] = value
	}
	logged["reason"] = reason
	s.logger(ctx, analysisEventStorageSkipped, logged)
	return StorageProcessingResult{Skipped: true, Reason: reason}
}

func (s *analysisService) cleanProduct(product ProductInfo) (ProductInfo, error) {
	cleaned := ProductInfo{
		Name:    s.sanitize(product.Name),
		Brand:   s.sanitize(product.Brand),
		Barcode: strings.TrimSpace(product.Barcode),
	}
	checks := []struct {
		field string
		value string
		tag   string
	}{
		{"productName", cleaned.Name, "max=200"},
		{"brand", cleaned.Brand, "max=100"},
		{"barcode", cleaned.Barcode, "omitempty,numeric,min=8,max=14"},
	}
	for _, check := range checks {
		if err := s.validate.Var(check.value, check.tag); err != nil {
			return ProductInfo{}, fmt.Errorf("%w: %s is invalid", ErrAnalysisInvalidInput, check.field)
		}
	}
	return cleaned, nil
}

func (s *analysisService) mapEngineError(err error) error {
	if errors.Is(err, additives.ErrInvalidInput) {
		return fmt.Errorf("%w: %v", ErrAnalysisInvalidInput, err)
	}
	return err
}

func (s *analysisService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrAnalysisNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrAnalysisConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
		}
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrAnalysisInvalidInput, err)
	}
	return fmt.Errorf("analysis: repository failure: %w", err)
}

// storageAnalysisID derives a stable document id so redelivered notifications collide instead of duplicating.
func storageAnalysisID(bucket, name string, generation int64) string {
	sum := sha256.Sum256([]byte(bucket + "/" + name + "#" + strconv.FormatInt(generation, 10)))
	return storageAnalysisIDPrefix + hex.EncodeToString(sum[:16])
}

func ingredientBytes(ingredients []string) int {
	total := 0
	for _, ingredient := range ingredients {
		total += len(ingredient)
	}
	return total
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", lowerFirst(fe.Field()), fe.Tag()))
	}
	return strings.Join(fields, ", ")
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	r, size := utf8.DecodeRuneInString(value)
	return strings.ToLower(string(r)) + value[size:]
}
