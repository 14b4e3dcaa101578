package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/katkisiz/api/internal/domain"
	pfirestore "github.com/katkisiz/api/internal/platform/firestore"
	"github.com/katkisiz/api/internal/platform/pagination"
	"github.com/katkisiz/api/internal/repositories"
)

const analysesCollection = "analyses"

// AnalysisRepository persists analysis records in the analyses collection.
type AnalysisRepository struct {
	provider *pfirestore.Provider
	coll     *pfirestore.Collection[analysisDocument]
}

var _ repositories.AnalysisRepository = (*AnalysisRepository)(nil)

// NewAnalysisRepository constructs a Firestore-backed analysis repository.
func NewAnalysisRepository(provider *pfirestore.Provider) (*AnalysisRepository, error) {
	if provider == nil {
		return nil, errors.New("analysis repository: firestore provider is required")
	}
	return &AnalysisRepository{
		provider: provider,
		coll:     pfirestore.NewCollection[analysisDocument](provider, analysesCollection),
	}, nil
}

// Insert stores a new analysis document keyed by its ID.
func (r *AnalysisRepository) Insert(ctx context.Context, analysis domain.Analysis) error {
	if r == nil || r.coll == nil {
		return errors.New("analysis repository not initialised")
	}
	id := strings.TrimSpace(analysis.ID)
	if id == "" {
		return errors.New("analysis repository: analysis id is required")
	}
	if strings.TrimSpace(analysis.UserID) == "" {
		return errors.New("analysis repository: user id is required")
	}
	_, err := r.coll.Create(ctx, id, encodeAnalysisDocument(analysis))
	return err
}

// FindByID fetches a single analysis.
func (r *AnalysisRepository) FindByID(ctx context.Context, analysisID string) (domain.Analysis, error) {
	if r == nil || r.coll == nil {
		return domain.Analysis{}, errors.New("analysis repository not initialised")
	}
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return domain.Analysis{}, errors.New("analysis repository: analysis id is required")
	}
	doc, err := r.coll.Get(ctx, analysisID)
	if err != nil {
		return domain.Analysis{}, err
	}
	return decodeAnalysisDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListByUser returns the user's analyses ordered by creation time, newest first.
func (r *AnalysisRepository) ListByUser(ctx context.Context, userID string, filter repositories.AnalysisListFilter) (domain.CursorPage[domain.Analysis], error) {
	if r == nil || r.coll == nil {
		return domain.CursorPage[domain.Analysis]{}, errors.New("analysis repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Analysis]{}, errors.New("analysis repository: user id is required")
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Analysis]{}, fmt.Errorf("analysis repository: %w", err)
	}

	limit := max(filter.Pagination.PageSize, 0)
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	docs, err := r.coll.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID)
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Analysis]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		nextToken = pagination.EncodeToken(pagination.Cursor{
			CreatedAt: chooseTime(last.Data.CreatedAt, last.CreateTime),
			ID:        last.ID,
		})
	}

	items := make([]domain.Analysis, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeAnalysisDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return domain.CursorPage[domain.Analysis]{Items: items, NextPageToken: nextToken}, nil
}

// MarkVerified flags the analysis as confirmed by an expert inside a transaction.
func (r *AnalysisRepository) MarkVerified(ctx context.Context, analysisID string, verification repositories.AnalysisVerification) (domain.Analysis, error) {
	if r == nil || r.coll == nil {
		return domain.Analysis{}, errors.New("analysis repository not initialised")
	}
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return domain.Analysis{}, errors.New("analysis repository: analysis id is required")
	}
	verifiedAt := verification.VerifiedAt.UTC()

	var updated domain.Analysis
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := r.coll.GetTx(ctx, tx, analysisID)
		if err != nil {
			return err
		}
		ref, err := r.coll.Ref(ctx, analysisID)
		if err != nil {
			return err
		}

		doc := current.Data
		doc.Verified = true
		doc.VerifiedBy = strings.TrimSpace(verification.VerifiedBy)
		doc.VerifiedAt = &verifiedAt
		doc.VerifyNote = strings.TrimSpace(verification.Note)
		doc.AnalyzedBy = string(domain.AnalyzedByExpert)
		doc.UpdatedAt = verifiedAt

		if err := tx.Update(ref, []firestore.Update{
			{Path: "verified", Value: true},
			{Path: "verifiedBy", Value: doc.VerifiedBy},
			{Path: "verifiedAt", Value: verifiedAt},
			{Path: "verifyNote", Value: doc.VerifyNote},
			{Path: "analyzedBy", Value: doc.AnalyzedBy},
			{Path: "updatedAt", Value: verifiedAt},
		}); err != nil {
			return err
		}
		updated = decodeAnalysisDocument(current.ID, doc, current.CreateTime, verifiedAt)
		return nil
	})
	if err != nil {
		return domain.Analysis{}, pfirestore.WrapError("analyses.verify", err)
	}
	return updated, nil
}

type analysisDocument struct {
	UserID               string                     `firestore:"userId"`
	Source               string                     `firestore:"source"`
	ProductName          string                     `firestore:"productName,omitempty"`
	Brand                string                     `firestore:"brand,omitempty"`
	Barcode              string                     `firestore:"barcode,omitempty"`
	ImageURL             string                     `firestore:"imageUrl,omitempty"`
	ObjectPath           string                     `firestore:"objectPath,omitempty"`
	FullText             string                     `firestore:"fullText,omitempty"`
	Status               string                     `firestore:"status"`
	DetectedAdditives    []detectedAdditiveDocument `firestore:"detectedAdditives"`
	Ingredients          []string                   `firestore:"ingredients"`
	Counts               additiveCountsDocument     `firestore:"counts"`
	Recommendations      []string                   `firestore:"recommendations"`
	Score                int                        `firestore:"score"`
	IngredientsFound     bool                       `firestore:"ingredientsFound"`
	Locale               string                     `firestore:"locale"`
	KnowledgeBaseVersion string                     `firestore:"knowledgeBaseVersion"`
	AnalyzedBy           string                     `firestore:"analyzedBy"`
	Verified             bool                       `firestore:"verified"`
	VerifiedBy           string                     `firestore:"verifiedBy,omitempty"`
	VerifiedAt           *time.Time                 `firestore:"verifiedAt,omitempty"`
	VerifyNote           string                     `firestore:"verifyNote,omitempty"`
	CreatedAt            time.Time                  `firestore:"createdAt"`
	UpdatedAt            time.Time                  `firestore:"updatedAt"`
}

type detectedAdditiveDocument struct {
	Code         string `firestore:"code"`
	Name         string `firestore:"name"`
	Category     string `firestore:"category"`
	Description  string `firestore:"description,omitempty"`
	HealthImpact string `firestore:"healthImpact,omitempty"`
	Known        bool   `firestore:"known"`
}

type additiveCountsDocument struct {
	Total     int `firestore:"total"`
	Dangerous int `firestore:"dangerous"`
	Caution   int `firestore:"caution"`
	Safe      int `firestore:"safe"`
}

func encodeAnalysisDocument(analysis domain.Analysis) analysisDocument {
	result := analysis.Result
	additives := make([]detectedAdditiveDocument, 0, len(result.Additives))
	for _, additive := range result.Additives {
		additives = append(additives, detectedAdditiveDocument{
			Code:         additive.Code,
			Name:         additive.Name,
			Category:     string(additive.Category),
			Description:  additive.Description,
			HealthImpact: additive.HealthImpact,
			Known:        additive.Known,
		})
	}

	return analysisDocument{
		UserID:               strings.TrimSpace(analysis.UserID),
		Source:               string(analysis.Source),
		ProductName:          strings.TrimSpace(analysis.Product.Name),
		Brand:                strings.TrimSpace(analysis.Product.Brand),
		Barcode:              strings.TrimSpace(analysis.Product.Barcode),
		ImageURL:             strings.TrimSpace(analysis.ImageURL),
		ObjectPath:           strings.TrimSpace(analysis.ObjectPath),
		FullText:             analysis.FullText,
		Status:               string(result.Status),
		DetectedAdditives:    additives,
		Ingredients:          nonNil(result.Ingredients),
		Counts:               additiveCountsDocument(result.Counts),
		Recommendations:      nonNil(result.Recommendations),
		Score:                result.Score,
		IngredientsFound:     result.IngredientsFound,
		Locale:               result.Locale,
		KnowledgeBaseVersion: result.KnowledgeBaseVersion,
		AnalyzedBy:           string(analysis.AnalyzedBy),
		Verified:             analysis.Verified,
		VerifiedBy:           strings.TrimSpace(analysis.VerifiedBy),
		VerifiedAt:           normalizeTimePointer(analysis.VerifiedAt),
		VerifyNote:           strings.TrimSpace(analysis.VerifyNote),
		CreatedAt:            analysis.CreatedAt.UTC(),
		UpdatedAt:            analysis.UpdatedAt.UTC(),
	}
}

func decodeAnalysisDocument(id string, doc analysisDocument, createdAt, updatedAt time.Time) domain.Analysis {
	additives := make([]domain.DetectedAdditive, 0, len(doc.DetectedAdditives))
	for _, additive := range doc.DetectedAdditives {
		additives = append(additives, domain.DetectedAdditive{
			Code:         additive.Code,
			Name:         additive.Name,
			Category:     domain.AdditiveCategory(additive.Category),
			Description:  additive.Description,
			HealthImpact: additive.HealthImpact,
			Known:        additive.Known,
		})
	}

	return domain.Analysis{
		ID:     strings.TrimSpace(id),
		UserID: doc.UserID,
		Source: domain.AnalysisSource(doc.Source),
		Product: domain.ProductInfo{
			Name:    doc.ProductName,
			Brand:   doc.Brand,
			Barcode: doc.Barcode,
		},
		ImageURL:   doc.ImageURL,
		ObjectPath: doc.ObjectPath,
		FullText:   doc.FullText,
		Result: domain.AnalysisResult{
			Status:               domain.ProductStatus(doc.Status),
			Additives:            additives,
			Ingredients:          nonNil(slices.Clone(doc.Ingredients)),
			Counts:               domain.AdditiveCounts(doc.Counts),
			Recommendations:      nonNil(slices.Clone(doc.Recommendations)),
			Score:                doc.Score,
			IngredientsFound:     doc.IngredientsFound,
			Locale:               doc.Locale,
			KnowledgeBaseVersion: doc.KnowledgeBaseVersion,
		},
		AnalyzedBy: domain.AnalyzedBy(doc.AnalyzedBy),
		Verified:   doc.Verified,
		VerifiedBy: doc.VerifiedBy,
		VerifiedAt: normalizeTimePointer(doc.VerifiedAt),
		VerifyNote: doc.VerifyNote,
		CreatedAt:  chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:  chooseTime(doc.UpdatedAt, updatedAt),
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}
