package additives

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/language"

	"github.com/katkisiz/api/internal/domain"
)

// ErrInvalidInput is returned for text that is not valid UTF-8.
var ErrInvalidInput = errors.New("additives: invalid input")

// AnalyzeOptions tunes a single analysis call.
type AnalyzeOptions struct {
	// Locale is an Accept-Language style preference for recommendation text.
	Locale string
}

// AnalyzerOption customises an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithDefaultLocale sets the recommendation locale used when a call expresses no preference.
func WithDefaultLocale(tag language.Tag) AnalyzerOption {
	return func(a *Analyzer) {
		if _, ok := recommendationCatalog[tag]; ok {
			a.defaultLocale = tag
		}
	}
}

// Analyzer runs segmentation, matching and the verdict policy against one knowledge base.
type Analyzer struct {
	kb            *KnowledgeBase
	matcher       *Matcher
	defaultLocale language.Tag
}

// NewAnalyzer constructs the pipeline.
func NewAnalyzer(kb *KnowledgeBase, opts ...AnalyzerOption) (*Analyzer, error) {
	matcher, err := NewMatcher(kb)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{kb: kb, matcher: matcher, defaultLocale: language.Turkish}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// KnowledgeBase exposes the table the analyzer matches against.
func (a *Analyzer) KnowledgeBase() *KnowledgeBase {
	return a.kb
}

// AnalyzeText segments raw label text and analyses the resulting ingredients.
func (a *Analyzer) AnalyzeText(raw string, opts AnalyzeOptions) (domain.AnalysisResult, error) {
	if !utf8.ValidString(raw) {
		return domain.AnalysisResult{}, ErrInvalidInput
	}
	return a.analyze(NormalizeIngredients(Segment(raw)), opts), nil
}

// AnalyzeIngredients analyses a caller-supplied ingredient list, bypassing segmentation.
// Entries are normalised and the list is capped at MaxIngredients.
func (a *Analyzer) AnalyzeIngredients(ingredients []string, opts AnalyzeOptions) (domain.AnalysisResult, error) {
	for _, ingredient := range ingredients {
		if !utf8.ValidString(ingredient) {
			return domain.AnalysisResult{}, ErrInvalidInput
		}
	}
	normalized := NormalizeIngredients(ingredients)
	if len(normalized) > MaxIngredients {
		normalized = normalized[:MaxIngredients]
	}
	return a.analyze(normalized, opts), nil
}

// QuickStatus returns the early-exit status estimate for a caller-supplied ingredient list.
func (a *Analyzer) QuickStatus(ingredients []string) (domain.ProductStatus, error) {
	for _, ingredient := range ingredients {
		if !utf8.ValidString(ingredient) {
			return "", ErrInvalidInput
		}
	}
	return a.matcher.QuickStatus(NormalizeIngredients(ingredients)), nil
}

func (a *Analyzer) analyze(ingredients []string, opts AnalyzeOptions) domain.AnalysisResult {
	additives := a.matcher.Match(ingredients)
	verdict := DecideIn(additives, ResolveLocale(opts.Locale, a.defaultLocale))
	return domain.AnalysisResult{
		Status:               verdict.Status,
		Additives:            additives,
		Ingredients:          ingredients,
		Counts:               verdict.Counts,
		Recommendations:      verdict.Recommendations,
		Score:                Score(additives),
		IngredientsFound:     len(ingredients) > 0,
		Locale:               verdict.Locale.String(),
		KnowledgeBaseVersion: a.kb.Version(),
	}
}
