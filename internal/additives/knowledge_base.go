// Package additives implements the ingredient-to-additive classification engine: the additive knowledge base,
// ingredient segmentation, additive matching, verdict policy and scoring.
package additives

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/katkisiz/api/internal/domain"
)

//go:embed data/additives.yaml
var embeddedKnowledgeBase []byte

var (
	// ErrInvalidKnowledgeBase is returned when a knowledge base document fails validation.
	ErrInvalidKnowledgeBase = errors.New("additives: invalid knowledge base")
	// ErrDuplicateCode is returned when the same additive code is defined twice under DuplicateReject.
	ErrDuplicateCode = errors.New("additives: duplicate additive code")
	// ErrUnknownAliasTarget is returned when an alias points at a code the knowledge base does not define.
	ErrUnknownAliasTarget = errors.New("additives: alias target not found")
	// ErrNilKnowledgeBase is returned when a component is constructed without a knowledge base.
	ErrNilKnowledgeBase = errors.New("additives: knowledge base is required")
)

var codePattern = regexp.MustCompile(`^E\d{3,4}[A-Z]?$`)

// DuplicatePolicy decides what happens when a code is defined more than once.
type DuplicatePolicy string

const (
	// DuplicateReject fails the load on the first repeated code.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateMostSevere keeps the record with the most severe category; ties keep the first record.
	DuplicateMostSevere DuplicatePolicy = "most_severe"
)

// ParseDuplicatePolicy converts configuration input into a DuplicatePolicy.
func ParseDuplicatePolicy(value string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", DuplicateReject:
		return DuplicateReject, nil
	case DuplicateMostSevere:
		return DuplicateMostSevere, nil
	default:
		return "", fmt.Errorf("additives: unknown duplicate policy %q", value)
	}
}

// Alias maps an ingredient name fragment to an additive code.
type Alias struct {
	Text string
	Code string
}

// Option customises knowledge base construction.
type Option func(*loadOptions)

type loadOptions struct {
	duplicates DuplicatePolicy
}

// WithDuplicatePolicy selects how repeated codes are resolved.
func WithDuplicatePolicy(policy DuplicatePolicy) Option {
	return func(o *loadOptions) {
		if policy != "" {
			o.duplicates = policy
		}
	}
}

// KnowledgeBase is the immutable additive table plus its alias and keyword lists.
// It is safe for concurrent use once constructed.
type KnowledgeBase struct {
	version  string
	records  []domain.AdditiveRecord
	index    map[string]int
	aliases  []foldedAlias
	keywords []foldedKeyword
}

type foldedAlias struct {
	Alias
	folded string
}

type foldedKeyword struct {
	text   string
	folded string
}

// NewKnowledgeBase validates and indexes the supplied records, aliases and keywords.
func NewKnowledgeBase(version string, records []domain.AdditiveRecord, aliases []Alias, keywords []string, opts ...Option) (*KnowledgeBase, error) {
	options := loadOptions{duplicates: DuplicateReject}
	for _, opt := range opts {
		opt(&options)
	}
	if options.duplicates != DuplicateReject && options.duplicates != DuplicateMostSevere {
		return nil, fmt.Errorf("%w: unknown duplicate policy %q", ErrInvalidKnowledgeBase, options.duplicates)
	}

	kb := &KnowledgeBase{
		version: strings.TrimSpace(version),
		records: make([]domain.AdditiveRecord, 0, len(records)),
		index:   make(map[string]int, len(records)),
	}

	for i, record := range records {
		record.Code = CanonicalCode(record.Code)
		record.Name = strings.TrimSpace(record.Name)
		if !codePattern.MatchString(record.Code) {
			return nil, fmt.Errorf("%w: record %d has malformed code %q", ErrInvalidKnowledgeBase, i, record.Code)
		}
		if record.Name == "" {
			return nil, fmt.Errorf("%w: record %s has no name", ErrInvalidKnowledgeBase, record.Code)
		}
		if !record.Category.Valid() {
			return nil, fmt.Errorf("%w: record %s has unknown category %q", ErrInvalidKnowledgeBase, record.Code, record.Category)
		}

		existing, ok := kb.index[record.Code]
		if !ok {
			kb.index[record.Code] = len(kb.records)
			kb.records = append(kb.records, record)
			continue
		}
		if options.duplicates == DuplicateReject {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, record.Code)
		}
		if record.Category.Severity() > kb.records[existing].Category.Severity() {
			kb.records[existing] = record
		}
	}

	seenAliases := make(map[string]struct{}, len(aliases))
	for _, alias := range aliases {
		text := strings.TrimSpace(alias.Text)
		folded := Fold(text)
		if folded == "" {
			return nil, fmt.Errorf("%w: empty alias for %s", ErrInvalidKnowledgeBase, alias.Code)
		}
		code := CanonicalCode(alias.Code)
		if _, ok := kb.index[code]; !ok {
			return nil, fmt.Errorf("%w: %q -> %s", ErrUnknownAliasTarget, text, code)
		}
		if _, dup := seenAliases[folded]; dup {
			continue
		}
		seenAliases[folded] = struct{}{}
		kb.aliases = append(kb.aliases, foldedAlias{Alias: Alias{Text: text, Code: code}, folded: folded})
	}

	seenKeywords := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		text := strings.TrimSpace(keyword)
		folded := Fold(text)
		if folded == "" {
			return nil, fmt.Errorf("%w: empty keyword", ErrInvalidKnowledgeBase)
		}
		if _, dup := seenKeywords[folded]; dup {
			continue
		}
		seenKeywords[folded] = struct{}{}
		kb.keywords = append(kb.keywords, foldedKeyword{text: text, folded: folded})
	}

	return kb, nil
}

type knowledgeBaseDocument struct {
	Version   string          `yaml:"version" validate:"required"`
	Additives []additiveEntry `yaml:"additives" validate:"required,min=1,dive"`
	Aliases   []aliasEntry    `yaml:"aliases" validate:"dive"`
	Keywords  []string        `yaml:"keywords" validate:"dive,required"`
}

type additiveEntry struct {
	Code          string `yaml:"code" validate:"required,additive_code"`
	Name          string `yaml:"name" validate:"required"`
	Category      string `yaml:"category" validate:"required,oneof=avoid caution safe"`
	Description   string `yaml:"description"`
	CommonUses    string `yaml:"common_uses"`
	HealthConcern string `yaml:"health_concern"`
}

type aliasEntry struct {
	Alias string `yaml:"alias" validate:"required"`
	Code  string `yaml:"code" validate:"required,additive_code"`
}

func newDocumentValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("additive_code", func(fl validator.FieldLevel) bool {
		return codePattern.MatchString(CanonicalCode(fl.Field().String()))
	})
	return validate
}

// Load parses a YAML knowledge base document.
func Load(r io.Reader, opts ...Option) (*KnowledgeBase, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: reader is nil", ErrInvalidKnowledgeBase)
	}
	var doc knowledgeBaseDocument
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidKnowledgeBase, err)
	}
	if err := newDocumentValidator().Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKnowledgeBase, err)
	}

	records := make([]domain.AdditiveRecord, 0, len(doc.Additives))
	for _, entry := range doc.Additives {
		records = append(records, domain.AdditiveRecord{
			Code:          entry.Code,
			Name:          entry.Name,
			Category:      domain.AdditiveCategory(entry.Category),
			Description:   strings.TrimSpace(entry.Description),
			HealthConcern: strings.TrimSpace(entry.HealthConcern),
			CommonUses:    strings.TrimSpace(entry.CommonUses),
		})
	}
	aliases := make([]Alias, 0, len(doc.Aliases))
	for _, entry := range doc.Aliases {
		aliases = append(aliases, Alias{Text: entry.Alias, Code: entry.Code})
	}
	return NewKnowledgeBase(doc.Version, records, aliases, doc.Keywords, opts...)
}

// LoadFile reads a YAML knowledge base from disk.
func LoadFile(path string, opts ...Option) (*KnowledgeBase, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("additives: open knowledge base %s: %w", path, err)
	}
	defer file.Close()
	return Load(file, opts...)
}

// LoadEmbedded loads the knowledge base bundled with the binary.
func LoadEmbedded(opts ...Option) (*KnowledgeBase, error) {
	return Load(bytes.NewReader(embeddedKnowledgeBase), opts...)
}

// CanonicalCode upper-cases the code and removes internal whitespace and hyphens.
func CanonicalCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Version returns the dataset version string.
func (kb *KnowledgeBase) Version() string {
	if kb == nil {
		return ""
	}
	return kb.version
}

// Len returns the number of distinct additive codes.
func (kb *KnowledgeBase) Len() int {
	if kb == nil {
		return 0
	}
	return len(kb.records)
}

// Lookup finds a record by code, ignoring case and internal whitespace.
func (kb *KnowledgeBase) Lookup(code string) (domain.AdditiveRecord, bool) {
	if kb == nil {
		return domain.AdditiveRecord{}, false
	}
	idx, ok := kb.index[CanonicalCode(code)]
	if !ok {
		return domain.AdditiveRecord{}, false
	}
	return kb.records[idx], true
}

// Records returns the records in load order.
func (kb *KnowledgeBase) Records() []domain.AdditiveRecord {
	if kb == nil {
		return nil
	}
	out := make([]domain.AdditiveRecord, len(kb.records))
	copy(out, kb.records)
	return out
}

// Aliases returns the alias table in match order.
func (kb *KnowledgeBase) Aliases() []Alias {
	if kb == nil {
		return nil
	}
	out := make([]Alias, 0, len(kb.aliases))
	for _, alias := range kb.aliases {
		out = append(out, alias.Alias)
	}
	return out
}

// Keywords returns the generic keyword list in match order.
func (kb *KnowledgeBase) Keywords() []string {
	if kb == nil {
		return nil
	}
	out := make([]string, 0, len(kb.keywords))
	for _, keyword := range kb.keywords {
		out = append(out, keyword.text)
	}
	return out
}

// CategoryCounts tallies records per category.
func (kb *KnowledgeBase) CategoryCounts() map[domain.AdditiveCategory]int {
	counts := map[domain.AdditiveCategory]int{
		domain.AdditiveCategoryAvoid:   0,
		domain.AdditiveCategoryCaution: 0,
		domain.AdditiveCategorySafe:    0,
	}
	if kb == nil {
		return counts
	}
	for _, record := range kb.records {
		counts[record.Category]++
	}
	return counts
}
