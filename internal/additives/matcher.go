package additives

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/katkisiz/api/internal/domain"
)

const (
	unknownAdditiveName        = "Bilinmeyen Katkı Maddesi"
	unknownAdditiveDescription = "Bu katkı maddesi hakkında bilgi bulunamadı."
	genericAdditivePrefix      = "Genel Katkı Maddesi: "
	genericAdditiveDescription = "Spesifik katkı maddesi tespit edilemedi ancak genel anahtar kelime bulundu."
)

// eNumberPattern matches "e", optional spaces or hyphens, 3-4 digits and an optional letter.
var eNumberPattern = regexp.MustCompile(`e[\s\-]*(\d{3,4})([a-z])?`)

// ExtractCodes returns every distinct E-number code in s, canonicalised and in order of appearance.
//
// Matching fails open: a longer digit run keeps its first four digits ("e12345" yields E1234) and an "e"
// closing a word still starts a code ("kurkume 100" yields E100). A letter suffix is kept only when it is not
// followed by another letter, so "e330asit" yields E330 while "e150d" yields E150D.
func ExtractCodes(s string) []string {
	folded := Fold(s)
	matches := eNumberPattern.FindAllStringSubmatchIndex(folded, -1)
	if len(matches) == 0 {
		return nil
	}

	var codes []string
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		code := "E" + folded[m[2]:m[3]]
		if m[4] >= 0 {
			next, _ := utf8.DecodeRuneInString(folded[m[5]:])
			if m[5] >= len(folded) || !unicode.IsLetter(next) {
				code += strings.ToUpper(folded[m[4]:m[5]])
			}
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}

// Matcher detects additives in normalised ingredient strings against one knowledge base.
// It holds no per-call state and may be shared between goroutines.
type Matcher struct {
	kb *KnowledgeBase
}

// NewMatcher binds a matcher to the knowledge base.
func NewMatcher(kb *KnowledgeBase) (*Matcher, error) {
	if kb == nil {
		return nil, ErrNilKnowledgeBase
	}
	return &Matcher{kb: kb}, nil
}

type detectionSet struct {
	items       []domain.DetectedAdditive
	codes       map[string]struct{}
	foldedNames []string
}

func (d *detectionSet) hasCode(code string) bool {
	_, ok := d.codes[code]
	return ok
}

func (d *detectionSet) nameContains(foldedKeyword string) bool {
	for _, name := range d.foldedNames {
		if strings.Contains(name, foldedKeyword) {
			return true
		}
	}
	return false
}

func (d *detectionSet) add(additive domain.DetectedAdditive) {
	if additive.Code != domain.GenericAdditiveCode {
		d.codes[additive.Code] = struct{}{}
	}
	d.items = append(d.items, additive)
	d.foldedNames = append(d.foldedNames, Fold(additive.Name))
}

// Match runs the E-number, alias and keyword passes in that order and returns the detections in the order
// they were found. Detections are unique by code apart from GENERIC, whose entries carry distinct names.
func (m *Matcher) Match(ingredients []string) []domain.DetectedAdditive {
	set := &detectionSet{codes: make(map[string]struct{})}
	folded := make([]string, len(ingredients))
	for i, ingredient := range ingredients {
		folded[i] = Fold(ingredient)
	}

	for _, ingredient := range folded {
		for _, code := range ExtractCodes(ingredient) {
			if set.hasCode(code) {
				continue
			}
			set.add(m.detectCode(code))
		}
	}

	for _, ingredient := range folded {
		for _, alias := range m.kb.aliases {
			if !strings.Contains(ingredient, alias.folded) || set.hasCode(alias.Code) {
				continue
			}
			record, ok := m.kb.Lookup(alias.Code)
			if !ok {
				continue
			}
			set.add(fromRecord(record))
		}
	}

	for _, ingredient := range folded {
		for _, keyword := range m.kb.keywords {
			if !strings.Contains(ingredient, keyword.folded) || set.nameContains(keyword.folded) {
				continue
			}
			set.add(domain.DetectedAdditive{
				Code:        domain.GenericAdditiveCode,
				Name:        genericAdditivePrefix + keyword.text,
				Category:    domain.AdditiveCategoryCaution,
				Description: genericAdditiveDescription,
			})
		}
	}

	if set.items == nil {
		return []domain.DetectedAdditive{}
	}
	return set.items
}

func (m *Matcher) detectCode(code string) domain.DetectedAdditive {
	if record, ok := m.kb.Lookup(code); ok {
		return fromRecord(record)
	}
	return domain.DetectedAdditive{
		Code:        code,
		Name:        unknownAdditiveName,
		Category:    domain.AdditiveCategoryCaution,
		Description: unknownAdditiveDescription,
	}
}

func fromRecord(record domain.AdditiveRecord) domain.DetectedAdditive {
	return domain.DetectedAdditive{
		Code:         record.Code,
		Name:         record.Name,
		Category:     record.Category,
		Description:  record.Description,
		HealthImpact: record.HealthConcern,
		Known:        true,
	}
}

// QuickStatus estimates the verdict from the E-number and alias passes only, stopping at the first
// dangerous hit. Keyword-only lists are reported green; use Match for the full verdict.
func (m *Matcher) QuickStatus(ingredients []string) domain.ProductStatus {
	found := false
	for _, ingredient := range ingredients {
		folded := Fold(ingredient)
		for _, code := range ExtractCodes(folded) {
			found = true
			if record, ok := m.kb.Lookup(code); ok && record.Category == domain.AdditiveCategoryAvoid {
				return domain.ProductStatusRed
			}
		}
		for _, alias := range m.kb.aliases {
			if !strings.Contains(folded, alias.folded) {
				continue
			}
			found = true
			if record, ok := m.kb.Lookup(alias.Code); ok && record.Category == domain.AdditiveCategoryAvoid {
				return domain.ProductStatusRed
			}
		}
	}
	if !found {
		return domain.ProductStatusGreen
	}
	return domain.ProductStatusYellow
}
