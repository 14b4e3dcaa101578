package additives

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// newFolder returns a transformer that lower-cases, strips combining marks and maps the Turkish
// dotless/dotted i onto ASCII i. Transformers are stateful, so each caller needs its own.
func newFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), runes.Map(foldRune), norm.NFC)
}

func foldRune(r rune) rune {
	switch r {
	case 'ı', 'İ':
		return 'i'
	}
	return unicode.ToLower(r)
}

// Fold returns the comparison form of s: lower case, without diacritics, Turkish i variants unified.
// "Tatlandırıcı" and "TATLANDIRICI" both fold to "tatlandirici".
func Fold(s string) string {
	if isPlainASCII(s) {
		return strings.ToLower(s)
	}
	out, _, err := transform.String(newFolder(), s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// NormalizeIngredient lower-cases the fragment, removes bracket characters and collapses whitespace.
func NormalizeIngredient(s string) string {
	lowered := strings.ToLower(s)
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '(', ')', '[', ']', '{', '}':
			return ' '
		}
		return r
	}, lowered)
	return strings.Join(strings.Fields(stripped), " ")
}

// NormalizeIngredients normalises every entry and drops the ones left empty.
func NormalizeIngredients(ingredients []string) []string {
	out := make([]string, 0, len(ingredients))
	for _, ingredient := range ingredients {
		if normalized := NormalizeIngredient(ingredient); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}
