package additives

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

const (
	// MaxIngredients caps the number of fragments returned by Segment.
	MaxIngredients = 50
	// MaxIngredientRunes is the exclusive upper bound on fragment length.
	MaxIngredientRunes = 100
)

// sectionMarkers are searched in order; longer forms precede their prefixes.
var sectionMarkers = []string{
	"içindekiler",
	"içerikler",
	"içerik",
	"icerik",
	"ingredients",
	"composition",
	"bileşenler",
	"malzemeler",
}

var foldedSectionMarkers = func() [][]rune {
	out := make([][]rune, 0, len(sectionMarkers))
	for _, marker := range sectionMarkers {
		out = append(out, []rune(Fold(marker)))
	}
	return out
}()

// Segment extracts the ingredient list from raw label text. The region after the first section marker is
// used, or the whole text when no marker is present. Fragments are split on , ; : and line breaks, trimmed,
// kept when 1 to 99 runes long and capped at MaxIngredients. Fragments are returned as written; callers
// normalise them with NormalizeIngredient.
func Segment(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}

	region := raw
	if start, ok := markerEnd(raw); ok {
		region = raw[start:]
	}

	fields := strings.FieldsFunc(region, isSeparator)
	out := make([]string, 0, min(len(fields), MaxIngredients))
	for _, field := range fields {
		fragment := strings.TrimSpace(field)
		n := utf8.RuneCountInString(fragment)
		if n < 1 || n >= MaxIngredientRunes {
			continue
		}
		out = append(out, fragment)
		if len(out) == MaxIngredients {
			break
		}
	}
	return out
}

func isSeparator(r rune) bool {
	switch r {
	case ',', ';', ':', '\n', '\r':
		return true
	}
	return false
}

// markerEnd returns the byte offset in raw just past the first section marker found.
func markerEnd(raw string) (int, bool) {
	folded, ends := foldWithOffsets(raw)
	for _, marker := range foldedSectionMarkers {
		if idx := indexRunes(folded, marker); idx >= 0 {
			return ends[idx+len(marker)-1], true
		}
	}
	return 0, false
}

// foldWithOffsets folds raw rune by rune and records, for every folded rune, the byte offset in raw where
// the source rune ends.
func foldWithOffsets(raw string) ([]rune, []int) {
	folder := newFolder()
	folded := make([]rune, 0, len(raw))
	ends := make([]int, 0, len(raw))
	for i := 0; i < len(raw); {
		r, width := utf8.DecodeRuneInString(raw[i:])
		end := i + width
		if r < utf8.RuneSelf {
			folded = append(folded, foldRune(r))
			ends = append(ends, end)
			i = end
			continue
		}
		out, _, err := transform.String(folder, raw[i:end])
		if err != nil {
			out = strings.ToLower(raw[i:end])
		}
		for _, fr := range out {
			folded = append(folded, fr)
			ends = append(ends, end)
		}
		i = end
	}
	return folded, ends
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
