package additives

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/katkisiz/api/internal/domain"
)

// Verdict is the outcome of the decision policy over one detection set.
type Verdict struct {
	Status          domain.ProductStatus
	Counts          domain.AdditiveCounts
	Recommendations []string
	Locale          language.Tag
}

var supportedLocales = []language.Tag{language.Turkish, language.English}

var localeMatcher = language.NewMatcher(supportedLocales)

var recommendationCatalog = map[language.Tag]map[domain.ProductStatus][]string{
	language.Turkish: {
		domain.ProductStatusRed: {
			"Bu üründe tehlikeli katkı maddeleri tespit edildi.",
			"Sağlığınız için bu ürünü tüketmemenizi öneriyoruz.",
			"Harita üzerinden yakınınızdaki katkısız alternatiflere göz atın.",
		},
		domain.ProductStatusYellow: {
			"Bu üründe orta düzey katkı maddeleri bulunmaktadır.",
			"Mümkünse daha doğal alternatifler tercih edin.",
		},
		domain.ProductStatusGreen: {
			"Harika! Bu ürün katkı maddesi içermiyor.",
			"Sağlıklı beslenme için doğru seçim yaptınız.",
		},
	},
	language.English: {
		domain.ProductStatusRed: {
			"Dangerous additives were detected in this product.",
			"For your health we recommend not consuming this product.",
			"Check the map for additive-free alternatives near you.",
		},
		domain.ProductStatusYellow: {
			"This product contains additives of moderate concern.",
			"Prefer more natural alternatives when possible.",
		},
		domain.ProductStatusGreen: {
			"Great! This product contains no additives.",
			"You made the right choice for healthy eating.",
		},
	},
}

// ResolveLocale picks the best supported locale for an Accept-Language style preference list.
// Empty or unparseable input falls back to fallback.
func ResolveLocale(preference string, fallback language.Tag) language.Tag {
	preference = strings.TrimSpace(preference)
	if preference == "" {
		return fallback
	}
	tags, _, err := language.ParseAcceptLanguage(preference)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, confidence := localeMatcher.Match(tags...)
	if confidence == language.No {
		return fallback
	}
	return supportedLocales[idx]
}

// ParseLocale parses a configured locale, falling back to Turkish.
func ParseLocale(value string) language.Tag {
	return ResolveLocale(value, language.Turkish)
}

// CountAdditives tallies detections by category. Unknown categories count as caution.
func CountAdditives(additives []domain.DetectedAdditive) domain.AdditiveCounts {
	counts := domain.AdditiveCounts{Total: len(additives)}
	for _, additive := range additives {
		switch additive.Category {
		case domain.AdditiveCategoryAvoid:
			counts.Dangerous++
		case domain.AdditiveCategorySafe:
			counts.Safe++
		default:
			counts.Caution++
		}
	}
	return counts
}

// StatusFor applies the threshold policy: no additives is green, any dangerous additive is red, anything
// else is yellow.
func StatusFor(counts domain.AdditiveCounts) domain.ProductStatus {
	switch {
	case counts.Total == 0:
		return domain.ProductStatusGreen
	case counts.Dangerous > 0:
		return domain.ProductStatusRed
	default:
		return domain.ProductStatusYellow
	}
}

// Recommendations returns the fixed recommendation lines for the status in the given locale.
func Recommendations(status domain.ProductStatus, locale language.Tag) []string {
	catalog, ok := recommendationCatalog[locale]
	if !ok {
		catalog = recommendationCatalog[language.Turkish]
	}
	lines := catalog[status]
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// Decide computes the verdict with Turkish recommendations.
func Decide(additives []domain.DetectedAdditive) Verdict {
	return DecideIn(additives, language.Turkish)
}

// DecideIn computes the verdict with recommendations in the given locale.
func DecideIn(additives []domain.DetectedAdditive, locale language.Tag) Verdict {
	counts := CountAdditives(additives)
	status := StatusFor(counts)
	if _, ok := recommendationCatalog[locale]; !ok {
		locale = language.Turkish
	}
	return Verdict{
		Status:          status,
		Counts:          counts,
		Recommendations: Recommendations(status, locale),
		Locale:          locale,
	}
}
