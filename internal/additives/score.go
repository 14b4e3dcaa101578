package additives

import "github.com/katkisiz/api/internal/domain"

const (
	maxScore       = 100
	avoidPenalty   = 30
	cautionPenalty = 15
	safePenalty    = 5
)

// Score rates a detection set from 0 to 100, higher being cleaner. It is used for ranking only and never
// feeds the verdict.
func Score(additives []domain.DetectedAdditive) int {
	score := maxScore
	for _, additive := range additives {
		switch additive.Category {
		case domain.AdditiveCategoryAvoid:
			score -= avoidPenalty
		case domain.AdditiveCategorySafe:
			score -= safePenalty
		default:
			score -= cautionPenalty
		}
	}
	return max(score, 0)
}
