package app

import "github.com/ayoubkefii/e-learning/internal/domain"

// Score turns per-question weights and correctness into a percentage.
// The total is taken over every weighted question, answered or not; a
// question missing from weights earns nothing. Percentage is rounded half-up.
func Score(weights map[int64]int, correct map[int64]bool, passingScore int) domain.ScoreResult {
	total, earned := 0, 0
	for questionID, weight := range weights {
		total += weight
		if correct[questionID] {
			earned += weight
		}
	}

	percentage := 0
	if total > 0 {
		percentage = (earned*200 + total) / (total * 2)
	}
	return domain.ScoreResult{
		Earned:     earned,
		Total:      total,
		Percentage: percentage,
		Passed:     percentage >= passingScore,
	}
}
