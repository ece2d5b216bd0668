package app_test

import (
	"testing"

	"github.com/ayoubkefii/e-learning/internal/app"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name         string
		weights      map[int64]int
		correct      map[int64]bool
		passingScore int
		wantEarned   int
		wantTotal    int
		wantPercent  int
		wantPassed   bool
	}{
		{
			name:         "partial credit rounds up",
			weights:      map[int64]int{1: 10, 2: 20, 3: 30},
			correct:      map[int64]bool{1: true, 2: false, 3: true},
			passingScore: 50,
			wantEarned:   40, wantTotal: 60, wantPercent: 67, wantPassed: true,
		},
		{
			name:         "unanswered questions still count toward total",
			weights:      map[int64]int{1: 10, 2: 20, 3: 30},
			correct:      map[int64]bool{3: true},
			passingScore: 50,
			wantEarned:   30, wantTotal: 60, wantPercent: 50, wantPassed: true,
		},
		{
			name:         "half rounds up",
			weights:      map[int64]int{1: 1, 2: 7},
			correct:      map[int64]bool{1: true},
			passingScore: 13,
			wantEarned:   1, wantTotal: 8, wantPercent: 13, wantPassed: true,
		},
		{
			name:         "below half rounds down",
			weights:      map[int64]int{1: 1, 2: 2},
			correct:      map[int64]bool{1: true},
			passingScore: 34,
			wantEarned:   1, wantTotal: 3, wantPercent: 33, wantPassed: false,
		},
		{
			name:         "answers to unknown questions earn nothing",
			weights:      map[int64]int{1: 5},
			correct:      map[int64]bool{1: false, 42: true},
			passingScore: 1,
			wantEarned:   0, wantTotal: 5, wantPercent: 0, wantPassed: false,
		},
		{
			name:         "all correct",
			weights:      map[int64]int{1: 2, 2: 2},
			correct:      map[int64]bool{1: true, 2: true},
			passingScore: 100,
			wantEarned:   4, wantTotal: 4, wantPercent: 100, wantPassed: true,
		},
		{
			name:         "no questions with zero threshold passes",
			weights:      map[int64]int{},
			correct:      map[int64]bool{},
			passingScore: 0,
			wantPercent:  0, wantPassed: true,
		},
		{
			name:         "no questions with positive threshold fails",
			weights:      nil,
			correct:      nil,
			passingScore: 50,
			wantPercent:  0, wantPassed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := app.Score(tt.weights, tt.correct, tt.passingScore)
			if got.Earned != tt.wantEarned || got.Total != tt.wantTotal {
				t.Fatalf("expected earned/total %d/%d, got %d/%d", tt.wantEarned, tt.wantTotal, got.Earned, got.Total)
			}
			if got.Percentage != tt.wantPercent || got.Passed != tt.wantPassed {
				t.Fatalf("expected %d%% passed=%v, got %d%% passed=%v", tt.wantPercent, tt.wantPassed, got.Percentage, got.Passed)
			}
		})
	}
}
