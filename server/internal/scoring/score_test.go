package scoring

import (
	"testing"

	"github.com/fleetscore/fleetscore/pkg/types"
)

func TestGrade_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, GradeAPlus},
		{95, GradeAPlus},
		{94.99, GradeA},
		{90.0, GradeA},
		{89.9, GradeBPlus},
		{85, GradeBPlus},
		{80, GradeB},
		{79.99, GradeCPlus},
		{75, GradeCPlus},
		{70, GradeC},
		{69.9, GradeD},
		{60, GradeD},
		{59.99, GradeF},
		{0, GradeF},
		{-5, GradeF},
	}
	for _, tc := range tests {
		if got := Grade(tc.score); got != tc.want {
			t.Errorf("Grade(%v): got %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestWeighted_NoRenormalization(t *testing.T) {
	tests := []struct {
		name string
		sub  SubScores
		w    [3]float64
	}{
		{"default", SubScores{80, 70, 60}, [3]float64{0.4, 0.3, 0.3}},
		{"all ones", SubScores{80, 70, 60}, [3]float64{1, 1, 1}},
		{"zeros", SubScores{100, 100, 100}, [3]float64{0, 0, 0}},
		{"skewed", SubScores{12.34, 56.78, 90.12}, [3]float64{0.9, 0.05, 0.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := types.WeightProfile{AccuracyWeight: tc.w[0], LatencyWeight: tc.w[1], EnergyWeight: tc.w[2]}
			want := tc.sub.Accuracy*tc.w[0] + tc.sub.Latency*tc.w[1] + tc.sub.Energy*tc.w[2]
			if got := Weighted(tc.sub, w); got != want {
				t.Errorf("Weighted: got %v, want %v", got, want)
			}
		})
	}
}
