package scoring

import "github.com/fleetscore/fleetscore/pkg/types"

// Grades, best first.
const (
	GradeAPlus = "A+"
	GradeA     = "A"
	GradeBPlus = "B+"
	GradeB     = "B"
	GradeCPlus = "C+"
	GradeC     = "C"
	GradeD     = "D"
	GradeF     = "F"
)

// gradeThresholds are inclusive lower bounds, checked in order.
var gradeThresholds = []struct {
	min   float64
	grade string
}{
	{95, GradeAPlus},
	{90, GradeA},
	{85, GradeBPlus},
	{80, GradeB},
	{75, GradeCPlus},
	{70, GradeC},
	{60, GradeD},
}

// Weighted combines sub-scores with w as a plain weighted sum. Weights are
// used as given even when they do not sum to 1.
func Weighted(s SubScores, w types.WeightProfile) float64 {
	return s.Accuracy*w.AccuracyWeight + s.Latency*w.LatencyWeight + s.Energy*w.EnergyWeight
}

// Grade maps a weighted score to its letter grade.
func Grade(score float64) string {
	for _, t := range gradeThresholds {
		if score >= t.min {
			return t.grade
		}
	}
	return GradeF
}
