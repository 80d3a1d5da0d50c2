package alerts

import (
	"strconv"
	"strings"

	"github.com/fleetscore/fleetscore/pkg/types"
)

// evalCondition evaluates a rule condition string against one device and its
// latest score.
//
// Supported expressions (field operator value):
//
//	weighted_score < 60
//	accuracy_score < 50
//	latency_score < 50
//	energy_score < 50
//	battery_level < 20
//	battery_wh < 100
//	grade == F
//	status == offline
//	class == air
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, dev types.Device, score types.Score) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if s, ok := stringField(field, dev, score); ok {
		switch op {
		case "==":
			return strings.EqualFold(s, rhs), numericOr(field, score)
		case "!=":
			return !strings.EqualFold(s, rhs), numericOr(field, score)
		}
		return false, 0
	}

	v, ok := numericField(field, dev, score)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

func stringField(field string, dev types.Device, score types.Score) (string, bool) {
	switch field {
	case "grade":
		return score.Grade, true
	case "status":
		return dev.Status, true
	case "class":
		return string(dev.Class), true
	}
	return "", false
}

// numericOr reports the weighted score alongside string matches so that
// notifications for grade rules still carry a number.
func numericOr(field string, score types.Score) float64 {
	if field == "grade" {
		return score.WeightedScore
	}
	return 0
}

// numericField maps a field name to its value on the device or score.
func numericField(field string, dev types.Device, score types.Score) (float64, bool) {
	switch field {
	case "weighted_score":
		return score.WeightedScore, true
	case "accuracy_score":
		return score.AccuracyScore, true
	case "latency_score":
		return score.LatencyScore, true
	case "energy_score":
		return score.EnergyScore, true
	case "battery_level":
		return dev.BatteryLevel, true
	case "battery_wh":
		return dev.BatteryWh, true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
