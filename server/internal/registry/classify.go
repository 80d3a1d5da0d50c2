package registry

import (
	"strings"

	"github.com/fleetscore/fleetscore/pkg/types"
)

// ClassInfo is the classification result for a device id.
type ClassInfo struct {
	Class   types.DeviceClass `json:"class"`
	Model   string            `json:"model"`
	SubType string            `json:"sub_type"`
}

// Keyword tables matched against the upper-cased device id, in order.
var (
	VehicleKeywords = []string{"TURTLEBOT", "ROBOT_CAR", "AGV", "VEHICLE"}
	AirKeywords     = []string{"DRONE", "UAV", "QUADCOPTER", "AIRCRAFT"}
)

// Classify picks the device class, model and sub-type for id.
func Classify(id string) ClassInfo {
	up := strings.ToUpper(id)
	switch {
	case containsAny(up, VehicleKeywords):
		return ClassInfo{Class: types.ClassVehicle, Model: vehicleModel(up), SubType: vehicleSubType(up)}
	case containsAny(up, AirKeywords):
		return ClassInfo{Class: types.ClassAir, Model: airModel(up), SubType: airSubType(up)}
	default:
		return ClassInfo{Class: types.ClassGeneric, Model: "Unknown-Device", SubType: "generic"}
	}
}

func vehicleModel(up string) string {
	switch {
	case strings.Contains(up, "BURGER"):
		return "TURTLEBOT3-Burger"
	case strings.Contains(up, "WAFFLE"):
		return "TURTLEBOT3-Waffle"
	case strings.Contains(up, "TURTLEBOT"):
		return "TURTLEBOT3-Burger"
	default:
		return "Generic-Vehicle"
	}
}

func vehicleSubType(up string) string {
	switch {
	case strings.Contains(up, "TURTLEBOT"):
		return "turtlebot"
	case strings.Contains(up, "AGV"):
		return "agv"
	default:
		return "vehicle"
	}
}

func airModel(up string) string {
	switch {
	case strings.Contains(up, "DJI"):
		return "DJI-Mini-4-Pro"
	case strings.Contains(up, "PARROT"):
		return "Parrot-AR-Drone"
	default:
		return "Generic-Drone"
	}
}

func airSubType(up string) string {
	switch {
	case strings.Contains(up, "DRONE"):
		return "drone"
	case strings.Contains(up, "UAV"):
		return "uav"
	default:
		return "aircraft"
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
