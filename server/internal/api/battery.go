package api

import (
	"fmt"
	"math"

	"github.com/fleetscore/fleetscore/pkg/tsdb"
	"github.com/fleetscore/fleetscore/pkg/types"
)

// Battery health labels.
const (
	HealthOK      = "OK"
	HealthGood    = "GOOD"
	HealthCaution = "CAUTION"
	HealthDanger  = "DANGER"
)

// Discharge rates in Wh per hour of operation.
const (
	vehicleDrainWh = 45
	airDrainWh     = 80
	genericDrainWh = 50
)

// DiagnosticHint is one human-readable insight about a device's battery.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// batteryHealth maps a battery percentage to a label using class thresholds.
func batteryHealth(class types.DeviceClass, level float64) string {
	switch class {
	case types.ClassVehicle:
		switch {
		case level > 60:
			return HealthOK
		case level > 30:
			return HealthGood
		case level > 15:
			return HealthCaution
		default:
			return HealthDanger
		}
	case types.ClassAir:
		switch {
		case level > 70:
			return HealthOK
		case level > 40:
			return HealthGood
		case level > 20:
			return HealthCaution
		default:
			return HealthDanger
		}
	default:
		switch {
		case level > 50:
			return HealthOK
		case level > 20:
			return HealthGood
		default:
			return HealthCaution
		}
	}
}

// estimatedRuntime returns the hours left at the class discharge rate.
func estimatedRuntime(class types.DeviceClass, wh float64) float64 {
	rate := float64(genericDrainWh)
	switch class {
	case types.ClassVehicle:
		rate = vehicleDrainWh
	case types.ClassAir:
		rate = airDrainWh
	}
	return math.Round(wh/rate*100) / 100
}

// buildBatteryReport derives the battery status report for one device.
// Hints are ordered: critical first, then warnings, then info.
func buildBatteryReport(d types.Device) BatteryReport {
	health := batteryHealth(d.Class, d.BatteryLevel)
	runtime := estimatedRuntime(d.Class, d.BatteryWh)
	rep := BatteryReport{
		DeviceID:              d.ID,
		Class:                 d.Class,
		Status:                d.Status,
		BatteryLevel:          d.BatteryLevel,
		BatteryWh:             d.BatteryWh,
		StoreLevel:            tsdb.BatteryLevel(d.BatteryWh),
		Health:                health,
		EstimatedRuntimeHours: runtime,
		Hints:                 []DiagnosticHint{},
	}

	if d.Status == types.StatusEmergency {
		rep.Hints = append(rep.Hints, DiagnosticHint{
			Key:    "emergency",
			Level:  "critical",
			Title:  "Emergency stop",
			Detail: "The device is in emergency status and all motion is halted until an operator changes its status.",
		})
	}

	switch health {
	case HealthDanger:
		v := d.BatteryLevel
		rep.Hints = append(rep.Hints, DiagnosticHint{
			Key:   "battery_level",
			Level: "critical",
			Title: fmt.Sprintf("%.0f%% battery", d.BatteryLevel),
			Detail: fmt.Sprintf("Battery is at %.1f%% with about %.1f hours of operation left. "+
				"Return the device for charging before assigning new work.", d.BatteryLevel, runtime),
			Value: &v,
		})
	case HealthCaution:
		v := d.BatteryLevel
		rep.Hints = append(rep.Hints, DiagnosticHint{
			Key:   "battery_level",
			Level: "warning",
			Title: fmt.Sprintf("%.0f%% battery", d.BatteryLevel),
			Detail: fmt.Sprintf("Battery is at %.1f%%. Schedule a charge within the next %.1f hours.",
				d.BatteryLevel, runtime),
			Value: &v,
		})
	}

	if d.Air != nil && d.Air.FlightStatus == types.FlightLowBattery {
		rep.Hints = append(rep.Hints, DiagnosticHint{
			Key:    "flight_status",
			Level:  "warning",
			Title:  "Grounded: low battery",
			Detail: "The flight controller reports low battery, so the device will not take off.",
		})
	}

	if d.Status == types.StatusOffline {
		rep.Hints = append(rep.Hints, DiagnosticHint{
			Key:    "offline",
			Level:  "info",
			Title:  "No recent telemetry",
			Detail: "No battery reading arrived within the lookback window, so the device is treated as offline.",
		})
	}
	return rep
}
