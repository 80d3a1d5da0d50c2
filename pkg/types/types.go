package types

import "time"

// MessageTypeTelemetry is the only inbound message type the ingester accepts.
const MessageTypeTelemetry = "telemetry"

// Battery is the battery block of a telemetry message.
type Battery struct {
	Percentage float64 `json:"percentage"`
	Voltage    float64 `json:"voltage"`
	Wh         float64 `json:"wh"`
}

// Pose is the planar position block of a telemetry message.
type Pose struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TelemetryMessage is one decoded telemetry fact produced by a device.
// Battery and Pose are nil when the device omitted them.
type TelemetryMessage struct {
	Type        string   `json:"type"`
	BotID       string   `json:"bot_id"`
	TimestampNs int64    `json:"ts"`
	Battery     *Battery `json:"battery,omitempty"`
	Pose        *Pose    `json:"pose,omitempty"`
}

// Time returns the message timestamp as a UTC time.Time.
func (m TelemetryMessage) Time() time.Time {
	return time.Unix(0, m.TimestampNs).UTC()
}

// DeviceClass is the device family chosen once at creation time.
type DeviceClass string

const (
	ClassVehicle DeviceClass = "vehicle"
	ClassAir     DeviceClass = "air"
	ClassGeneric DeviceClass = "generic"
)

// Status values a device can be in.
const (
	StatusOffline   = "offline"
	StatusOnline    = "online"
	StatusBusy      = "busy"
	StatusIdle      = "idle"
	StatusEmergency = "emergency"
)

// ValidStatus reports whether s is one of the known device statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusOffline, StatusOnline, StatusBusy, StatusIdle, StatusEmergency:
		return true
	}
	return false
}

// Flight states of an air device.
const (
	FlightGrounded   = "grounded"
	FlightReady      = "ready"
	FlightLowBattery = "low_battery"
)

// VehicleState holds the attributes only ground vehicles carry.
type VehicleState struct {
	FuelLevel    float64 `json:"fuel_level"`
	Speed        float64 `json:"speed"`
	Odometer     float64 `json:"odometer"`
	EngineStatus string  `json:"engine_status"`
}

// AirState holds the attributes only air vehicles carry.
type AirState struct {
	Altitude     float64 `json:"altitude"`
	FlightStatus string  `json:"flight_status"`
	Speed        float64 `json:"speed"`
}

// Device is the latest reconciled state of one fleet member.
// Exactly one of Vehicle or Air is non-nil for the matching Class; both are
// nil for ClassGeneric.
type Device struct {
	ID           string        `json:"device_id"`
	Class        DeviceClass   `json:"class"`
	Model        string        `json:"model"`
	SubType      string        `json:"sub_type"`
	Location     string        `json:"location"`
	Status       string        `json:"status"`
	BatteryLevel float64       `json:"battery_level"`
	BatteryWh    float64       `json:"battery_wh"`
	LastUpdated  time.Time     `json:"last_updated"`
	Vehicle      *VehicleState `json:"vehicle,omitempty"`
	Air          *AirState     `json:"air,omitempty"`
}

// Clone returns a deep copy of d so callers can hold it without sharing the
// variant blocks with the registry.
func (d Device) Clone() Device {
	out := d
	if d.Vehicle != nil {
		v := *d.Vehicle
		out.Vehicle = &v
	}
	if d.Air != nil {
		a := *d.Air
		out.Air = &a
	}
	return out
}

// Active reports whether the device counts as active in fleet aggregates.
func (d Device) Active() bool {
	switch d.Status {
	case StatusOnline, StatusBusy, StatusIdle:
		return true
	}
	return false
}

// DefaultProfileID is the id of the implicit fallback weight profile.
const DefaultProfileID = "default"

// WeightProfile is the per-device multiplier set used to combine sub-scores.
type WeightProfile struct {
	DeviceID       string    `json:"device_id"`
	AccuracyWeight float64   `json:"accuracy_weight"`
	LatencyWeight  float64   `json:"latency_weight"`
	EnergyWeight   float64   `json:"energy_weight"`
	Description    string    `json:"description"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Score is the derived ALE result for one device.
type Score struct {
	DeviceID      string    `json:"device_id"`
	AccuracyScore float64   `json:"accuracy_score"`
	LatencyScore  float64   `json:"latency_score"`
	EnergyScore   float64   `json:"energy_score"`
	WeightedScore float64   `json:"weighted_score"`
	Grade         string    `json:"grade"`
	CalculatedAt  time.Time `json:"calculated_at"`
}

// FleetSnapshot is the cached aggregate view across all known devices.
type FleetSnapshot struct {
	ID                   string    `json:"id"`
	TotalDevices         int       `json:"total_devices"`
	ActiveDevices        int       `json:"active_devices"`
	AveragePerformance   float64   `json:"average_performance"`
	AverageBatteryHealth float64   `json:"average_battery_health"`
	Scores               []Score   `json:"scores"`
	GeneratedAt          time.Time `json:"generated_at"`
}
