package api

import (
	"github.com/fleetscore/fleetscore/pkg/tsdb"
	"github.com/fleetscore/fleetscore/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State              string  `json:"state"`
	AveragePerformance float64 `json:"average_performance"`
	DeviceCount        int     `json:"device_count"`
	ActiveCount        int     `json:"active_count"`
	AlertCount         int     `json:"alert_count"`
	SnapshotID         string  `json:"snapshot_id"`
	GeneratedAt        string  `json:"generated_at"` // RFC3339
}

// BatteryReport is the payload for GET /api/v1/devices/{id}/battery.
type BatteryReport struct {
	DeviceID              string            `json:"device_id"`
	Class                 types.DeviceClass `json:"class"`
	Status                string            `json:"status"`
	BatteryLevel          float64           `json:"battery_level"`
	BatteryWh             float64           `json:"battery_wh"`
	StoreLevel            string            `json:"store_level"`
	Health                string            `json:"health"`
	EstimatedRuntimeHours float64           `json:"estimated_runtime_hours"`
	Hints                 []DiagnosticHint  `json:"hints"`
}

// HistoryResponse is the payload for GET /api/v1/devices/{id}/history.
type HistoryResponse struct {
	DeviceID string              `json:"device_id"`
	Hours    int                 `json:"hours"`
	Level    string              `json:"level"`
	Points   []tsdb.BatteryPoint `json:"points"`
}

// StatusRequest is the body of PUT /api/v1/devices/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// BatchScoreRequest is the body of POST /api/v1/scores. Empty DeviceIDs scores
// every registered device; States override registry lookups.
type BatchScoreRequest struct {
	DeviceIDs []string                 `json:"device_ids"`
	States    map[string]*types.Device `json:"states"`
}

// WeightRequest is the body of PUT /api/v1/weights/{id}.
type WeightRequest struct {
	AccuracyWeight *float64 `json:"accuracy_weight"`
	LatencyWeight  *float64 `json:"latency_weight"`
	EnergyWeight   *float64 `json:"energy_weight"`
	Description    string   `json:"description"`
}

// WeightQueryRequest is the body of POST /api/v1/weights/query.
type WeightQueryRequest struct {
	DeviceIDs []string `json:"device_ids"`
}

// WeightQueryResponse pairs the resolved profiles with the ids that fell back
// to the default profile.
type WeightQueryResponse struct {
	Profiles       []types.WeightProfile `json:"profiles"`
	DefaultApplied []string              `json:"default_applied"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
