// Package tsdb is the time-series store boundary shared by the ingester and
// the analysis server. Two measurements are kept per bot, both tagged "bot":
//
//	battery{percentage, voltage, wh}
//	pose{x, y}
//
// Influx talks to an InfluxDB 2.x bucket; Memory is an in-process store used
// by tests and single-node development setups.
package tsdb

import (
	"context"
	"errors"
	"time"

	"github.com/fleetscore/fleetscore/pkg/types"
)

// Measurement and tag names.
const (
	MeasurementBattery = "battery"
	MeasurementPose    = "pose"
	TagBot             = "bot"
)

// ErrNoData is returned by reads that found no point inside the lookback window.
var ErrNoData = errors.New("tsdb: no data in window")

// BatteryPoint is one historical battery reading.
type BatteryPoint struct {
	Bot        string    `json:"bot"`
	Time       time.Time `json:"timestamp"`
	Percentage float64   `json:"percentage"`
	Voltage    float64   `json:"voltage"`
	Wh         float64   `json:"wh"`
}

// Writer persists derived telemetry facts.
type Writer interface {
	WriteBattery(ctx context.Context, bot string, at time.Time, b types.Battery) error
	WritePose(ctx context.Context, bot string, at time.Time, p types.Pose) error
}

// Reader queries derived telemetry facts over a bounded lookback window.
type Reader interface {
	// LatestBatteryWh returns the most recent battery wh value for bot written
	// within lookback, or ErrNoData.
	LatestBatteryWh(ctx context.Context, bot string, lookback time.Duration) (float64, error)

	// BatteryHistory returns battery points for bot within lookback, oldest first.
	BatteryHistory(ctx context.Context, bot string, lookback time.Duration) ([]BatteryPoint, error)

	// Bots lists the bot tags that have battery data within lookback.
	Bots(ctx context.Context, lookback time.Duration) ([]string, error)
}

// Store is a Writer and Reader that owns a connection.
type Store interface {
	Writer
	Reader
	Close() error
}

// Config selects and configures a Store implementation.
type Config struct {
	// Backend is one of: influx | memory.
	Backend string `yaml:"backend"`

	URL      string        `yaml:"url"`
	TokenEnv string        `yaml:"token_env"`
	Org      string        `yaml:"org"`
	Bucket   string        `yaml:"bucket"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Open returns the Store selected by cfg.Backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil
	case "influx", "":
		return NewInflux(cfg)
	default:
		return nil, errors.New("tsdb: unknown backend " + cfg.Backend)
	}
}

// BatteryLevel maps a raw wh reading to the coarse level shown in store views.
func BatteryLevel(wh float64) string {
	switch {
	case wh > 400:
		return "high"
	case wh > 300:
		return "medium"
	case wh > 200:
		return "low"
	default:
		return "critical"
	}
}
