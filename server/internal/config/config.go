package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetscore/fleetscore/pkg/tsdb"
	"github.com/fleetscore/fleetscore/pkg/types"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition over a device score.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key
	// together with the device id.
	Name string `yaml:"name"`

	// Condition is a simple expression: "weighted_score < 60", "grade == F",
	// "battery_level < 20", "status == offline".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultRefreshInterval = 60 * time.Second
	DefaultFreshness       = 5 * time.Minute
	DefaultLookback        = 30 * time.Minute
	DefaultStreamInterval  = 5 * time.Second
	DefaultMongoDatabase   = "fleetscore"
	DefaultMongoCollection = "weight_profiles"
)

// DefaultLocations places the lab's known bots.
func DefaultLocations() map[string]string {
	return map[string]string{
		"TURTLEBOT3-Burger-1": "Lab-A",
		"TURTLEBOT3-Burger-2": "Lab-B",
		"TURTLEBOT3-Waffle-1": "Office",
	}
}

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	HTTPPort int    `yaml:"http_port"`
	LogLevel string `yaml:"log_level"`

	// Auth configures how the server authenticates REST clients.
	Auth AuthConfig `yaml:"auth"`

	// TSDB is the time-series store the fleet aggregator reads.
	TSDB tsdb.Config `yaml:"tsdb"`

	Fleet   FleetConfig   `yaml:"fleet"`
	Weights WeightsConfig `yaml:"weights"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`

	Stream StreamConfig `yaml:"stream"`
}

// AuthConfig controls client authentication on the REST API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// FleetConfig controls the aggregator.
type FleetConfig struct {
	// Bots are always refreshed, in addition to registry and store-discovered ids.
	Bots []string `yaml:"bots"`

	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// Freshness bounds the age of a cached snapshot or device score.
	Freshness time.Duration `yaml:"freshness"`

	// Lookback bounds the window for latest-value store reads.
	Lookback time.Duration `yaml:"lookback"`

	// Locations maps bot id to a location label; unknown bots get "Unknown".
	Locations map[string]string `yaml:"locations"`
}

// Location returns the configured location for id, or "Unknown".
func (f FleetConfig) Location(id string) string {
	if loc, ok := f.Locations[id]; ok && loc != "" {
		return loc
	}
	return "Unknown"
}

// WeightsConfig selects where weight profiles live.
type WeightsConfig struct {
	// Backend is one of: memory | mongo.
	Backend string `yaml:"backend"`

	Mongo MongoConfig `yaml:"mongo"`

	// Profiles are applied at startup and on every config reload.
	Profiles []WeightProfile `yaml:"profiles"`
}

// MongoConfig locates the weight profile collection.
type MongoConfig struct {
	URIEnv     string `yaml:"uri_env"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// URI returns the connection string resolved from the environment.
func (m MongoConfig) URI() string {
	if m.URIEnv == "" {
		return ""
	}
	return os.Getenv(m.URIEnv)
}

// WeightProfile is one seeded profile.
type WeightProfile struct {
	DeviceID    string  `yaml:"device_id"`
	Accuracy    float64 `yaml:"accuracy"`
	Latency     float64 `yaml:"latency"`
	Energy      float64 `yaml:"energy"`
	Description string  `yaml:"description"`
}

// DomainProfiles converts the seeded profiles to domain values.
func (w WeightsConfig) DomainProfiles() []types.WeightProfile {
	out := make([]types.WeightProfile, 0, len(w.Profiles))
	for _, p := range w.Profiles {
		out = append(out, types.WeightProfile{
			DeviceID:       p.DeviceID,
			AccuracyWeight: p.Accuracy,
			LatencyWeight:  p.Latency,
			EnergyWeight:   p.Energy,
			Description:    p.Description,
		})
	}
	return out
}

// StreamConfig controls the WebSocket broadcast.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Level maps LogLevel to a slog.Level, defaulting to info.
func (s ServerConfig) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	if cfg.Server.Fleet.Locations == nil {
		cfg.Server.Fleet.Locations = DefaultLocations()
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			TSDB: tsdb.Config{
				Backend: "influx",
				URL:     "http://influxdb:8086",
				Org:     "keti",
				Bucket:  "turtlebot",
			},
			Fleet: FleetConfig{
				RefreshInterval: DefaultRefreshInterval,
				Freshness:       DefaultFreshness,
				Lookback:        DefaultLookback,
			},
			Weights: WeightsConfig{
				Backend: "memory",
				Mongo: MongoConfig{
					Database:   DefaultMongoDatabase,
					Collection: DefaultMongoCollection,
				},
			},
			Stream: StreamConfig{Interval: DefaultStreamInterval},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	switch s.TSDB.Backend {
	case "influx", "memory":
	default:
		return fmt.Errorf("server.tsdb.backend %q unknown: want influx|memory", s.TSDB.Backend)
	}
	if s.Fleet.RefreshInterval <= 0 {
		return fmt.Errorf("server.fleet.refresh_interval must be positive")
	}
	if s.Fleet.Freshness <= 0 {
		return fmt.Errorf("server.fleet.freshness must be positive")
	}
	if s.Fleet.Lookback <= 0 {
		return fmt.Errorf("server.fleet.lookback must be positive")
	}
	switch s.Weights.Backend {
	case "memory":
	case "mongo":
		if s.Weights.Mongo.URIEnv == "" {
			return fmt.Errorf("server.weights.mongo.uri_env is required for the mongo backend")
		}
	default:
		return fmt.Errorf("server.weights.backend %q unknown: want memory|mongo", s.Weights.Backend)
	}
	for i, p := range s.Weights.Profiles {
		for _, w := range []float64{p.Accuracy, p.Latency, p.Energy} {
			if w < 0 || w > 1 {
				return fmt.Errorf("server.weights.profiles[%d] %q: weights must be within [0, 1]", i, p.DeviceID)
			}
		}
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name and condition are required", i)
		}
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	return nil
}
