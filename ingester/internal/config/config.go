package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetscore/fleetscore/pkg/tsdb"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort   = 9102
	DefaultBackoffMax = 60 * time.Second
	DefaultQueue      = "turtlebot.telemetry"
	DefaultPrefetch   = 20
	DefaultQoS        = 1
	DefaultOrg        = "keti"
	DefaultBucket     = "turtlebot"
	DefaultTSDBURL    = "http://influxdb:8086"
)

// Source types.
const (
	TypeKafka = "kafka"
	TypeAMQP  = "amqp"
	TypeMQTT  = "mqtt"
)

// Config holds the ingester configuration parsed from the `ingester:` section
// of config.yaml.
type Config struct {
	Ingester IngesterConfig `yaml:"ingester"`
}

// IngesterConfig holds all ingester-side settings.
type IngesterConfig struct {
	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// HTTPPort serves /metrics and /healthz.
	HTTPPort int `yaml:"http_port"`

	// BackoffMax caps the reconnect delay after a source failure.
	BackoffMax time.Duration `yaml:"backoff_max"`

	// Sources is the list of broker subscriptions to consume.
	Sources []Source `yaml:"sources"`

	// TSDB is the time-series store the pipeline writes to.
	TSDB tsdb.Config `yaml:"tsdb"`
}

// Source describes one broker subscription.
type Source struct {
	// ID is a unique, human-readable identifier used in logs and metrics.
	ID string `yaml:"id"`

	// Type is the broker type: kafka | amqp | mqtt.
	Type string `yaml:"type"`

	// Brokers lists broker addresses. kafka: host:port seeds; amqp: one
	// amqp:// URL; mqtt: tcp:// URLs.
	Brokers []string `yaml:"brokers"`

	// Topic is the kafka topic or mqtt topic filter.
	Topic string `yaml:"topic"`

	// GroupID is the kafka consumer group.
	GroupID string `yaml:"group_id"`

	// Queue is the amqp queue, declared durable.
	Queue string `yaml:"queue"`

	// Prefetch bounds unacknowledged amqp deliveries.
	Prefetch int `yaml:"prefetch"`

	// ClientID is the mqtt client identifier.
	ClientID string `yaml:"client_id"`

	// QoS is the mqtt subscription QoS (0, 1 or 2).
	QoS int `yaml:"qos"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig holds broker credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the broker password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// Level maps LogLevel to a slog.Level, defaulting to info.
func (c IngesterConfig) Level() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps debug|info|warn|error to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applySourceDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Ingester: IngesterConfig{
			HTTPPort:   DefaultHTTPPort,
			BackoffMax: DefaultBackoffMax,
			TSDB: tsdb.Config{
				Backend: "influx",
				URL:     DefaultTSDBURL,
				Org:     DefaultOrg,
				Bucket:  DefaultBucket,
			},
		},
	}
}

// applySourceDefaults fills per-source defaults that depend on the type.
func applySourceDefaults(cfg *Config) {
	for i := range cfg.Ingester.Sources {
		src := &cfg.Ingester.Sources[i]
		switch src.Type {
		case TypeAMQP:
			if src.Queue == "" {
				src.Queue = DefaultQueue
			}
			if src.Prefetch == 0 {
				src.Prefetch = DefaultPrefetch
			}
		case TypeMQTT:
			if src.QoS == 0 {
				src.QoS = DefaultQoS
			}
			if src.ClientID == "" {
				src.ClientID = "fleetscore-" + src.ID
			}
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	in := cfg.Ingester
	if in.HTTPPort <= 0 || in.HTTPPort > 65535 {
		return fmt.Errorf("ingester.http_port %d is out of range [1, 65535]", in.HTTPPort)
	}
	if in.BackoffMax <= 0 {
		return fmt.Errorf("ingester.backoff_max must be positive")
	}
	switch in.TSDB.Backend {
	case "influx", "memory":
	default:
		return fmt.Errorf("ingester.tsdb.backend %q unknown: want influx|memory", in.TSDB.Backend)
	}
	if len(in.Sources) == 0 {
		return fmt.Errorf("ingester.sources: at least one source is required")
	}
	seen := make(map[string]bool, len(in.Sources))
	for i, src := range in.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if len(src.Brokers) == 0 {
			return fmt.Errorf("sources[%d] %q: brokers is required", i, src.ID)
		}
		switch src.Type {
		case TypeKafka:
			if src.Topic == "" || src.GroupID == "" {
				return fmt.Errorf("sources[%d] %q: kafka needs topic and group_id", i, src.ID)
			}
		case TypeAMQP:
		case TypeMQTT:
			if src.Topic == "" {
				return fmt.Errorf("sources[%d] %q: mqtt needs topic", i, src.ID)
			}
			if src.QoS < 0 || src.QoS > 2 {
				return fmt.Errorf("sources[%d] %q: qos %d out of range [0, 2]", i, src.ID, src.QoS)
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
	}
	return nil
}
