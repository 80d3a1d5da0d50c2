package tsdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/fleetscore/fleetscore/pkg/types"
)

const defaultInfluxTimeout = 10 * time.Second

// Influx is a Store backed by an InfluxDB 2.x bucket. Writes are blocking so
// the caller learns about failures before acknowledging a message.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
}

// NewInflux connects to the bucket described by cfg. The token is read from
// the environment variable named by cfg.TokenEnv.
func NewInflux(cfg Config) (*Influx, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("tsdb: influx url is required")
	}
	if cfg.Bucket == "" || cfg.Org == "" {
		return nil, fmt.Errorf("tsdb: influx org and bucket are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultInfluxTimeout
	}
	var token string
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
	}

	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(timeout / time.Second))
	client := influxdb2.NewClientWithOptions(cfg.URL, token, opts)

	slog.Info("tsdb: influx client ready", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return &Influx{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
	}, nil
}

// WriteBattery writes one battery point.
func (s *Influx) WriteBattery(ctx context.Context, bot string, at time.Time, b types.Battery) error {
	p := influxdb2.NewPoint(MeasurementBattery,
		map[string]string{TagBot: bot},
		map[string]interface{}{
			"percentage": b.Percentage,
			"voltage":    b.Voltage,
			"wh":         b.Wh,
		},
		at)
	if err := s.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("tsdb: write battery %q: %w", bot, err)
	}
	return nil
}

// WritePose writes one pose point.
func (s *Influx) WritePose(ctx context.Context, bot string, at time.Time, pose types.Pose) error {
	p := influxdb2.NewPoint(MeasurementPose,
		map[string]string{TagBot: bot},
		map[string]interface{}{
			"x": pose.X,
			"y": pose.Y,
		},
		at)
	if err := s.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("tsdb: write pose %q: %w", bot, err)
	}
	return nil
}

// LatestBatteryWh runs a last() query on the battery wh field.
func (s *Influx) LatestBatteryWh(ctx context.Context, bot string, lookback time.Duration) (float64, error) {
	flux := fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s and r.%s == %s and r._field == "wh")
  |> last()`,
		fluxString(s.bucket), fluxDuration(lookback),
		fluxString(MeasurementBattery), TagBot, fluxString(bot))

	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("tsdb: latest battery %q: %w", bot, err)
	}
	defer res.Close()

	for res.Next() {
		if v, ok := toFloat(res.Record().Value()); ok {
			return v, nil
		}
	}
	if res.Err() != nil {
		return 0, fmt.Errorf("tsdb: latest battery %q: %w", bot, res.Err())
	}
	return 0, ErrNoData
}

// BatteryHistory returns pivoted battery rows for bot, oldest first.
func (s *Influx) BatteryHistory(ctx context.Context, bot string, lookback time.Duration) ([]BatteryPoint, error) {
	flux := fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %s and r.%s == %s)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])`,
		fluxString(s.bucket), fluxDuration(lookback),
		fluxString(MeasurementBattery), TagBot, fluxString(bot))

	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("tsdb: battery history %q: %w", bot, err)
	}
	defer res.Close()

	var out []BatteryPoint
	for res.Next() {
		rec := res.Record()
		pt := BatteryPoint{Bot: bot, Time: rec.Time().UTC()}
		pt.Percentage, _ = toFloat(rec.ValueByKey("percentage"))
		pt.Voltage, _ = toFloat(rec.ValueByKey("voltage"))
		pt.Wh, _ = toFloat(rec.ValueByKey("wh"))
		out = append(out, pt)
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("tsdb: battery history %q: %w", bot, res.Err())
	}
	return out, nil
}

// Bots lists distinct bot tag values with battery data in the window.
func (s *Influx) Bots(ctx context.Context, lookback time.Duration) ([]string, error) {
	flux := fmt.Sprintf(`import "influxdata/influxdb/schema"
schema.measurementTagValues(bucket: %s, measurement: %s, tag: %s, start: %s)`,
		fluxString(s.bucket), fluxString(MeasurementBattery), fluxString(TagBot), fluxDuration(lookback))

	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("tsdb: list bots: %w", err)
	}
	defer res.Close()

	var out []string
	for res.Next() {
		if v, ok := res.Record().Value().(string); ok && v != "" {
			out = append(out, v)
		}
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("tsdb: list bots: %w", res.Err())
	}
	sort.Strings(out)
	return out, nil
}

// Close releases the HTTP client.
func (s *Influx) Close() error {
	s.client.Close()
	return nil
}

// fluxString quotes v as a Flux string literal.
func fluxString(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// fluxDuration renders d as a negative relative range start in seconds.
func fluxDuration(d time.Duration) string {
	if d <= 0 {
		d = 30 * time.Minute
	}
	return fmt.Sprintf("-%ds", int64(d/time.Second))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
