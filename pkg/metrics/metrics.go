// Package metrics holds the Prometheus collectors shared by the ingester and
// the analysis server, plus helpers that read gathered families back as plain
// numbers for health endpoints and tests.
package metrics

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "fleetscore"

// Message outcomes recorded by the ingestion pipeline.
const (
	OutcomeAck     = "ack"
	OutcomeReject  = "reject"
	OutcomeRequeue = "requeue"
)

// Ingester groups the ingestion pipeline collectors.
type Ingester struct {
	Messages    *prometheus.CounterVec
	StoreErrors *prometheus.CounterVec
	Reconnects  *prometheus.CounterVec
}

// NewIngester registers the ingestion collectors on reg.
func NewIngester(reg prometheus.Registerer) *Ingester {
	m := &Ingester{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingester",
			Name:      "messages_total",
			Help:      "Telemetry messages handled, by source and outcome.",
		}, []string{"source", "outcome"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingester",
			Name:      "store_write_errors_total",
			Help:      "Failed time-series writes, by measurement.",
		}, []string{"measurement"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingester",
			Name:      "source_reconnects_total",
			Help:      "Broker source reconnect attempts.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.Messages, m.StoreErrors, m.Reconnects)
	return m
}

// Server groups the analysis server collectors.
type Server struct {
	ScoresComputed prometheus.Counter
	ScoreFailures  prometheus.Counter
	RefreshSeconds prometheus.Histogram
	Devices        prometheus.Gauge
	ActiveDevices  prometheus.Gauge
	AvgPerformance prometheus.Gauge
	AlertsFired    *prometheus.CounterVec
}

// NewServer registers the analysis server collectors on reg.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		ScoresComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring",
			Name: "scores_computed_total", Help: "Device scores computed.",
		}),
		ScoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring",
			Name: "score_failures_total", Help: "Device score computations that failed.",
		}),
		RefreshSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "fleet",
			Name: "refresh_duration_seconds", Help: "Duration of fleet refresh cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fleet",
			Name: "devices", Help: "Devices known to the registry.",
		}),
		ActiveDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fleet",
			Name: "active_devices", Help: "Devices with status online, busy or idle.",
		}),
		AvgPerformance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fleet",
			Name: "average_performance", Help: "Mean weighted score of the last snapshot.",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alerts",
			Name: "fired_total", Help: "Alerts fired, by severity.",
		}, []string{"severity"}),
	}
	reg.MustRegister(m.ScoresComputed, m.ScoreFailures, m.RefreshSeconds,
		m.Devices, m.ActiveDevices, m.AvgPerformance, m.AlertsFired)
	return m
}

// Handler serves the text exposition for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Values gathers g and returns one summed value per family name.
func Values(g prometheus.Gatherer) (map[string]float64, error) {
	mfs, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}
	out := make(map[string]float64, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = SumFamily(mf)
	}
	return out, nil
}

// ParseText decodes a Prometheus text exposition into metric families.
// A partial result with a non-fatal parse warning is still returned.
func ParseText(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("metrics: parse text: %w", err)
	}
	return mfs, nil
}

// SumFamily adds up every counter, gauge or untyped sample in mf; histograms
// contribute their sample count. Returns 0 for a nil family.
func SumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		case m.Histogram != nil:
			total += float64(m.Histogram.GetSampleCount())
		}
	}
	return total
}
