package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fleetscore/fleetscore/pkg/metrics"
	"github.com/fleetscore/fleetscore/pkg/types"
)

// ErrScore marks a device whose score could not be computed.
var ErrScore = errors.New("scoring: cannot score device")

// Devices is the read side of the device registry.
type Devices interface {
	Get(id string) (types.Device, bool)
	IDs() []string
}

// Weights resolves the weight profile for a device.
type Weights interface {
	Get(id string) types.WeightProfile
}

// BatchResult is the outcome of scoring several devices.
type BatchResult struct {
	Scores    []types.Score `json:"scores"`
	FailedIDs []string      `json:"failed_ids"`
}

// Engine scores devices. All methods are safe for concurrent use as long as
// the Devices, Weights and Strategy it was built with are.
type Engine struct {
	devices  Devices
	weights  Weights
	strategy Strategy
	metrics  *metrics.Server
	now      func() time.Time
}

// NewEngine builds an Engine. A nil strategy selects JitterStrategy.
func NewEngine(devices Devices, weights Weights, strategy Strategy) *Engine {
	if strategy == nil {
		strategy = JitterStrategy{}
	}
	return &Engine{
		devices:  devices,
		weights:  weights,
		strategy: strategy,
		now:      time.Now,
	}
}

// SetMetrics enables score counters.
func (e *Engine) SetMetrics(m *metrics.Server) { e.metrics = m }

// ScoreDevice scores id. A nil state is looked up in the registry; a device
// the registry does not know is scored from base values without error.
func (e *Engine) ScoreDevice(id string, state *types.Device) (score types.Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w %q: %v", ErrScore, id, r)
		}
		e.count(err)
	}()

	if id == "" {
		return types.Score{}, fmt.Errorf("%w: empty device id", ErrScore)
	}

	if state == nil {
		if d, ok := e.devices.Get(id); ok {
			state = &d
		}
	}

	sub := e.strategy.SubScores(id, state)
	w := e.weights.Get(id)
	weighted := Weighted(sub, w)
	if math.IsNaN(weighted) || math.IsInf(weighted, 0) {
		return types.Score{}, fmt.Errorf("%w %q: non-finite weighted score", ErrScore, id)
	}

	return types.Score{
		DeviceID:      id,
		AccuracyScore: sub.Accuracy,
		LatencyScore:  sub.Latency,
		EnergyScore:   sub.Energy,
		WeightedScore: weighted,
		Grade:         Grade(weighted),
		CalculatedAt:  e.now().UTC(),
	}, nil
}

// ScoreDevices scores every id independently. States supplied in states
// override registry lookups. An empty ids slice scores all registered devices.
func (e *Engine) ScoreDevices(ids []string, states map[string]*types.Device) BatchResult {
	if len(ids) == 0 {
		ids = e.devices.IDs()
	}

	res := BatchResult{
		Scores:    make([]types.Score, 0, len(ids)),
		FailedIDs: []string{},
	}
	for _, id := range ids {
		s, err := e.ScoreDevice(id, states[id])
		if err != nil {
			slog.Warn("scoring: device failed in batch", "device", id, "err", err)
			res.FailedIDs = append(res.FailedIDs, id)
			continue
		}
		res.Scores = append(res.Scores, s)
	}
	return res
}

func (e *Engine) count(err error) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		e.metrics.ScoreFailures.Inc()
		return
	}
	e.metrics.ScoresComputed.Inc()
}
