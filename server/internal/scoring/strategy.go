package scoring

import (
	"hash/fnv"
	"math"

	"github.com/fleetscore/fleetscore/pkg/types"
)

// SubScores are the three ALE criteria, each in [0, 100].
type SubScores struct {
	Accuracy float64 `json:"accuracy"`
	Latency  float64 `json:"latency"`
	Energy   float64 `json:"energy"`
}

// Strategy produces sub-scores for a device. state is nil when the device
// is unknown to the registry.
type Strategy interface {
	SubScores(id string, state *types.Device) SubScores
}

// Base values before jitter and state adjustments.
const (
	baseAccuracy = 85.0
	baseLatency  = 75.0
	baseEnergy   = 70.0
)

// JitterStrategy applies fixed state rules on top of a per-id jitter:
//
//	accuracy = 85 + (h%20 - 10)  -15 if battery<20, +5 if battery>80
//	latency  = 75 + (h%30 - 15)  0 if offline, -20 if busy, +10 if idle
//	energy   = 70 + (h%25 - 12)  +15 if battery>90, -20 if battery<20,
//	                             +5 if wh>450, -10 if wh<300
//
// where h is the FNV-1a hash of the id. Each value is clamped to [0, 100]
// and rounded to two decimals.
type JitterStrategy struct{}

// SubScores implements Strategy.
func (JitterStrategy) SubScores(id string, state *types.Device) SubScores {
	h := hashID(id)
	acc := baseAccuracy + float64(h%20) - 10
	lat := baseLatency + float64(h%30) - 15
	eng := baseEnergy + float64(h%25) - 12

	if state != nil {
		battery := state.BatteryLevel
		switch {
		case battery < 20:
			acc -= 15
		case battery > 80:
			acc += 5
		}

		switch state.Status {
		case types.StatusOffline:
			lat = 0
		case types.StatusBusy:
			lat -= 20
		case types.StatusIdle:
			lat += 10
		}

		switch {
		case battery > 90:
			eng += 15
		case battery < 20:
			eng -= 20
		}
		switch {
		case state.BatteryWh > 450:
			eng += 5
		case state.BatteryWh < 300:
			eng -= 10
		}
	}

	return SubScores{
		Accuracy: round2(clamp(acc, 0, 100)),
		Latency:  round2(clamp(lat, 0, 100)),
		Energy:   round2(clamp(eng, 0, 100)),
	}
}

func hashID(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
