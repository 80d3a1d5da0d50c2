package tsdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fleetscore/fleetscore/pkg/types"
)

type posePoint struct {
	at time.Time
	p  types.Pose
}

// Memory is an in-process Store. Points are kept per bot in write order;
// reads filter by the lookback window relative to the injected clock.
type Memory struct {
	mu      sync.RWMutex
	battery map[string][]BatteryPoint
	pose    map[string][]posePoint

	now func() time.Time
}

// NewMemory returns an empty Memory store using the wall clock.
func NewMemory() *Memory {
	return &Memory{
		battery: make(map[string][]BatteryPoint),
		pose:    make(map[string][]posePoint),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for lookback windows.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) WriteBattery(ctx context.Context, bot string, at time.Time, b types.Battery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.battery[bot] = append(m.battery[bot], BatteryPoint{
		Bot:        bot,
		Time:       at.UTC(),
		Percentage: b.Percentage,
		Voltage:    b.Voltage,
		Wh:         b.Wh,
	})
	return nil
}

func (m *Memory) WritePose(ctx context.Context, bot string, at time.Time, p types.Pose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pose[bot] = append(m.pose[bot], posePoint{at: at.UTC(), p: p})
	return nil
}

// LatestBatteryWh returns the wh of the newest point inside the window.
func (m *Memory) LatestBatteryWh(_ context.Context, bot string, lookback time.Duration) (float64, error) {
	pts := m.window(bot, lookback)
	if len(pts) == 0 {
		return 0, ErrNoData
	}
	return pts[len(pts)-1].Wh, nil
}

func (m *Memory) BatteryHistory(_ context.Context, bot string, lookback time.Duration) ([]BatteryPoint, error) {
	return m.window(bot, lookback), nil
}

func (m *Memory) Bots(_ context.Context, lookback time.Duration) ([]string, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.battery))
	for id := range m.battery {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := ids[:0]
	for _, id := range ids {
		if len(m.window(id, lookback)) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// PoseCount reports how many pose points were written for bot.
func (m *Memory) PoseCount(bot string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pose[bot])
}

func (m *Memory) Close() error { return nil }

// window returns a sorted copy of bot's battery points newer than now-lookback.
func (m *Memory) window(bot string, lookback time.Duration) []BatteryPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-lookback)
	var out []BatteryPoint
	for _, p := range m.battery[bot] {
		if lookback > 0 && p.Time.Before(cutoff) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
