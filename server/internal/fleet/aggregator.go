package fleet

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetscore/fleetscore/pkg/metrics"
	"github.com/fleetscore/fleetscore/pkg/tsdb"
	"github.com/fleetscore/fleetscore/pkg/types"
	"github.com/fleetscore/fleetscore/server/internal/cache"
	"github.com/fleetscore/fleetscore/server/internal/config"
	"github.com/fleetscore/fleetscore/server/internal/registry"
	"github.com/fleetscore/fleetscore/server/internal/scoring"
)

const snapshotKey = "fleet"

// RefreshReport lists what one refresh did to the registry.
type RefreshReport struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	Failed  []string `json:"failed"`
}

// Observer is called after every snapshot rebuild with the snapshot and the
// device states it was computed from.
type Observer func(snap types.FleetSnapshot, devices []types.Device)

// Aggregator owns the refresh cycle and the snapshot caches.
type Aggregator struct {
	store    tsdb.Reader
	registry *registry.Registry
	engine   *scoring.Engine
	metrics  *metrics.Server

	snapshots *cache.Cache[types.FleetSnapshot]
	scores    *cache.Cache[types.Score]

	cfgMu sync.RWMutex
	cfg   config.FleetConfig

	// refreshMu serialises refreshes so two callers never interleave writes.
	refreshMu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer

	now   func() time.Time
	newID func() string
}

// New builds an Aggregator. m may be nil.
func New(cfg config.FleetConfig, store tsdb.Reader, reg *registry.Registry, engine *scoring.Engine, m *metrics.Server) *Aggregator {
	if cfg.Freshness <= 0 {
		cfg.Freshness = config.DefaultFreshness
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = config.DefaultRefreshInterval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = config.DefaultLookback
	}
	return &Aggregator{
		store:     store,
		registry:  reg,
		engine:    engine,
		metrics:   m,
		snapshots: cache.New[types.FleetSnapshot]("snapshot", cfg.Freshness),
		scores:    cache.New[types.Score]("scores", cfg.Freshness),
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetClock replaces the clock used for timestamps and cache freshness.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
	a.snapshots.SetClock(now)
	a.scores.SetClock(now)
}

// Reconfigure applies a reloaded bot list and location table. Interval and
// freshness changes need a restart.
func (a *Aggregator) Reconfigure(cfg config.FleetConfig) {
	a.cfgMu.Lock()
	a.cfg.Bots = cfg.Bots
	a.cfg.Locations = cfg.Locations
	if cfg.Lookback > 0 {
		a.cfg.Lookback = cfg.Lookback
	}
	a.cfgMu.Unlock()
}

// Subscribe registers fn to run after every snapshot rebuild.
func (a *Aggregator) Subscribe(fn Observer) {
	a.obsMu.Lock()
	a.observers = append(a.observers, fn)
	a.obsMu.Unlock()
}

func (a *Aggregator) settings() config.FleetConfig {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// Run refreshes immediately and then on every interval tick until ctx is
// cancelled. Ticks missed during a slow refresh are dropped.
func (a *Aggregator) Run(ctx context.Context) {
	interval := a.settings().RefreshInterval
	slog.Info("fleet: aggregator started", "interval", interval)

	a.Refresh(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("fleet: aggregator stopped")
			return
		case <-t.C:
			a.Refresh(ctx)
		}
	}
}

// Refresh reconciles every known bot with its latest stored battery energy,
// then rebuilds and caches the fleet snapshot.
func (a *Aggregator) Refresh(ctx context.Context) RefreshReport {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	start := a.now()
	cfg := a.settings()
	report := RefreshReport{Created: []string{}, Updated: []string{}, Failed: []string{}}

	for _, id := range a.knownBots(ctx, cfg) {
		if ctx.Err() != nil {
			break
		}
		wh, err := a.store.LatestBatteryWh(ctx, id, cfg.Lookback)
		switch {
		case errors.Is(err, tsdb.ErrNoData):
			wh = 0
		case err != nil:
			slog.Warn("fleet: battery read failed", "device", id, "err", err)
			report.Failed = append(report.Failed, id)
			continue
		}

		created := false
		if !a.registry.Exists(id) {
			a.registry.CreateFromClassInfo(id, registry.Classify(id), cfg.Location(id))
			created = true
		}
		if err := a.registry.UpdateFromTelemetry(id, wh); err != nil {
			slog.Warn("fleet: update failed", "device", id, "err", err)
			report.Failed = append(report.Failed, id)
			continue
		}
		if created {
			report.Created = append(report.Created, id)
		} else {
			report.Updated = append(report.Updated, id)
		}
	}

	snap := a.rebuild()
	if a.metrics != nil {
		a.metrics.RefreshSeconds.Observe(a.now().Sub(start).Seconds())
	}
	slog.Info("fleet: refreshed",
		"created", len(report.Created), "updated", len(report.Updated), "failed", len(report.Failed),
		"devices", snap.TotalDevices, "avg_performance", snap.AveragePerformance)
	return report
}

// knownBots returns the sorted union of configured, registered and stored bots.
func (a *Aggregator) knownBots(ctx context.Context, cfg config.FleetConfig) []string {
	set := make(map[string]struct{})
	for _, id := range cfg.Bots {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	for _, id := range a.registry.IDs() {
		set[id] = struct{}{}
	}
	stored, err := a.store.Bots(ctx, cfg.Lookback)
	if err != nil {
		slog.Warn("fleet: bot discovery failed", "err", err)
	}
	for _, id := range stored {
		if id != "" {
			set[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// rebuild scores every registered device and caches the resulting snapshot.
func (a *Aggregator) rebuild() types.FleetSnapshot {
	devices := a.registry.List()
	states := make(map[string]*types.Device, len(devices))
	ids := make([]string, 0, len(devices))
	for i := range devices {
		states[devices[i].ID] = &devices[i]
		ids = append(ids, devices[i].ID)
	}

	res := a.engine.ScoreDevices(ids, states)
	for _, s := range res.Scores {
		a.scores.Put(s.DeviceID, s)
	}

	snap := types.FleetSnapshot{
		ID:           a.newID(),
		TotalDevices: len(devices),
		Scores:       res.Scores,
		GeneratedAt:  a.now().UTC(),
	}
	var battery float64
	for _, d := range devices {
		if d.Active() {
			snap.ActiveDevices++
		}
		battery += d.BatteryLevel
	}
	if len(devices) > 0 {
		snap.AverageBatteryHealth = round2(battery / float64(len(devices)))
	}
	if len(res.Scores) > 0 {
		var total float64
		for _, s := range res.Scores {
			total += s.WeightedScore
		}
		snap.AveragePerformance = round2(total / float64(len(res.Scores)))
	}

	a.snapshots.Put(snapshotKey, snap)
	if a.metrics != nil {
		a.metrics.Devices.Set(float64(snap.TotalDevices))
		a.metrics.ActiveDevices.Set(float64(snap.ActiveDevices))
		a.metrics.AvgPerformance.Set(snap.AveragePerformance)
	}

	a.obsMu.RLock()
	observers := a.observers
	a.obsMu.RUnlock()
	for _, fn := range observers {
		fn(snap, devices)
	}
	return snap
}

// Snapshot returns the cached snapshot, refreshing synchronously when it is
// missing or older than the freshness window.
func (a *Aggregator) Snapshot(ctx context.Context) types.FleetSnapshot {
	if snap, ok := a.snapshots.Fresh(snapshotKey); ok {
		return snap
	}
	a.Refresh(ctx)
	snap, _ := a.snapshots.Get(snapshotKey)
	return snap.Value
}

// Rescore rebuilds the snapshot from current registry state without reading
// the store. Used after weight or status changes.
func (a *Aggregator) Rescore() types.FleetSnapshot {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	return a.rebuild()
}

// DeviceScore returns the cached score for id, computing and caching it when
// absent or stale.
func (a *Aggregator) DeviceScore(_ context.Context, id string) (types.Score, error) {
	if s, ok := a.scores.Fresh(id); ok {
		return s, nil
	}
	s, err := a.engine.ScoreDevice(id, nil)
	if err != nil {
		return types.Score{}, err
	}
	a.scores.Put(id, s)
	return s, nil
}

// InvalidateScore drops the cached score for id; an empty id drops all.
func (a *Aggregator) InvalidateScore(id string) {
	if id == "" {
		a.scores.Evict(a.now().Add(a.scores.TTL()))
		return
	}
	a.scores.Delete(id)
}

// BatteryHistory returns the stored battery points of id over the last hours.
func (a *Aggregator) BatteryHistory(ctx context.Context, id string, hours int) ([]tsdb.BatteryPoint, error) {
	if hours <= 0 {
		hours = 1
	}
	return a.store.BatteryHistory(ctx, id, time.Duration(hours)*time.Hour)
}

// RunEviction evicts expired cache entries until ctx is cancelled.
func (a *Aggregator) RunEviction(ctx context.Context) {
	go a.scores.Run(ctx)
	a.snapshots.Run(ctx)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
