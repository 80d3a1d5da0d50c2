package weights

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fleetscore/fleetscore/pkg/types"
)

// Default weights.
const (
	DefaultAccuracy = 0.4
	DefaultLatency  = 0.3
	DefaultEnergy   = 0.3
)

// ValidationError reports a weight outside [0, 1].
type ValidationError struct {
	DeviceID string
	Field    string
	Value    float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("weights: %s for %q is %v, must be within [0, 1]", e.Field, e.DeviceID, e.Value)
}

// Store persists weight profiles.
type Store interface {
	Load(ctx context.Context) ([]types.WeightProfile, error)
	Save(ctx context.Context, p types.WeightProfile) error
}

// Manager is the single owner of weight profile state.
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]types.WeightProfile
	store    Store
	now      func() time.Time
}

// NewManager returns a Manager holding only the default profile. store may be nil.
func NewManager(store Store) *Manager {
	m := &Manager{
		profiles: make(map[string]types.WeightProfile),
		store:    store,
		now:      time.Now,
	}
	m.profiles[types.DefaultProfileID] = types.WeightProfile{
		DeviceID:       types.DefaultProfileID,
		AccuracyWeight: DefaultAccuracy,
		LatencyWeight:  DefaultLatency,
		EnergyWeight:   DefaultEnergy,
		Description:    "default ALE weight",
		LastUpdated:    m.now(),
	}
	return m
}

// Load replaces in-memory profiles with those read from the store. Invalid
// stored profiles are skipped with a warning.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	stored, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("weights: load: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range stored {
		if err := validate(p.DeviceID, p.AccuracyWeight, p.LatencyWeight, p.EnergyWeight); err != nil {
			slog.Warn("weights: skipping stored profile", "device", p.DeviceID, "err", err)
			continue
		}
		m.profiles[p.DeviceID] = p
	}
	slog.Info("weights: profiles loaded", "count", len(stored))
	return nil
}

// Get returns the profile for id. An empty id means the default profile; an
// unknown id yields a copy of the default carrying id.
func (m *Manager) Get(id string) types.WeightProfile {
	p, _ := m.lookup(id)
	return p
}

func (m *Manager) lookup(id string) (types.WeightProfile, bool) {
	if id == "" {
		id = types.DefaultProfileID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.profiles[id]; ok {
		return p, true
	}
	p := m.profiles[types.DefaultProfileID]
	p.DeviceID = id
	return p, false
}

// Set replaces the weights of id. Nothing changes when validation or
// persistence fails.
func (m *Manager) Set(ctx context.Context, id string, accuracy, latency, energy float64, desc string) (types.WeightProfile, error) {
	if id == "" {
		id = types.DefaultProfileID
	}
	if err := validate(id, accuracy, latency, energy); err != nil {
		return types.WeightProfile{}, err
	}
	if desc == "" {
		desc = id + " ALE weight"
	}

	p := types.WeightProfile{
		DeviceID:       id,
		AccuracyWeight: accuracy,
		LatencyWeight:  latency,
		EnergyWeight:   energy,
		Description:    desc,
		LastUpdated:    m.now(),
	}

	// Holding the lock across Save keeps memory and store in the same order.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		if err := m.store.Save(ctx, p); err != nil {
			return types.WeightProfile{}, fmt.Errorf("weights: persist %q: %w", id, err)
		}
	}
	m.profiles[id] = p

	slog.Info("weights: profile set", "device", id,
		"accuracy", accuracy, "latency", latency, "energy", energy)
	return p, nil
}

// All returns every stored profile, including the default, sorted by id.
func (m *Manager) All() []types.WeightProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.WeightProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// ForDevices returns one profile per id, in order, and the ids that fell back
// to the default profile.
func (m *Manager) ForDevices(ids []string) (profiles []types.WeightProfile, defaultApplied []string) {
	profiles = make([]types.WeightProfile, 0, len(ids))
	for _, id := range ids {
		p, ok := m.lookup(id)
		if !ok {
			defaultApplied = append(defaultApplied, id)
		}
		profiles = append(profiles, p)
	}
	return profiles, defaultApplied
}

// Seed applies profiles from configuration. Invalid entries are logged and
// skipped; the rest are applied.
func (m *Manager) Seed(ctx context.Context, profiles []types.WeightProfile) int {
	applied := 0
	for _, p := range profiles {
		if _, err := m.Set(ctx, p.DeviceID, p.AccuracyWeight, p.LatencyWeight, p.EnergyWeight, p.Description); err != nil {
			slog.Warn("weights: seed profile rejected", "device", p.DeviceID, "err", err)
			continue
		}
		applied++
	}
	return applied
}

func validate(id string, accuracy, latency, energy float64) error {
	fields := []struct {
		name string
		v    float64
	}{
		{"accuracy_weight", accuracy},
		{"latency_weight", latency},
		{"energy_weight", energy},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return &ValidationError{DeviceID: id, Field: f.name, Value: f.v}
		}
	}
	// Weights are not required to sum to 1.
	return nil
}
