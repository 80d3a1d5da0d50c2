package weights

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/fleetscore/fleetscore/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(store Store) *Manager {
	m := NewManager(store)
	m.now = func() time.Time { return t0 }
	return m
}

// memStore is an in-memory Store that can be told to fail.
type memStore struct {
	mu    sync.Mutex
	saved map[string]types.WeightProfile
	fail  bool
}

func newMemStore() *memStore { return &memStore{saved: make(map[string]types.WeightProfile)} }

func (s *memStore) Load(context.Context) ([]types.WeightProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.WeightProfile
	for _, p := range s.saved {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, p types.WeightProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("mongo unavailable")
	}
	s.saved[p.DeviceID] = p
	return nil
}

func TestDefaultProfile(t *testing.T) {
	m := newTestManager(nil)
	p := m.Get(types.DefaultProfileID)
	if p.AccuracyWeight != 0.4 || p.LatencyWeight != 0.3 || p.EnergyWeight != 0.3 {
		t.Errorf("default weights: got %+v", p)
	}
}

func TestGet_FallbackSubstitutesID(t *testing.T) {
	m := newTestManager(nil)
	for _, id := range []string{"", "unknown-id"} {
		p := m.Get(id)
		want := id
		if id == "" {
			want = types.DefaultProfileID
		}
		if p.DeviceID != want {
			t.Errorf("Get(%q).DeviceID: got %q, want %q", id, p.DeviceID, want)
		}
		if p.AccuracyWeight != DefaultAccuracy || p.LatencyWeight != DefaultLatency || p.EnergyWeight != DefaultEnergy {
			t.Errorf("Get(%q) weights: got %+v", id, p)
		}
	}
	if len(m.All()) != 1 {
		t.Errorf("read-through default must not store a profile, All() = %v", m.All())
	}
}

func TestSet_RoundTrip(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()
	cases := [][3]float64{
		{0, 0, 0},
		{1, 1, 1},
		{0.12345, 0.6789, 0.5},
		{0.7, 0.2, 0.1},
		{math.SmallestNonzeroFloat64, 1, 0.333333333},
	}
	for _, w := range cases {
		if _, err := m.Set(ctx, "bot", w[0], w[1], w[2], ""); err != nil {
			t.Fatalf("Set(%v): %v", w, err)
		}
		p := m.Get("bot")
		if p.AccuracyWeight != w[0] || p.LatencyWeight != w[1] || p.EnergyWeight != w[2] {
			t.Errorf("round trip %v: got %+v", w, p)
		}
	}
}

func TestSet_NoSumCheck(t *testing.T) {
	m := newTestManager(nil)
	p, err := m.Set(context.Background(), "bot", 1, 1, 1, "heavy")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if p.AccuracyWeight+p.LatencyWeight+p.EnergyWeight != 3 {
		t.Errorf("weights were normalized: %+v", p)
	}
}

func TestSet_ValidationLeavesStateUnchanged(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()
	if _, err := m.Set(ctx, "bot", 0.5, 0.25, 0.25, "orig"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	bad := [][3]float64{
		{-0.1, 0.5, 0.5},
		{0.5, 1.01, 0.5},
		{0.5, 0.5, math.NaN()},
		{math.Inf(1), 0, 0},
	}
	for _, w := range bad {
		_, err := m.Set(ctx, "bot", w[0], w[1], w[2], "changed")
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Set(%v): got %v, want *ValidationError", w, err)
		}
		p := m.Get("bot")
		if p.AccuracyWeight != 0.5 || p.Description != "orig" {
			t.Errorf("state changed after failed Set(%v): %+v", w, p)
		}
	}
}

func TestSet_EmptyIDSetsDefault(t *testing.T) {
	m := newTestManager(nil)
	if _, err := m.Set(context.Background(), "", 0.2, 0.2, 0.6, ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := m.Get("anything").EnergyWeight; got != 0.6 {
		t.Errorf("fallback after default change: got %v, want 0.6", got)
	}
	if got := m.Get(types.DefaultProfileID).Description; got != "default ALE weight" {
		t.Errorf("description: got %q", got)
	}
}

func TestSet_DefaultDescription(t *testing.T) {
	m := newTestManager(nil)
	p, _ := m.Set(context.Background(), "DRONE-1", 0.1, 0.1, 0.1, "")
	if p.Description != "DRONE-1 ALE weight" {
		t.Errorf("description: got %q", p.Description)
	}
	if !p.LastUpdated.Equal(t0) {
		t.Errorf("last_updated: got %v", p.LastUpdated)
	}
}

func TestAll_Sorted(t *testing.T) {
	m := newTestManager(nil)
	ctx := context.Background()
	_, _ = m.Set(ctx, "zeta", 0.1, 0.1, 0.1, "")
	_, _ = m.Set(ctx, "alpha", 0.1, 0.1, 0.1, "")

	all := m.All()
	if len(all) != 3 {
		t.Fatalf("All: got %d profiles, want 3", len(all))
	}
	if all[0].DeviceID != "alpha" || all[1].DeviceID != "default" || all[2].DeviceID != "zeta" {
		t.Errorf("order: %s %s %s", all[0].DeviceID, all[1].DeviceID, all[2].DeviceID)
	}
}

func TestForDevices(t *testing.T) {
	m := newTestManager(nil)
	_, _ = m.Set(context.Background(), "known", 0.9, 0.05, 0.05, "")

	profiles, defaulted := m.ForDevices([]string{"known", "new-1", "new-2"})
	if len(profiles) != 3 {
		t.Fatalf("profiles: got %d", len(profiles))
	}
	if profiles[0].AccuracyWeight != 0.9 || profiles[1].DeviceID != "new-1" {
		t.Errorf("profiles: %+v", profiles)
	}
	if len(defaulted) != 2 || defaulted[0] != "new-1" || defaulted[1] != "new-2" {
		t.Errorf("defaultApplied: got %v", defaulted)
	}
}

func TestStore_WriteThroughAndLoad(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	if _, err := m.Set(context.Background(), "bot", 0.6, 0.2, 0.2, ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := store.saved["bot"]; !ok {
		t.Fatal("profile not written to store")
	}

	fresh := newTestManager(store)
	if err := fresh.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := fresh.Get("bot").AccuracyWeight; got != 0.6 {
		t.Errorf("loaded accuracy: got %v, want 0.6", got)
	}
}

func TestStore_FailureLeavesMemoryUnchanged(t *testing.T) {
	store := newMemStore()
	store.fail = true
	m := newTestManager(store)

	if _, err := m.Set(context.Background(), "bot", 0.6, 0.2, 0.2, ""); err == nil {
		t.Fatal("expected persistence error")
	}
	if got := m.Get("bot").AccuracyWeight; got != DefaultAccuracy {
		t.Errorf("memory changed after failed persist: accuracy %v", got)
	}
}

func TestLoad_SkipsInvalid(t *testing.T) {
	store := newMemStore()
	store.saved["bad"] = types.WeightProfile{DeviceID: "bad", AccuracyWeight: 3}
	store.saved["good"] = types.WeightProfile{DeviceID: "good", AccuracyWeight: 0.5}
	m := newTestManager(store)

	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get("bad").AccuracyWeight != DefaultAccuracy {
		t.Error("invalid stored profile was loaded")
	}
	if m.Get("good").AccuracyWeight != 0.5 {
		t.Error("valid stored profile was not loaded")
	}
}

func TestSeed(t *testing.T) {
	m := newTestManager(nil)
	n := m.Seed(context.Background(), []types.WeightProfile{
		{DeviceID: "a", AccuracyWeight: 0.5, LatencyWeight: 0.5, EnergyWeight: 0},
		{DeviceID: "b", AccuracyWeight: 2},
	})
	if n != 1 {
		t.Errorf("applied: got %d, want 1", n)
	}
}

func TestProfileDoc_BSONRoundTrip(t *testing.T) {
	in := types.WeightProfile{DeviceID: "bot", AccuracyWeight: 0.5, LatencyWeight: 0.25,
		EnergyWeight: 0.25, Description: "d", LastUpdated: t0}

	raw, err := bson.Marshal(toDoc(in))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var doc profileDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	out := fromDoc(doc)
	if out.DeviceID != in.DeviceID || out.AccuracyWeight != in.AccuracyWeight || !out.LastUpdated.Equal(in.LastUpdated) {
		t.Errorf("bson round trip: got %+v", out)
	}

	var m bson.M
	_ = bson.Unmarshal(raw, &m)
	if m["_id"] != "bot" {
		t.Errorf("_id: got %v", m["_id"])
	}
}

func TestConcurrentSetGet(t *testing.T) {
	m := NewManager(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = m.Set(context.Background(), "bot", float64(i)/20, 0.5, 0.5, "")
		}(i)
		go func() {
			defer wg.Done()
			_ = m.Get("bot")
			_ = m.All()
		}()
	}
	wg.Wait()
}
