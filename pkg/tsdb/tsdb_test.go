package tsdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fleetscore/fleetscore/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMemory() *Memory {
	m := NewMemory()
	m.SetClock(func() time.Time { return t0 })
	return m
}

func TestMemory_LatestBatteryWh(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	_ = m.WriteBattery(ctx, "bot1", t0.Add(-10*time.Minute), types.Battery{Wh: 300})
	_ = m.WriteBattery(ctx, "bot1", t0.Add(-2*time.Minute), types.Battery{Wh: 280})

	wh, err := m.LatestBatteryWh(ctx, "bot1", 30*time.Minute)
	if err != nil {
		t.Fatalf("LatestBatteryWh: %v", err)
	}
	if wh != 280 {
		t.Errorf("wh: got %v, want 280", wh)
	}
}

func TestMemory_LatestBatteryWh_OutsideWindow(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	_ = m.WriteBattery(ctx, "bot1", t0.Add(-45*time.Minute), types.Battery{Wh: 300})

	_, err := m.LatestBatteryWh(ctx, "bot1", 30*time.Minute)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err: got %v, want ErrNoData", err)
	}
}

func TestMemory_BatteryHistory_Sorted(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	_ = m.WriteBattery(ctx, "bot1", t0.Add(-1*time.Minute), types.Battery{Wh: 2})
	_ = m.WriteBattery(ctx, "bot1", t0.Add(-5*time.Minute), types.Battery{Wh: 1})
	_ = m.WriteBattery(ctx, "bot2", t0.Add(-1*time.Minute), types.Battery{Wh: 9})

	pts, err := m.BatteryHistory(ctx, "bot1", time.Hour)
	if err != nil {
		t.Fatalf("BatteryHistory: %v", err)
	}
	if len(pts) != 2 {
		t.Fatalf("len: got %d, want 2", len(pts))
	}
	if pts[0].Wh != 1 || pts[1].Wh != 2 {
		t.Errorf("order: got %v, %v", pts[0].Wh, pts[1].Wh)
	}
}

func TestMemory_Bots(t *testing.T) {
	m := newTestMemory()
	ctx := context.Background()

	_ = m.WriteBattery(ctx, "zeta", t0, types.Battery{Wh: 1})
	_ = m.WriteBattery(ctx, "alpha", t0, types.Battery{Wh: 1})
	_ = m.WriteBattery(ctx, "stale", t0.Add(-2*time.Hour), types.Battery{Wh: 1})

	bots, _ := m.Bots(ctx, 30*time.Minute)
	if len(bots) != 2 || bots[0] != "alpha" || bots[1] != "zeta" {
		t.Errorf("Bots: got %v", bots)
	}
}

func TestMemory_WriteCancelled(t *testing.T) {
	m := newTestMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.WriteBattery(ctx, "bot1", t0, types.Battery{}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestBatteryLevel(t *testing.T) {
	tests := []struct {
		wh   float64
		want string
	}{
		{450, "high"},
		{400, "medium"},
		{301, "medium"},
		{300, "low"},
		{201, "low"},
		{200, "critical"},
		{0, "critical"},
	}
	for _, tc := range tests {
		if got := BatteryLevel(tc.wh); got != tc.want {
			t.Errorf("BatteryLevel(%v): got %q, want %q", tc.wh, got, tc.want)
		}
	}
}

func TestFluxString_Escapes(t *testing.T) {
	if got := fluxString(`a"b\c`); got != `"a\"b\\c"` {
		t.Errorf("fluxString: got %s", got)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open(Config{Backend: "sqlite"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpen_InfluxRequiresURL(t *testing.T) {
	if _, err := Open(Config{Backend: "influx", Org: "o", Bucket: "b"}); err == nil {
		t.Fatal("expected error for missing url")
	}
}
