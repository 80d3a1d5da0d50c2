package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetscore/fleetscore/pkg/metrics"
	"github.com/fleetscore/fleetscore/pkg/tsdb"
	"github.com/fleetscore/fleetscore/pkg/types"
	"github.com/fleetscore/fleetscore/server/internal/alerts"
	"github.com/fleetscore/fleetscore/server/internal/api"
	"github.com/fleetscore/fleetscore/server/internal/auth"
	"github.com/fleetscore/fleetscore/server/internal/config"
	"github.com/fleetscore/fleetscore/server/internal/fleet"
	"github.com/fleetscore/fleetscore/server/internal/registry"
	"github.com/fleetscore/fleetscore/server/internal/scoring"
	"github.com/fleetscore/fleetscore/server/internal/weights"
)

// --- test helpers -----------------------------------------------------------

type env struct {
	h       http.Handler
	store   *tsdb.Memory
	reg     *registry.Registry
	weights *weights.Manager
	fleet   *fleet.Aggregator
	alerts  *alerts.Engine
}

type failingWeightStore struct{}

func (failingWeightStore) Load(context.Context) ([]types.WeightProfile, error) { return nil, nil }
func (failingWeightStore) Save(context.Context, types.WeightProfile) error {
	return errors.New("mongo: no reachable servers")
}

func newEnv(t *testing.T, ws weights.Store, mw ...func(http.Handler) http.Handler) *env {
	t.Helper()
	promReg := prometheus.NewRegistry()
	m := metrics.NewServer(promReg)

	e := &env{
		store:   tsdb.NewMemory(),
		reg:     registry.New(),
		weights: weights.NewManager(ws),
	}
	engine := scoring.NewEngine(e.reg, e.weights, nil)
	engine.SetMetrics(m)
	e.fleet = fleet.New(config.FleetConfig{Locations: config.DefaultLocations()}, e.store, e.reg, engine, m)
	e.alerts = alerts.New(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "offline", Condition: "status == offline", Severity: "warning"},
	}}, m)
	e.fleet.Subscribe(e.alerts.EvaluateFleet)

	deps := api.Deps{
		Fleet:    e.fleet,
		Registry: e.reg,
		Weights:  e.weights,
		Engine:   engine,
		Alerts:   e.alerts,
		Gatherer: promReg,
	}
	if len(mw) > 0 {
		e.h = api.New(deps, mw[0])
	} else {
		e.h = api.New(deps)
	}
	return e
}

func (e *env) battery(t *testing.T, bot string, wh float64) {
	t.Helper()
	if err := e.store.WriteBattery(context.Background(), bot, time.Now(), types.Battery{Wh: wh}); err != nil {
		t.Fatalf("WriteBattery: %v", err)
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, http.MethodGet, path, "")
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, code, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyFleet(t *testing.T) {
	e := newEnv(t, nil)
	rr := get(t, e.h, "/api/v1/health")
	wantStatus(t, rr, http.StatusOK)

	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "unknown" || resp.DeviceCount != 0 {
		t.Errorf("got %+v, want unknown state with no devices", resp)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type: got %q", ct)
	}
}

func TestHealth_CountsFiringAlerts(t *testing.T) {
	e := newEnv(t, nil)
	e.battery(t, "TURTLEBOT3-Burger-1", 400)
	e.battery(t, "drone-1", 0)

	rr := get(t, e.h, "/api/v1/health")
	wantStatus(t, rr, http.StatusOK)
	var resp api.HealthResponse
	decode(t, rr, &resp)

	if resp.DeviceCount != 2 || resp.ActiveCount != 1 {
		t.Errorf("counts: got %d/%d, want 2/1", resp.DeviceCount, resp.ActiveCount)
	}
	if resp.AlertCount != 1 {
		t.Errorf("alert_count: got %d, want 1 (drone-1 offline)", resp.AlertCount)
	}
	if resp.SnapshotID == "" {
		t.Error("snapshot_id is empty")
	}
	switch resp.State {
	case "healthy", "degraded", "critical":
	default:
		t.Errorf("state: got %q", resp.State)
	}
}

// --- /api/v1/fleet ------------------------------------------------------------

func TestFleet_SnapshotAndRefresh(t *testing.T) {
	e := newEnv(t, nil)
	e.battery(t, "TURTLEBOT3-Waffle-1", 420)

	rr := do(t, e.h, http.MethodPost, "/api/v1/fleet/refresh", "")
	wantStatus(t, rr, http.StatusOK)
	var rep fleet.RefreshReport
	decode(t, rr, &rep)
	if len(rep.Created) != 1 || rep.Created[0] != "TURTLEBOT3-Waffle-1" {
		t.Errorf("created: got %v", rep.Created)
	}

	rr = get(t, e.h, "/api/v1/fleet")
	wantStatus(t, rr, http.StatusOK)
	var snap types.FleetSnapshot
	decode(t, rr, &snap)
	if snap.TotalDevices != 1 || len(snap.Scores) != 1 {
		t.Errorf("snapshot: got %+v", snap)
	}
	if snap.AverageBatteryHealth != 84 {
		t.Errorf("average_battery_health: got %v, want 84", snap.AverageBatteryHealth)
	}
}

func TestFleet_RefreshRejectsGet(t *testing.T) {
	e := newEnv(t, nil)
	rr := get(t, e.h, "/api/v1/fleet/refresh")
	wantStatus(t, rr, http.StatusMethodNotAllowed)
}

// --- /api/v1/devices ----------------------------------------------------------

func TestDevices_ListAndGet(t *testing.T) {
	e := newEnv(t, nil)
	e.battery(t, "TURTLEBOT3-Burger-2", 300)
	e.fleet.Refresh(context.Background())

	rr := get(t, e.h, "/api/v1/devices")
	wantStatus(t, rr, http.StatusOK)
	var list []types.Device
	decode(t, rr, &list)
	if len(list) != 1 || list[0].Location != "Lab-B" {
		t.Fatalf("list: got %+v", list)
	}

	rr = get(t, e.h, "/api/v1/devices/TURTLEBOT3-Burger-2")
	wantStatus(t, rr, http.StatusOK)
	var d types.Device
	decode(t, rr, &d)
	if d.Vehicle == nil || d.BatteryLevel != 60 {
		t.Errorf("device: got %+v", d)
	}

	wantStatus(t, get(t, e.h, "/api/v1/devices/ghost"), http.StatusNotFound)
}

func TestDevices_SetStatus(t *testing.T) {
	e := newEnv(t, nil)
	e.battery(t, "agv-1", 300)
	e.fleet.Refresh(context.Background())

	rr := do(t, e.h, http.MethodPut, "/api/v1/devices/agv-1/status", `{"status":"emergency"}`)
	wantStatus(t, rr, http.StatusOK)
	var d types.Device
	decode(t, rr, &d)
	if d.Status != types.StatusEmergency || d.Vehicle.Speed != 0 {
		t.Errorf("device: got status=%q speed=%v", d.Status, d.Vehicle.Speed)
	}

	wantStatus(t, do(t, e.h, http.MethodPut, "/api/v1/devices/agv-1/status", `{"status":"flying"}`), http.StatusBadRequest)
	wantStatus(t, do(t, e.h, http.MethodPut, "/api/v1/devices/ghost/status", `{"status":"idle"}`), http.StatusNotFound)
	wantStatus(t, do(t, e.h, http.MethodPut, "/api/v1/devices/agv-1/status", `{"state":"idle"}`), http.StatusBadRequest)
}

func TestDevices_Battery(t *testing.T) {
	e := newEnv(t, nil)
	e.battery(t, "drone-1", 45)
	e.fleet.Refresh(context.Background())

	rr := get(t, e.h, "/api/v1/devices/drone-1/battery")
	wantStatus(t, rr, http.StatusOK)
	var rep api.BatteryReport
	decode(t, rr, &rep)
	if rep.Health != api.HealthDanger || rep.StoreLevel != "critical" {
		t.Errorf("report: got health=%q store_level=%q", rep.Health, rep.StoreLevel)
	}
	if len(rep.Hints) == 0 || rep.Hints[0].Level != "critical" {
		t.Errorf("hints: got %+v", rep.Hints)
	}

	wantStatus(t, get(t, e.h, "/api/v1/devices/ghost/battery"), http.StatusNotFound)
}

func TestDevices_History(t *testing.T) {
	e := newEnv(t, nil)
	e.battery(t, "car-1", 410)

	rr := get(t, e.h, "/api/v1/devices/car-1/history?hours=2")
	wantStatus(t, rr, http.StatusOK)
	var resp api.HistoryResponse
	decode(t, rr, &resp)
	if resp.Hours != 2 || len(resp.Points) != 1 || resp.Level != "high" {
		t.Errorf("history: got %+v", resp)
	}

	rr = get(t, e.h, "/api/v1/devices/nobody/history")
	wantStatus(t, rr, http.StatusOK)
	decode(t, rr, &resp)
	if resp.Hours != 24 || resp.Points == nil || len(resp.Points) != 0 {
		t.Errorf("empty history: got %+v", resp)
	}

	for _, q := range []string{"0", "169", "abc"} {
		wantStatus(t, get(t, e.h, "/api/v1/devices/car-1/history?hours="+q), http.StatusBadRequest)
	}
}

// --- /api/v1/scores -----------------------------------------------------------

func TestScores_Single(t *testing.T) {
	e := newEnv(t, nil)
	rr := get(t, e.h, "/api/v1/scores/unregistered-bot")
	wantStatus(t, rr, http.StatusOK)
	var s types.Score
	decode(t, rr, &s)
	if s.DeviceID != "unregistered-bot" || s.Grade == "" {
		t.Errorf("score: got %+v", s)
	}
	if s.WeightedScore < 0 || s.WeightedScore > 100 {
		t.Errorf("weighted_score out of range: %v", s.WeightedScore)
	}
}

func TestScores_Batch(t *testing.T) {
	e := newEnv(t, nil)
	e.battery(t, "car-1", 300)
	e.battery(t, "car-2", 200)
	e.fleet.Refresh(context.Background())

	rr := do(t, e.h, http.MethodPost, "/api/v1/scores", `{"device_ids":["car-1","","x"]}`)
	wantStatus(t, rr, http.StatusOK)
	var res scoring.BatchResult
	decode(t, rr, &res)
	if len(res.Scores) != 2 || len(res.FailedIDs) != 1 || res.FailedIDs[0] != "" {
		t.Errorf("batch: got %+v", res)
	}

	rr = do(t, e.h, http.MethodPost, "/api/v1/scores", `{}`)
	wantStatus(t, rr, http.StatusOK)
	decode(t, rr, &res)
	if len(res.Scores) != 2 {
		t.Errorf("all-device batch: got %d scores, want 2", len(res.Scores))
	}

	wantStatus(t, do(t, e.h, http.MethodPost, "/api/v1/scores", `{"device_ids":`), http.StatusBadRequest)
}

// --- /api/v1/weights ----------------------------------------------------------

func TestWeights_SetGetRoundTrip(t *testing.T) {
	e := newEnv(t, nil)

	rr := do(t, e.h, http.MethodPut, "/api/v1/weights/car-1",
		`{"accuracy_weight":0.123456,"latency_weight":0.5,"energy_weight":0.1}`)
	wantStatus(t, rr, http.StatusOK)

	rr = get(t, e.h, "/api/v1/weights/car-1")
	wantStatus(t, rr, http.StatusOK)
	var p types.WeightProfile
	decode(t, rr, &p)
	if p.AccuracyWeight != 0.123456 || p.LatencyWeight != 0.5 || p.EnergyWeight != 0.1 {
		t.Errorf("profile: got %+v", p)
	}
	if p.Description != "car-1 ALE weight" {
		t.Errorf("description: got %q", p.Description)
	}

	rr = get(t, e.h, "/api/v1/weights")
	var all []types.WeightProfile
	decode(t, rr, &all)
	if len(all) != 2 {
		t.Errorf("profiles: got %d, want 2 (default + car-1)", len(all))
	}
}

func TestWeights_Validation(t *testing.T) {
	e := newEnv(t, nil)
	cases := []string{
		`{"accuracy_weight":1.2,"latency_weight":0.5,"energy_weight":0.1}`,
		`{"accuracy_weight":-0.1,"latency_weight":0.5,"energy_weight":0.1}`,
		`{"accuracy_weight":0.3,"latency_weight":0.5}`,
		`not json`,
	}
	for _, body := range cases {
		rr := do(t, e.h, http.MethodPut, "/api/v1/weights/car-1", body)
		wantStatus(t, rr, http.StatusBadRequest)
	}
	var p types.WeightProfile
	decode(t, get(t, e.h, "/api/v1/weights/car-1"), &p)
	if p.AccuracyWeight != weights.DefaultAccuracy {
		t.Errorf("rejected update leaked: got %+v", p)
	}
}

func TestWeights_PersistenceFailure(t *testing.T) {
	e := newEnv(t, failingWeightStore{})
	rr := do(t, e.h, http.MethodPut, "/api/v1/weights/car-1",
		`{"accuracy_weight":0.2,"latency_weight":0.2,"energy_weight":0.6}`)
	wantStatus(t, rr, http.StatusServiceUnavailable)

	var p types.WeightProfile
	decode(t, get(t, e.h, "/api/v1/weights/car-1"), &p)
	if p.EnergyWeight != weights.DefaultEnergy {
		t.Errorf("memory changed after failed persist: %+v", p)
	}
}

func TestWeights_Query(t *testing.T) {
	e := newEnv(t, nil)
	do(t, e.h, http.MethodPut, "/api/v1/weights/car-1", `{"accuracy_weight":0.2,"latency_weight":0.2,"energy_weight":0.6}`)

	rr := do(t, e.h, http.MethodPost, "/api/v1/weights/query", `{"device_ids":["car-1","car-2"]}`)
	wantStatus(t, rr, http.StatusOK)
	var resp api.WeightQueryResponse
	decode(t, rr, &resp)
	if len(resp.Profiles) != 2 || resp.Profiles[1].DeviceID != "car-2" {
		t.Errorf("profiles: got %+v", resp.Profiles)
	}
	if len(resp.DefaultApplied) != 1 || resp.DefaultApplied[0] != "car-2" {
		t.Errorf("default_applied: got %v", resp.DefaultApplied)
	}
}

func TestWeights_ChangeInvalidatesCachedScore(t *testing.T) {
	e := newEnv(t, nil)
	var before, after types.Score
	decode(t, get(t, e.h, "/api/v1/scores/car-1"), &before)

	do(t, e.h, http.MethodPut, "/api/v1/weights/car-1", `{"accuracy_weight":0,"latency_weight":0,"energy_weight":0}`)
	decode(t, get(t, e.h, "/api/v1/scores/car-1"), &after)

	if after.WeightedScore != 0 || after.Grade != "F" {
		t.Errorf("score after zero weights: got %+v (before %+v)", after, before)
	}
}

// --- /api/v1/alerts -----------------------------------------------------------

func TestAlerts_List(t *testing.T) {
	e := newEnv(t, nil)
	wantStatus(t, get(t, e.h, "/api/v1/alerts"), http.StatusOK)

	e.battery(t, "drone-1", 0)
	e.fleet.Refresh(context.Background())
	e.alerts.Wait()

	rr := get(t, e.h, "/api/v1/alerts")
	wantStatus(t, rr, http.StatusOK)
	var list []alerts.Alert
	decode(t, rr, &list)
	if len(list) != 1 || list[0].DeviceID != "drone-1" || list[0].RuleName != "offline" {
		t.Errorf("alerts: got %+v", list)
	}
}

// --- /metrics -----------------------------------------------------------------

func TestMetrics_Exposition(t *testing.T) {
	e := newEnv(t, nil)
	e.battery(t, "car-1", 300)
	e.fleet.Refresh(context.Background())

	rr := get(t, e.h, "/metrics")
	wantStatus(t, rr, http.StatusOK)
	families, err := metrics.ParseText(rr.Body)
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	mf, ok := families["fleetscore_fleet_devices"]
	if !ok {
		t.Fatal("fleetscore_fleet_devices missing")
	}
	if got := metrics.SumFamily(mf); got != 1 {
		t.Errorf("devices: got %v, want 1", got)
	}
	if got := metrics.SumFamily(families["fleetscore_scoring_scores_computed_total"]); got < 1 {
		t.Errorf("scores computed: got %v, want >= 1", got)
	}
}

// --- routing and auth ---------------------------------------------------------

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t, nil)
	rr := get(t, e.h, "/api/v1/pipelines")
	wantStatus(t, rr, http.StatusNotFound)
	var body map[string]string
	decode(t, rr, &body)
	if body["error"] != "not found" {
		t.Errorf("body: got %v", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	e := newEnv(t, nil, auth.APIKey("apikey", "x-api-key", "k3y", "/api/v1/health", "/metrics"))

	wantStatus(t, get(t, e.h, "/api/v1/devices"), http.StatusUnauthorized)
	wantStatus(t, get(t, e.h, "/api/v1/health"), http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("x-api-key", "k3y")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	wantStatus(t, rr, http.StatusOK)
}
