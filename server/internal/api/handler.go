package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetscore/fleetscore/pkg/metrics"
	"github.com/fleetscore/fleetscore/pkg/tsdb"
	"github.com/fleetscore/fleetscore/pkg/types"
	"github.com/fleetscore/fleetscore/server/internal/alerts"
	"github.com/fleetscore/fleetscore/server/internal/fleet"
	"github.com/fleetscore/fleetscore/server/internal/registry"
	"github.com/fleetscore/fleetscore/server/internal/scoring"
	"github.com/fleetscore/fleetscore/server/internal/weights"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 168
	maxBodyBytes        = 1 << 20
)

// Deps are the components the handlers read and mutate.
type Deps struct {
	Fleet    *fleet.Aggregator
	Registry *registry.Registry
	Weights  *weights.Manager
	Engine   *scoring.Engine
	Alerts   *alerts.Engine
	Gatherer prometheus.Gatherer
}

// Handler is the HTTP handler for all /api/v1/* endpoints and /metrics.
type Handler struct {
	deps   Deps
	router *mux.Router
}

// New creates a Handler with all routes registered. mw wraps every route, in
// order; the result is wrapped in panic recovery and access logging.
func New(deps Deps, mw ...mux.MiddlewareFunc) http.Handler {
	h := &Handler{deps: deps, router: mux.NewRouter()}
	r := h.router

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", h.health).Methods(http.MethodGet)
	v1.HandleFunc("/fleet", h.fleetSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/fleet/refresh", h.fleetRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}", h.getDevice).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/status", h.setStatus).Methods(http.MethodPut)
	v1.HandleFunc("/devices/{id}/battery", h.battery).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{id}/history", h.history).Methods(http.MethodGet)
	v1.HandleFunc("/scores", h.batchScores).Methods(http.MethodPost)
	v1.HandleFunc("/scores/{id}", h.getScore).Methods(http.MethodGet)
	v1.HandleFunc("/weights", h.listWeights).Methods(http.MethodGet)
	v1.HandleFunc("/weights/query", h.queryWeights).Methods(http.MethodPost)
	v1.HandleFunc("/weights/{id}", h.getWeights).Methods(http.MethodGet)
	v1.HandleFunc("/weights/{id}", h.setWeights).Methods(http.MethodPut)
	v1.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer)).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	for _, m := range mw {
		r.Use(m)
	}

	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}), handlers.PrintRecoveryStack(false))
	return handlers.CombinedLoggingHandler(accessLog{}, recovery(h))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- fleet -------------------------------------------------------------------

// health returns GET /api/v1/health: overall state from the cached snapshot.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	snap := h.deps.Fleet.Snapshot(r.Context())
	resp := HealthResponse{
		AveragePerformance: snap.AveragePerformance,
		DeviceCount:        snap.TotalDevices,
		ActiveCount:        snap.ActiveDevices,
		SnapshotID:         snap.ID,
		GeneratedAt:        snap.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if h.deps.Alerts != nil {
		for _, a := range h.deps.Alerts.Active() {
			if a.State == alerts.StateFiring {
				resp.AlertCount++
			}
		}
	}
	if snap.TotalDevices == 0 {
		resp.State = "unknown"
	} else {
		resp.State = stateFromScore(snap.AveragePerformance)
	}
	jsonResp(w, http.StatusOK, resp)
}

// fleetSnapshot returns GET /api/v1/fleet.
func (h *Handler) fleetSnapshot(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Fleet.Snapshot(r.Context()))
}

// fleetRefresh handles POST /api/v1/fleet/refresh.
func (h *Handler) fleetRefresh(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Fleet.Refresh(r.Context()))
}

// --- devices -----------------------------------------------------------------

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Registry.List())
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := h.deps.Registry.Get(mux.Vars(r)["id"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	jsonResp(w, http.StatusOK, d)
}

// setStatus handles PUT /api/v1/devices/{id}/status.
func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req StatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := h.deps.Registry.SetStatus(id, req.Status)
	switch {
	case errors.Is(err, registry.ErrUnknownDevice):
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	case errors.Is(err, registry.ErrInvalidStatus):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.deps.Fleet.InvalidateScore(id)
	jsonResp(w, http.StatusOK, d)
}

// battery returns GET /api/v1/devices/{id}/battery: the battery status report.
func (h *Handler) battery(w http.ResponseWriter, r *http.Request) {
	d, ok := h.deps.Registry.Get(mux.Vars(r)["id"])
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	jsonResp(w, http.StatusOK, buildBatteryReport(d))
}

// history returns GET /api/v1/devices/{id}/history?hours=N.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hours := defaultHistoryHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryHours {
			jsonErr(w, http.StatusBadRequest, "hours must be an integer in [1, 168]")
			return
		}
		hours = n
	}

	pts, err := h.deps.Fleet.BatteryHistory(r.Context(), id, hours)
	if err != nil {
		slog.Error("api: battery history failed", "device", id, "err", err)
		jsonErr(w, http.StatusBadGateway, "battery history unavailable")
		return
	}
	if pts == nil {
		pts = []tsdb.BatteryPoint{}
	}
	resp := HistoryResponse{DeviceID: id, Hours: hours, Points: pts, Level: tsdb.BatteryLevel(0)}
	if len(pts) > 0 {
		resp.Level = tsdb.BatteryLevel(pts[len(pts)-1].Wh)
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- scores ------------------------------------------------------------------

func (h *Handler) getScore(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Fleet.DeviceScore(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		jsonErr(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, s)
}

// batchScores handles POST /api/v1/scores. Individual failures are reported in
// failed_ids and never fail the request.
func (h *Handler) batchScores(w http.ResponseWriter, r *http.Request) {
	var req BatchScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Engine.ScoreDevices(req.DeviceIDs, req.States))
}

// --- weights -----------------------------------------------------------------

func (h *Handler) listWeights(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Weights.All())
}

func (h *Handler) getWeights(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Weights.Get(mux.Vars(r)["id"]))
}

// setWeights handles PUT /api/v1/weights/{id}. All three weights are required.
func (h *Handler) setWeights(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req WeightRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AccuracyWeight == nil || req.LatencyWeight == nil || req.EnergyWeight == nil {
		jsonErr(w, http.StatusBadRequest, "accuracy_weight, latency_weight and energy_weight are required")
		return
	}

	p, err := h.deps.Weights.Set(r.Context(), id, *req.AccuracyWeight, *req.LatencyWeight, *req.EnergyWeight, req.Description)
	var verr *weights.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("api: weight update failed", "device", id, "err", err)
		jsonErr(w, http.StatusServiceUnavailable, "weight profile could not be persisted")
		return
	}

	if p.DeviceID == types.DefaultProfileID {
		h.deps.Fleet.InvalidateScore("")
	} else {
		h.deps.Fleet.InvalidateScore(p.DeviceID)
	}
	jsonResp(w, http.StatusOK, p)
}

// queryWeights handles POST /api/v1/weights/query.
func (h *Handler) queryWeights(w http.ResponseWriter, r *http.Request) {
	var req WeightQueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	profiles, applied := h.deps.Weights.ForDevices(req.DeviceIDs)
	if applied == nil {
		applied = []string{}
	}
	jsonResp(w, http.StatusOK, WeightQueryResponse{Profiles: profiles, DefaultApplied: applied})
}

// --- alerts ------------------------------------------------------------------

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Alerts.Active())
}

// --- helpers -----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// stateFromScore converts a 0–100 fleet performance to a health state string.
func stateFromScore(score float64) string {
	switch {
	case score >= 85:
		return "healthy"
	case score >= 60:
		return "degraded"
	default:
		return "critical"
	}
}

// accessLog forwards combined-format access lines to slog at debug level.
type accessLog struct{}

func (accessLog) Write(p []byte) (int, error) {
	slog.Debug("api: request", "line", string(bytes.TrimSpace(p)))
	return len(p), nil
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	slog.Error("api: handler panic", "err", v)
}
