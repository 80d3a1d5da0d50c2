package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fleetscore/fleetscore/pkg/types"
)

var (
	// ErrUnknownDevice is returned for operations on an id never created.
	ErrUnknownDevice = errors.New("registry: unknown device")

	// ErrInvalidReading is returned for a negative, NaN or infinite reading.
	ErrInvalidReading = errors.New("registry: invalid reading")

	// ErrInvalidStatus is returned by SetStatus for an unknown status value.
	ErrInvalidStatus = errors.New("registry: invalid status")
)

// Conversion constants from a raw Wh reading.
const (
	vehicleFullWh = 500.0
	airFullWh     = 300.0
)

// Registry is a thread-safe map from device id to latest device state.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*types.Device
	now     func() time.Time
}

// New returns an empty Registry using the wall clock.
func New() *Registry {
	return &Registry{
		devices: make(map[string]*types.Device),
		now:     time.Now,
	}
}

// Exists reports whether id has been created.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// Get returns a copy of the device state for id.
func (r *Registry) Get(id string) (types.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return types.Device{}, false
	}
	return d.Clone(), true
}

// CreateFromClassInfo registers id with the given class and location and
// returns its initial state. An id that already exists is left unchanged and
// its current state is returned.
func (r *Registry) CreateFromClassInfo(id string, info ClassInfo, location string) types.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		return d.Clone()
	}
	if location == "" {
		location = "Unknown"
	}

	d := &types.Device{
		ID:          id,
		Class:       info.Class,
		Model:       info.Model,
		SubType:     info.SubType,
		Location:    location,
		Status:      types.StatusOffline,
		LastUpdated: r.now(),
	}
	switch info.Class {
	case types.ClassVehicle:
		d.Vehicle = &types.VehicleState{EngineStatus: "off"}
	case types.ClassAir:
		d.Air = &types.AirState{FlightStatus: types.FlightGrounded}
	case types.ClassGeneric:
	default:
		d.Class = types.ClassGeneric
	}
	r.devices[id] = d

	slog.Info("registry: device created",
		"device", id, "class", d.Class, "model", d.Model, "location", location)
	return d.Clone()
}

// UpdateFromTelemetry applies a raw Wh reading to id. Invalid readings leave
// the state untouched.
func (r *Registry) UpdateFromTelemetry(id string, wh float64) error {
	if wh < 0 || math.IsNaN(wh) || math.IsInf(wh, 0) {
		slog.Warn("registry: rejected reading", "device", id, "wh", wh)
		return fmt.Errorf("%w: %v for %q", ErrInvalidReading, wh, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}

	emergency := d.Status == types.StatusEmergency
	if !emergency {
		if wh > 0 {
			d.Status = types.StatusOnline
		} else {
			d.Status = types.StatusOffline
		}
	}
	d.BatteryWh = wh

	switch d.Class {
	case types.ClassVehicle:
		v := vehicleState(d)
		v.FuelLevel = math.Min(100, wh*100/vehicleFullWh)
		d.BatteryLevel = v.FuelLevel
		if wh > 350 {
			v.Speed = 0.3
		} else {
			v.Speed = 0.1
		}
		if wh > 100 {
			v.EngineStatus = "on"
		} else {
			v.EngineStatus = "off"
		}
	case types.ClassAir:
		a := airState(d)
		d.BatteryLevel = math.Min(100, wh*100/airFullWh)
		switch {
		case d.BatteryLevel <= 20:
			a.FlightStatus = types.FlightLowBattery
		case d.Status == types.StatusOnline:
			a.FlightStatus = types.FlightReady
		default:
			a.FlightStatus = types.FlightGrounded
		}
		if d.BatteryLevel > 30 {
			a.Speed = 0.2
		} else {
			a.Speed = 0
		}
		a.Altitude = 0
	case types.ClassGeneric:
	}

	if emergency {
		halt(d)
	}
	d.LastUpdated = r.now()
	return nil
}

// SetStatus overrides the status of id. Entering emergency halts motion
// immediately; later telemetry keeps the device in emergency until another
// SetStatus call moves it out.
func (r *Registry) SetStatus(id, status string) (types.Device, error) {
	if !types.ValidStatus(status) {
		return types.Device{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return types.Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	prev := d.Status
	d.Status = status
	if status == types.StatusEmergency {
		halt(d)
	}
	d.LastUpdated = r.now()

	slog.Info("registry: status changed", "device", id, "from", prev, "to", status)
	return d.Clone(), nil
}

// List returns copies of all devices sorted by id.
func (r *Registry) List() []types.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all device ids sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.devices))
	for id := range r.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// halt zeroes motion for an emergency stop.
func halt(d *types.Device) {
	switch d.Class {
	case types.ClassVehicle:
		v := vehicleState(d)
		v.Speed = 0
		v.EngineStatus = "off"
	case types.ClassAir:
		a := airState(d)
		a.Speed = 0
		a.Altitude = 0
		a.FlightStatus = types.FlightGrounded
	case types.ClassGeneric:
	}
}

func vehicleState(d *types.Device) *types.VehicleState {
	if d.Vehicle == nil {
		d.Vehicle = &types.VehicleState{}
	}
	return d.Vehicle
}

func airState(d *types.Device) *types.AirState {
	if d.Air == nil {
		d.Air = &types.AirState{}
	}
	return d.Air
}
