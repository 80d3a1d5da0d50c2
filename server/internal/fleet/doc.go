// Package fleet reconciles the device registry with the time-series store and
// keeps the fleet snapshot that the API, WebSocket hub and alert engine read.
//
// Each refresh walks the union of configured bots, registered devices and
// bots seen in the store, reads their latest battery energy, creates unknown
// devices from their id, applies the reading and rescores the fleet. The
// resulting FleetSnapshot and per-device scores live in TTL caches whose
// lifetime is the freshness window.
package fleet
