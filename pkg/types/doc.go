// Package types defines the Go types shared by the ingester and the analysis
// server: the telemetry wire message, device state, weight profiles, scores
// and fleet snapshots. JSON tags are the external representation used by the
// REST API, the WebSocket stream and the broker payloads.
package types
