// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `ingester:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort: port for the REST API, /metrics and WebSocket hub (default 8080)
//   - LogLevel: debug | info | warn | error
//   - Auth: mode apikey|none, key_env, header (default "x-api-key")
//   - TSDB: time-series store the aggregator reads
//   - Fleet: bots, refresh_interval (60s), freshness (5m), lookback (30m), locations
//   - Weights: backend memory|mongo, mongo settings, seed profiles
//   - Alerts: rules over device scores and webhook targets
//   - Stream.Interval: WebSocket broadcast period (default 5s)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) reloads the file when it changes.
package config
