// Package config loads and watches the ingester configuration from the
// `ingester:` section of config.yaml (the `server:` key is ignored).
//
// Top-level types:
//   - Config{Ingester}: full tree parsed from YAML
//   - IngesterConfig: log_level, http_port, backoff_max, sources[], tsdb
//   - Source: id, type (kafka|amqp|mqtt), brokers[], topic, group_id, queue,
//     prefetch, client_id, qos, auth
//   - AuthConfig: username plus password_env; Password() resolves from the environment
//
// Load(path) applies defaults (port 9102, 60s backoff cap, queue
// turtlebot.telemetry, prefetch 20, QoS 1), then validates required fields and enums.
//
// Watch(ctx, path, onChange) re-parses the file on write or create events and
// hands the new Config to onChange; a bad reload keeps the previous config.
package config
