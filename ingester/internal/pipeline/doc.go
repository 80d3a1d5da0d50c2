// Package pipeline moves telemetry from broker sources into the time-series
// store with at-least-once semantics.
//
// Handle settles each delivery exactly once:
//   - malformed or unknown-type payload → Reject (never redelivered), logged at warn
//   - battery then pose written → Ack
//   - either write failed → Requeue; an already written battery point stays
//
// Run drives one goroutine per configured source. A source error closes the
// connection and reopens it after a truncated exponential backoff with ±25%
// jitter (1s initial, doubling, capped by backoff_max). Consecutive store
// failures are paced with the same backoff so requeued messages do not spin.
package pipeline
