// Package registry holds the latest reconciled state of every known device.
//
// A device is created once, on its first reconciliation, with a class picked
// by Classify from keywords in its id. Later telemetry only updates it; the
// update rules are chosen by an exhaustive switch over types.DeviceClass.
// The registry keeps latest state only and never deletes devices.
package registry
