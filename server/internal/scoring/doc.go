// Package scoring turns device state into ALE scores and letter grades.
//
// strategy.go defines the Strategy interface that produces the three
// sub-scores (0–100) and JitterStrategy, the deterministic stand-in used in
// production until sensor-derived analytics exist. Its jitter is a pure
// function of the device id (FNV-1a), so repeated calls are stable per id.
//
// score.go combines sub-scores with a weight profile (plain weighted sum, no
// renormalization) and maps the result to a grade:
// A+ ≥95, A ≥90, B+ ≥85, B ≥80, C+ ≥75, C ≥70, D ≥60, else F.
//
// engine.go scores single devices and batches. A failure for one id in a
// batch is recorded in FailedIDs and never aborts the rest.
package scoring
