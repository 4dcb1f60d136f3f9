// Package diagnostics turns a pair of correction artifacts (front and
// rear) into human-facing confidence signals: coverage, consistency,
// clamp pressure, anomaly flags, and an overall letter grade. It also
// carries the advisory spark-timing delta, a diagnostic-only number the
// core never applies to any ECU table.
//
// Every function here is a pure function of its inputs: same artifacts,
// same config, same answer, no I/O and no mutation of the artifacts it
// reads. That mirrors the rest of the ve package's treatment of
// correction artifacts as frozen, content-addressed records.
package diagnostics
