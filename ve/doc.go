// Package ve provides the deterministic VE-correction kernel: grid binning,
// log aggregation, the gradient-limited correction kernel, and the apply/
// rollback operations over VE tables with content-hash integrity.
//
// # Reading Guide
//
// Start with these files to understand the core:
//   - grid.go: fixed RPM x MAP binning and interpolation primitives
//   - table.go: the dense 2-D Table type shared by every downstream stage
//   - aggregator.go: folding a log into per-cell statistics
//   - kernel.go: the correction kernel, smoothing, clamping, confidence
//   - apply.go / rollback.go: VE apply and its exact inverse
//
// Sibling packages cover the remaining components:
//   - ve/diagnostics: coverage, MAD, anomaly flags, confidence grade
//   - ve/ecu: the virtual ECU ideal-gas physics model
//   - ve/orchestrator: the closed-loop convergence driver and session registry
//   - ve/store: the content-addressed artifact store
//
// The public façade lives one level up in package api, which wires this
// package together with ve/diagnostics, ve/ecu, ve/orchestrator, and
// ve/store.
//
// The package is single-threaded per call and holds no mutable package-level
// state; the Grid, once built, is immutable and safe to share across calls.
package ve
