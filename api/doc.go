// Package api is the public façade tying the correction core, the
// virtual ECU, the closed-loop orchestrator, diagnostics, and the
// artifact store together into the handful of operations a CLI or
// service actually calls: Analyze, ApplyArtifact, RollbackApply, and
// Tune.
//
// It lives outside package ve because ve/diagnostics depends on ve for
// the types it grades (CorrectionArtifact, Table, Config); a façade
// that needs both ve and ve/diagnostics cannot itself live inside ve
// without an import cycle. Keeping orchestration one level up, the way
// cmd/ sits above sim/ in this codebase's ancestry, keeps every
// lower-level package a one-directional dependency.
package api
