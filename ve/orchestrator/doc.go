// Package orchestrator drives the closed-loop tuning session: repeated
// rounds of simulate-aggregate-correct-apply against a virtual ECU until
// the residual AFR error converges, oscillates, blows a safety cap, or
// runs out of iterations or wall-clock budget.
//
// A Session moves through a single one-way state machine:
//
//	pending -> running -> {converged | failed | aborted | timed_out}
//
// Registry holds sessions in one process-wide synchronized map rather
// than package-level globals, so a host process can run more than one
// session concurrently without sharing mutable state outside the map.
package orchestrator
