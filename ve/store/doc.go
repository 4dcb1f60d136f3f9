// Package store is the content-addressed artifact store: every
// correction artifact, apply metadata record, and rollback record is
// written once under <root>/<run_id>/<name>, with its sha256 kept in an
// atomic temp-then-rename write and a ".sha256" side-file a caller can
// verify without parsing JSON.
//
// Writes are idempotent by content: writing identical bytes to a path
// that already holds them is a no-op; writing different bytes to an
// existing path is rejected rather than silently overwritten.
package store
