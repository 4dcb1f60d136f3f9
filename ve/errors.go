package ve

import "errors"

// Error kinds per the error taxonomy: InvalidInput, SafetyViolation,
// InvariantViolation, IoFailure, Cancelled, TimedOut. Callers should use
// errors.Is against these sentinels rather than string-matching messages;
// wrapped context is added with fmt.Errorf("...: %w", ErrX).
var (
	// ErrInvalidInput marks a schema/range violation in caller-supplied data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSafetyViolation marks a refusal to produce potentially harmful
	// output, such as an updated VE cell outside [0.3, 1.5] or an
	// oscillating closed-loop run. Clamp, hash and cumulative-cap refusals
	// use their own sentinels below, which do not wrap this one.
	ErrSafetyViolation = errors.New("safety violation")

	// ErrInvariantViolation marks an internal bug: NaN after smoothing,
	// dimension mismatch after an internal transform.
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrIoFailure marks a filesystem error. Callers roll back any partial
	// writes for the current operation.
	ErrIoFailure = errors.New("io failure")

	// ErrCancelled marks an externally induced cancellation of an
	// orchestrator session.
	ErrCancelled = errors.New("cancelled")

	// ErrTimedOut marks an externally induced timeout of an orchestrator
	// session.
	ErrTimedOut = errors.New("timed out")
)

// InvalidAxis is returned by Grid construction when an axis is not strictly
// increasing or has fewer than two entries.
var ErrInvalidAxis = errors.New("invalid axis")

// MismatchedDimensions is returned when a Table's dimensions do not match
// the Grid it is checked against.
var ErrMismatchedDimensions = errors.New("mismatched dimensions")

// UnsupportedKernel is returned when a kernel variant name is not
// recognized by the current math version.
var ErrUnsupportedKernel = errors.New("unsupported kernel variant")

// ErrClampExceeded is returned by Apply when a factor artifact's delta
// exceeds the configured max_adjust_pct; the core never silently re-clamps
// at apply time.
var ErrClampExceeded = errors.New("clamp exceeded")

// ErrHashMismatch is returned by Rollback when a supplied table's hash does
// not match the one recorded in ApplyMetadata.
var ErrHashMismatch = errors.New("hash mismatch")

// ErrInverseVerificationFailed is returned by Rollback when the restored VE
// does not hash back to the recorded base VE after rounding.
var ErrInverseVerificationFailed = errors.New("inverse verification failed")

// ErrCumulativeCapExceeded is returned by Apply when the chained correction
// on a lineage would leave any cell outside the cumulative safety band.
var ErrCumulativeCapExceeded = errors.New("cumulative cap exceeded")

// ErrContentHashCollision is returned by the artifact store when a run
// writes a name that already exists with different content.
var ErrContentHashCollision = errors.New("content hash collision")

// ErrPathEscape is returned by the artifact store when a write path
// resolves outside the run root.
var ErrPathEscape = errors.New("path escape")
