// cmd/root.go
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rob9206/dynoai/ve"
)

var (
	logLevel string
	runsDir  string
)

var rootCmd = &cobra.Command{
	Use:   "dynoai",
	Short: "Deterministic VE-table correction and closed-loop ECU tuning",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if level, err := logrus.ParseLevel(logLevel); err == nil {
			logrus.SetLevel(level)
		}
	},
}

// Execute runs the CLI and exits with the code matching the error kind
// returned by whichever subcommand ran, per the exit-code table: 0
// success, 2 invalid input, 3 safety violation, 4 internal invariant
// violation, 124 timeout, 130 aborted.
func Execute() {
	level, err := logrus.ParseLevel(logLevel)
	if err == nil {
		logrus.SetLevel(level)
	}

	if err := rootCmd.Execute(); err != nil {
		kind, code := classify(err)
		fmt.Fprintf(os.Stderr, "ERROR [%s]: %v\n", kind, err)
		os.Exit(code)
	}
}

// classify maps an error to its taxonomy kind and CLI exit code.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, ve.ErrCancelled):
		return "Cancelled", 130
	case errors.Is(err, ve.ErrTimedOut):
		return "TimedOut", 124
	case errors.Is(err, ve.ErrInvariantViolation):
		return "InvariantViolation", 4
	case errors.Is(err, ve.ErrSafetyViolation),
		errors.Is(err, ve.ErrClampExceeded),
		errors.Is(err, ve.ErrHashMismatch),
		errors.Is(err, ve.ErrCumulativeCapExceeded),
		errors.Is(err, ve.ErrInverseVerificationFailed),
		errors.Is(err, ve.ErrContentHashCollision):
		return "SafetyViolation", 3
	case errors.Is(err, ve.ErrInvalidInput),
		errors.Is(err, ve.ErrInvalidAxis),
		errors.Is(err, ve.ErrMismatchedDimensions),
		errors.Is(err, ve.ErrUnsupportedKernel),
		errors.Is(err, ve.ErrPathEscape):
		return "InvalidInput", 2
	case errors.Is(err, ve.ErrIoFailure):
		return "IoFailure", 2
	default:
		return "InvariantViolation", 4
	}
}

// resolveRunsDir applies the DYNOAI_RUNS_DIR environment variable over
// the --runs-dir flag default.
func resolveRunsDir() string {
	if v := os.Getenv("DYNOAI_RUNS_DIR"); v != "" {
		return v
	}
	return runsDir
}

// maxClampPctCeiling is MaxClampPctCeiling, overridable downward (never
// upward) by DYNOAI_MAX_CLAMP_PCT.
func maxClampPctCeiling() float64 {
	ceiling := ve.MaxClampPctCeiling
	if v := os.Getenv("DYNOAI_MAX_CLAMP_PCT"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 && parsed <= ceiling {
			return parsed
		}
	}
	return ceiling
}

// mathVersionPin returns the DYNOAI_MATH_VERSION_PIN value, or "" if
// unset (meaning any math_version is accepted).
func mathVersionPin() string {
	return os.Getenv("DYNOAI_MATH_VERSION_PIN")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&runsDir, "runs-dir", "./runs", "Root directory for persisted run artifacts")
}
