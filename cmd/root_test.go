package cmd

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rob9206/dynoai/ve"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err      error
		wantKind string
		wantCode int
	}{
		{ve.ErrCancelled, "Cancelled", 130},
		{ve.ErrTimedOut, "TimedOut", 124},
		{ve.ErrInvariantViolation, "InvariantViolation", 4},
		{ve.ErrSafetyViolation, "SafetyViolation", 3},
		{ve.ErrClampExceeded, "SafetyViolation", 3},
		{ve.ErrCumulativeCapExceeded, "SafetyViolation", 3},
		{ve.ErrHashMismatch, "SafetyViolation", 3},
		{ve.ErrInvalidInput, "InvalidInput", 2},
		{ve.ErrUnsupportedKernel, "InvalidInput", 2},
		{ve.ErrIoFailure, "IoFailure", 2},
		{errors.New("something unclassified"), "InvariantViolation", 4},
	}
	for _, c := range cases {
		kind, code := classify(c.err)
		assert.Equal(t, c.wantKind, kind, "classify(%v) kind", c.err)
		assert.Equal(t, c.wantCode, code, "classify(%v) code", c.err)
	}
}

func TestResolveRunsDir_EnvOverridesFlag(t *testing.T) {
	runsDir = "./runs"
	t.Setenv("DYNOAI_RUNS_DIR", "/tmp/override")
	if got := resolveRunsDir(); got != "/tmp/override" {
		t.Errorf("expected env override, got %q", got)
	}
}

func TestResolveRunsDir_FallsBackToFlag(t *testing.T) {
	runsDir = "./runs"
	os.Unsetenv("DYNOAI_RUNS_DIR")
	if got := resolveRunsDir(); got != "./runs" {
		t.Errorf("expected flag default, got %q", got)
	}
}

func TestMaxClampPctCeiling_DefaultsToPackageCeiling(t *testing.T) {
	os.Unsetenv("DYNOAI_MAX_CLAMP_PCT")
	if got := maxClampPctCeiling(); got != ve.MaxClampPctCeiling {
		t.Errorf("expected default ceiling %v, got %v", ve.MaxClampPctCeiling, got)
	}
}

func TestMaxClampPctCeiling_EnvOverridesDownwardOnly(t *testing.T) {
	t.Setenv("DYNOAI_MAX_CLAMP_PCT", "5")
	if got := maxClampPctCeiling(); got != 5 {
		t.Errorf("expected env override to 5, got %v", got)
	}
	t.Setenv("DYNOAI_MAX_CLAMP_PCT", "999")
	if got := maxClampPctCeiling(); got != ve.MaxClampPctCeiling {
		t.Errorf("expected an out-of-range override to be ignored, got %v", got)
	}
}

func TestMathVersionPin_EmptyWhenUnset(t *testing.T) {
	os.Unsetenv("DYNOAI_MATH_VERSION_PIN")
	if got := mathVersionPin(); got != "" {
		t.Errorf("expected empty pin when unset, got %q", got)
	}
}

func TestCylinderOf_ParsesFrontAndRear(t *testing.T) {
	if cyl, err := cylinderOf("front"); err != nil || cyl != ve.Front {
		t.Errorf("expected (ve.Front, nil), got (%v, %v)", cyl, err)
	}
	if cyl, err := cylinderOf("rear"); err != nil || cyl != ve.Rear {
		t.Errorf("expected (ve.Rear, nil), got (%v, %v)", cyl, err)
	}
}

func TestCylinderOf_RejectsUnknownName(t *testing.T) {
	if _, err := cylinderOf("both"); !errors.Is(err, ve.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for an unrecognized cylinder name, got %v", err)
	}
}
