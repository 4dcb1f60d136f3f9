package ve

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMathVersion is the math_version embedded in every artifact
// produced by the default correction kernel.
const DefaultMathVersion = "1.0.0"

// Config is a frozen configuration record: every recognized option is an
// enumerated field, and unknown keys are rejected at parse time (see
// LoadConfig). This single record is shared by the correction kernel and
// the closed-loop orchestrator.
type Config struct {
	ClampPct                float64 `yaml:"clamp_pct"`
	SmoothPasses            int     `yaml:"smooth_passes"`
	MathVersion             string  `yaml:"math_version"`
	KernelVariant           string  `yaml:"kernel_variant"`
	MinHitsForFullWeight    float64 `yaml:"min_hits_for_full_weight"`
	MaxGradientPct          float64 `yaml:"max_gradient_pct"`
	ConvergenceThresholdAFR float64 `yaml:"convergence_threshold_afr"`
	MaxIterations           int     `yaml:"max_iterations"`
	OscillationMargin       float64 `yaml:"oscillation_margin"`
	WallClockBudgetSec      float64 `yaml:"wall_clock_budget_sec"`
	Seed                    int64   `yaml:"seed"`

	// MaxAdjustPct is the hard apply-time cap; defaults to ClampPct when
	// zero.
	MaxAdjustPct float64 `yaml:"max_adjust_pct"`

	// SparseWeightThreshold is the coverage-weight floor below which a cell
	// is "sparse": it never drives corrections, only receives smoothed
	// neighbor influence.
	SparseWeightThreshold float64 `yaml:"sparse_weight_threshold"`

	// MaxSparkAdvisoryDeg bounds the advisory spark-timing delta.
	MaxSparkAdvisoryDeg float64 `yaml:"max_spark_advisory_deg"`

	// Acceptance filter: a sample is rejected unless its fields fall within
	// these ranges. AFRMeasMin/Max and MAPKPaMin/Max are required; IAT/TPS
	// ranges are optional (zero-width means "unchecked").
	AFRMeasMin float64 `yaml:"afr_meas_min"`
	AFRMeasMax float64 `yaml:"afr_meas_max"`
	MAPKPaMin  float64 `yaml:"map_kpa_min"`
	MAPKPaMax  float64 `yaml:"map_kpa_max"`
	IATMin     float64 `yaml:"iat_min"`
	IATMax     float64 `yaml:"iat_max"`
	TPSMin     float64 `yaml:"tps_min"`
	TPSMax     float64 `yaml:"tps_max"`
}

// DefaultConfig returns the configuration defaults used when no
// configuration file is supplied.
func DefaultConfig() Config {
	return Config{
		ClampPct:                7,
		SmoothPasses:            2,
		MathVersion:             DefaultMathVersion,
		KernelVariant:           "k1",
		MinHitsForFullWeight:    10,
		MaxGradientPct:          3.0,
		ConvergenceThresholdAFR: 0.3,
		MaxIterations:           10,
		OscillationMargin:       0.2,
		WallClockBudgetSec:      60,
		Seed:                    0,
		MaxAdjustPct:            7,
		SparseWeightThreshold:   0.2,
		MaxSparkAdvisoryDeg:     2.0,
		AFRMeasMin:              9.0,
		AFRMeasMax:              18.0,
		MAPKPaMin:               10.0,
		MAPKPaMax:               110.0,
	}
}

// MaxClampPctCeiling is the hard ceiling on clamp_pct regardless of config
// (overridable only by the DYNOAI_MAX_CLAMP_PCT environment variable at the
// CLI boundary, never inside the core).
const MaxClampPctCeiling = 12.0

// Validate checks every field against its allowed range and the
// relationships between fields: one finite/range check per field, plus
// closed-set checks for string options.
func (c Config) Validate() error {
	if err := finite("clamp_pct", c.ClampPct); err != nil {
		return err
	}
	if c.ClampPct <= 0 || c.ClampPct > MaxClampPctCeiling {
		return fmt.Errorf("%w: clamp_pct must be in (0, %.1f], got %.4g", ErrInvalidInput, MaxClampPctCeiling, c.ClampPct)
	}
	if c.SmoothPasses < 0 {
		return fmt.Errorf("%w: smooth_passes must be >= 0, got %d", ErrInvalidInput, c.SmoothPasses)
	}
	if c.MathVersion == "" {
		return fmt.Errorf("%w: math_version must not be empty", ErrInvalidInput)
	}
	if !validKernelVariants[c.KernelVariant] {
		return fmt.Errorf("%w: unknown kernel_variant %q", ErrUnsupportedKernel, c.KernelVariant)
	}
	if c.MinHitsForFullWeight <= 0 {
		return fmt.Errorf("%w: min_hits_for_full_weight must be > 0, got %.4g", ErrInvalidInput, c.MinHitsForFullWeight)
	}
	if err := finite("max_gradient_pct", c.MaxGradientPct); err != nil {
		return err
	}
	if c.MaxGradientPct < 0 {
		return fmt.Errorf("%w: max_gradient_pct must be >= 0, got %.4g", ErrInvalidInput, c.MaxGradientPct)
	}
	if c.ConvergenceThresholdAFR <= 0 {
		return fmt.Errorf("%w: convergence_threshold_afr must be > 0, got %.4g", ErrInvalidInput, c.ConvergenceThresholdAFR)
	}
	if c.MaxIterations <= 0 || c.MaxIterations > 50 {
		return fmt.Errorf("%w: max_iterations must be in [1, 50], got %d", ErrInvalidInput, c.MaxIterations)
	}
	if c.OscillationMargin < 0 {
		return fmt.Errorf("%w: oscillation_margin must be >= 0, got %.4g", ErrInvalidInput, c.OscillationMargin)
	}
	if c.WallClockBudgetSec <= 0 {
		return fmt.Errorf("%w: wall_clock_budget_sec must be > 0, got %.4g", ErrInvalidInput, c.WallClockBudgetSec)
	}
	maxAdjust := c.MaxAdjustPct
	if maxAdjust == 0 {
		maxAdjust = c.ClampPct
	}
	if maxAdjust <= 0 || maxAdjust > MaxClampPctCeiling {
		return fmt.Errorf("%w: max_adjust_pct must be in (0, %.1f], got %.4g", ErrInvalidInput, MaxClampPctCeiling, maxAdjust)
	}
	if c.SparseWeightThreshold < 0 || c.SparseWeightThreshold > 1 {
		return fmt.Errorf("%w: sparse_weight_threshold must be in [0,1], got %.4g", ErrInvalidInput, c.SparseWeightThreshold)
	}
	if c.AFRMeasMin >= c.AFRMeasMax {
		return fmt.Errorf("%w: afr_meas_min must be < afr_meas_max", ErrInvalidInput)
	}
	if c.MAPKPaMin >= c.MAPKPaMax {
		return fmt.Errorf("%w: map_kpa_min must be < map_kpa_max", ErrInvalidInput)
	}
	return nil
}

var validKernelVariants = map[string]bool{
	"k1":          true, // gradient-limited, coverage-weighted smoothing (default)
	"k2_coverage": true,
	"k3_spark":    true,
}

func finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidInput, name, v)
	}
	return nil
}

// ResolvedMaxAdjustPct returns MaxAdjustPct, defaulting to ClampPct when unset.
func (c Config) ResolvedMaxAdjustPct() float64 {
	if c.MaxAdjustPct == 0 {
		return c.ClampPct
	}
	return c.MaxAdjustPct
}

// LoadConfig reads and strictly parses a YAML configuration file, starting
// from DefaultConfig and overlaying recognized keys. Unknown keys (typos)
// are rejected rather than silently ignored.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: reading config: %v", ErrIoFailure, err)
	}
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing config: %v", ErrInvalidInput, err)
	}
	return cfg, nil
}
