package diagnostics

import (
	"math"

	"github.com/rob9206/dynoai/ve"
)

// kSparkAdvisory scales the advisory spark-timing delta from the mean
// residual AFR error. A positive AFR error (lean) advises pulling timing
// back; a negative error (rich) advises adding it, both clamped to
// cfg.MaxSparkAdvisoryDeg.
const kSparkAdvisory = 1.0

// SparkAdvisory is a diagnostic-only table of suggested spark-timing
// deltas, one cell per grid cell. It is never consumed by Apply or
// Rollback and never leaves diagnostics: any actual timing change is a
// calibrator decision made outside this package.
type SparkAdvisory struct {
	Cylinder string      `json:"cylinder"`
	DeltaDeg [][]float64 `json:"delta_deg"`
}

// ComputeSparkAdvisory derives an advisory spark-timing delta per cell
// from a correction artifact's residual AFR error, independent of and
// alongside the VE correction itself.
func ComputeSparkAdvisory(a *ve.CorrectionArtifact, cfg ve.Config) (*SparkAdvisory, error) {
	if err := a.VerifySelfHash(); err != nil {
		return nil, err
	}
	rows := len(a.AFRErrorMean)
	delta := make([][]float64, rows)
	bound := cfg.MaxSparkAdvisoryDeg
	for i := 0; i < rows; i++ {
		cols := len(a.AFRErrorMean[i])
		delta[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			if a.HitCount[i][j] <= 0 {
				continue
			}
			v := -kSparkAdvisory * a.AFRErrorMean[i][j]
			if v > bound {
				v = bound
			}
			if v < -bound {
				v = -bound
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			delta[i][j] = round4(v)
		}
	}
	return &SparkAdvisory{Cylinder: a.Cylinder, DeltaDeg: delta}, nil
}

// round4 mirrors the core package's banker's rounding to 4 decimal
// digits so advisory values share the same display precision as every
// other table in the system.
func round4(v float64) float64 {
	const scale = 10000.0
	return math.RoundToEven(v*scale) / scale
}
