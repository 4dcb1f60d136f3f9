package ve

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ApplyMetadata is the required input to Rollback; a rollback fails if any
// hash mismatches.
type ApplyMetadata struct {
	BaseVESHA256     string  `json:"base_ve_sha256"`
	FactorSHA256     string  `json:"factor_sha256"`
	UpdatedVESHA256  string  `json:"updated_ve_sha256"`
	ClampPctUsed     float64 `json:"clamp_pct_used"`
	TimestampUnix    int64   `json:"timestamp_unix"`
	MathVersion      string  `json:"math_version"`
	// PriorCumulativeAdjustPct is the net percentage change already applied
	// to this lineage before this apply, per cell, at the grid's dims. Used
	// to enforce the 50% cumulative cap across chained applies. Empty on a
	// lineage's first apply.
	PriorCumulativeAdjustPct [][]float64 `json:"prior_cumulative_adjust_pct,omitempty"`
	CumulativeAdjustPct      [][]float64 `json:"cumulative_adjust_pct"`
}

// ApplyOptions controls a single Apply call.
type ApplyOptions struct {
	// MaxAdjustPct is the hard apply-time cap (<= MaxClampPctCeiling). The
	// core never re-clamps at apply time; it rejects instead.
	MaxAdjustPct float64
	// DryRun produces the updated table and metadata without persisting
	// anything (persistence is the caller's/store's responsibility).
	DryRun bool
	// Prior is the ApplyMetadata of the previous apply on this lineage, or
	// nil for a lineage's first apply. Used to enforce the cumulative cap.
	Prior *ApplyMetadata
	// Now overrides time.Now for deterministic tests; zero means time.Now().
	Now time.Time
}

// cumulativeCapLow and cumulativeCapHigh bound the net multiplicative
// change allowed across a lineage's chained applies: 50% net change in
// either direction, expressed as the bounds on the running product of
// (1 + delta/100).
const (
	cumulativeCapLow  = 0.5
	cumulativeCapHigh = 1.5
)

// Apply combines baseVE and the factor table in artifact into an updated
// VE table: updated[i,j] = base[i,j] * (1 + delta[i,j]/100), rounded to 4
// decimal digits. It checks baseVE's dimensions and finiteness and the
// artifact's self-hash first (baseVE's hash is recorded, not checked),
// rejects if any delta exceeds opts.MaxAdjustPct, and rejects if the
// chained cumulative correction on any cell would leave [0.5, 1.5].
func Apply(grid *Grid, baseVE *Table, artifact *CorrectionArtifact, opts ApplyOptions) (*Table, *ApplyMetadata, error) {
	if err := baseVE.CheckDims(grid); err != nil {
		return nil, nil, err
	}
	if err := baseVE.CheckFinite(); err != nil {
		return nil, nil, err
	}
	if err := artifact.VerifySelfHash(); err != nil {
		return nil, nil, err
	}
	factorTable, err := artifact.FactorTable()
	if err != nil {
		return nil, nil, err
	}
	if err := factorTable.CheckDims(grid); err != nil {
		return nil, nil, err
	}

	maxAdjust := opts.MaxAdjustPct
	if maxAdjust == 0 {
		maxAdjust = MaxClampPctCeiling
	}
	rows, cols := grid.NumRPM(), grid.NumMAP()

	prior := opts.Prior
	cumulative := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		cumulative[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			delta := factorTable.At(i, j)
			if absFloat(delta) > maxAdjust+5e-5 {
				return nil, nil, fmt.Errorf("%w: cell (%d,%d) delta %.4f%% exceeds max_adjust_pct %.4f%%", ErrClampExceeded, i, j, delta, maxAdjust)
			}

			priorCumulative := 1.0
			if prior != nil && prior.CumulativeAdjustPct != nil {
				priorCumulative = 1 + prior.CumulativeAdjustPct[i][j]/100
			}
			netMultiplier := priorCumulative * (1 + delta/100)
			if netMultiplier < cumulativeCapLow || netMultiplier > cumulativeCapHigh {
				return nil, nil, fmt.Errorf("%w: cell (%d,%d) cumulative multiplier %.4f outside [%.2f, %.2f]", ErrCumulativeCapExceeded, i, j, netMultiplier, cumulativeCapLow, cumulativeCapHigh)
			}
			cumulative[i][j] = round4((netMultiplier - 1) * 100)
		}
	}

	updated := NewTable(grid, UnitVE)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			delta := factorTable.At(i, j)
			v := round4(baseVE.At(i, j) * (1 + delta/100))
			if v < 0.3 || v > 1.5 {
				return nil, nil, fmt.Errorf("%w: updated VE at cell (%d,%d) = %.4f outside [0.3, 1.5]", ErrSafetyViolation, i, j, v)
			}
			updated.Set(i, j, v)
		}
	}
	if err := updated.CheckFinite(); err != nil {
		return nil, nil, err
	}

	baseVECSV, err := EncodeTableCSV(grid, baseVE, false)
	if err != nil {
		return nil, nil, err
	}
	updatedVECSV, err := EncodeTableCSV(grid, updated, false)
	if err != nil {
		return nil, nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	meta := &ApplyMetadata{
		BaseVESHA256:        SHA256Hex(baseVECSV),
		FactorSHA256:        artifact.SHA256,
		UpdatedVESHA256:     SHA256Hex(updatedVECSV),
		ClampPctUsed:        maxAdjust,
		TimestampUnix:       now.Unix(),
		MathVersion:         artifact.MathVersion,
		CumulativeAdjustPct: cumulative,
	}
	if prior != nil {
		meta.PriorCumulativeAdjustPct = prior.CumulativeAdjustPct
	}

	if opts.DryRun {
		logrus.Debugf("ve: apply(dry-run): max_adjust_pct=%.2f clamp_pct_used=%.2f", maxAdjust, meta.ClampPctUsed)
	} else {
		logrus.Infof("ve: apply: base_sha=%.12s factor_sha=%.12s updated_sha=%.12s", meta.BaseVESHA256, meta.FactorSHA256, meta.UpdatedVESHA256)
	}

	return updated, meta, nil
}
