package ve

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// CorrectionArtifact is the immutable output of RunKernel: a per-cell
// factor table plus the statistics and parameters needed to reproduce and
// verify it. Created by the kernel, persisted by the artifact store,
// consumed by Apply.
type CorrectionArtifact struct {
	GridRPMBins   []float64   `json:"grid_rpm_bins"`
	GridMAPBins   []float64   `json:"grid_map_bins"`
	Cylinder      string      `json:"cylinder"`
	FactorPct     [][]float64 `json:"factor_pct"`
	HitCount      [][]float64 `json:"hit_count"`
	AFRErrorMean  [][]float64 `json:"afr_error_mean"`
	Clamped       [][]bool    `json:"clamped"`
	ClampedCount  int         `json:"clamped_count"`
	ClampedCells  int         `json:"clamped_cells_total"`
	ClampPct      float64     `json:"clamp_pct"`
	SmoothPasses  int         `json:"smooth_passes"`
	KernelVersion string      `json:"kernel_version"`
	MathVersion   string      `json:"math_version"`
	// CoverageWeight is the static per-cell coverage weight (hit_count /
	// min_hits_for_full_weight, clamped to 1) computed before smoothing.
	// Diagnostics reads this directly rather than recomputing it from
	// hit_count and a config it may no longer have access to.
	CoverageWeight [][]float64 `json:"coverage_weight"`
	// CorrectedCells is the count of cells whose coverage weight cleared
	// cfg.SparseWeightThreshold and therefore were not zeroed by the
	// sparse-cell step (their correction may still be 0).
	CorrectedCells int    `json:"corrected_cells"`
	SHA256         string `json:"sha256"`
}

// grid reconstructs the *Grid the artifact was produced against.
func (a *CorrectionArtifact) grid() (*Grid, error) {
	return NewGrid(a.GridRPMBins, a.GridMAPBins)
}

// FactorTable reconstructs the factor-delta Table from the artifact.
func (a *CorrectionArtifact) FactorTable() (*Table, error) {
	grid, err := a.grid()
	if err != nil {
		return nil, err
	}
	return NewTableFromRows(grid, UnitFactorPct, a.FactorPct)
}

// computeSelfHash returns the artifact's content hash with SHA256 cleared,
// matching "hash of self" (the hash field is never part of its own input).
func (a *CorrectionArtifact) computeSelfHash() (string, error) {
	clone := *a
	clone.SHA256 = ""
	return sha256OfJSON(&clone)
}

// VerifySelfHash recomputes the artifact's hash and compares it to the
// stored SHA256 field.
func (a *CorrectionArtifact) VerifySelfHash() error {
	want, err := a.computeSelfHash()
	if err != nil {
		return err
	}
	if want != a.SHA256 {
		return fmt.Errorf("%w: correction artifact self-hash mismatch", ErrHashMismatch)
	}
	return nil
}

// neighborOffsets are the up-to-8 compass neighbors of a cell.
var neighborOffsets = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// RunKernel implements the gradient-limited, coverage-weighted smoothing
// kernel named "k1". stats must be dimensioned against grid. Returns
// ErrMismatchedDimensions if baseVE's dims disagree with grid,
// ErrUnsupportedKernel if cfg.KernelVariant names a variant this kernel does
// not implement.
func RunKernel(grid *Grid, stats *CellStatsGrid, baseVE *Table, cyl Cylinder, cfg Config) (*CorrectionArtifact, error) {
	if cfg.KernelVariant != "k1" {
		return nil, fmt.Errorf("%w: %q (only k1 is implemented by this kernel)", ErrUnsupportedKernel, cfg.KernelVariant)
	}
	if err := baseVE.CheckDims(grid); err != nil {
		return nil, err
	}
	if stats.Grid() != grid && !stats.Grid().Equal(grid) {
		return nil, fmt.Errorf("%w: cell stats grid does not match base VE grid", ErrMismatchedDimensions)
	}

	rows, cols := grid.NumRPM(), grid.NumMAP()

	deltaRaw := make([][]float64, rows)
	weight := make([][]float64, rows)
	hitCount := make([][]float64, rows)
	afrErrorMean := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		deltaRaw[i] = make([]float64, cols)
		weight[i] = make([]float64, cols)
		hitCount[i] = make([]float64, cols)
		afrErrorMean[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			cell := stats.At(i, j)
			hitCount[i][j] = float64(cell.HitCount)
			afrErrorMean[i][j] = cell.MeanAFRError()
			if cell.HitCount == 0 {
				deltaRaw[i][j] = 0
				weight[i][j] = 0
				continue
			}
			medMeas := cell.MedianAFRMeas()
			medCmd := cell.MedianAFRCmd()
			if medCmd == 0 {
				return nil, fmt.Errorf("%w: cell (%d,%d) has zero median commanded AFR", ErrInvariantViolation, i, j)
			}
			factor := medMeas / medCmd
			deltaRaw[i][j] = (factor - 1) * 100
			weight[i][j] = min1(float64(cell.HitCount) / cfg.MinHitsForFullWeight)
		}
	}

	// Step 3: gradient-limited, coverage-weighted smoothing. prev starts as
	// the raw deltas; each pass is computed synchronously from prev.
	prev := deltaRaw
	for pass := 0; pass < cfg.SmoothPasses; pass++ {
		next := make([][]float64, rows)
		for i := 0; i < rows; i++ {
			next[i] = make([]float64, cols)
			for j := 0; j < cols; j++ {
				next[i][j] = smoothCell(i, j, rows, cols, deltaRaw, weight, prev, cfg)
			}
		}
		prev = next
	}
	smoothed := prev

	// Step 4: clamp, recording per-cell clamped flags.
	clamped := make([][]bool, rows)
	clampedCount := 0
	for i := 0; i < rows; i++ {
		clamped[i] = make([]bool, cols)
		for j := 0; j < cols; j++ {
			v := smoothed[i][j]
			c := clampValue(v, cfg.ClampPct)
			if c != v {
				clamped[i][j] = true
				clampedCount++
			}
			smoothed[i][j] = c
		}
	}

	// Step 5: zero-out cells whose static coverage weight is still below
	// the sparse threshold; they trust the base VE.
	corrected := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if weight[i][j] < cfg.SparseWeightThreshold {
				smoothed[i][j] = 0
			} else {
				corrected++
			}
			smoothed[i][j] = round4(smoothed[i][j])
			if isNonFinite(smoothed[i][j]) {
				return nil, fmt.Errorf("%w: non-finite delta at cell (%d,%d) after smoothing", ErrInvariantViolation, i, j)
			}
		}
	}

	if clampedCount > 0 {
		logrus.Warnf("ve: kernel(%s): clamped %d/%d cells to +/-%.2f%%", cyl, clampedCount, rows*cols, cfg.ClampPct)
	}

	artifact := &CorrectionArtifact{
		GridRPMBins:    grid.RPMBins(),
		GridMAPBins:    grid.MAPBins(),
		Cylinder:       cyl.String(),
		FactorPct:      smoothed,
		HitCount:       hitCount,
		AFRErrorMean:   afrErrorMean,
		Clamped:        clamped,
		ClampedCount:   clampedCount,
		ClampedCells:   rows * cols,
		ClampPct:       cfg.ClampPct,
		SmoothPasses:   cfg.SmoothPasses,
		KernelVersion:  cfg.KernelVariant,
		MathVersion:    cfg.MathVersion,
		CoverageWeight: weight,
		CorrectedCells: corrected,
	}
	hash, err := artifact.computeSelfHash()
	if err != nil {
		return nil, err
	}
	artifact.SHA256 = hash
	return artifact, nil
}

// smoothCell computes one synchronous smoothing pass for cell (i,j): the
// weight-weighted mean of (raw delta, accepted-neighbor previous-pass
// delta), renormalized, then truncated to the gradient cap against every
// accepted neighbor's previous value.
func smoothCell(i, j, rows, cols int, deltaRaw, weight, prev [][]float64, cfg Config) float64 {
	centerWeight := weight[i][j]
	if centerWeight < 0.5 {
		centerWeight = 0.5
	}

	sumWeight := centerWeight
	sumWeighted := centerWeight * deltaRaw[i][j]

	type neighborVal struct {
		v float64
	}
	var accepted []neighborVal

	for _, off := range neighborOffsets {
		ni, nj := i+off[0], j+off[1]
		if ni < 0 || ni >= rows || nj < 0 || nj >= cols {
			continue
		}
		if weight[ni][nj] < 0.2 {
			continue
		}
		w := weight[ni][nj]
		sumWeight += w
		sumWeighted += w * prev[ni][nj]
		accepted = append(accepted, neighborVal{v: prev[ni][nj]})
	}

	candidate := sumWeighted / sumWeight

	// Gradient cap: candidate may differ from any accepted neighbor's
	// current value by at most max_gradient_pct; excess is truncated by
	// intersecting the per-neighbor allowed intervals.
	lo, hi := negInf, posInf
	for _, n := range accepted {
		if n.v-cfg.MaxGradientPct > lo {
			lo = n.v - cfg.MaxGradientPct
		}
		if n.v+cfg.MaxGradientPct < hi {
			hi = n.v + cfg.MaxGradientPct
		}
	}
	if candidate < lo {
		candidate = lo
	}
	if candidate > hi {
		candidate = hi
	}
	return candidate
}

const (
	negInf = -1e18
	posInf = 1e18
)

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func clampValue(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
