package diagnostics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rob9206/dynoai/ve"
)

// Grade is a closed four-value confidence rating, cheapest read of a
// run's trustworthiness without opening either artifact.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Anomaly flag strings. Named by what they detect, not by an internal
// code, so a CLI or log line can print them directly.
const (
	AnomalyHighMagnitudeCluster = "high_magnitude_cluster"
	AnomalySignFlip             = "front_rear_sign_flip"
	AnomalyDeadbandViolation    = "deadband_violation"
)

// deadbandMultiplier bounds how far a populated cell's residual AFR error
// may sit beyond the convergence threshold before it is flagged: cells
// this far off after a correction pass suggest a log or sensor problem,
// not a VE table problem.
const deadbandMultiplier = 3.0

// clusterMagnitudeFraction is the fraction of clamp_pct a cell's delta
// must exceed to count toward a high-magnitude cluster.
const clusterMagnitudeFraction = 0.8

// clusterMinSize is the minimum number of 4-connected high-magnitude
// cells that constitutes a cluster rather than an isolated correction.
const clusterMinSize = 3

// Diagnostics is the full confidence summary for one analyze run.
type Diagnostics struct {
	CoveragePctFront float64  `json:"coverage_pct_front"`
	CoveragePctRear  float64  `json:"coverage_pct_rear,omitempty"`
	MADAFRErrorFront float64  `json:"mad_afr_error_front"`
	MADAFRErrorRear  float64  `json:"mad_afr_error_rear,omitempty"`
	ClampFraction    float64  `json:"clamp_fraction"`
	AnomalyFlags     []string `json:"anomaly_flags"`
	ConfidenceScore  float64  `json:"confidence_score"`
	ConfidenceGrade  Grade    `json:"confidence_grade"`
}

// Compute derives Diagnostics from a front correction artifact and an
// optional rear counterpart (nil on a single-cylinder engine). cfg
// supplies the thresholds used throughout.
func Compute(front, rear *ve.CorrectionArtifact, cfg ve.Config) (*Diagnostics, error) {
	if front == nil {
		return nil, fmt.Errorf("%w: front artifact required", ve.ErrInvalidInput)
	}
	if err := front.VerifySelfHash(); err != nil {
		return nil, err
	}
	if rear != nil {
		if err := rear.VerifySelfHash(); err != nil {
			return nil, err
		}
	}

	d := &Diagnostics{}
	d.CoveragePctFront = coveragePct(front, cfg)
	d.MADAFRErrorFront = medianAbsoluteDeviation(populatedValues(front.AFRErrorMean, front.HitCount))
	clampedCells := front.ClampedCount
	correctedCells := front.CorrectedCells
	if rear != nil {
		d.CoveragePctRear = coveragePct(rear, cfg)
		d.MADAFRErrorRear = medianAbsoluteDeviation(populatedValues(rear.AFRErrorMean, rear.HitCount))
		clampedCells += rear.ClampedCount
		correctedCells += rear.CorrectedCells
	}
	if correctedCells > 0 {
		d.ClampFraction = float64(clampedCells) / float64(correctedCells)
	}

	var flags []string
	if hasHighMagnitudeCluster(front, cfg) || (rear != nil && hasHighMagnitudeCluster(rear, cfg)) {
		flags = append(flags, AnomalyHighMagnitudeCluster)
	}
	if rear != nil && hasSignFlip(front, rear) {
		flags = append(flags, AnomalySignFlip)
	}
	if hasDeadbandViolation(front, cfg) || (rear != nil && hasDeadbandViolation(rear, cfg)) {
		flags = append(flags, AnomalyDeadbandViolation)
	}
	d.AnomalyFlags = flags

	d.ConfidenceScore, d.ConfidenceGrade = confidenceGrade(d, rear != nil)
	return d, nil
}

// coveragePct is the fraction of cells, expressed as 0-100, whose
// coverage weight reaches at least cfg.SparseWeightThreshold.
func coveragePct(a *ve.CorrectionArtifact, cfg ve.Config) float64 {
	if len(a.CoverageWeight) == 0 {
		return 0
	}
	total := 0
	covered := 0
	for _, row := range a.CoverageWeight {
		for _, w := range row {
			total++
			if w >= cfg.SparseWeightThreshold {
				covered++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(covered) / float64(total)
}

// populatedValues flattens a dense table into the subset of cells with a
// positive hit count, the population diagnostics are computed over.
func populatedValues(values, hitCount [][]float64) []float64 {
	var out []float64
	for i := range values {
		for j := range values[i] {
			if hitCount[i][j] > 0 {
				out = append(out, values[i][j])
			}
		}
	}
	return out
}

// medianAbsoluteDeviation is the median of |x - median(x)|, a robust
// spread measure for residual AFR error.
func medianAbsoluteDeviation(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	center := medianOf(data)
	devs := make([]float64, len(data))
	for i, v := range data {
		devs[i] = absFloat(v - center)
	}
	return medianOf(devs)
}

// medianOf computes the exact median of data over a sorted copy, the
// same way ve.median does: gonum's empirical quantile at p=0.5 for an
// odd count, the mean of the two middle values for an even count.
func medianOf(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	if n := len(sorted); n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// hasHighMagnitudeCluster reports whether the artifact's factor table
// contains a 4-connected group of at least clusterMinSize cells whose
// magnitude exceeds clusterMagnitudeFraction of clamp_pct, a pattern more
// consistent with a sensor or log defect than a real VE error.
func hasHighMagnitudeCluster(a *ve.CorrectionArtifact, cfg ve.Config) bool {
	rows := len(a.FactorPct)
	if rows == 0 {
		return false
	}
	cols := len(a.FactorPct[0])
	threshold := cfg.ClampPct * clusterMagnitudeFraction
	visited := make([][]bool, rows)
	for i := range visited {
		visited[i] = make([]bool, cols)
	}
	hot := func(i, j int) bool {
		return absFloat(a.FactorPct[i][j]) >= threshold
	}
	var stack [][2]int
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if visited[i][j] || !hot(i, j) {
				continue
			}
			size := 0
			stack = stack[:0]
			stack = append(stack, [2]int{i, j})
			visited[i][j] = true
			for len(stack) > 0 {
				c := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				size++
				for _, off := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
					ni, nj := c[0]+off[0], c[1]+off[1]
					if ni < 0 || ni >= rows || nj < 0 || nj >= cols || visited[ni][nj] || !hot(ni, nj) {
						continue
					}
					visited[ni][nj] = true
					stack = append(stack, [2]int{ni, nj})
				}
			}
			if size >= clusterMinSize {
				return true
			}
		}
	}
	return false
}

// hasSignFlip reports whether any cell populated in both front and rear
// artifacts shows opposite-signed corrections of meaningful magnitude,
// physically implausible for a shared intake event and usually a wiring
// or injector-assignment mixup.
func hasSignFlip(front, rear *ve.CorrectionArtifact) bool {
	rows := len(front.FactorPct)
	if rows == 0 || len(rear.FactorPct) != rows {
		return false
	}
	const minMagnitude = 1.0
	for i := range front.FactorPct {
		if i >= len(rear.FactorPct) {
			break
		}
		for j := range front.FactorPct[i] {
			if j >= len(rear.FactorPct[i]) {
				break
			}
			if front.HitCount[i][j] <= 0 || rear.HitCount[i][j] <= 0 {
				continue
			}
			f, r := front.FactorPct[i][j], rear.FactorPct[i][j]
			if absFloat(f) < minMagnitude || absFloat(r) < minMagnitude {
				continue
			}
			if (f > 0) != (r > 0) {
				return true
			}
		}
	}
	return false
}

// hasDeadbandViolation reports whether any populated cell's residual AFR
// error remains beyond deadbandMultiplier times the convergence
// threshold even after correction.
func hasDeadbandViolation(a *ve.CorrectionArtifact, cfg ve.Config) bool {
	deadband := cfg.ConvergenceThresholdAFR * deadbandMultiplier
	for i := range a.AFRErrorMean {
		for j := range a.AFRErrorMean[i] {
			if a.HitCount[i][j] <= 0 {
				continue
			}
			if absFloat(a.AFRErrorMean[i][j]) > deadband {
				return true
			}
		}
	}
	return false
}

// confidenceGrade folds coverage, consistency, anomaly count, and clamp
// pressure into a single 0-100 score and letter grade. Coverage weighs
// heaviest, since a low-coverage run cannot be trusted regardless of how
// clean its numbers look.
func confidenceGrade(d *Diagnostics, twoCylinder bool) (float64, Grade) {
	coverage := d.CoveragePctFront
	mad := d.MADAFRErrorFront
	if twoCylinder {
		coverage = (d.CoveragePctFront + d.CoveragePctRear) / 2
		mad = (d.MADAFRErrorFront + d.MADAFRErrorRear) / 2
	}

	coverageScore := coverage
	consistencyScore := 100 - mad*50
	if consistencyScore < 0 {
		consistencyScore = 0
	}
	anomalyScore := 100 - float64(len(d.AnomalyFlags))*25
	if anomalyScore < 0 {
		anomalyScore = 0
	}
	clampingScore := 100 - d.ClampFraction*100
	if clampingScore < 0 {
		clampingScore = 0
	}

	score := 0.4*coverageScore + 0.3*consistencyScore + 0.15*anomalyScore + 0.15*clampingScore

	var grade Grade
	switch {
	case score >= 85:
		grade = GradeA
	case score >= 70:
		grade = GradeB
	case score >= 50:
		grade = GradeC
	default:
		grade = GradeD
	}
	return score, grade
}
