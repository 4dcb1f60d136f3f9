package ve

import (
	"fmt"
	"sort"
)

// Grid is the immutable, process-wide RPM x MAP binning configuration
// shared read-only by every Table in a given analysis. Typical shape is
// 11x9 (RPM x MAP).
type Grid struct {
	rpmBins []float64
	mapBins []float64
}

// NewGrid builds a Grid from two strictly increasing axes. Returns
// ErrInvalidAxis if either axis has fewer than 2 entries or is not
// strictly increasing.
func NewGrid(rpmBins, mapBins []float64) (*Grid, error) {
	if err := validateAxis("rpm_bins", rpmBins); err != nil {
		return nil, err
	}
	if err := validateAxis("map_bins", mapBins); err != nil {
		return nil, err
	}
	g := &Grid{
		rpmBins: append([]float64(nil), rpmBins...),
		mapBins: append([]float64(nil), mapBins...),
	}
	return g, nil
}

func validateAxis(name string, axis []float64) error {
	if len(axis) < 2 {
		return fmt.Errorf("%s: %w: need at least 2 entries, got %d", name, ErrInvalidAxis, len(axis))
	}
	for i := 1; i < len(axis); i++ {
		if !(axis[i] > axis[i-1]) {
			return fmt.Errorf("%s: %w: not strictly increasing at index %d (%.6g <= %.6g)", name, ErrInvalidAxis, i, axis[i], axis[i-1])
		}
		if isNonFinite(axis[i-1]) || isNonFinite(axis[i]) {
			return fmt.Errorf("%s: %w: non-finite value at index %d", name, ErrInvalidAxis, i)
		}
	}
	return nil
}

// RPMBins returns a copy of the RPM axis.
func (g *Grid) RPMBins() []float64 { return append([]float64(nil), g.rpmBins...) }

// MAPBins returns a copy of the MAP axis.
func (g *Grid) MAPBins() []float64 { return append([]float64(nil), g.mapBins...) }

// NumRPM returns the number of RPM bins.
func (g *Grid) NumRPM() int { return len(g.rpmBins) }

// NumMAP returns the number of MAP bins.
func (g *Grid) NumMAP() int { return len(g.mapBins) }

// Cell identifies one (RPM bin, MAP bin) pair, the atomic unit of a Table.
type Cell struct {
	I int // RPM bin index
	J int // MAP bin index
}

// nearestBinIndex returns argmin_i |axis[i] - value|, ties breaking to the
// lower index. axis must be sorted strictly increasing (validated at Grid
// construction).
func nearestBinIndex(axis []float64, value float64) int {
	n := len(axis)
	// binary search for the insertion point of value
	idx := sort.SearchFloat64s(axis, value)
	if idx == 0 {
		return 0
	}
	if idx == n {
		return n - 1
	}
	lo, hi := idx-1, idx
	dLo := value - axis[lo]
	dHi := axis[hi] - value
	if dHi < dLo {
		return hi
	}
	// ties (dHi == dLo) and dLo < dHi both resolve to the lower index
	return lo
}

// NearestRPMBin returns the index of the RPM bin nearest to rpm, ties
// breaking to the lower index.
func (g *Grid) NearestRPMBin(rpm float64) int { return nearestBinIndex(g.rpmBins, rpm) }

// NearestMAPBin returns the index of the MAP bin nearest to mapKPa, ties
// breaking to the lower index.
func (g *Grid) NearestMAPBin(mapKPa float64) int { return nearestBinIndex(g.mapBins, mapKPa) }

// BinOf snaps a sample's operating point into a Cell via NearestRPMBin and
// NearestMAPBin.
func (g *Grid) BinOf(rpm, mapKPa float64) Cell {
	return Cell{I: g.NearestRPMBin(rpm), J: g.NearestMAPBin(mapKPa)}
}

// clampToAxis returns the bracketing indices (lo, hi) and the interpolation
// fraction t in [0,1] for value against a sorted axis, clamping out-of-range
// values to the nearest edge (no extrapolation).
func clampToAxis(axis []float64, value float64) (lo, hi int, t float64) {
	n := len(axis)
	if value <= axis[0] {
		return 0, 0, 0
	}
	if value >= axis[n-1] {
		return n - 1, n - 1, 0
	}
	hi = sort.SearchFloat64s(axis, value)
	if axis[hi] == value {
		return hi, hi, 0
	}
	lo = hi - 1
	span := axis[hi] - axis[lo]
	t = (value - axis[lo]) / span
	return lo, hi, t
}

// Interpolate performs bilinear interpolation of table at (rpm, mapKPa).
// Values outside the grid are clamped to the nearest edge; there is no
// extrapolation. Purely functional, O(log n) via binary search on each
// axis, no allocation beyond the returned float.
func (g *Grid) Interpolate(t *Table, rpm, mapKPa float64) (float64, error) {
	if err := g.checkDims(t); err != nil {
		return 0, err
	}
	iLo, iHi, ti := clampToAxis(g.rpmBins, rpm)
	jLo, jHi, tj := clampToAxis(g.mapBins, mapKPa)

	v00 := t.at(iLo, jLo)
	v01 := t.at(iLo, jHi)
	v10 := t.at(iHi, jLo)
	v11 := t.at(iHi, jHi)

	v0 := v00 + (v01-v00)*tj
	v1 := v10 + (v11-v10)*tj
	return v0 + (v1-v0)*ti, nil
}

func (g *Grid) checkDims(t *Table) error {
	if t.numRPM() != g.NumRPM() || t.numMAP() != g.NumMAP() {
		return fmt.Errorf("%w: table is %dx%d, grid is %dx%d", ErrMismatchedDimensions, t.numRPM(), t.numMAP(), g.NumRPM(), g.NumMAP())
	}
	return nil
}

// Equal reports whether two grids have identical axes.
func (g *Grid) Equal(other *Grid) bool {
	if other == nil || len(g.rpmBins) != len(other.rpmBins) || len(g.mapBins) != len(other.mapBins) {
		return false
	}
	for i := range g.rpmBins {
		if g.rpmBins[i] != other.rpmBins[i] {
			return false
		}
	}
	for j := range g.mapBins {
		if g.mapBins[j] != other.mapBins[j] {
			return false
		}
	}
	return true
}
