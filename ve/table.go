package ve

import (
	"fmt"
	"math"
)

// Unit tags a Table so that mixing tables of different kinds is impossible
// at the type level for anything that crosses a function boundary expecting
// a specific kind.
type Unit string

const (
	UnitVE               Unit = "ve"                // dimensionless efficiency, [0.3, 1.5]
	UnitFactorPct        Unit = "factor_pct"         // per-cell percentage delta, (-100, +inf)
	UnitAFRTarget        Unit = "afr_target"         // target air/fuel ratio, [9.0, 18.0]
	UnitHitCount         Unit = "hit_count"          // non-negative integer sample counts
	UnitCoverageWeight   Unit = "coverage_weight"    // [0, 1]
	UnitAFRError         Unit = "afr_error"          // signed AFR error, measured - commanded
	UnitSparkAdvisoryDeg Unit = "spark_advisory_deg" // advisory spark delta, degrees
)

// Table is a dense 2-D mapping from Cell to float64, dimensioned exactly to
// a Grid. Tables are value-like: Clone produces an independent copy: there
// is no in-place aliasing between a Table handed to a caller and one still
// held internally.
type Table struct {
	unit Unit
	rows int // RPM bins
	cols int // MAP bins
	data []float64
}

// NewTable allocates a zero-valued Table of the given unit, dimensioned to
// grid.
func NewTable(grid *Grid, unit Unit) *Table {
	rows, cols := grid.NumRPM(), grid.NumMAP()
	return &Table{unit: unit, rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// NewTableFromRows builds a Table from a dense row-major [][]float64 of
// shape rows x cols. Returns ErrMismatchedDimensions if grid dims disagree,
// ErrInvariantViolation if any cell is non-finite.
func NewTableFromRows(grid *Grid, unit Unit, rows [][]float64) (*Table, error) {
	if len(rows) != grid.NumRPM() {
		return nil, fmt.Errorf("%w: got %d rows, grid has %d RPM bins", ErrMismatchedDimensions, len(rows), grid.NumRPM())
	}
	t := NewTable(grid, unit)
	for i, row := range rows {
		if len(row) != grid.NumMAP() {
			return nil, fmt.Errorf("%w: row %d has %d cols, grid has %d MAP bins", ErrMismatchedDimensions, i, len(row), grid.NumMAP())
		}
		for j, v := range row {
			if isNonFinite(v) {
				return nil, fmt.Errorf("%w: non-finite value at cell (%d,%d)", ErrInvariantViolation, i, j)
			}
			t.Set(i, j, v)
		}
	}
	return t, nil
}

func isNonFinite(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

func (t *Table) numRPM() int { return t.rows }
func (t *Table) numMAP() int { return t.cols }

// Unit returns the table's unit tag.
func (t *Table) Unit() Unit { return t.unit }

// Dims returns (rows, cols) i.e. (numRPM, numMAP).
func (t *Table) Dims() (int, int) { return t.rows, t.cols }

func (t *Table) index(i, j int) int { return i*t.cols + j }

func (t *Table) at(i, j int) float64 { return t.data[t.index(i, j)] }

// At returns the value at cell (i,j). Panics if out of range: callers
// operate within dims established at construction.
func (t *Table) At(i, j int) float64 {
	if i < 0 || i >= t.rows || j < 0 || j >= t.cols {
		panic(fmt.Sprintf("ve: Table.At out of range (%d,%d) for %dx%d table", i, j, t.rows, t.cols))
	}
	return t.at(i, j)
}

// Set assigns the value at cell (i,j).
func (t *Table) Set(i, j int, v float64) {
	if i < 0 || i >= t.rows || j < 0 || j >= t.cols {
		panic(fmt.Sprintf("ve: Table.Set out of range (%d,%d) for %dx%d table", i, j, t.rows, t.cols))
	}
	t.data[t.index(i, j)] = v
}

// Clone returns an independent copy of t.
func (t *Table) Clone() *Table {
	out := &Table{unit: t.unit, rows: t.rows, cols: t.cols, data: append([]float64(nil), t.data...)}
	return out
}

// Rows returns a dense row-major [][]float64 copy of the table.
func (t *Table) Rows() [][]float64 {
	out := make([][]float64, t.rows)
	for i := 0; i < t.rows; i++ {
		row := make([]float64, t.cols)
		copy(row, t.data[t.index(i, 0):t.index(i, 0)+t.cols])
		out[i] = row
	}
	return out
}

// ForEach calls fn for every cell in row-major order.
func (t *Table) ForEach(fn func(i, j int, v float64)) {
	for i := 0; i < t.rows; i++ {
		for j := 0; j < t.cols; j++ {
			fn(i, j, t.at(i, j))
		}
	}
}

// Map returns a new Table of the same shape and unit with fn applied
// element-wise.
func (t *Table) Map(fn func(v float64) float64) *Table {
	out := &Table{unit: t.unit, rows: t.rows, cols: t.cols, data: make([]float64, len(t.data))}
	for idx, v := range t.data {
		out.data[idx] = fn(v)
	}
	return out
}

// CheckFinite returns ErrInvariantViolation if any cell is NaN or
// infinite.
func (t *Table) CheckFinite() error {
	for i := 0; i < t.rows; i++ {
		for j := 0; j < t.cols; j++ {
			if isNonFinite(t.at(i, j)) {
				return fmt.Errorf("%w: non-finite value at cell (%d,%d)", ErrInvariantViolation, i, j)
			}
		}
	}
	return nil
}

// CheckDims returns ErrMismatchedDimensions if t's shape does not match grid.
func (t *Table) CheckDims(grid *Grid) error {
	if t.rows != grid.NumRPM() || t.cols != grid.NumMAP() {
		return fmt.Errorf("%w: table is %dx%d, grid is %dx%d", ErrMismatchedDimensions, t.rows, t.cols, grid.NumRPM(), grid.NumMAP())
	}
	return nil
}

// CheckRange returns ErrInvalidInput if any cell falls outside [lo, hi].
func (t *Table) CheckRange(lo, hi float64) error {
	for i := 0; i < t.rows; i++ {
		for j := 0; j < t.cols; j++ {
			v := t.at(i, j)
			if v < lo || v > hi {
				return fmt.Errorf("%w: cell (%d,%d) = %.6g out of range [%.6g, %.6g]", ErrInvalidInput, i, j, v, lo, hi)
			}
		}
	}
	return nil
}
