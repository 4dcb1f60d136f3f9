package ve

import "math"

// decimalScale is the fixed precision the numeric policy commits every
// serialized factor/VE cell to: exactly 4 decimal digits, round half-to-even.
const decimalScale = 10000.0

// round4 rounds v to 4 decimal digits using round-half-to-even (banker's
// rounding). All serialization and every downstream consumer must use this
// rounded value so a persisted artifact is canonical.
func round4(v float64) float64 {
	return math.RoundToEven(v*decimalScale) / decimalScale
}

// Round4Table returns a new Table with every cell rounded to 4 decimal
// digits via round4.
func Round4Table(t *Table) *Table {
	return t.Map(round4)
}
