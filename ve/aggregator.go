package ve

import (
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// CellStats is the per-cell accumulator the bin aggregator folds a log
// into, independently per cylinder.
type CellStats struct {
	HitCount       int64
	SumAFRError    float64 // signed: afr_meas - afr_cmd, positive = lean
	SumAbsAFRError float64
	SumTPS         float64
	LastTimestamp  Optional[float64]

	// Retained samples backing the exact median computation. Order is the
	// order samples arrived in the canonical input sequence; the median
	// itself is order-independent (computed over a sorted copy).
	afrMeasSamples []float64
	afrCmdSamples  []float64
}

// MeanAFRError returns the mean signed AFR error for the cell, or 0 if
// HitCount is 0.
func (c *CellStats) MeanAFRError() float64 {
	if c.HitCount == 0 {
		return 0
	}
	return c.SumAFRError / float64(c.HitCount)
}

// MeanAbsAFRError returns the mean absolute AFR error for the cell, or 0 if
// HitCount is 0.
func (c *CellStats) MeanAbsAFRError() float64 {
	if c.HitCount == 0 {
		return 0
	}
	return c.SumAbsAFRError / float64(c.HitCount)
}

// median computes the exact median of data over a sorted copy: gonum's
// empirical quantile at p=0.5 for an odd count, the mean of the two
// middle values for an even count; input order never affects the result.
func median(data []float64) float64 {
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

// MedianAFRMeas returns the exact median of retained measured-AFR samples.
func (c *CellStats) MedianAFRMeas() float64 { return median(c.afrMeasSamples) }

// MedianAFRCmd returns the exact median of retained commanded-AFR samples.
func (c *CellStats) MedianAFRCmd() float64 { return median(c.afrCmdSamples) }

// CellStatsGrid is a dense grid of *CellStats, one per Cell, produced by
// Aggregate.
type CellStatsGrid struct {
	grid *Grid
	data []*CellStats
}

func newCellStatsGrid(grid *Grid) *CellStatsGrid {
	data := make([]*CellStats, grid.NumRPM()*grid.NumMAP())
	for i := range data {
		data[i] = &CellStats{}
	}
	return &CellStatsGrid{grid: grid, data: data}
}

// At returns the accumulator for cell (i,j).
func (g *CellStatsGrid) At(i, j int) *CellStats { return g.data[i*g.grid.NumMAP()+j] }

// Grid returns the grid the stats are dimensioned against.
func (g *CellStatsGrid) Grid() *Grid { return g.grid }

// RejectionReport counts samples dropped at each filter stage of
// Aggregate. Rejection never panics or returns an error: a malformed
// sample is simply excluded and counted.
type RejectionReport struct {
	TotalSamples      int
	Accepted          int
	MissingRPMOrMAP   int
	MissingAFR        int
	AFRMeasOutOfRange int
	MAPOutOfRange     int
	IATOutOfRange     int
	TPSOutOfRange     int
}

// Aggregate folds samples into per-cell statistics for one cylinder,
// applying a deterministic acceptance filter. Sample order is preserved
// into each cell's reservoir: callers are required to supply samples in
// canonical (typically ascending-timestamp) order.
func Aggregate(grid *Grid, samples []LogSample, cyl Cylinder, cfg Config) (*CellStatsGrid, RejectionReport) {
	out := newCellStatsGrid(grid)
	report := RejectionReport{TotalSamples: len(samples)}

	for _, s := range samples {
		rpm, rpmOK := s.RPM.Get()
		mapKPa, mapOK := s.MAPKPa.Get()
		if !rpmOK || !mapOK || isNonFinite(rpm) || isNonFinite(mapKPa) {
			report.MissingRPMOrMAP++
			continue
		}

		afrMeas, measOK := s.afrMeas(cyl).Get()
		afrCmd, cmdOK := s.afrCmd(cyl).Get()
		if !measOK || !cmdOK || isNonFinite(afrMeas) || isNonFinite(afrCmd) {
			report.MissingAFR++
			continue
		}

		if afrMeas < cfg.AFRMeasMin || afrMeas > cfg.AFRMeasMax {
			report.AFRMeasOutOfRange++
			continue
		}
		if mapKPa < cfg.MAPKPaMin || mapKPa > cfg.MAPKPaMax {
			report.MAPOutOfRange++
			continue
		}
		if iat, ok := s.IAT.Get(); ok && cfg.IATMin < cfg.IATMax {
			if iat < cfg.IATMin || iat > cfg.IATMax {
				report.IATOutOfRange++
				continue
			}
		}
		if tps, ok := s.TPS.Get(); ok && cfg.TPSMin < cfg.TPSMax {
			if tps < cfg.TPSMin || tps > cfg.TPSMax {
				report.TPSOutOfRange++
				continue
			}
		}

		cell := grid.BinOf(rpm, mapKPa)
		acc := out.At(cell.I, cell.J)
		afrError := afrMeas - afrCmd
		acc.HitCount++
		acc.SumAFRError += afrError
		acc.SumAbsAFRError += absFloat(afrError)
		acc.afrMeasSamples = append(acc.afrMeasSamples, afrMeas)
		acc.afrCmdSamples = append(acc.afrCmdSamples, afrCmd)
		if tps, ok := s.TPS.Get(); ok {
			acc.SumTPS += tps
		}
		if ts, ok := s.Timestamp.Get(); ok {
			acc.LastTimestamp = Some(ts)
		}
		report.Accepted++
	}

	if report.TotalSamples-report.Accepted > 0 {
		logrus.Debugf("ve: aggregate(%s): accepted %d/%d samples (missing_rpm_map=%d missing_afr=%d afr_range=%d map_range=%d iat_range=%d tps_range=%d)",
			cyl, report.Accepted, report.TotalSamples, report.MissingRPMOrMAP, report.MissingAFR,
			report.AFRMeasOutOfRange, report.MAPOutOfRange, report.IATOutOfRange, report.TPSOutOfRange)
	}

	return out, report
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
