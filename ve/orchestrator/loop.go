package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rob9206/dynoai/ve"
	"github.com/rob9206/dynoai/ve/ecu"
)

// oscillationLookback is how many consecutive iteration-over-iteration
// increases in the iteration's max absolute AFR error, each beyond cfg.OscillationMargin,
// constitute an oscillating run rather than ordinary noisy convergence.
const oscillationLookback = 2

// RunOptions bundles everything one closed-loop run needs beyond the
// session and config already on hand.
type RunOptions struct {
	Grid          *ve.Grid
	Engine        *ecu.Engine
	Sweep         []ecu.SweepPoint
	BaseVEFront   *ve.Table
	BaseVERear    *ve.Table // nil for a single-cylinder engine
	Config        ve.Config
	Now           func() time.Time // overridable for deterministic tests; defaults to time.Now
}

// lineage tracks one cylinder's chain of applies across iterations so
// the cumulative 50% cap is enforced the same way a multi-call CLI
// session would enforce it.
type lineage struct {
	table *ve.Table
	meta  *ve.ApplyMetadata
}

// Run drives session through the closed-loop tuning algorithm until it
// reaches a terminal state, then returns the final updated VE tables.
// It never panics: every failure path transitions the session to
// StateFailed (or StateTimedOut / StateAborted) and returns the
// terminating error alongside whatever tables were last accepted.
func Run(ctx context.Context, session *Session, opts RunOptions) (front, rear *ve.Table, err error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		session.transition(StateFailed)
		session.setFailure(err)
		return nil, nil, err
	}

	session.transition(StateRunning)
	start := now()

	twoCylinder := opts.BaseVERear != nil

	frontLine := &lineage{table: opts.BaseVEFront}
	var rearLine *lineage
	if twoCylinder {
		rearLine = &lineage{table: opts.BaseVERear}
	}

	var history []float64 // max |afr_error| across both cylinders' hit cells, per iteration

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if session.cancelled() {
			session.transition(StateAborted)
			err = fmt.Errorf("%w: cancelled at iteration %d", ve.ErrCancelled, iter)
			session.setFailure(err)
			return frontLine.table, rearTable(rearLine), err
		}
		elapsed := now().Sub(start).Seconds()
		if elapsed > cfg.WallClockBudgetSec {
			session.transition(StateTimedOut)
			err = fmt.Errorf("%w: wall clock budget %.1fs exceeded at iteration %d", ve.ErrTimedOut, cfg.WallClockBudgetSec, iter)
			session.setFailure(err)
			return frontLine.table, rearTable(rearLine), err
		}
		select {
		case <-ctx.Done():
			session.transition(StateAborted)
			err = fmt.Errorf("%w: context cancelled at iteration %d", ve.ErrCancelled, iter)
			session.setFailure(err)
			return frontLine.table, rearTable(rearLine), err
		default:
		}

		samples, genErr := opts.Engine.GenerateLog(opts.Sweep)
		if genErr != nil {
			session.transition(StateFailed)
			session.setFailure(genErr)
			return frontLine.table, rearTable(rearLine), genErr
		}

		metric := IterationMetrics{Iteration: iter, ElapsedSinceStartSec: elapsed}

		var frontStep, rearStep stepResult
		frontLine, frontStep, err = stepCylinder(opts.Grid, samples, ve.Front, cfg, frontLine, opts.Engine)
		if err != nil {
			session.transition(StateFailed)
			session.setFailure(err)
			return frontLine.table, rearTable(rearLine), err
		}
		metric.MeanAbsAFRErrorFront = frontStep.meanAbsErr
		metric.ClampedFront = frontStep.clamped
		metric.FactorSHA256Front = frontStep.factorSHA256

		maxErr := frontStep.maxAbsErr
		convergedCells := frontStep.convergedCells
		totalCells := frontStep.hitCells

		if twoCylinder {
			rearLine, rearStep, err = stepCylinder(opts.Grid, samples, ve.Rear, cfg, rearLine, opts.Engine)
			if err != nil {
				session.transition(StateFailed)
				session.setFailure(err)
				return frontLine.table, rearTable(rearLine), err
			}
			metric.MeanAbsAFRErrorRear = rearStep.meanAbsErr
			metric.ClampedRear = rearStep.clamped
			metric.FactorSHA256Rear = rearStep.factorSHA256

			if rearStep.maxAbsErr > maxErr {
				maxErr = rearStep.maxAbsErr
			}
			convergedCells += rearStep.convergedCells
			totalCells += rearStep.hitCells
		}

		metric.MaxAFRError = maxErr
		if totalCells > 0 {
			metric.ConvergedCellsFraction = float64(convergedCells) / float64(totalCells)
		}

		session.appendIteration(metric)
		history = append(history, maxErr)

		logrus.Debugf("ve/orchestrator: session %s iteration %d max_afr_error=%.4f converged_cells_fraction=%.3f",
			session.ID, iter, maxErr, metric.ConvergedCellsFraction)

		if maxErr < cfg.ConvergenceThresholdAFR && metric.ConvergedCellsFraction > 0.9 {
			session.transition(StateConverged)
			return frontLine.table, rearTable(rearLine), nil
		}

		if oscillating(history, cfg.OscillationMargin) {
			session.transition(StateFailed)
			err = fmt.Errorf("%w: AFR error oscillating, not converging, after %d iterations", ve.ErrSafetyViolation, iter+1)
			session.setFailure(err)
			return frontLine.table, rearTable(rearLine), err
		}
	}

	session.transition(StateFailed)
	err = fmt.Errorf("%w: did not converge within %d iterations", ve.ErrInvariantViolation, cfg.MaxIterations)
	session.setFailure(err)
	return frontLine.table, rearTable(rearLine), err
}

func rearTable(l *lineage) *ve.Table {
	if l == nil {
		return nil
	}
	return l.table
}

// stepResult carries one cylinder's per-iteration measurements alongside
// the bookkeeping stepCylinder's caller needs for clamp/lineage tracking.
type stepResult struct {
	meanAbsErr     float64
	maxAbsErr      float64
	convergedCells int64 // hit cells with |afr_error| < convergence_threshold_afr
	hitCells       int64
	clamped        bool
	factorSHA256   string
}

// stepCylinder aggregates this iteration's samples for one cylinder,
// runs the correction kernel, applies it in memory against the
// cylinder's running lineage, and pushes the updated table back into
// the engine so the next iteration simulates against it.
func stepCylinder(grid *ve.Grid, samples []ve.LogSample, cyl ve.Cylinder, cfg ve.Config, line *lineage, engine *ecu.Engine) (*lineage, stepResult, error) {
	stats, _ := ve.Aggregate(grid, samples, cyl, cfg)

	var res stepResult
	rows, cols := grid.NumRPM(), grid.NumMAP()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			c := stats.At(i, j)
			if c.HitCount == 0 {
				continue
			}
			absErr := c.MeanAbsAFRError()
			res.meanAbsErr += absErr
			res.hitCells++
			if absErr > res.maxAbsErr {
				res.maxAbsErr = absErr
			}
			if absErr < cfg.ConvergenceThresholdAFR {
				res.convergedCells++
			}
		}
	}
	if res.hitCells > 0 {
		res.meanAbsErr /= float64(res.hitCells)
	}

	artifact, err := ve.RunKernel(grid, stats, line.table, cyl, cfg)
	if err != nil {
		return line, res, err
	}

	updated, meta, err := ve.Apply(grid, line.table, artifact, ve.ApplyOptions{
		MaxAdjustPct: cfg.ResolvedMaxAdjustPct(),
		Prior:        line.meta,
	})
	res.clamped = artifact.ClampedCount > 0
	res.factorSHA256 = artifact.SHA256
	if err != nil {
		return line, res, err
	}

	if err := engine.SetECUTable(cyl, updated); err != nil {
		return line, res, err
	}

	return &lineage{table: updated, meta: meta}, res, nil
}

// oscillating reports whether the last oscillationLookback+1 entries of
// history (max |afr_error| per iteration) show a strictly increasing
// run, each step beyond the absolute margin: the loop is making things
// worse, not better, and will not converge on its own.
func oscillating(history []float64, margin float64) bool {
	if len(history) < oscillationLookback+1 {
		return false
	}
	n := len(history)
	for k := 0; k < oscillationLookback; k++ {
		prev := history[n-2-k]
		cur := history[n-1-k]
		if cur <= prev+margin {
			return false
		}
	}
	return true
}
