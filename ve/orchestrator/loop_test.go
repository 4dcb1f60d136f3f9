package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rob9206/dynoai/ve"
	"github.com/rob9206/dynoai/ve/ecu"
)

func testGrid(t *testing.T) *ve.Grid {
	t.Helper()
	g, err := ve.NewGrid([]float64{1000, 2000, 3000}, []float64{20, 60, 100})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func flatVE(t *testing.T, g *ve.Grid, v float64) *ve.Table {
	t.Helper()
	tbl := ve.NewTable(g, ve.UnitVE)
	for i := 0; i < g.NumRPM(); i++ {
		for j := 0; j < g.NumMAP(); j++ {
			tbl.Set(i, j, v)
		}
	}
	return tbl
}

func sweepFromGrid(g *ve.Grid) []ecu.SweepPoint {
	var points []ecu.SweepPoint
	for _, rpm := range g.RPMBins() {
		for _, mapKPa := range g.MAPBins() {
			points = append(points, ecu.SweepPoint{RPM: rpm, MAPKPa: mapKPa, IATC: 25, AFRTarget: 14.7})
		}
	}
	return points
}

func TestRun_ConvergesImmediatelyWhenECUBeliefAlreadyMatchesReality(t *testing.T) {
	g := testGrid(t)
	veTable := flatVE(t, g, 0.9)
	eng, err := ecu.NewEngine(g, veTable, nil, flatVE(t, g, 0.9), nil, 650, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	cfg := ve.DefaultConfig()
	cfg.MinHitsForFullWeight = 1

	r := NewRegistry()
	session := r.Create(time.Unix(1000, 0))
	front, rear, err := Run(context.Background(), session, RunOptions{
		Grid: g, Engine: eng, Sweep: sweepFromGrid(g),
		BaseVEFront: flatVE(t, g, 0.9), Config: cfg,
		Now: func() time.Time { return time.Unix(1000, 0) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.State() != StateConverged {
		t.Errorf("expected state converged, got %v", session.State())
	}
	if front == nil {
		t.Error("expected a front table to be returned")
	}
	if rear != nil {
		t.Error("expected no rear table for a single-cylinder run")
	}
	if len(session.History()) != 1 {
		t.Errorf("expected convergence on the first iteration, got %d iterations", len(session.History()))
	}
}

func TestRun_FailsWhenNotConvergedWithinMaxIterations(t *testing.T) {
	g := testGrid(t)
	actual := flatVE(t, g, 1.3) // large, slowly-correctable gap
	ecuVE := flatVE(t, g, 0.9)
	eng, err := ecu.NewEngine(g, actual, nil, ecuVE, nil, 650, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	cfg := ve.DefaultConfig()
	cfg.MinHitsForFullWeight = 1
	cfg.MaxIterations = 1

	r := NewRegistry()
	session := r.Create(time.Unix(1000, 0))
	_, _, err = Run(context.Background(), session, RunOptions{
		Grid: g, Engine: eng, Sweep: sweepFromGrid(g),
		BaseVEFront: flatVE(t, g, 0.9), Config: cfg,
		Now: func() time.Time { return time.Unix(1000, 0) },
	})
	if !errors.Is(err, ve.ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation for a run that never converges, got %v", err)
	}
	if session.State() != StateFailed {
		t.Errorf("expected state failed, got %v", session.State())
	}
}

func TestRun_AbortsWhenAlreadyCancelled(t *testing.T) {
	g := testGrid(t)
	veTable := flatVE(t, g, 0.9)
	eng, err := ecu.NewEngine(g, veTable, nil, flatVE(t, g, 0.9), nil, 650, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	cfg := ve.DefaultConfig()

	r := NewRegistry()
	session := r.Create(time.Unix(1000, 0))
	session.Cancel()

	_, _, err = Run(context.Background(), session, RunOptions{
		Grid: g, Engine: eng, Sweep: sweepFromGrid(g),
		BaseVEFront: flatVE(t, g, 0.9), Config: cfg,
		Now: func() time.Time { return time.Unix(1000, 0) },
	})
	if !errors.Is(err, ve.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if session.State() != StateAborted {
		t.Errorf("expected state aborted, got %v", session.State())
	}
}

func TestRun_AbortsOnContextCancellation(t *testing.T) {
	g := testGrid(t)
	veTable := flatVE(t, g, 0.9)
	eng, err := ecu.NewEngine(g, veTable, nil, flatVE(t, g, 0.9), nil, 650, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	cfg := ve.DefaultConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRegistry()
	session := r.Create(time.Unix(1000, 0))
	_, _, err = Run(ctx, session, RunOptions{
		Grid: g, Engine: eng, Sweep: sweepFromGrid(g),
		BaseVEFront: flatVE(t, g, 0.9), Config: cfg,
		Now: func() time.Time { return time.Unix(1000, 0) },
	})
	if !errors.Is(err, ve.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if session.State() != StateAborted {
		t.Errorf("expected state aborted, got %v", session.State())
	}
}

func TestRun_TimesOutWhenWallClockBudgetExceeded(t *testing.T) {
	g := testGrid(t)
	actual := flatVE(t, g, 1.3)
	ecuVE := flatVE(t, g, 0.9)
	eng, err := ecu.NewEngine(g, actual, nil, ecuVE, nil, 650, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	cfg := ve.DefaultConfig()
	cfg.MinHitsForFullWeight = 1
	cfg.WallClockBudgetSec = 1

	start := time.Unix(1000, 0)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(5 * time.Second) // past the 1s budget on the next check
	}

	r := NewRegistry()
	session := r.Create(start)
	_, _, err = Run(context.Background(), session, RunOptions{
		Grid: g, Engine: eng, Sweep: sweepFromGrid(g),
		BaseVEFront: flatVE(t, g, 0.9), Config: cfg,
		Now: clock,
	})
	if !errors.Is(err, ve.ErrTimedOut) {
		t.Errorf("expected ErrTimedOut, got %v", err)
	}
	if session.State() != StateTimedOut {
		t.Errorf("expected state timed_out, got %v", session.State())
	}
}

func TestOscillating_DetectsTwoConsecutiveWorseningIterations(t *testing.T) {
	margin := 0.1
	history := []float64{1.0, 1.2, 1.5} // each step grows more than 0.1 AFR
	if !oscillating(history, margin) {
		t.Error("expected two consecutive worsening iterations beyond margin to be detected as oscillating")
	}
}

func TestOscillating_ToleratesASingleNoisyUptick(t *testing.T) {
	margin := 0.1
	history := []float64{1.0, 1.2, 1.1} // worsens once, then improves
	if oscillating(history, margin) {
		t.Error("expected a single uptick followed by improvement to not be flagged as oscillating")
	}
}

func TestOscillating_UsesAnAdditiveAFRMargin(t *testing.T) {
	// A 50% relative jump (0.10 -> 0.15, then 0.15 -> 0.225) would trip a
	// multiplicative margin check but must NOT trip an additive 0.2 AFR
	// margin: the per-step deltas (0.05, 0.075) stay well under 0.2.
	margin := 0.2
	history := []float64{0.10, 0.15, 0.225}
	if oscillating(history, margin) {
		t.Error("expected small absolute AFR deltas to not be flagged as oscillating under an additive margin")
	}
}

func TestOscillating_NeedsMinimumHistoryLength(t *testing.T) {
	if oscillating([]float64{1.0, 2.0}, 0.1) {
		t.Error("expected too-short a history to never be flagged as oscillating")
	}
}
