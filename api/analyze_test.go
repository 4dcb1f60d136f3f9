package api

import (
	"testing"

	"github.com/rob9206/dynoai/ve"
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

func sweepSamples(g *ve.Grid, cyl ve.Cylinder, afrCmd, leanFactor float64) []ve.LogSample {
	var samples []ve.LogSample
	for _, rpm := range g.RPMBins() {
		for _, mapKPa := range g.MAPBins() {
			s := ve.LogSample{RPM: ve.Some(rpm), MAPKPa: ve.Some(mapKPa)}
			if cyl == ve.Rear {
				s.AFRCmdR = ve.Some(afrCmd)
				s.AFRMeasR = ve.Some(afrCmd * leanFactor)
			} else {
				s.AFRCmdF = ve.Some(afrCmd)
				s.AFRMeasF = ve.Some(afrCmd * leanFactor)
			}
			samples = append(samples, s)
		}
	}
	return samples
}

func TestAnalyze_RequiresFrontBaseVE(t *testing.T) {
	g := testGrid(t)
	cfg := ve.DefaultConfig()
	if _, err := Analyze(g, nil, nil, nil, nil, cfg); err == nil {
		t.Error("expected an error when front base VE is missing")
	}
}

func TestAnalyze_SingleCylinderProducesFrontOnly(t *testing.T) {
	g := testGrid(t)
	cfg := ve.DefaultConfig()
	cfg.MinHitsForFullWeight = 1
	baseVE := flatVE(t, g, 0.9)
	samples := sweepSamples(g, ve.Front, 14.7, 1.05)

	result, err := Analyze(g, samples, nil, baseVE, nil, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Front == nil {
		t.Fatal("expected a front correction artifact")
	}
	if result.Rear != nil {
		t.Error("expected no rear artifact for a single-cylinder analysis")
	}
	if result.Diagnostics == nil {
		t.Error("expected diagnostics to be computed")
	}
	if result.SparkAdvisoryFront == nil {
		t.Error("expected a front spark advisory")
	}
	if result.SparkAdvisoryRear != nil {
		t.Error("expected no rear spark advisory for a single-cylinder analysis")
	}
}

func TestAnalyze_TwoCylinderProducesBoth(t *testing.T) {
	g := testGrid(t)
	cfg := ve.DefaultConfig()
	cfg.MinHitsForFullWeight = 1
	frontBaseVE := flatVE(t, g, 0.9)
	rearBaseVE := flatVE(t, g, 0.9)
	frontSamples := sweepSamples(g, ve.Front, 14.7, 1.05)
	rearSamples := sweepSamples(g, ve.Rear, 14.7, 0.97)

	result, err := Analyze(g, frontSamples, rearSamples, frontBaseVE, rearBaseVE, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rear == nil {
		t.Fatal("expected a rear correction artifact")
	}
	if result.SparkAdvisoryRear == nil {
		t.Error("expected a rear spark advisory")
	}
}

func TestAnalyze_RejectsInvalidConfig(t *testing.T) {
	g := testGrid(t)
	cfg := ve.DefaultConfig()
	cfg.ClampPct = -1
	baseVE := flatVE(t, g, 0.9)
	if _, err := Analyze(g, nil, nil, baseVE, nil, cfg); err == nil {
		t.Error("expected an error for an invalid config")
	}
}
