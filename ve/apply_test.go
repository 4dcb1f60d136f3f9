package ve

import (
	"errors"
	"testing"
	"time"
)

// buildArtifact constructs a self-hash-valid CorrectionArtifact with a
// uniform per-cell factor delta, for tests that only care about Apply's
// arithmetic rather than how the kernel produced the delta.
func buildArtifact(t *testing.T, g *Grid, deltaPct float64) *CorrectionArtifact {
	t.Helper()
	rows, cols := g.NumRPM(), g.NumMAP()
	factor := make([][]float64, rows)
	hit := make([][]float64, rows)
	afrErr := make([][]float64, rows)
	clamped := make([][]bool, rows)
	weight := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		factor[i] = make([]float64, cols)
		hit[i] = make([]float64, cols)
		afrErr[i] = make([]float64, cols)
		clamped[i] = make([]bool, cols)
		weight[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			factor[i][j] = deltaPct
			hit[i][j] = 10
			weight[i][j] = 1
		}
	}
	a := &CorrectionArtifact{
		GridRPMBins:    g.RPMBins(),
		GridMAPBins:    g.MAPBins(),
		Cylinder:       Front.String(),
		FactorPct:      factor,
		HitCount:       hit,
		AFRErrorMean:   afrErr,
		Clamped:        clamped,
		ClampPct:       7,
		KernelVersion:  "k1",
		MathVersion:    DefaultMathVersion,
		CoverageWeight: weight,
		CorrectedCells: rows * cols,
	}
	hash, err := a.computeSelfHash()
	if err != nil {
		t.Fatal(err)
	}
	a.SHA256 = hash
	return a
}

func TestApply_UpdatesTableByFactor(t *testing.T) {
	g := testGrid(t)
	baseVE := flatVETable(t, g, 0.9)
	artifact := buildArtifact(t, g, 5.0) // +5%

	updated, meta, err := Apply(g, baseVE, artifact, ApplyOptions{MaxAdjustPct: 7, Now: time.Unix(1000, 0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := round4(0.9 * 1.05)
	if updated.At(0, 0) != want {
		t.Errorf("expected updated VE %v, got %v", want, updated.At(0, 0))
	}
	if meta.FactorSHA256 != artifact.SHA256 {
		t.Error("expected apply metadata to record the factor artifact's hash")
	}
	if meta.TimestampUnix != 1000 {
		t.Errorf("expected recorded timestamp 1000, got %d", meta.TimestampUnix)
	}
}

func TestApply_RejectsDeltaBeyondMaxAdjust(t *testing.T) {
	g := testGrid(t)
	baseVE := flatVETable(t, g, 0.9)
	artifact := buildArtifact(t, g, 10.0)

	if _, _, err := Apply(g, baseVE, artifact, ApplyOptions{MaxAdjustPct: 7}); !errors.Is(err, ErrClampExceeded) {
		t.Errorf("expected ErrClampExceeded, got %v", err)
	}
}

func TestApply_RejectsCumulativeCapBeyondBand(t *testing.T) {
	g := testGrid(t)
	baseVE := flatVETable(t, g, 0.9)
	artifact := buildArtifact(t, g, 5.0)

	// A prior net +45% already applied to this lineage, compounded with
	// another +5%, gives 1.45 * 1.05 = 1.5225, past the 1.5 cumulative cap.
	rows, cols := g.NumRPM(), g.NumMAP()
	priorCumulative := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		priorCumulative[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			priorCumulative[i][j] = 45 // net +45% already applied
		}
	}
	prior := &ApplyMetadata{CumulativeAdjustPct: priorCumulative}

	if _, _, err := Apply(g, baseVE, artifact, ApplyOptions{MaxAdjustPct: 7, Prior: prior}); !errors.Is(err, ErrCumulativeCapExceeded) {
		t.Errorf("expected ErrCumulativeCapExceeded, got %v", err)
	}
}

func TestApply_AcceptsWithinCumulativeBand(t *testing.T) {
	g := testGrid(t)
	baseVE := flatVETable(t, g, 0.9)
	artifact := buildArtifact(t, g, 5.0)

	rows, cols := g.NumRPM(), g.NumMAP()
	priorCumulative := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		priorCumulative[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			priorCumulative[i][j] = 10
		}
	}
	prior := &ApplyMetadata{CumulativeAdjustPct: priorCumulative}

	_, meta, err := Apply(g, baseVE, artifact, ApplyOptions{MaxAdjustPct: 7, Prior: prior})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// net multiplier = 1.10 * 1.05 = 1.155 => cumulative = 15.5%
	want := round4((1.10*1.05 - 1) * 100)
	if meta.CumulativeAdjustPct[0][0] != want {
		t.Errorf("expected cumulative adjust %v, got %v", want, meta.CumulativeAdjustPct[0][0])
	}
}

func TestApply_RejectsInvalidArtifactHash(t *testing.T) {
	g := testGrid(t)
	baseVE := flatVETable(t, g, 0.9)
	artifact := buildArtifact(t, g, 5.0)
	artifact.FactorPct[0][0] = 999 // mutate after hashing

	if _, _, err := Apply(g, baseVE, artifact, ApplyOptions{MaxAdjustPct: 7}); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
}

func TestApply_CumulativeCapStopsChainOfRepeatedApplies(t *testing.T) {
	// Repeatedly applying +5% on the same lineage must eventually trip the
	// cumulative cap, since the running product of (1 + delta/100) per cell
	// grows without bound. The cap is the running product leaving [0.5,
	// 1.5], not a fixed iteration count.
	g := testGrid(t)
	baseVE := flatVETable(t, g, 0.9)
	artifact := buildArtifact(t, g, 5.0)

	var prior *ApplyMetadata
	var lastGoodMultiplier float64 = 1.0
	applies := 0
	for applies = 1; applies <= 20; applies++ {
		_, meta, err := Apply(g, baseVE, artifact, ApplyOptions{MaxAdjustPct: 7, Prior: prior})
		if err != nil {
			if !errors.Is(err, ErrCumulativeCapExceeded) {
				t.Fatalf("apply %d: expected ErrCumulativeCapExceeded, got %v", applies, err)
			}
			break
		}
		prior = meta
		lastGoodMultiplier = 1 + meta.CumulativeAdjustPct[0][0]/100
	}
	if applies > 20 {
		t.Fatal("expected the cumulative cap to trip within 20 applies of +5%")
	}
	if lastGoodMultiplier > 1.5 {
		t.Errorf("last accepted apply's net multiplier %v should not exceed 1.5", lastGoodMultiplier)
	}
	if lastGoodMultiplier*1.05 <= 1.5 {
		t.Errorf("the rejected apply's net multiplier %v should exceed 1.5", lastGoodMultiplier*1.05)
	}
}

func TestApply_DryRunStillReturnsMetadata(t *testing.T) {
	g := testGrid(t)
	baseVE := flatVETable(t, g, 0.9)
	artifact := buildArtifact(t, g, 3.0)

	updated, meta, err := Apply(g, baseVE, artifact, ApplyOptions{MaxAdjustPct: 7, DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated == nil || meta == nil {
		t.Fatal("expected dry-run to still produce a table and metadata")
	}
}
