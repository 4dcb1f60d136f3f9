package api

import (
	"fmt"

	"github.com/rob9206/dynoai/ve"
	"github.com/rob9206/dynoai/ve/diagnostics"
)

// AnalyzeResult bundles everything one analyze run produces for a
// front/rear pair: the correction artifacts themselves, the confidence
// diagnostics computed over them, and the advisory spark-timing deltas
// (diagnostic-only, never applied).
type AnalyzeResult struct {
	Front              *ve.CorrectionArtifact
	Rear               *ve.CorrectionArtifact // nil for a single-cylinder engine
	Diagnostics        *diagnostics.Diagnostics
	SparkAdvisoryFront *diagnostics.SparkAdvisory
	SparkAdvisoryRear  *diagnostics.SparkAdvisory
}

// Analyze runs the full read-only pipeline (aggregate, correct,
// diagnose) for one or two cylinders against a shared grid and base VE
// tables. rearBaseVE and rearSamples may both be nil for a
// single-cylinder engine.
func Analyze(grid *ve.Grid, frontSamples, rearSamples []ve.LogSample, frontBaseVE, rearBaseVE *ve.Table, cfg ve.Config) (*AnalyzeResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if frontBaseVE == nil {
		return nil, fmt.Errorf("%w: front base VE table required", ve.ErrInvalidInput)
	}

	frontStats, _ := ve.Aggregate(grid, frontSamples, ve.Front, cfg)
	frontArtifact, err := ve.RunKernel(grid, frontStats, frontBaseVE, ve.Front, cfg)
	if err != nil {
		return nil, fmt.Errorf("analyzing front cylinder: %w", err)
	}

	var rearArtifact *ve.CorrectionArtifact
	if rearBaseVE != nil {
		rearStats, _ := ve.Aggregate(grid, rearSamples, ve.Rear, cfg)
		rearArtifact, err = ve.RunKernel(grid, rearStats, rearBaseVE, ve.Rear, cfg)
		if err != nil {
			return nil, fmt.Errorf("analyzing rear cylinder: %w", err)
		}
	}

	diag, err := diagnostics.Compute(frontArtifact, rearArtifact, cfg)
	if err != nil {
		return nil, fmt.Errorf("computing diagnostics: %w", err)
	}

	sparkFront, err := diagnostics.ComputeSparkAdvisory(frontArtifact, cfg)
	if err != nil {
		return nil, fmt.Errorf("computing front spark advisory: %w", err)
	}
	var sparkRear *diagnostics.SparkAdvisory
	if rearArtifact != nil {
		sparkRear, err = diagnostics.ComputeSparkAdvisory(rearArtifact, cfg)
		if err != nil {
			return nil, fmt.Errorf("computing rear spark advisory: %w", err)
		}
	}

	return &AnalyzeResult{
		Front:              frontArtifact,
		Rear:               rearArtifact,
		Diagnostics:        diag,
		SparkAdvisoryFront: sparkFront,
		SparkAdvisoryRear:  sparkRear,
	}, nil
}
