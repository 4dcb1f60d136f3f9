package api

import (
	"time"

	"github.com/rob9206/dynoai/ve"
	"github.com/rob9206/dynoai/ve/store"
)

// ApplyArtifact applies a correction artifact to baseVE, persists the
// artifact and the resulting apply metadata in st under runID, and
// returns the updated table. prior is the previous apply's metadata for
// this lineage, or nil on a lineage's first apply.
func ApplyArtifact(st *store.Store, runID string, grid *ve.Grid, baseVE *ve.Table, artifact *ve.CorrectionArtifact, maxAdjustPct float64, prior *ve.ApplyMetadata) (*ve.Table, *ve.ApplyMetadata, error) {
	updated, meta, err := ve.Apply(grid, baseVE, artifact, ve.ApplyOptions{
		MaxAdjustPct: maxAdjustPct,
		Prior:        prior,
		Now:          time.Now(),
	})
	if err != nil {
		return nil, nil, err
	}

	if st != nil {
		if _, err := st.PutCorrectionArtifact(runID, cylinderOf(artifact), artifact); err != nil {
			return nil, nil, err
		}
		if _, err := st.PutApplyMetadata(runID, meta); err != nil {
			return nil, nil, err
		}
	}
	return updated, meta, nil
}

// RollbackApply reverses a prior ApplyArtifact call and persists the
// resulting rollback record.
func RollbackApply(st *store.Store, runID string, grid *ve.Grid, currentVE *ve.Table, meta *ve.ApplyMetadata, artifact *ve.CorrectionArtifact) (*ve.Table, *ve.RollbackRecord, error) {
	restored, record, err := ve.Rollback(grid, currentVE, meta, artifact, time.Now())
	if err != nil {
		return nil, nil, err
	}
	if st != nil {
		if _, err := st.PutRollbackRecord(runID, record); err != nil {
			return nil, nil, err
		}
	}
	return restored, record, nil
}

func cylinderOf(a *ve.CorrectionArtifact) ve.Cylinder {
	if a.Cylinder == ve.Rear.String() {
		return ve.Rear
	}
	return ve.Front
}
