package ve

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// RollbackRecord links a rollback to the apply lineage it reverses.
type RollbackRecord struct {
	FactorSHA256     string `json:"factor_sha256"`
	UpdatedVESHA256  string `json:"updated_ve_sha256"`
	RestoredVESHA256 string `json:"restored_ve_sha256"`
	TimestampUnix    int64  `json:"timestamp_unix"`
}

// Rollback computes the exact mathematical inverse of Apply:
// restored[i,j] = current[i,j] / (1 + delta[i,j]/100). It verifies
// sha256(currentVE) against meta.UpdatedVESHA256, verifies artifact's
// self-hash and lineage (artifact.SHA256 == meta.FactorSHA256), then
// verifies the restored table's hash against meta.BaseVESHA256 after
// applying the same 4-decimal rounding policy as Apply. Fails
// ErrHashMismatch or ErrInverseVerificationFailed without modifying
// anything on disk; callers own persistence via the store package.
func Rollback(grid *Grid, currentVE *Table, meta *ApplyMetadata, artifact *CorrectionArtifact, now time.Time) (*Table, *RollbackRecord, error) {
	if err := currentVE.CheckDims(grid); err != nil {
		return nil, nil, err
	}
	if err := artifact.VerifySelfHash(); err != nil {
		return nil, nil, err
	}
	if artifact.SHA256 != meta.FactorSHA256 {
		return nil, nil, fmt.Errorf("%w: factor artifact does not match apply metadata lineage", ErrHashMismatch)
	}

	currentCSV, err := EncodeTableCSV(grid, currentVE, false)
	if err != nil {
		return nil, nil, err
	}
	currentHash := SHA256Hex(currentCSV)
	if currentHash != meta.UpdatedVESHA256 {
		return nil, nil, fmt.Errorf("%w: current VE hash %.12s does not match apply metadata updated_ve_sha256 %.12s", ErrHashMismatch, currentHash, meta.UpdatedVESHA256)
	}

	factorTable, err := artifact.FactorTable()
	if err != nil {
		return nil, nil, err
	}
	if err := factorTable.CheckDims(grid); err != nil {
		return nil, nil, err
	}

	restored := NewTable(grid, UnitVE)
	rows, cols := grid.NumRPM(), grid.NumMAP()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			delta := factorTable.At(i, j)
			v := round4(currentVE.At(i, j) / (1 + delta/100))
			restored.Set(i, j, v)
		}
	}
	if err := restored.CheckFinite(); err != nil {
		return nil, nil, err
	}

	restoredCSV, err := EncodeTableCSV(grid, restored, false)
	if err != nil {
		return nil, nil, err
	}
	restoredHash := SHA256Hex(restoredCSV)
	if restoredHash != meta.BaseVESHA256 {
		return nil, nil, fmt.Errorf("%w: restored VE hash %.12s does not match apply metadata base_ve_sha256 %.12s", ErrInverseVerificationFailed, restoredHash, meta.BaseVESHA256)
	}

	if now.IsZero() {
		now = time.Now()
	}
	record := &RollbackRecord{
		FactorSHA256:     artifact.SHA256,
		UpdatedVESHA256:  meta.UpdatedVESHA256,
		RestoredVESHA256: restoredHash,
		TimestampUnix:    now.Unix(),
	}
	logrus.Infof("ve: rollback: restored_sha=%.12s matches base_ve_sha=%.12s", restoredHash, meta.BaseVESHA256)

	return restored, record, nil
}
