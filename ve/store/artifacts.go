package store

import (
	"encoding/json"
	"fmt"

	"github.com/rob9206/dynoai/ve"
)

// Canonical artifact file names within a run directory.
const (
	NameCorrectionFront = "factors_front.json"
	NameCorrectionRear  = "factors_rear.json"
	NameApplyMeta       = "apply_metadata.json"
	NameRollback        = "rollback_record.json"
	NameUpdatedVEFront  = "ve_updated_front.csv"
	NameUpdatedVERear   = "ve_updated_rear.csv"
)

// PutJSON canonically serializes v and writes it under runID/name.
func (s *Store) PutJSON(runID, name string, v any) (string, error) {
	data, err := ve.CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("%w: canonicalizing %s: %v", ve.ErrInvalidInput, name, err)
	}
	return s.Put(runID, name, data)
}

// GetJSON reads and unmarshals the artifact at runID/name into v after
// verifying its side-file hash.
func (s *Store) GetJSON(runID, name string, v any) error {
	data, err := s.Get(runID, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ve.ErrInvalidInput, name, err)
	}
	return nil
}

// PutCorrectionArtifact persists a correction artifact under its
// cylinder's canonical name.
func (s *Store) PutCorrectionArtifact(runID string, cyl ve.Cylinder, a *ve.CorrectionArtifact) (string, error) {
	name := NameCorrectionFront
	if cyl == ve.Rear {
		name = NameCorrectionRear
	}
	return s.PutJSON(runID, name, a)
}

// GetCorrectionArtifact loads a cylinder's correction artifact and
// verifies its self-hash before returning it.
func (s *Store) GetCorrectionArtifact(runID string, cyl ve.Cylinder) (*ve.CorrectionArtifact, error) {
	name := NameCorrectionFront
	if cyl == ve.Rear {
		name = NameCorrectionRear
	}
	var a ve.CorrectionArtifact
	if err := s.GetJSON(runID, name, &a); err != nil {
		return nil, err
	}
	if err := a.VerifySelfHash(); err != nil {
		return nil, err
	}
	return &a, nil
}

// PutUpdatedVE encodes table as wire-format CSV and persists it under its
// cylinder's canonical updated-VE name.
func (s *Store) PutUpdatedVE(runID string, cyl ve.Cylinder, grid *ve.Grid, table *ve.Table) (string, error) {
	data, err := ve.EncodeTableCSV(grid, table, false)
	if err != nil {
		return "", err
	}
	name := NameUpdatedVEFront
	if cyl == ve.Rear {
		name = NameUpdatedVERear
	}
	return s.Put(runID, name, data)
}

// PutInputLog persists a raw input log snapshot under input/<name>, so
// the run directory carries the exact bytes an analysis was computed from.
func (s *Store) PutInputLog(runID, name string, data []byte) (string, error) {
	return s.Put(runID, "input/"+name, data)
}

// PutApplyMetadata persists apply lineage metadata for a run.
func (s *Store) PutApplyMetadata(runID string, m *ve.ApplyMetadata) (string, error) {
	return s.PutJSON(runID, NameApplyMeta, m)
}

// GetApplyMetadata loads apply lineage metadata for a run.
func (s *Store) GetApplyMetadata(runID string) (*ve.ApplyMetadata, error) {
	var m ve.ApplyMetadata
	if err := s.GetJSON(runID, NameApplyMeta, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// PutRollbackRecord persists a rollback record for a run.
func (s *Store) PutRollbackRecord(runID string, r *ve.RollbackRecord) (string, error) {
	return s.PutJSON(runID, NameRollback, r)
}
