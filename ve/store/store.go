package store

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rob9206/dynoai/ve"
)

// Store is a content-addressed artifact store rooted at a single
// directory, laid out as <root>/<run_id>/<name> (JSON, CSV or an
// input/ log snapshot) plus a sibling <name>.sha256 side-file.
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating it if necessary.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating store root: %v", ve.ErrIoFailure, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving store root: %v", ve.ErrIoFailure, err)
	}
	return &Store{root: abs}, nil
}

// resolve joins root with the caller-supplied run ID and name and
// rejects any result that would resolve outside root: run IDs and
// artifact names are never trusted to be free of ".." or absolute
// path segments.
func (s *Store) resolve(runID, name string) (string, error) {
	joined := filepath.Join(s.root, runID, name)
	cleanRoot := filepath.Clean(s.root) + string(filepath.Separator)
	if !strings.HasPrefix(joined, cleanRoot) {
		return "", fmt.Errorf("%w: %q/%q resolves outside store root", ve.ErrPathEscape, runID, name)
	}
	return joined, nil
}

// Put writes data under <root>/<runID>/<name> plus a <name>.sha256
// side-file, atomically via a temp file and rename. If the path already
// holds byte-identical content the write is a no-op. If it holds
// different content, Put fails with ErrContentHashCollision rather than
// overwriting: artifacts are append-only once named.
func (s *Store) Put(runID, name string, data []byte) (string, error) {
	path, err := s.resolve(runID, name)
	if err != nil {
		return "", err
	}
	hash := ve.SHA256Hex(data)

	if existing, err := os.ReadFile(path); err == nil {
		existingHash := ve.SHA256Hex(existing)
		if existingHash == hash {
			return hash, nil
		}
		return "", fmt.Errorf("%w: %s already holds content hashed %.12s, refusing to overwrite with %.12s", ve.ErrContentHashCollision, name, existingHash, hash)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: checking existing artifact: %v", ve.ErrIoFailure, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: creating run directory: %v", ve.ErrIoFailure, err)
	}
	if err := atomicWrite(path, data); err != nil {
		return "", err
	}
	if err := atomicWrite(path+".sha256", []byte(hash+"\n")); err != nil {
		return "", err
	}
	logrus.Debugf("ve/store: wrote %s (%d bytes, sha256=%.12s)", path, len(data), hash)
	return hash, nil
}

// Get reads the artifact bytes at <root>/<runID>/<name> and verifies them
// against the accompanying .sha256 side-file.
func (s *Store) Get(runID, name string) ([]byte, error) {
	path, err := s.resolve(runID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s not found", ve.ErrIoFailure, name)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ve.ErrIoFailure, name, err)
	}
	sideData, err := os.ReadFile(path + ".sha256")
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s.sha256: %v", ve.ErrIoFailure, name, err)
	}
	want := strings.TrimSpace(string(sideData))
	got := ve.SHA256Hex(data)
	if _, decErr := hex.DecodeString(want); decErr != nil || want != got {
		return nil, fmt.Errorf("%w: %s content hash %.12s does not match side-file %.12s", ve.ErrHashMismatch, name, got, want)
	}
	return data, nil
}

// Exists reports whether an artifact is present, without reading it.
func (s *Store) Exists(runID, name string) bool {
	path, err := s.resolve(runID, name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by a rename, so a reader never observes a partially written
// file and a crash mid-write never corrupts an existing artifact.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ve.ErrIoFailure, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing temp file: %v", ve.ErrIoFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: syncing temp file: %v", ve.ErrIoFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", ve.ErrIoFailure, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("%w: setting temp file mode: %v", ve.ErrIoFailure, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: renaming into place: %v", ve.ErrIoFailure, err)
	}
	return nil
}
