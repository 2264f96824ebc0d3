package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// absent is the checksum recorded for a file that did not exist.
const absent = "absent"

// FileSum is a tracked file and its SHA-256 checksum.
type FileSum struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// Drift is a file whose content after rollback differs from before the run.
type Drift struct {
	Path   string `json:"path"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// DriftTracker records checksums of files before a run so a rollback can be
// proven byte-identical afterwards.
type DriftTracker struct {
	dir string
}

func NewDriftTracker(dir string) *DriftTracker {
	return &DriftTracker{dir: dir}
}

// Snapshot checksums files and persists them under runID.
func (t *DriftTracker) Snapshot(runID string, files []string) error {
	sums := make([]FileSum, 0, len(files))
	for _, f := range files {
		sum, err := fileChecksum(f)
		if err != nil {
			return err
		}
		sums = append(sums, FileSum{Path: f, Checksum: sum})
	}
	if err := os.MkdirAll(t.dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sums, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path(runID), data, 0o600)
}

// Verify compares current checksums with the snapshot of runID.
func (t *DriftTracker) Verify(runID string) ([]Drift, error) {
	sums, err := t.State(runID)
	if err != nil {
		return nil, err
	}
	var drift []Drift
	for _, s := range sums {
		now, err := fileChecksum(s.Path)
		if err != nil {
			return nil, err
		}
		if now != s.Checksum {
			drift = append(drift, Drift{Path: s.Path, Before: s.Checksum, After: now})
		}
	}
	return drift, nil
}

// State loads the snapshot of runID. Returns nil, nil if none was taken.
func (t *DriftTracker) State(runID string) ([]FileSum, error) {
	data, err := os.ReadFile(t.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sums []FileSum
	if err := json.Unmarshal(data, &sums); err != nil {
		return nil, err
	}
	return sums, nil
}

// Forget drops the snapshot once the run is settled.
func (t *DriftTracker) Forget(runID string) error {
	err := os.Remove(t.path(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (t *DriftTracker) path(runID string) string {
	return filepath.Join(t.dir, runID+".checksums.json")
}

// fileChecksum computes the SHA-256 checksum of the file at the given path,
// following symlinks. A missing file yields "absent".
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return absent, nil
		}
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
