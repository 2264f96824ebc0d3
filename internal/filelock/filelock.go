// Package filelock holds the host-wide run lock. Only one conversion or
// rollback may touch the system at a time; the lock is an flock on a file in
// the state directory with a .meta sidecar naming the holder.
package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// LockVersion is the current version of the lock metadata format.
const LockVersion = 1

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("filelock: lock is held by another process")

// Lock represents an acquired run lock.
type Lock struct {
	Path  string
	RunID string
	file  *os.File
}

// Meta is the on-disk metadata written alongside a lock file.
type Meta struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Version   int    `json:"lock_version"`
}

// Acquire takes the lock at path without blocking. runID is recorded in the
// metadata so a second invocation can name the run it collided with.
func Acquire(path, runID string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("filelock: mkdir for lock: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("filelock: open lock file: %w", err)
	}

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, lockedError(path)
		}
		return nil, fmt.Errorf("filelock: flock: %w", err)
	}

	meta := Meta{
		PID:       os.Getpid(),
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   LockVersion,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("filelock: marshal meta: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0o600); err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("filelock: write meta: %w", err)
	}

	return &Lock{Path: path, RunID: runID, file: f}, nil
}

// Release drops the flock, closes the file and deletes the .meta sidecar.
// Releasing a nil or already released lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("filelock: flock LOCK_UN: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("filelock: close lock file: %w", err)
	}
	l.file = nil
	_ = os.Remove(l.Path + ".meta")
	return nil
}

// Probe reports whether the lock at path is currently free. It briefly takes
// and releases the lock; a held lock yields ErrLocked.
func Probe(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filelock: open lock file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return lockedError(path)
		}
		return fmt.Errorf("filelock: flock: %w", err)
	}
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

func lockedError(path string) error {
	if meta, err := ReadMeta(path); err == nil {
		return fmt.Errorf("%w (holder PID: %d, run: %s)", ErrLocked, meta.PID, meta.RunID)
	}
	return ErrLocked
}

// IsStale checks whether the lock at path is stale by reading its .meta file
// and testing whether the recorded PID is still alive.
func IsStale(path string) bool {
	meta, err := ReadMeta(path)
	if err != nil {
		return true
	}
	proc, err := os.FindProcess(meta.PID)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// ReadMeta reads and parses the .meta JSON file associated with path.
func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path + ".meta")
	if err != nil {
		return Meta{}, fmt.Errorf("filelock: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("filelock: unmarshal meta: %w", err)
	}
	return meta, nil
}
