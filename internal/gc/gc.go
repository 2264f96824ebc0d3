// Package gc prunes the backup copies of runs that can no longer be rolled
// back. Runs that may still need them are never touched.
package gc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lyndonlyu/distroconv/internal/conversion"
	"github.com/lyndonlyu/distroconv/internal/statedb"
)

// Policy defines retention rules for backup directories.
type Policy struct {
	MaxAgeDays int  // prune settled runs older than N days (default: 30)
	MaxRuns    int  // keep backups of at most N settled runs (default: 20)
	DryRun     bool // report without deleting
}

// Result tracks what was cleaned up.
type Result struct {
	Pruned     []string `json:"pruned"`
	Kept       int      `json:"kept"`
	BytesFreed int64    `json:"bytes_freed"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAgeDays: 30,
		MaxRuns:    20,
	}
}

// Settled reports whether a run in phase can never be rolled back again.
// Unknown phases count as unsettled.
func Settled(phase string) bool {
	p, err := conversion.ParsePhase(phase)
	if err != nil {
		return false
	}
	return p.Final() && p != conversion.PhaseRollbackPartial
}

// Run removes the backup directories of settled runs that are older than
// MaxAgeDays or not among the MaxRuns most recent settled runs.
func Run(runs []statedb.RunRecord, policy Policy, now time.Time) (*Result, error) {
	type settled struct {
		run  statedb.RunRecord
		last time.Time
	}
	result := &Result{}
	var candidates []settled
	for _, r := range runs {
		if !Settled(r.Phase) {
			result.Kept++
			continue
		}
		last, err := r.LastActivity()
		if err != nil {
			return result, fmt.Errorf("gc: %w", err)
		}
		candidates = append(candidates, settled{run: r, last: last})
	}

	// Newest first
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].last.After(candidates[j].last)
	})

	cutoff := now.AddDate(0, 0, -policy.MaxAgeDays)
	for i, c := range candidates {
		if i < policy.MaxRuns && c.last.After(cutoff) {
			result.Kept++
			continue
		}
		size, err := dirSize(c.run.BackupDir)
		if err != nil {
			return result, fmt.Errorf("gc: %s: %w", c.run.ID, err)
		}
		if !policy.DryRun {
			if err := os.RemoveAll(c.run.BackupDir); err != nil {
				return result, fmt.Errorf("gc: %s: %w", c.run.ID, err)
			}
		}
		result.Pruned = append(result.Pruned, c.run.ID)
		if size > 0 {
			result.BytesFreed += size
		}
	}
	return result, nil
}

// dirSize returns -1 when path does not exist.
func dirSize(path string) (int64, error) {
	if path == "" {
		return -1, nil
	}
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return -1, nil
	}
	return size, err
}
