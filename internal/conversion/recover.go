package conversion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lyndonlyu/distroconv/internal/filelock"
	"github.com/lyndonlyu/distroconv/internal/rollback"
	"github.com/lyndonlyu/distroconv/internal/statedb"
)

// RollbackRun restores what a recorded run left behind: a run whose process
// died mid-way, or one that ended ROLLBACK_PARTIAL and is retried after
// manual fixes. An empty runID picks the newest such run.
func (d *Driver) RollbackRun(ctx context.Context, runID string) (Result, error) {
	store := d.opts.Store
	if store == nil {
		return Result{}, ErrNoStore
	}

	var (
		rec statedb.RunRecord
		err error
	)
	if runID == "" {
		rec, err = store.LatestInPhase(RecoverablePhases()...)
	} else {
		rec, err = store.GetRun(runID)
	}
	if errors.Is(err, statedb.ErrNotFound) {
		return Result{}, ErrNothingToRecover
	}
	if err != nil {
		return Result{}, err
	}
	if !slices.Contains(RecoverablePhases(), rec.Phase) {
		return Result{}, fmt.Errorf("%w: run %s is %s", ErrNothingToRecover, rec.ID, rec.Phase)
	}

	lock, err := filelock.Acquire(d.opts.Config.LockPath(), rec.ID)
	if err != nil {
		return Result{}, err
	}
	defer lock.Release()

	recs, err := store.LedgerRecords(rec.ID)
	if err != nil {
		return Result{}, err
	}

	log := d.log.With("run", rec.ID)
	log.Info("rolling back recorded run", "phase", rec.Phase, "resources", len(recs))
	r := &run{id: rec.ID, start: time.Now(), result: Result{RunID: rec.ID, DryRun: rec.DryRun}}
	ctl := rollback.Recover(rec.ID, rec.BackupDir, recs, d.controllerOptions(rec.ID)...)
	return d.rollback(r, ctl, nil, log), nil
}
