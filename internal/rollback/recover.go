package rollback

import (
	"github.com/lyndonlyu/distroconv/internal/restorable"
)

// Recover rebuilds a controller for a run that died before it could commit
// or roll back. recs must be in journal order. A record whose backup copy is
// gone is kept in the ledger and surfaces as a residual on rollback.
func Recover(runID, backupDir string, recs []restorable.Record, opts ...Option) *Controller {
	c := New(runID, backupDir, opts...)
	for _, rec := range recs {
		var r restorable.Resource
		f, err := restorable.FromRecord(rec, restorable.WithLogger(c.log))
		if err != nil {
			c.log.Warn("journal entry cannot be restored", "resource", rec.Identity, "error", err)
			r = &unrecoverable{identity: rec.Identity, err: err}
		} else {
			r = f
		}
		c.ledger = append(c.ledger, r)
		c.claimed[r.Identity()] = true
	}
	return c
}

type unrecoverable struct {
	identity string
	err      error
}

func (u *unrecoverable) Identity() string        { return u.identity }
func (u *unrecoverable) State() restorable.State { return restorable.BackedUp }
func (u *unrecoverable) Backup() error           { return nil }
func (u *unrecoverable) Restore() error {
	return &restorable.RestoreError{Identity: u.identity, Err: u.err}
}
