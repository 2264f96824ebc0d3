// Package restorable wraps a mutable system artifact in a capsule that can be
// backed up before it is changed and restored afterwards.
//
// A resource moves through UNTOUCHED -> BACKED_UP -> RESTORED. It reaches
// BACKED_UP at most once; a second Backup never re-copies, because the
// artifact may already carry the mutation the first backup protects against.
package restorable

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a resource within one run.
type State int

const (
	Untouched State = iota
	BackedUp
	Restored
	BackupFailed
	RestoreFailed
)

func (s State) String() string {
	switch s {
	case Untouched:
		return "UNTOUCHED"
	case BackedUp:
		return "BACKED_UP"
	case Restored:
		return "RESTORED"
	case BackupFailed:
		return "BACKUP_FAILED"
	case RestoreFailed:
		return "RESTORE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Resource is one reversible system artifact.
type Resource interface {
	Identity() string
	State() State
	Backup() error
	Restore() error
}

// Tracker receives a resource the moment it reaches BACKED_UP. A non-nil
// error refuses the resource, which then fails its backup.
type Tracker interface {
	Track(r Resource) error
}

// Mutate backs r up and only then runs fn. A failed backup returns a
// *BackupError and fn is never called. A failed fn returns an *ActionError;
// r stays BACKED_UP so a rollback can still undo a partial change.
func Mutate(r Resource, fn func() error) error {
	if err := r.Backup(); err != nil {
		var be *BackupError
		if errors.As(err, &be) {
			return err
		}
		return &BackupError{Identity: r.Identity(), Err: err}
	}
	if s := r.State(); s != BackedUp {
		return &BackupError{Identity: r.Identity(), Err: fmt.Errorf("resource is %s, not %s", s, BackedUp)}
	}
	if err := fn(); err != nil {
		return &ActionError{Identity: r.Identity(), Err: err}
	}
	return nil
}
