package restorable

import (
	"errors"
	"fmt"
)

// ErrNotRegularFile is returned when a file resource points at a directory,
// device or other non-regular artifact.
var ErrNotRegularFile = errors.New("restorable: not a regular file or symlink")

// BackupError means the pristine copy could not be made. Nothing is
// reversible for the resource, so its mutation must not proceed.
type BackupError struct {
	Identity string
	Err      error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("restorable: backup %s: %v", e.Identity, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// RestoreError means a backed-up resource could not be put back. The
// resource is a residual item needing manual cleanup.
type RestoreError struct {
	Identity string
	Err      error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restorable: restore %s: %v", e.Identity, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// ActionError means the mutation itself failed after a successful backup.
type ActionError struct {
	Identity string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("restorable: mutate %s: %v", e.Identity, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
