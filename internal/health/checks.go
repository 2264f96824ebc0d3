package health

import (
	"errors"
	"fmt"
	"os"

	"github.com/lyndonlyu/distroconv/internal/abort"
	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/conversion"
	"github.com/lyndonlyu/distroconv/internal/filelock"
	"github.com/lyndonlyu/distroconv/internal/statedb"
)

// CheckAuditChain verifies the integrity of the audit hash chain.
func CheckAuditChain(dir string) ComponentStatus {
	cs := ComponentStatus{
		Name:     "audit_chain",
		Category: Critical,
	}

	logger, err := audit.NewLogger(dir)
	if err != nil {
		cs.Detail = fmt.Sprintf("Failed to open audit log: %v", err)
		return cs
	}
	valid, brokenAt, err := logger.Verify()
	if err != nil {
		cs.Detail = fmt.Sprintf("Verification error: %v", err)
		return cs
	}
	if !valid {
		cs.Detail = fmt.Sprintf("Hash chain broken at record %d", brokenAt)
		return cs
	}

	cs.Healthy = true
	cs.Detail = "Hash chain intact"
	return cs
}

// CheckStateDB opens the state database, which also brings its schema up
// to date.
func CheckStateDB(path string) ComponentStatus {
	cs := ComponentStatus{
		Name:     "state_db",
		Category: Critical,
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cs.Healthy = true
		cs.Detail = "Not created yet"
		return cs
	}
	db, err := statedb.Open(path)
	if err != nil {
		cs.Detail = err.Error()
		return cs
	}
	db.Close()

	cs.Healthy = true
	cs.Detail = fmt.Sprintf("Schema v%d", statedb.SchemaVersion())
	return cs
}

// CheckUnfinishedRuns flags a run whose backups still wait to be restored.
func CheckUnfinishedRuns(path string) ComponentStatus {
	cs := ComponentStatus{
		Name:     "unfinished_runs",
		Category: Important,
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cs.Healthy = true
		cs.Detail = "No runs recorded"
		return cs
	}
	db, err := statedb.Open(path)
	if err != nil {
		cs.Detail = err.Error()
		return cs
	}
	defer db.Close()

	run, err := db.LatestInPhase(conversion.RecoverablePhases()...)
	switch {
	case errors.Is(err, statedb.ErrNotFound):
		cs.Healthy = true
		cs.Detail = "None"
	case err != nil:
		cs.Detail = err.Error()
	default:
		cs.Detail = fmt.Sprintf("Run %s is %s, use 'distroconv rollback %s'", run.ID, run.Phase, run.ID)
	}
	return cs
}

// CheckRunLock reports a conversion holding the run lock.
func CheckRunLock(path string) ComponentStatus {
	cs := ComponentStatus{
		Name:     "run_lock",
		Category: Important,
	}
	err := filelock.Probe(path)
	switch {
	case err == nil:
		cs.Healthy = true
		cs.Detail = "Free"
	case errors.Is(err, filelock.ErrLocked) && filelock.IsStale(path):
		cs.Detail = "Held by a process that no longer exists"
	default:
		cs.Detail = err.Error()
	}
	return cs
}

// CheckAbortFile reports a pending abort request, which the next run clears.
func CheckAbortFile(path string) ComponentStatus {
	cs := ComponentStatus{
		Name:     "abort_file",
		Category: Optional,
	}
	t := abort.New(path)
	if t.IsActive() {
		cs.Detail = fmt.Sprintf("Present (%s), use 'distroconv abort --clear'", t.Reason())
		return cs
	}
	cs.Healthy = true
	cs.Detail = "Not present"
	return cs
}

// CheckDirWritable tests whether a directory exists and is writable by
// creating and immediately removing a temp file.
func CheckDirWritable(dir, name, category string) ComponentStatus {
	cs := ComponentStatus{
		Name:     name,
		Category: category,
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			cs.Detail = "Missing"
		} else {
			cs.Detail = fmt.Sprintf("Stat error: %v", err)
		}
		return cs
	}
	if !info.IsDir() {
		cs.Detail = "Not a directory"
		return cs
	}

	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		cs.Detail = "Not writable"
		return cs
	}
	f.Close()
	os.Remove(f.Name())

	cs.Healthy = true
	cs.Detail = "Writable"
	return cs
}

// Evaluate runs every component check against cfg.
func Evaluate(cfg *config.Config) *Report {
	components := []ComponentStatus{
		CheckStateDB(cfg.DBPath()),
		CheckAuditChain(cfg.AuditDir()),
		CheckDirWritable(cfg.StateDir, "state_dir", Critical),
		CheckDirWritable(cfg.BackupDir(), "backup_dir", Important),
		CheckUnfinishedRuns(cfg.DBPath()),
		CheckRunLock(cfg.LockPath()),
		CheckAbortFile(cfg.AbortPath()),
	}
	return NewReport(components)
}
