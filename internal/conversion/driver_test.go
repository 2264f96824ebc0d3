package conversion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/distroconv/internal/abort"
	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/filelock"
	"github.com/lyndonlyu/distroconv/internal/metrics"
	"github.com/lyndonlyu/distroconv/internal/precheck"
	"github.com/lyndonlyu/distroconv/internal/restorable"
	"github.com/lyndonlyu/distroconv/internal/rollback"
	"github.com/lyndonlyu/distroconv/internal/statedb"
	"github.com/lyndonlyu/distroconv/internal/sysinfo"
)

const (
	osReleaseBefore = "ID=\"ol\"\nVERSION_ID=\"7.9\"\nNAME=\"Oracle Linux Server\"\n"
	osReleaseAfter  = "ID=\"rhel\"\nVERSION_ID=\"7.9\"\n"
	shimBefore      = "shim-x64\n"
)

type fixture struct {
	cfg   *config.Config
	store *statedb.DB
	audit *audit.Logger
	query *sysinfo.Static
	abort *abort.Trigger

	osRelease string
	shim      string
	newRepo   string
	rpmState  string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.StateDir = filepath.Join(t.TempDir(), "state")
	require.NoError(t, cfg.EnsureDirs())

	f := &fixture{
		cfg:       cfg,
		query:     &sysinfo.Static{Identity: sysinfo.Identity{ID: "ol", Name: "Oracle Linux Server", Major: 7, Minor: 9}, EFI: true, Installed: map[string]bool{"java-1.7.0-openjdk": true}},
		abort:     abort.New(cfg.AbortPath()),
		osRelease: cfg.Path("/etc/os-release"),
		shim:      cfg.Path("/etc/yum/protected.d/shim-x64.conf"),
		newRepo:   cfg.Path("/etc/yum.repos.d/target.repo"),
		rpmState:  cfg.Path("/var/lib/rpm-state"),
	}
	writeFile(t, f.osRelease, osReleaseBefore)
	writeFile(t, cfg.Path("/etc/system-release"), "Oracle Linux Server release 7.9\n")
	writeFile(t, f.shim, shimBefore)

	store, err := statedb.Open(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f.store = store

	logger, err := audit.NewLogger(cfg.AuditDir())
	require.NoError(t, err)
	f.audit = logger
	return f
}

func passing() *precheck.Runner {
	r := precheck.NewRunner()
	r.Add(precheck.CustomCheck{CheckName: "ok", Fn: func() precheck.CheckResult {
		return precheck.CheckResult{Name: "ok", Passed: true, Message: "OK"}
	}})
	return r
}

func (f *fixture) driver(t *testing.T, p Pipeline, mutate ...func(*Options)) *Driver {
	t.Helper()
	opts := Options{
		Config:    f.cfg,
		Query:     f.query,
		Prechecks: passing(),
		Pipeline:  p,
		Store:     f.store,
		Audit:     f.audit,
		Drift:     audit.NewDriftTracker(f.cfg.AuditDir()),
		Metrics:   metrics.NewRun(),
		Abort:     f.abort,
	}
	for _, m := range mutate {
		m(&opts)
	}
	d, err := New(opts)
	require.NoError(t, err)
	return d
}

// swap rewrites os-release (already preserved) and adds a repo file.
func (f *fixture) swap(fail error) PipelineFunc {
	return func(ctx context.Context, ctl *rollback.Controller) error {
		if err := os.WriteFile(f.osRelease, []byte(osReleaseAfter), 0o644); err != nil {
			return err
		}
		repo, err := ctl.NewFile(f.newRepo)
		if err != nil {
			return err
		}
		if err := restorable.Mutate(repo, func() error {
			return os.WriteFile(f.newRepo, []byte("[target]\n"), 0o644)
		}); err != nil {
			return err
		}
		return fail
	}
}

func phases(t *testing.T, l *audit.Logger, runID string) []string {
	t.Helper()
	recs, err := l.ForRun(runID)
	require.NoError(t, err)
	var out []string
	for _, r := range recs {
		if r.Action == "phase" {
			out = append(out, r.Outcome)
		}
	}
	return out
}

func TestRunCommits(t *testing.T) {
	f := newFixture(t)
	f.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "distroconv.prom")
	res := f.driver(t, f.swap(nil)).Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, PhaseCommitted, res.Phase)
	assert.Equal(t, ExitCommitted, ExitCode(res))

	assert.Equal(t, osReleaseAfter, readFile(t, f.osRelease))
	assert.NoFileExists(t, f.shim)
	assert.FileExists(t, f.newRepo)
	assert.DirExists(t, f.rpmState)
	require.NotNil(t, res.Cases)
	assert.Equal(t, []string{"openjdk-rpm-state-dir", "unprotect-shim-x64"}, res.Cases.Applied())

	backupDir := filepath.Join(f.cfg.BackupDir(), res.RunID)
	assert.NoFileExists(t, restorable.BackupPath(backupDir, f.osRelease), "backup copies are discarded on commit")

	run, err := f.store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "COMMITTED", run.Phase)
	assert.NotEmpty(t, run.EndedAt)
	recs, err := f.store.LedgerRecords(res.RunID)
	require.NoError(t, err)
	assert.Empty(t, recs)
	cases, err := f.store.Cases(res.RunID)
	require.NoError(t, err)
	assert.Len(t, cases, 2)

	assert.Equal(t, []string{"INITIALIZING", "VALIDATING", "RUNNING", "COMMITTED"}, phases(t, f.audit, res.RunID))
	prom := readFile(t, f.cfg.Metrics.Textfile)
	assert.Contains(t, prom, `distroconv_run_phase{phase="COMMITTED"} 1`)
}

func TestPipelineFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	res := f.driver(t, f.swap(errors.New("package swap failed"))).Run(context.Background())

	assert.Equal(t, PhaseRolledBack, res.Phase)
	assert.Equal(t, ExitRolledBack, ExitCode(res))
	assert.Contains(t, res.Error, "package swap failed")

	assert.Equal(t, osReleaseBefore, readFile(t, f.osRelease))
	assert.Equal(t, shimBefore, readFile(t, f.shim))
	assert.NoFileExists(t, f.newRepo)
	assert.DirExists(t, f.rpmState, "directory created outside the ledger stays")

	require.NotNil(t, res.Rollback)
	assert.True(t, res.Rollback.Complete())
	want := []string{f.newRepo, f.cfg.Path("/etc/system-release"), f.osRelease, f.shim}
	if diff := cmp.Diff(want, res.Rollback.Restored); diff != "" {
		t.Errorf("restore order (-want +got):\n%s", diff)
	}
	assert.Empty(t, res.Drift)

	run, err := f.store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "ROLLED_BACK", run.Phase)
	assert.NotEmpty(t, run.Summary)
	recs, err := f.store.LedgerRecords(res.RunID)
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.Equal(t, []string{"INITIALIZING", "VALIDATING", "RUNNING", "ROLLING_BACK", "ROLLED_BACK"}, phases(t, f.audit, res.RunID))
}

func TestPreserveOverlapsSpecialCase(t *testing.T) {
	noop := PipelineFunc(func(ctx context.Context, ctl *rollback.Controller) error { return nil })

	f := newFixture(t)
	f.cfg.Preserve = append(f.cfg.Preserve, "/etc/yum/protected.d/shim-x64.conf")
	res := f.driver(t, noop).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, PhaseCommitted, res.Phase)
	assert.NoFileExists(t, f.shim)

	f = newFixture(t)
	f.cfg.Preserve = append(f.cfg.Preserve, "/etc/yum/protected.d/shim-x64.conf")
	res = f.driver(t, f.swap(errors.New("package swap failed"))).Run(context.Background())
	assert.Equal(t, PhaseRolledBack, res.Phase)
	assert.Equal(t, shimBefore, readFile(t, f.shim))
	require.NotNil(t, res.Rollback)
	n := 0
	for _, id := range res.Rollback.Restored {
		if id == f.shim {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestDeclinedConfirmationRollsBack(t *testing.T) {
	f := newFixture(t)
	var asked string
	d := f.driver(t, PipelineFunc(func(ctx context.Context, ctl *rollback.Controller) error {
		t.Fatal("pipeline must not run after a refusal")
		return nil
	}), func(o *Options) {
		o.Confirm = func(ctx context.Context, q string) (bool, error) {
			asked = q
			return false, nil
		}
	})

	res := d.Run(context.Background())
	assert.Equal(t, ConfirmQuestion, asked)
	assert.Equal(t, PhaseRolledBack, res.Phase)
	assert.ErrorIs(t, res.Err, ErrDeclined)
	assert.Equal(t, shimBefore, readFile(t, f.shim))
}

func TestFailedPrecheckInhibits(t *testing.T) {
	f := newFixture(t)
	d := f.driver(t, f.swap(nil), func(o *Options) {
		o.Prechecks = precheck.NewRunner()
		o.Prechecks.Add(precheck.SystemReleaseCheck{Path: filepath.Join(t.TempDir(), "missing")})
	})

	res := d.Run(context.Background())
	assert.Equal(t, PhaseInhibited, res.Phase)
	assert.Equal(t, ExitInhibited, ExitCode(res))
	assert.Contains(t, res.Error, "Unable to find the /etc/system-release file")
	assert.Nil(t, res.Cases)
	assert.Equal(t, shimBefore, readFile(t, f.shim))
	assert.NoDirExists(t, f.rpmState)

	run, err := f.store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "INHIBITED", run.Phase)
}

func TestHeldLockInhibits(t *testing.T) {
	f := newFixture(t)
	lock, err := filelock.Acquire(f.cfg.LockPath(), "other-run")
	require.NoError(t, err)
	defer lock.Release()

	res := f.driver(t, f.swap(nil)).Run(context.Background())
	assert.Equal(t, PhaseInhibited, res.Phase)
	assert.ErrorIs(t, res.Err, filelock.ErrLocked)
	assert.FileExists(t, f.shim)
}

func TestAbortFileRollsBack(t *testing.T) {
	f := newFixture(t)
	d := f.driver(t, PipelineFunc(func(ctx context.Context, ctl *rollback.Controller) error {
		if err := f.swap(nil)(ctx, ctl); err != nil {
			return err
		}
		require.NoError(t, f.abort.Activate("maintenance window over"))
		<-ctx.Done()
		return ctx.Err()
	}))

	res := d.Run(context.Background())
	assert.Equal(t, PhaseRolledBack, res.Phase)
	assert.ErrorIs(t, res.Err, ErrAborted)
	assert.Contains(t, res.Error, "maintenance window over")
	assert.Equal(t, osReleaseBefore, readFile(t, f.osRelease))
	assert.NoFileExists(t, f.newRepo)
}

func TestStaleAbortFileIsCleared(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.abort.Activate("left over"))

	res := f.driver(t, f.swap(nil)).Run(context.Background())
	assert.Equal(t, PhaseCommitted, res.Phase)
	assert.False(t, f.abort.IsActive())
}

func TestCancelledContextRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	d := f.driver(t, PipelineFunc(func(pctx context.Context, ctl *rollback.Controller) error {
		cancel()
		return nil
	}))

	res := d.Run(ctx)
	assert.Equal(t, PhaseRolledBack, res.Phase)
	assert.ErrorIs(t, res.Err, ErrAborted)
	assert.Equal(t, shimBefore, readFile(t, f.shim))
}

func TestPartialRollbackThenRetry(t *testing.T) {
	f := newFixture(t)
	d := f.driver(t, PipelineFunc(func(ctx context.Context, ctl *rollback.Controller) error {
		// A directory in place of the file makes its restore fail.
		require.NoError(t, os.Remove(f.osRelease))
		require.NoError(t, os.MkdirAll(filepath.Join(f.osRelease, "blocker"), 0o755))
		return errors.New("swap failed")
	}))

	res := d.Run(context.Background())
	assert.Equal(t, PhaseRollbackPartial, res.Phase)
	assert.Equal(t, ExitRollbackPartial, ExitCode(res))
	require.NotNil(t, res.Rollback)
	require.Len(t, res.Rollback.Residuals, 1)
	assert.Equal(t, f.osRelease, res.Rollback.Residuals[0].Identity)
	assert.Equal(t, shimBefore, readFile(t, f.shim), "a failed restore does not stop the rest")

	recs, err := f.store.LedgerRecords(res.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 1, "the residual stays journaled for a retry")

	// Operator clears the obstruction and retries.
	require.NoError(t, os.RemoveAll(f.osRelease))
	retry, err := d.RollbackRun(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, PhaseRolledBack, retry.Phase)
	assert.Equal(t, res.RunID, retry.RunID)
	assert.Equal(t, osReleaseBefore, readFile(t, f.osRelease))

	_, err = d.RollbackRun(context.Background(), "")
	assert.ErrorIs(t, err, ErrNothingToRecover)
}

func TestDryRunRevertsEverything(t *testing.T) {
	f := newFixture(t)
	d := f.driver(t, PipelineFunc(func(ctx context.Context, ctl *rollback.Controller) error {
		t.Fatal("dry run must not reach the pipeline")
		return nil
	}), func(o *Options) {
		o.DryRun = true
		o.Confirm = func(ctx context.Context, q string) (bool, error) {
			t.Fatal("dry run must not ask")
			return false, nil
		}
	})

	res := d.Run(context.Background())
	assert.Equal(t, PhaseRolledBack, res.Phase)
	assert.True(t, res.DryRun)
	assert.Equal(t, ExitCommitted, ExitCode(res))
	assert.Equal(t, shimBefore, readFile(t, f.shim))

	run, err := f.store.GetRun(res.RunID)
	require.NoError(t, err)
	assert.True(t, run.DryRun)
}

func TestRollbackRunAfterCrash(t *testing.T) {
	f := newFixture(t)
	runID := "crashed-run"
	backupDir := filepath.Join(f.cfg.BackupDir(), runID)
	require.NoError(t, f.store.InsertRun(statedb.RunRecord{ID: runID, Phase: "RUNNING", BackupDir: backupDir}))

	// The dead process backed up and changed os-release, then never returned.
	ctl := rollback.New(runID, backupDir, rollback.WithJournal(f.store))
	file, err := ctl.NewFile(f.osRelease)
	require.NoError(t, err)
	require.NoError(t, restorable.Mutate(file, func() error {
		return os.WriteFile(f.osRelease, []byte(osReleaseAfter), 0o644)
	}))

	d := f.driver(t, nil)
	res, err := d.RollbackRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, PhaseRolledBack, res.Phase)
	assert.Equal(t, []string{f.osRelease}, res.Rollback.Restored)
	assert.Equal(t, osReleaseBefore, readFile(t, f.osRelease))

	run, err := f.store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, "ROLLED_BACK", run.Phase)
}

func TestRollbackRunRefusesSettledRun(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InsertRun(statedb.RunRecord{ID: "done", Phase: "COMMITTED", BackupDir: "/b"}))
	d := f.driver(t, nil)

	_, err := d.RollbackRun(context.Background(), "done")
	assert.ErrorIs(t, err, ErrNothingToRecover)
	_, err = d.RollbackRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNothingToRecover)

	noStore := f.driver(t, nil, func(o *Options) { o.Store = nil })
	_, err = noStore.RollbackRun(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestNewRequiresConfigAndQuery(t *testing.T) {
	_, err := New(Options{Query: &sysinfo.Static{}})
	assert.Error(t, err)
	_, err = New(Options{Config: config.Default()})
	assert.Error(t, err)
}
