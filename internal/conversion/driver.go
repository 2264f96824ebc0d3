// Package conversion sequences one run: prerequisite checks, special cases,
// preservation of the files the pipeline replaces, the operator's go-ahead
// and the pipeline itself. Any failure, refusal or abort after the first
// backup ends in a rollback of everything the run touched.
package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyndonlyu/distroconv/internal/abort"
	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/filelock"
	"github.com/lyndonlyu/distroconv/internal/logging"
	"github.com/lyndonlyu/distroconv/internal/metrics"
	"github.com/lyndonlyu/distroconv/internal/precheck"
	"github.com/lyndonlyu/distroconv/internal/rollback"
	"github.com/lyndonlyu/distroconv/internal/specialcases"
	"github.com/lyndonlyu/distroconv/internal/statedb"
	"github.com/lyndonlyu/distroconv/internal/sysinfo"
)

// ConfirmQuestion is asked once everything before the pipeline is in place.
const ConfirmQuestion = "The tool allows rollback of any action until this point. Continue with the system conversion?"

var (
	ErrDeclined         = errors.New("conversion: operator declined to continue")
	ErrAborted          = errors.New("conversion: run aborted")
	ErrNoStore          = errors.New("conversion: no state database configured")
	ErrNothingToRecover = errors.New("conversion: no unfinished run to roll back")
)

// CasesFactory builds the special-case registry for a run.
type CasesFactory func(env specialcases.Env, opts ...specialcases.Option) (*specialcases.Registry, error)

type Options struct {
	Config *config.Config
	Query  sysinfo.Provider

	// Prechecks defaults to precheck.DefaultRunner(Config).
	Prechecks *precheck.Runner
	// Cases defaults to the builtin cases minus special_cases.disabled.
	Cases    CasesFactory
	Pipeline Pipeline

	// Confirm is asked ConfirmQuestion. Nil means yes.
	Confirm func(ctx context.Context, question string) (bool, error)

	Store   *statedb.DB
	Audit   *audit.Logger
	Drift   *audit.DriftTracker
	Metrics *metrics.Run
	Abort   *abort.Trigger

	// DryRun runs everything up to the confirmation, then rolls back.
	DryRun bool
	// RunID defaults to a random UUID.
	RunID string
	Log   *slog.Logger
}

type Result struct {
	RunID    string               `json:"run_id"`
	Phase    Phase                `json:"phase"`
	DryRun   bool                 `json:"dry_run,omitempty"`
	Checks   *precheck.RunResult  `json:"checks,omitempty"`
	Cases    *specialcases.Report `json:"cases,omitempty"`
	Rollback *rollback.Summary    `json:"rollback,omitempty"`
	Drift    []audit.Drift        `json:"drift,omitempty"`
	Error    string               `json:"error,omitempty"`
	Err      error                `json:"-"`
	Duration time.Duration        `json:"duration_ns"`
}

type Driver struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) (*Driver, error) {
	if opts.Config == nil {
		return nil, errors.New("conversion: config is required")
	}
	if opts.Query == nil {
		return nil, errors.New("conversion: query provider is required")
	}
	if opts.Prechecks == nil {
		opts.Prechecks = precheck.DefaultRunner(opts.Config)
	}
	if opts.Cases == nil {
		cfg := opts.Config
		opts.Cases = func(env specialcases.Env, o ...specialcases.Option) (*specialcases.Registry, error) {
			return specialcases.Default(env, cfg, o...)
		}
	}
	if opts.Pipeline == nil {
		p, err := NewCommandPipeline(opts.Config)
		if err != nil {
			return nil, err
		}
		opts.Pipeline = p
	}
	if opts.Log == nil {
		opts.Log = logging.New("conversion")
	}
	return &Driver{opts: opts, log: opts.Log}, nil
}

// run carries the per-run state through the phases.
type run struct {
	id     string
	phase  Phase
	start  time.Time
	result Result
}

// Run performs one conversion. It never panics on host errors and always
// returns a final phase; the caller maps it with ExitCode.
func (d *Driver) Run(ctx context.Context) Result {
	r := &run{id: d.opts.RunID, start: time.Now()}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.result = Result{RunID: r.id, DryRun: d.opts.DryRun}
	cfg := d.opts.Config
	backupDir := filepath.Join(cfg.BackupDir(), r.id)
	log := d.log.With("run", r.id)

	if d.opts.Store != nil {
		rec := statedb.RunRecord{ID: r.id, Phase: PhaseInitializing.String(), BackupDir: backupDir, DryRun: d.opts.DryRun}
		if err := d.opts.Store.InsertRun(rec); err != nil {
			log.Warn("run record not stored", "error", err)
		}
	}
	d.transition(r, PhaseInitializing)
	if d.opts.Abort != nil && d.opts.Abort.IsActive() {
		log.Warn("clearing stale abort request", "path", d.opts.Abort.Path(), "reason", d.opts.Abort.Reason())
		if err := d.opts.Abort.Clear(); err != nil {
			return d.inhibit(r, fmt.Errorf("conversion: clear abort file: %w", err))
		}
	}

	d.transition(r, PhaseValidating)
	checks := d.opts.Prechecks.Run()
	r.result.Checks = &checks
	if !checks.AllPassed {
		var msgs []string
		for _, c := range checks.Failed() {
			log.Error("prerequisite not met", "check", c.Name, "message", c.Message)
			msgs = append(msgs, c.Message)
		}
		return d.inhibit(r, fmt.Errorf("conversion: inhibited: %s", strings.Join(msgs, "; ")))
	}

	lock, err := filelock.Acquire(cfg.LockPath(), r.id)
	if err != nil {
		return d.inhibit(r, err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("run lock not released", "error", err)
		}
	}()

	if d.opts.Abort != nil {
		var cancel context.CancelFunc
		ctx, cancel = d.opts.Abort.Watch(ctx)
		defer cancel()
	}

	ctl := rollback.New(r.id, backupDir, d.controllerOptions(r.id)...)
	d.transition(r, PhaseRunning)
	d.snapshot(r, log)

	if err := d.forward(ctx, r, ctl, log); err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrDeclined) {
			err = d.abortCause(ctx, err)
		}
		return d.rollback(r, ctl, err, log)
	}
	if d.opts.DryRun {
		log.Info("dry run complete, reverting every change")
		return d.rollback(r, ctl, nil, log)
	}

	if err := ctl.Commit(); err != nil {
		log.Warn("backup copies not fully discarded", "error", err)
	}
	if d.opts.Metrics != nil {
		d.opts.Metrics.Committed()
	}
	if d.opts.Drift != nil {
		d.opts.Drift.Forget(r.id)
	}
	return d.finish(r, PhaseCommitted, nil)
}

// forward is the mutating part of the run. A nil return means the pipeline
// finished and nothing asked for a rollback.
func (d *Driver) forward(ctx context.Context, r *run, ctl *rollback.Controller, log *slog.Logger) error {
	cfg := d.opts.Config

	var regOpts []specialcases.Option
	if d.opts.Audit != nil {
		regOpts = append(regOpts, specialcases.WithAudit(r.id, d.opts.Audit))
	}
	if d.opts.Metrics != nil {
		regOpts = append(regOpts, specialcases.WithObserver(d.opts.Metrics))
	}
	env := specialcases.Env{Query: d.opts.Query, Resources: ctl, Log: logging.New("specialcases").With("run", r.id)}
	reg, err := d.opts.Cases(env, regOpts...)
	if err != nil {
		return fmt.Errorf("conversion: special cases: %w", err)
	}
	rep := reg.RunAll(ctx)
	r.result.Cases = &rep
	d.saveCases(r, rep, log)
	if err := ctx.Err(); err != nil {
		return err
	}

	allowIncomplete := os.Getenv(precheck.IncompleteRollbackEnv) != ""
	for _, p := range cfg.Preserve {
		path := cfg.Path(p)
		// A special case may already hold this file in the ledger.
		if slices.Contains(ctl.Identities(), filepath.Clean(path)) {
			log.Debug("already preserved", "resource", path)
			continue
		}
		f, err := ctl.NewFile(path)
		if err != nil {
			return fmt.Errorf("conversion: preserve %s: %w", p, err)
		}
		if err := f.Backup(); err != nil {
			if allowIncomplete {
				log.Warn("file not preserved, rollback will be incomplete", "resource", f.Identity(), "error", err)
				continue
			}
			return fmt.Errorf("conversion: preserve %s: %w", p, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.opts.DryRun {
		return nil
	}

	if d.opts.Confirm != nil {
		ok, err := d.opts.Confirm(ctx, ConfirmQuestion)
		if err != nil {
			return fmt.Errorf("conversion: confirmation: %w", err)
		}
		if !ok {
			return ErrDeclined
		}
	}

	if err := d.opts.Pipeline.Run(ctx, ctl); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *Driver) abortCause(ctx context.Context, err error) error {
	if d.opts.Abort != nil && d.opts.Abort.WasTriggered() {
		return fmt.Errorf("%w by operator (%s): %w", ErrAborted, d.opts.Abort.Reason(), err)
	}
	return fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
}

func (d *Driver) controllerOptions(runID string) []rollback.Option {
	opts := []rollback.Option{rollback.WithLogger(logging.New("rollback").With("run", runID))}
	if d.opts.Store != nil {
		opts = append(opts, rollback.WithJournal(d.opts.Store))
	}
	if d.opts.Audit != nil {
		opts = append(opts, rollback.WithAudit(d.opts.Audit))
	}
	if d.opts.Metrics != nil {
		opts = append(opts, rollback.WithObserver(d.opts.Metrics))
	}
	return opts
}

// snapshot checksums the files the run is known to touch up front, so a
// rollback can be checked byte for byte.
func (d *Driver) snapshot(r *run, log *slog.Logger) {
	if d.opts.Drift == nil {
		return
	}
	cfg := d.opts.Config
	var files []string
	for _, p := range cfg.Preserve {
		files = append(files, cfg.Path(p))
	}
	for _, c := range cfg.Pipeline.Commands {
		for _, t := range c.Touches {
			files = append(files, cfg.Path(t))
		}
	}
	if err := d.opts.Drift.Snapshot(r.id, files); err != nil {
		log.Warn("pre-run checksums not recorded", "error", err)
	}
}

func (d *Driver) rollback(r *run, ctl *rollback.Controller, cause error, log *slog.Logger) Result {
	if cause != nil {
		log.Error("conversion failed, rolling back", "error", cause)
	}
	d.transition(r, PhaseRollingBack)
	sum := ctl.RollbackAll()
	r.result.Rollback = &sum
	d.saveSummary(r, sum, log)

	if d.opts.Drift != nil {
		drift, err := d.opts.Drift.Verify(r.id)
		if err != nil {
			log.Warn("post-rollback verification skipped", "error", err)
		}
		for _, df := range drift {
			log.Warn("file differs from its pre-run content", "resource", df.Path, "before", df.Before, "after", df.After)
		}
		r.result.Drift = drift
	}

	if !sum.Complete() {
		for _, res := range sum.Residuals {
			log.Error("not restored, manual cleanup required", "resource", res.Identity, "error", res.Error)
		}
		return d.finish(r, PhaseRollbackPartial, cause)
	}
	if d.opts.Drift != nil {
		d.opts.Drift.Forget(r.id)
	}
	return d.finish(r, PhaseRolledBack, cause)
}

func (d *Driver) inhibit(r *run, err error) Result {
	return d.finish(r, PhaseInhibited, err)
}

func (d *Driver) finish(r *run, p Phase, err error) Result {
	d.transition(r, p)
	r.result.Phase = p
	r.result.Err = err
	if err != nil {
		r.result.Error = err.Error()
	}
	r.result.Duration = time.Since(r.start)

	if m := d.opts.Metrics; m != nil {
		m.Finish(r.result.Duration)
		if path := d.opts.Config.Metrics.Textfile; path != "" {
			if werr := m.WriteTextfile(path); werr != nil {
				d.log.Warn("metrics textfile not written", "error", werr)
			}
		}
	}
	return r.result
}

// transition persists p to the run record, the audit trail and metrics.
func (d *Driver) transition(r *run, p Phase) {
	r.phase = p
	d.log.Info("phase", "run", r.id, "phase", p.String())
	if d.opts.Store != nil {
		if err := d.opts.Store.UpdatePhase(r.id, p.String(), p.Final()); err != nil {
			d.log.Warn("phase not stored", "run", r.id, "phase", p.String(), "error", err)
		}
	}
	if d.opts.Audit != nil {
		if err := d.opts.Audit.Log(audit.Entry{RunID: r.id, Action: "phase", Outcome: p.String()}); err != nil {
			d.log.Warn("audit write failed", "run", r.id, "error", err)
		}
	}
	if d.opts.Metrics != nil {
		d.opts.Metrics.SetPhase(p.String())
	}
}

func (d *Driver) saveCases(r *run, rep specialcases.Report, log *slog.Logger) {
	if d.opts.Store == nil {
		return
	}
	recs := make([]statedb.CaseRecord, 0, len(rep.Results))
	for _, res := range rep.Results {
		recs = append(recs, statedb.CaseRecord{Name: res.Case, Outcome: res.Outcome.String(), Reason: res.Reason, Error: res.Error})
	}
	if err := d.opts.Store.SaveCases(r.id, recs); err != nil {
		log.Warn("special case outcomes not stored", "error", err)
	}
}

func (d *Driver) saveSummary(r *run, sum rollback.Summary, log *slog.Logger) {
	if d.opts.Store == nil {
		return
	}
	data, err := json.Marshal(sum)
	if err == nil {
		err = d.opts.Store.SetSummary(r.id, string(data))
	}
	if err != nil {
		log.Warn("rollback summary not stored", "error", err)
	}
}
