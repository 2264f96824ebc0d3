// Package specialcases runs optional, independently guarded host fixups at a
// fixed point of the conversion. Each case is a workaround, not a
// prerequisite: a failing case is logged and the next one runs anyway.
package specialcases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/logging"
	"github.com/lyndonlyu/distroconv/internal/restorable"
	"github.com/lyndonlyu/distroconv/internal/sysinfo"
)

var (
	ErrDuplicateCase = errors.New("specialcases: case already registered")
	ErrInvalidCase   = errors.New("specialcases: case needs a name and an action")
)

// Severity decides how loudly a failed case is logged. No severity makes a
// case fatal.
type Severity int

const (
	SeverityWarn Severity = iota
	SeveritySilent
)

// Resources hands out restorable resources claimed for the current run.
type Resources interface {
	NewFile(path string) (*restorable.File, error)
}

// Env is what a case may touch.
type Env struct {
	Query     sysinfo.Provider
	Resources Resources
	Log       *slog.Logger
}

// Precondition is a pure check over the query provider. When ok is false,
// reason says why the case does not apply.
type Precondition func(ctx context.Context, q sysinfo.Provider) (ok bool, reason string, err error)

// Action performs the fixup and returns a short note on what it did. Any
// file it changes must go through restorable.Mutate.
type Action func(ctx context.Context, env Env) (note string, err error)

type Case struct {
	Name         string
	Description  string
	Severity     Severity
	Precondition Precondition
	Action       Action
}

// Recorder receives one audit entry per case.
type Recorder interface {
	Log(entry audit.Entry) error
}

// Observer is told each case's outcome, for metrics.
type Observer interface {
	CaseFinished(name, outcome string)
}

type Registry struct {
	env      Env
	cases    []Case
	runID    string
	audit    Recorder
	observer Observer
}

type Option func(*Registry)

// WithAudit records every case outcome under runID.
func WithAudit(runID string, r Recorder) Option {
	return func(reg *Registry) {
		reg.runID = runID
		reg.audit = r
	}
}

func WithObserver(o Observer) Option { return func(r *Registry) { r.observer = o } }

func NewRegistry(env Env, opts ...Option) *Registry {
	if env.Log == nil {
		env.Log = logging.New("specialcases")
	}
	r := &Registry{env: env}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register appends c. Cases run in registration order.
func (r *Registry) Register(c Case) error {
	if c.Name == "" || c.Action == nil {
		return ErrInvalidCase
	}
	for _, existing := range r.cases {
		if existing.Name == c.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateCase, c.Name)
		}
	}
	r.cases = append(r.cases, c)
	return nil
}

// Cases returns the registered cases in run order.
func (r *Registry) Cases() []Case {
	out := make([]Case, len(r.cases))
	copy(out, r.cases)
	return out
}

// RunAll evaluates every case in order. It never fails: each outcome,
// including a panic inside a case, ends up in the report.
func (r *Registry) RunAll(ctx context.Context) Report {
	var rep Report
	for _, c := range r.cases {
		res := r.runOne(ctx, c)
		rep.Results = append(rep.Results, res)
		r.record(res)
	}
	return rep
}

func (r *Registry) runOne(ctx context.Context, c Case) (res Result) {
	log := r.env.Log.With("case", c.Name)
	start := time.Now()
	res.Case = c.Name

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeActionFailed
			res.Err = fmt.Errorf("specialcases: %s panicked: %v", c.Name, p)
			log.Warn("special case panicked", "outcome", res.Outcome.String(), "error", res.Err)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
		res.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeSkipped
		res.Reason = "run cancelled"
		log.Info("run cancelled, skipping", "outcome", res.Outcome.String())
		return res
	}

	log.Info("checking special case", "description", c.Description)
	if c.Precondition != nil {
		ok, reason, err := c.Precondition(ctx, r.env.Query)
		if err != nil {
			res.Outcome = OutcomeSkipped
			res.Reason = "precondition could not be evaluated"
			res.Err = err
			log.Warn("precondition could not be evaluated, skipping", "outcome", res.Outcome.String(), "error", err)
			return res
		}
		if !ok {
			res.Outcome = OutcomeSkipped
			res.Reason = reason
			log.Info(reason+". Skipping.", "outcome", res.Outcome.String())
			return res
		}
	}

	note, err := c.Action(ctx, r.env)
	if err != nil {
		var be *restorable.BackupError
		if errors.As(err, &be) {
			res.Outcome = OutcomeBackupFailed
		} else {
			res.Outcome = OutcomeActionFailed
		}
		res.Err = err
		level := slog.LevelWarn
		if c.Severity == SeveritySilent {
			level = slog.LevelDebug
		}
		log.Log(ctx, level, "special case failed", "outcome", res.Outcome.String(), "error", err)
		return res
	}

	res.Outcome = OutcomeApplied
	res.Reason = note
	log.Info("special case applied", "outcome", res.Outcome.String(), "note", note)
	return res
}

func (r *Registry) record(res Result) {
	if r.observer != nil {
		r.observer.CaseFinished(res.Case, res.Outcome.String())
	}
	if r.audit == nil {
		return
	}
	e := audit.Entry{RunID: r.runID, Action: "special_case", Resource: res.Case, Outcome: res.Outcome.String(), Error: res.Error}
	if err := r.audit.Log(e); err != nil {
		r.env.Log.Warn("audit write failed", "case", res.Case, "error", err)
	}
}
