// Package rollback owns the ledger of resources backed up during one run and
// unwinds them newest-first when the run fails or the operator aborts.
//
// A Controller is created once per run and passed to whatever needs to back
// resources up. After Commit or RollbackAll it is closed: further backups are
// refused, so nothing can be mutated without a way back.
package rollback

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/logging"
	"github.com/lyndonlyu/distroconv/internal/restorable"
)

var (
	ErrIdentityClaimed   = errors.New("rollback: identity already claimed in this run")
	ErrDuplicateIdentity = errors.New("rollback: another resource with this identity is already tracked")
	ErrClosed            = errors.New("rollback: run already committed or rolled back")
)

// Journal persists ledger entries so a later process can roll back a run
// that died before it could do so itself.
type Journal interface {
	Append(runID string, seq int, rec restorable.Record) error
	Remove(runID, identity string) error
	Clear(runID string) error
}

// Recorder receives one audit entry per ledger event.
type Recorder interface {
	Log(entry audit.Entry) error
}

// Observer is told about ledger traffic, for metrics.
type Observer interface {
	Tracked(identity string)
	Restored(identity string, err error)
}

type recordable interface {
	Record() restorable.Record
}

type discardable interface {
	Discard() error
}

type Controller struct {
	mu        sync.Mutex
	runID     string
	backupDir string
	ledger    []restorable.Resource
	claimed   map[string]bool
	closed    bool

	journal  Journal
	audit    Recorder
	observer Observer
	log      *slog.Logger
}

type Option func(*Controller)

func WithJournal(j Journal) Option     { return func(c *Controller) { c.journal = j } }
func WithAudit(r Recorder) Option      { return func(c *Controller) { c.audit = r } }
func WithObserver(o Observer) Option   { return func(c *Controller) { c.observer = o } }
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

// New creates the controller for one run. backupDir is where this run's
// pristine copies go and must not be shared with another run.
func New(runID, backupDir string, opts ...Option) *Controller {
	c := &Controller{
		runID:     runID,
		backupDir: backupDir,
		claimed:   make(map[string]bool),
		log:       logging.New("rollback").With("run", runID),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) RunID() string     { return c.runID }
func (c *Controller) BackupDir() string { return c.backupDir }

// NewFile claims path for this run and returns its resource. Claiming the
// same path twice is a programming error.
func (c *Controller) NewFile(path string) (*restorable.File, error) {
	clean := filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.claimed[clean] {
		return nil, fmt.Errorf("%w: %s", ErrIdentityClaimed, clean)
	}
	c.claimed[clean] = true
	return restorable.NewFile(clean, c.backupDir, c, restorable.WithLogger(c.log)), nil
}

// Track appends r to the ledger. It is called by the resource itself when it
// reaches BACKED_UP; tracking the same resource twice is a no-op.
func (c *Controller) Track(r restorable.Resource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, e := range c.ledger {
		if e == r {
			return nil
		}
		if e.Identity() == r.Identity() {
			return fmt.Errorf("%w: %s", ErrDuplicateIdentity, r.Identity())
		}
	}

	if c.journal != nil {
		if rec, ok := r.(recordable); ok {
			if err := c.journal.Append(c.runID, len(c.ledger), rec.Record()); err != nil {
				c.log.Warn("ledger journal append failed, crash recovery will miss this entry",
					"resource", r.Identity(), "error", err)
			}
		}
	}
	c.ledger = append(c.ledger, r)
	c.claimed[r.Identity()] = true
	c.record("track", r.Identity(), "backed_up", nil)
	if c.observer != nil {
		c.observer.Tracked(r.Identity())
	}
	c.log.Debug("tracked", "resource", r.Identity(), "position", len(c.ledger))
	return nil
}

// Len returns the number of resources currently reversible.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ledger)
}

// Identities returns the ledger in backup order.
func (c *Controller) Identities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.ledger))
	for i, r := range c.ledger {
		ids[i] = r.Identity()
	}
	return ids
}

// Closed reports whether Commit or RollbackAll has run.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Commit declares the run successful: the ledger is cleared without
// restoring anything and the backup copies are dropped.
func (c *Controller) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	var errs []error
	for _, r := range c.ledger {
		if d, ok := r.(discardable); ok {
			if err := d.Discard(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	n := len(c.ledger)
	c.ledger = nil
	c.claimed = make(map[string]bool)
	c.closed = true

	if c.journal != nil {
		if err := c.journal.Clear(c.runID); err != nil {
			errs = append(errs, fmt.Errorf("rollback: clear journal: %w", err))
		}
	}
	c.record("commit", "", "committed", nil)
	c.log.Info("run committed, rollback no longer possible", "resources", n)
	return errors.Join(errs...)
}

// RollbackAll restores every tracked resource, newest first. It never stops
// early; each failure becomes one residual in the summary. The ledger is
// cleared afterwards whatever the outcome, and a second call does nothing.
func (c *Controller) RollbackAll() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{RunID: c.runID}
	if c.closed {
		return s
	}
	c.log.Info("rolling back", "resources", len(c.ledger))

	for i := len(c.ledger) - 1; i >= 0; i-- {
		r := c.ledger[i]
		err := r.Restore()
		if c.observer != nil {
			c.observer.Restored(r.Identity(), err)
		}
		if err != nil {
			s.Residuals = append(s.Residuals, Residual{Identity: r.Identity(), Error: err.Error(), Err: err})
			c.record("restore", r.Identity(), "restore_failed", err)
			c.log.Error("restore failed, manual cleanup required", "resource", r.Identity(), "error", err)
			continue
		}
		s.Restored = append(s.Restored, r.Identity())
		c.record("restore", r.Identity(), "restored", nil)
		if c.journal != nil {
			if err := c.journal.Remove(c.runID, r.Identity()); err != nil {
				c.log.Warn("ledger journal remove failed", "resource", r.Identity(), "error", err)
			}
		}
	}

	c.ledger = nil
	c.claimed = make(map[string]bool)
	c.closed = true

	if s.Complete() {
		c.log.Info("rollback complete", "restored", len(s.Restored))
	} else {
		c.log.Error("rollback partial", "restored", len(s.Restored), "residuals", len(s.Residuals))
	}
	return s
}

func (c *Controller) record(action, resource, outcome string, err error) {
	if c.audit == nil {
		return
	}
	e := audit.Entry{RunID: c.runID, Action: action, Resource: resource, Outcome: outcome}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := c.audit.Log(e); aerr != nil {
		c.log.Warn("audit write failed", "action", action, "resource", resource, "error", aerr)
	}
}
