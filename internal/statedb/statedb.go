// Package statedb persists run records, the rollback ledger journal and
// special-case outcomes in SQLite, so a run that died mid-way can still be
// inspected and rolled back by a later invocation.
package statedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lyndonlyu/distroconv/internal/migration"
	"github.com/lyndonlyu/distroconv/internal/restorable"
)

var ErrNotFound = errors.New("statedb: not found")

// timeFormat is fixed width so started_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

var schema = migration.NewRegistry().
	MustAdd(1, "runs and ledger journal", `
		CREATE TABLE runs (
			id         TEXT PRIMARY KEY,
			phase      TEXT NOT NULL,
			backup_dir TEXT NOT NULL,
			dry_run    INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			ended_at   TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE ledger (
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			identity   TEXT NOT NULL,
			record     TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, identity)
		);`).
	MustAdd(2, "special case outcomes", `
		CREATE TABLE case_results (
			run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq      INTEGER NOT NULL,
			name     TEXT NOT NULL,
			outcome  TEXT NOT NULL,
			reason   TEXT NOT NULL DEFAULT '',
			error    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, name)
		);`).
	MustAdd(3, "rollback summary per run", `
		ALTER TABLE runs ADD COLUMN summary TEXT NOT NULL DEFAULT '';`)

// SchemaVersion is the schema version this binary writes.
func SchemaVersion() int { return schema.Latest() }

type DB struct {
	db   *sql.DB
	path string
}

type RunRecord struct {
	ID        string `json:"id"`
	Phase     string `json:"phase"`
	BackupDir string `json:"backup_dir"`
	DryRun    bool   `json:"dry_run"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	// Summary is the JSON rollback summary, set when a rollback ran.
	Summary string `json:"summary,omitempty"`
}

type CaseRecord struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Open creates or opens the database at path with WAL mode, a 5 second busy
// timeout and foreign keys on every connection, then migrates the schema.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: ping: %w", err)
	}
	if _, err := schema.Migrate(db, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Path() string {
	return d.path
}

func now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t the way run timestamps are stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// LastActivity is when the run ended, or when it started if it never did.
func (r RunRecord) LastActivity() (time.Time, error) {
	ts := r.EndedAt
	if ts == "" {
		ts = r.StartedAt
	}
	t, err := time.Parse(timeFormat, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("statedb: run %s: bad timestamp %q: %w", r.ID, ts, err)
	}
	return t, nil
}

// InsertRun inserts a new run record. StartedAt defaults to now.
func (d *DB) InsertRun(r RunRecord) error {
	if r.StartedAt == "" {
		r.StartedAt = now()
	}
	_, err := d.db.Exec(
		`INSERT INTO runs (id, phase, backup_dir, dry_run, started_at, ended_at, summary) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Phase, r.BackupDir, r.DryRun, r.StartedAt, r.EndedAt, r.Summary,
	)
	if err != nil {
		return fmt.Errorf("statedb: insert run: %w", err)
	}
	return nil
}

const runColumns = `id, phase, backup_dir, dry_run, started_at, ended_at, summary`

func scanRun(s interface{ Scan(...any) error }) (RunRecord, error) {
	var r RunRecord
	err := s.Scan(&r.ID, &r.Phase, &r.BackupDir, &r.DryRun, &r.StartedAt, &r.EndedAt, &r.Summary)
	return r, err
}

// GetRun returns the run with the given id, or ErrNotFound.
func (d *DB) GetRun(id string) (RunRecord, error) {
	r, err := scanRun(d.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("statedb: get run: %w", err)
	}
	return r, nil
}

// UpdatePhase moves a run to phase. A final phase also stamps ended_at.
func (d *DB) UpdatePhase(id, phase string, final bool) error {
	var (
		res sql.Result
		err error
	)
	if final {
		res, err = d.db.Exec(`UPDATE runs SET phase = ?, ended_at = ? WHERE id = ?`, phase, now(), id)
	} else {
		res, err = d.db.Exec(`UPDATE runs SET phase = ? WHERE id = ?`, phase, id)
	}
	if err != nil {
		return fmt.Errorf("statedb: update phase: %w", err)
	}
	return mustAffect(res)
}

// SetSummary stores the JSON rollback summary of a run.
func (d *DB) SetSummary(id, summary string) error {
	res, err := d.db.Exec(`UPDATE runs SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("statedb: set summary: %w", err)
	}
	return mustAffect(res)
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("statedb: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns runs newest first. If limit is 0, all are returned.
func (d *DB) ListRuns(limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = d.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = d.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("statedb: scan run: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statedb: rows runs: %w", err)
	}
	return records, nil
}

// LatestInPhase returns the newest run whose phase is one of phases, or
// ErrNotFound.
func (d *DB) LatestInPhase(phases ...string) (RunRecord, error) {
	if len(phases) == 0 {
		return RunRecord{}, ErrNotFound
	}
	args := make([]any, len(phases))
	for i, p := range phases {
		args[i] = p
	}
	q := `SELECT ` + runColumns + ` FROM runs WHERE phase IN (?` + strings.Repeat(", ?", len(phases)-1) +
		`) ORDER BY started_at DESC, rowid DESC LIMIT 1`
	r, err := scanRun(d.db.QueryRow(q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("statedb: latest run: %w", err)
	}
	return r, nil
}

// ---------- ledger journal ----------

// Append journals one ledger entry. Re-appending an identity replaces it.
func (d *DB) Append(runID string, seq int, rec restorable.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("statedb: marshal ledger record: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT OR REPLACE INTO ledger (run_id, seq, identity, record, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, rec.Identity, string(data), now(),
	)
	if err != nil {
		return fmt.Errorf("statedb: append ledger: %w", err)
	}
	return nil
}

// Remove drops one identity from a run's journal after it was restored.
func (d *DB) Remove(runID, identity string) error {
	if _, err := d.db.Exec(`DELETE FROM ledger WHERE run_id = ? AND identity = ?`, runID, identity); err != nil {
		return fmt.Errorf("statedb: remove ledger entry: %w", err)
	}
	return nil
}

// Clear drops a run's whole journal.
func (d *DB) Clear(runID string) error {
	if _, err := d.db.Exec(`DELETE FROM ledger WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("statedb: clear ledger: %w", err)
	}
	return nil
}

// LedgerRecords returns a run's journal in backup order.
func (d *DB) LedgerRecords(runID string) ([]restorable.Record, error) {
	rows, err := d.db.Query(`SELECT record FROM ledger WHERE run_id = ? ORDER BY seq, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("statedb: list ledger: %w", err)
	}
	defer rows.Close()

	var recs []restorable.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("statedb: scan ledger: %w", err)
		}
		var rec restorable.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("statedb: decode ledger record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statedb: rows ledger: %w", err)
	}
	return recs, nil
}

// ---------- special case outcomes ----------

// SaveCases replaces the stored case outcomes of a run.
func (d *DB) SaveCases(runID string, cases []CaseRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM case_results WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("statedb: clear cases: %w", err)
	}
	for i, c := range cases {
		_, err := tx.Exec(
			`INSERT INTO case_results (run_id, seq, name, outcome, reason, error) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i, c.Name, c.Outcome, c.Reason, c.Error,
		)
		if err != nil {
			return fmt.Errorf("statedb: insert case: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statedb: commit cases: %w", err)
	}
	return nil
}

// Cases returns a run's case outcomes in run order.
func (d *DB) Cases(runID string) ([]CaseRecord, error) {
	rows, err := d.db.Query(`SELECT name, outcome, reason, error FROM case_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("statedb: list cases: %w", err)
	}
	defer rows.Close()

	var out []CaseRecord
	for rows.Next() {
		var c CaseRecord
		if err := rows.Scan(&c.Name, &c.Outcome, &c.Reason, &c.Error); err != nil {
			return nil, fmt.Errorf("statedb: scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statedb: rows cases: %w", err)
	}
	return out, nil
}
