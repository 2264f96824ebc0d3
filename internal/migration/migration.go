// Package migration versions the state database schema with SQLite's
// PRAGMA user_version. Migrations are registered in order and applied one at
// a time; an existing database is copied aside before it is upgraded.
package migration

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
	SQL         string `json:"sql"`
}

// Result describes what happened during a Migrate call.
type Result struct {
	FromVersion int    `json:"from_version"`
	ToVersion   int    `json:"to_version"`
	Applied     int    `json:"applied"`
	BackupPath  string `json:"backup_path,omitempty"`
}

// Registry holds an ordered list of migrations.
type Registry struct {
	migrations []Migration
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a migration. The version must be sequential (len(migrations)+1).
func (r *Registry) Add(version int, description, sql string) error {
	expected := len(r.migrations) + 1
	if version != expected {
		return fmt.Errorf("migration: expected version %d, got %d", expected, version)
	}
	r.migrations = append(r.migrations, Migration{
		Version:     version,
		Description: description,
		SQL:         sql,
	})
	return nil
}

// MustAdd is Add for package-level schema definitions.
func (r *Registry) MustAdd(version int, description, sql string) *Registry {
	if err := r.Add(version, description, sql); err != nil {
		panic(err)
	}
	return r
}

// Latest returns the highest registered migration version, or 0 if empty.
func (r *Registry) Latest() int {
	return len(r.migrations)
}

// GetVersion reads the current schema version.
func GetVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("migration: get user_version: %w", err)
	}
	return version, nil
}

// SetVersion sets the schema version.
func SetVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	if err != nil {
		return fmt.Errorf("migration: set user_version to %d: %w", version, err)
	}
	return nil
}

// Backup copies the database file to {dbPath}.bak.{unix_timestamp} and
// returns the copy's path.
func Backup(dbPath string) (string, error) {
	backupPath := fmt.Sprintf("%s.bak.%d", dbPath, time.Now().Unix())

	src, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("migration: open source db for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(backupPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("migration: create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("migration: copy db to backup: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return "", fmt.Errorf("migration: sync backup file: %w", err)
	}
	return backupPath, nil
}

// Migrate applies all pending migrations. A database that already carries a
// schema is backed up first; a fresh one (version 0) is not. Each migration
// and its version bump run in one transaction.
func (r *Registry) Migrate(db *sql.DB, dbPath string) (*Result, error) {
	current, err := GetVersion(db)
	if err != nil {
		return nil, err
	}
	if current > r.Latest() {
		return nil, fmt.Errorf("migration: database version %d is newer than this binary (%d)", current, r.Latest())
	}
	if current == r.Latest() {
		return &Result{FromVersion: current, ToVersion: current}, nil
	}

	res := &Result{FromVersion: current, ToVersion: r.Latest()}
	if current > 0 && dbPath != "" && dbPath != ":memory:" {
		if res.BackupPath, err = Backup(dbPath); err != nil {
			return nil, fmt.Errorf("migration: pre-migration backup: %w", err)
		}
	}

	for _, m := range r.Pending(current) {
		tx, err := db.Begin()
		if err != nil {
			return nil, fmt.Errorf("migration: begin v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("migration: v%d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("migration: set version after v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("migration: commit v%d: %w", m.Version, err)
		}
		res.Applied++
	}
	return res, nil
}

// Pending returns the migrations newer than version.
func (r *Registry) Pending(version int) []Migration {
	var pending []Migration
	for _, m := range r.migrations {
		if m.Version > version {
			pending = append(pending, m)
		}
	}
	return pending
}
