package migration

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=DELETE")
	require.NoError(t, err)
	return db, path
}

func twoTables() *Registry {
	return NewRegistry().
		MustAdd(1, "create runs", "CREATE TABLE runs (id TEXT PRIMARY KEY);").
		MustAdd(2, "create ledger", "CREATE TABLE ledger (run_id TEXT, identity TEXT);")
}

func TestRegistryAddInvalid(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Latest())

	err := r.Add(2, "skip", "SELECT 1;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected version 1")

	require.NoError(t, r.Add(1, "first", "SELECT 1;"))
	err = r.Add(3, "skip again", "SELECT 1;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected version 2")

	assert.Panics(t, func() { r.MustAdd(5, "bad", "SELECT 1;") })
}

func TestGetSetVersion(t *testing.T) {
	db, _ := openDB(t)

	v, err := GetVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, SetVersion(db, 5))
	v, err = GetVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestBackup(t *testing.T) {
	db, path := openDB(t)
	_, err := db.Exec("CREATE TABLE t (id INTEGER); INSERT INTO t VALUES (1);")
	require.NoError(t, err)

	backupPath, err := Backup(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(backupPath, path+".bak."))

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	backup, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, original, backup)
}

func TestMigrateFresh(t *testing.T) {
	db, path := openDB(t)

	result, err := twoTables().Migrate(db, path)
	require.NoError(t, err)
	assert.Equal(t, 0, result.FromVersion)
	assert.Equal(t, 2, result.ToVersion)
	assert.Equal(t, 2, result.Applied)
	assert.Empty(t, result.BackupPath, "fresh database is not backed up")

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='ledger'").Scan(&name))
	assert.Equal(t, "ledger", name)

	v, err := GetVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMigrateUpgradeBacksUp(t *testing.T) {
	db, path := openDB(t)

	_, err := NewRegistry().MustAdd(1, "create runs", "CREATE TABLE runs (id TEXT PRIMARY KEY);").Migrate(db, path)
	require.NoError(t, err)

	result, err := twoTables().Migrate(db, path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FromVersion)
	assert.Equal(t, 1, result.Applied)
	assert.FileExists(t, result.BackupPath)
}

func TestMigrateAlreadyCurrent(t *testing.T) {
	db, path := openDB(t)
	r := twoTables()
	require.NoError(t, SetVersion(db, r.Latest()))

	result, err := r.Migrate(db, path)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Empty(t, result.BackupPath)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".bak.")
	}
}

func TestMigrateNewerDatabaseRefused(t *testing.T) {
	db, path := openDB(t)
	require.NoError(t, SetVersion(db, 9))

	_, err := twoTables().Migrate(db, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this binary")
}

func TestMigrateFailureKeepsVersion(t *testing.T) {
	db, path := openDB(t)
	r := NewRegistry().
		MustAdd(1, "create runs", "CREATE TABLE runs (id TEXT PRIMARY KEY);").
		MustAdd(2, "broken", "CREATE TABLE runs (id TEXT);")

	_, err := r.Migrate(db, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "v2 (broken)")

	v, err := GetVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPending(t *testing.T) {
	r := NewRegistry().MustAdd(1, "a", "SELECT 1;").MustAdd(2, "b", "SELECT 1;").MustAdd(3, "c", "SELECT 1;")
	assert.Len(t, r.Pending(0), 3)
	pending := r.Pending(1)
	require.Len(t, pending, 2)
	assert.Equal(t, 2, pending[0].Version)
	assert.Empty(t, r.Pending(3))
}
