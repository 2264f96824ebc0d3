package precheck

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/filelock"
)

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestSystemReleaseCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system-release")

	result := SystemReleaseCheck{Path: path}.Run()
	assert.False(t, result.Passed)
	assert.Equal(t, "Unable to find the /etc/system-release file containing the OS name and version", result.Message)

	require.NoError(t, os.WriteFile(path, []byte("Oracle Linux Server release 7.9\n"), 0o644))
	result = SystemReleaseCheck{Path: path}.Run()
	assert.True(t, result.Passed)
	assert.Equal(t, "system-release", result.Name)
}

func TestRootCheck(t *testing.T) {
	assert.True(t, RootCheck{Geteuid: func() int { return 0 }}.Run().Passed)

	result := RootCheck{Geteuid: func() int { return 1000 }}.Run()
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "euid 1000")

	result = RootCheck{Skip: true, Geteuid: func() int { return 1000 }}.Run()
	assert.True(t, result.Passed)
	assert.Equal(t, "skipped by configuration", result.Message)
}

func TestRollbackCompletenessCheck(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "os-release")
	require.NoError(t, os.WriteFile(present, []byte("ID=ol\n"), 0o644))

	t.Run("complete", func(t *testing.T) {
		c := RollbackCompletenessCheck{
			Preserve:  []string{present, filepath.Join(dir, "missing")},
			BackupDir: filepath.Join(dir, "backup"),
			Getenv:    env(nil),
		}
		result := c.Run()
		assert.True(t, result.Passed)
		assert.DirExists(t, filepath.Join(dir, "backup"))
	})

	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	t.Run("incomplete", func(t *testing.T) {
		c := RollbackCompletenessCheck{
			Preserve:  []string{present},
			BackupDir: filepath.Join(blocker, "backup"),
			Getenv:    env(nil),
		}
		result := c.Run()
		assert.False(t, result.Passed)
		assert.Contains(t, result.Message, "set the environment variable 'DISTROCONV_UNSUPPORTED_INCOMPLETE_ROLLBACK'")
	})

	t.Run("incomplete_allowed", func(t *testing.T) {
		c := RollbackCompletenessCheck{
			Preserve:  []string{present},
			BackupDir: filepath.Join(blocker, "backup"),
			Getenv:    env(map[string]string{IncompleteRollbackEnv: "1"}),
		}
		result := c.Run()
		assert.True(t, result.Passed)
		assert.Contains(t, result.Message, "rollback will be incomplete")
	})
}

func TestLockCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distroconv.lock")
	assert.True(t, LockCheck{Path: path}.Run().Passed)

	lock, err := filelock.Acquire(path, "run-7")
	require.NoError(t, err)
	defer lock.Release()

	result := LockCheck{Path: path}.Run()
	assert.False(t, result.Passed)
	assert.Contains(t, result.Message, "run-7")
}

func TestBinaryCheck(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		result := BinaryCheck{Binary: "sh"}.Run()
		assert.True(t, result.Passed)
		assert.Contains(t, result.Message, "/sh")
		assert.Equal(t, "binary:sh", result.Name)
	})

	t.Run("not_found", func(t *testing.T) {
		result := BinaryCheck{Binary: "nonexistent_binary_xyz_abc_123"}.Run()
		assert.False(t, result.Passed)
		assert.Contains(t, result.Message, "not found in PATH")
	})
}

func TestRunnerOneFail(t *testing.T) {
	r := NewRunner()
	r.Add(CustomCheck{CheckName: "pass", Fn: func() CheckResult {
		return CheckResult{Name: "pass", Passed: true, Message: "OK"}
	}})
	r.Add(CustomCheck{CheckName: "fail", Fn: func() CheckResult {
		return CheckResult{Name: "fail", Passed: false, Message: "something broke"}
	}})

	result := r.Run()
	assert.False(t, result.AllPassed)
	assert.Len(t, result.Results, 2)
	assert.NotEmpty(t, result.Duration)
	assert.Equal(t, []string{"pass", "fail"}, r.Checks())
	require.Len(t, result.Failed(), 1)
	assert.Equal(t, "fail", result.Failed()[0].Name)
}

func TestDefaultRunner(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.SkipRootCheck = true

	r := DefaultRunner(cfg)
	assert.Equal(t, []string{"system-release", "root", "binary:rpm", "rollback-completeness", "run-lock"}, r.Checks())

	result := r.Run()
	assert.False(t, result.AllPassed, "staged root has no system-release")
	assert.False(t, result.Results[0].Passed)
	assert.True(t, result.Results[1].Passed)
}

func TestFormatRunResult(t *testing.T) {
	result := RunResult{
		AllPassed: false,
		Results: []CheckResult{
			{Name: "root", Passed: true, Message: "OK"},
			{Name: "system-release", Passed: false, Message: "missing"},
		},
		Duration: "1ms",
	}
	out := FormatRunResult(result)
	assert.Contains(t, out, "[PASS] root: OK")
	assert.Contains(t, out, "[FAIL] system-release: missing")
	assert.Contains(t, out, "Result: INHIBITED, 1/2 checks passed (1ms)")
	assert.Contains(t, out, "  - system-release\n")

	js, err := FormatRunResultJSON(result)
	require.NoError(t, err)
	assert.True(t, strings.Contains(js, `"all_passed": false`))
}
