package conversion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/rollback"
)

func shell(script string) []string { return []string{"/bin/sh", "-c", script} }

func TestCommandPipelineBacksUpTouchedFiles(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Root = root
	repo := cfg.Path("/etc/yum.repos.d/base.repo")
	require.NoError(t, os.MkdirAll(filepath.Dir(repo), 0o755))
	require.NoError(t, os.WriteFile(repo, []byte("[base]\n"), 0o644))

	cfg.Pipeline.Commands = []config.Command{
		{Name: "rewrite", Argv: shell("echo '[target]' > " + repo), Touches: []string{"/etc/yum.repos.d/base.repo"}},
		{Name: "again", Argv: shell("echo '[again]' >> " + repo), Touches: []string{"/etc/yum.repos.d/base.repo"}},
	}
	ctl := rollback.New("run-1", filepath.Join(t.TempDir(), "backup"))

	p, err := NewCommandPipeline(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), ctl))
	assert.Equal(t, 1, ctl.Len(), "a path touched twice is tracked once")
	data, err := os.ReadFile(repo)
	require.NoError(t, err)
	assert.Equal(t, "[target]\n[again]\n", string(data))

	sum := ctl.RollbackAll()
	require.True(t, sum.Complete())
	data, err = os.ReadFile(repo)
	require.NoError(t, err)
	assert.Equal(t, "[base]\n", string(data))
}

func TestCommandPipelineSkipsPreservedFiles(t *testing.T) {
	cfg := config.Default()
	cfg.Root = t.TempDir()
	release := cfg.Path("/etc/os-release")
	require.NoError(t, os.MkdirAll(filepath.Dir(release), 0o755))
	require.NoError(t, os.WriteFile(release, []byte("ID=ol\n"), 0o644))

	ctl := rollback.New("run-1", filepath.Join(t.TempDir(), "backup"))
	f, err := ctl.NewFile(release)
	require.NoError(t, err)
	require.NoError(t, f.Backup())

	cfg.Pipeline.Commands = []config.Command{
		{Name: "release", Argv: shell("echo ID=rhel > " + release), Touches: []string{"/etc/os-release"}},
	}
	p, err := NewCommandPipeline(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), ctl))
	assert.Equal(t, 1, ctl.Len())

	require.True(t, ctl.RollbackAll().Complete())
	data, err := os.ReadFile(release)
	require.NoError(t, err)
	assert.Equal(t, "ID=ol\n", string(data))
}

func TestCommandPipelineStopsAtFailingStep(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	p := &CommandPipeline{Commands: []config.Command{
		{Name: "swap", Argv: shell("echo starting; echo 'no package matches' >&2; exit 3")},
		{Name: "after", Argv: shell("touch " + marker)},
	}}
	ctl := rollback.New("run-1", t.TempDir())

	err := p.Run(context.Background(), ctl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step swap exited 3: no package matches")
	assert.NoFileExists(t, marker)
}

func TestCommandPipelineMasksSecretsInErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Commands = []config.Command{
		{Name: "register", Argv: append(shell(`echo "login failed for password=hunter2" >&2; exit 70`), "--password", "hunter2")},
	}
	p, err := NewCommandPipeline(cfg)
	require.NoError(t, err)

	err = p.Run(context.Background(), rollback.New("run-1", t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 70: login failed for password=[REDACTED]")
	assert.NotContains(t, err.Error(), "hunter2")
}

func TestNewCommandPipelineRejectsBadPattern(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Redact.CustomPatterns = []string{"(["}
	_, err := NewCommandPipeline(cfg)
	assert.Error(t, err)
}

func TestCommandPipelineRejectsEmptyArgv(t *testing.T) {
	p := &CommandPipeline{Commands: []config.Command{{}}}
	err := p.Run(context.Background(), rollback.New("run-1", t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step step-1: empty argv")
}

func TestCommandPipelineHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &CommandPipeline{Commands: []config.Command{{Name: "never", Argv: shell("exit 0")}}}

	err := p.Run(ctx, rollback.New("run-1", t.TempDir()))
	assert.ErrorIs(t, err, context.Canceled)
}
