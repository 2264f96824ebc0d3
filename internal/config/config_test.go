package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "/", cfg.Root)
	assert.Equal(t, "/var/lib/distroconv", cfg.StateDir)
	assert.Equal(t, "java-1.7.0-openjdk", cfg.SpecialCases.OpenJDK.Package)
	assert.Equal(t, "/var/lib/rpm-state/", cfg.SpecialCases.OpenJDK.StateDir)
	assert.Equal(t, "ol", cfg.SpecialCases.Shim.Distro)
	assert.Equal(t, 7, cfg.SpecialCases.Shim.Major)
	assert.Equal(t, "/etc/yum/protected.d/shim-x64.conf", cfg.SpecialCases.Shim.ProtectionFile)
	assert.Contains(t, cfg.Preserve, "/etc/os-release")
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := []byte(`state_dir: /srv/conv
special_cases:
  disabled: [openjdk-rpm-state-dir]
  shim:
    major: 8
pipeline:
  commands:
    - name: swap
      argv: [/usr/libexec/swap-repos]
      touches: [/etc/yum.repos.d/base.repo]
  redact:
    custom_patterns: ['SAT-[0-9]+']
`)
	require.NoError(t, os.WriteFile(configPath, content, 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/srv/conv", cfg.StateDir)
	assert.Equal(t, 8, cfg.SpecialCases.Shim.Major)
	assert.Equal(t, []string{"openjdk-rpm-state-dir"}, cfg.SpecialCases.Disabled)
	require.Len(t, cfg.Pipeline.Commands, 1)
	assert.Equal(t, "swap", cfg.Pipeline.Commands[0].Name)
	assert.Equal(t, []string{"/etc/yum.repos.d/base.repo"}, cfg.Pipeline.Commands[0].Touches)
	assert.Equal(t, []string{"SAT-[0-9]+"}, cfg.Pipeline.Redact.CustomPatterns)
	// Defaults preserved for unset fields
	assert.True(t, cfg.Pipeline.Redact.Enabled)
	assert.Equal(t, "ol", cfg.SpecialCases.Shim.Distro)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err, "missing config file should return defaults, not error")
	assert.Equal(t, "/var/lib/distroconv", cfg.StateDir)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("root: [unterminated"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestPathJoinsRoot(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "/etc/os-release", cfg.Path("/etc/os-release"))

	cfg.Root = "/mnt/sysimage"
	assert.Equal(t, "/mnt/sysimage/etc/os-release", cfg.Path("/etc/os-release"))
}

func TestEnsureDirs(t *testing.T) {
	cfg := Default()
	cfg.StateDir = filepath.Join(t.TempDir(), "state")

	require.NoError(t, cfg.EnsureDirs())

	assert.DirExists(t, cfg.BackupDir())
	assert.DirExists(t, cfg.AuditDir())
	assert.Equal(t, filepath.Join(cfg.StateDir, "state.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join(cfg.StateDir, "ABORT"), cfg.AbortPath())
	assert.Equal(t, filepath.Join(cfg.StateDir, "distroconv.lock"), cfg.LockPath())
}
