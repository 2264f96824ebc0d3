package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/restorable"
	"github.com/lyndonlyu/distroconv/internal/statedb"
)

func TestMarkdownRolledBackPartial(t *testing.T) {
	in := Input{
		Run: statedb.RunRecord{
			ID: "r1", Phase: "ROLLBACK_PARTIAL", BackupDir: "/var/lib/distroconv/backup/r1",
			StartedAt: "2026-10-19T10:00:00Z", EndedAt: "2026-10-19T10:01:00Z",
			Summary: `{"run_id":"r1","restored":["/etc/os-release"],"residuals":[{"identity":"/etc/yum/protected.d/shim-x64.conf","error":"read-only file system"}]}`,
		},
		Cases: []statedb.CaseRecord{
			{Name: "openjdk-rpm-state-dir", Outcome: "SKIPPED", Reason: "java-1.7.0-openjdk is not installed"},
			{Name: "unprotect-shim-x64", Outcome: "APPLIED", Reason: "removed"},
		},
		Pending: []restorable.Record{{Identity: "/etc/yum/protected.d/shim-x64.conf", BackupPath: "/b/shim", Existed: true}},
		Events:  []audit.Record{{Timestamp: "t0", Action: "restore", Resource: "/etc/os-release", Outcome: "restored"}},
	}

	md, err := Markdown(in)
	require.NoError(t, err)
	assert.Contains(t, md, "# Conversion run `r1`")
	assert.Contains(t, md, "| Phase | **ROLLBACK_PARTIAL** |")
	assert.Contains(t, md, "| openjdk-rpm-state-dir | SKIPPED | java-1.7.0-openjdk is not installed |")
	assert.Contains(t, md, "- restored `/etc/os-release`")
	assert.Contains(t, md, "need manual cleanup")
	assert.Contains(t, md, "read-only file system")
	assert.Contains(t, md, "distroconv rollback r1")
	assert.Contains(t, md, "## Audit trail")

	out, err := Render(md, 80, true)
	require.NoError(t, err)
	assert.Contains(t, out, "ROLLBACK_PARTIAL")
}

func TestMarkdownCommitted(t *testing.T) {
	md, err := Markdown(Input{Run: statedb.RunRecord{ID: "r2", Phase: "COMMITTED", BackupDir: "/b"}})
	require.NoError(t, err)
	assert.Contains(t, md, "No special case was evaluated.")
	assert.NotContains(t, md, "## Rollback")
	assert.NotContains(t, md, "## Pending ledger")
}

func TestMarkdownBadSummary(t *testing.T) {
	_, err := Markdown(Input{Run: statedb.RunRecord{ID: "r3", Summary: "{"}})
	assert.Error(t, err)
}

func TestCellEscapes(t *testing.T) {
	assert.Equal(t, `a\|b c`, cell("a|b\nc"))
}
