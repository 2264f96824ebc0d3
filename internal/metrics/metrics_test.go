package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func find(ms []Metric, name string, labels map[string]string) (Metric, bool) {
	for _, m := range ms {
		if m.Name != name {
			continue
		}
		match := true
		for k, v := range labels {
			if m.Labels[k] != v {
				match = false
			}
		}
		if match {
			return m, true
		}
	}
	return Metric{}, false
}

func TestLedgerTraffic(t *testing.T) {
	r := NewRun()
	r.Tracked("/etc/a")
	r.Tracked("/etc/b")
	r.Restored("/etc/b", nil)
	r.Restored("/etc/a", errors.New("read-only file system"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.tracked))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ledgerSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.restores.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.restores.WithLabelValues("failed")))

	r.Committed()
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ledgerSize))
}

func TestPhaseIsExclusive(t *testing.T) {
	r := NewRun()
	r.SetPhase("RUNNING")
	r.SetPhase("COMMITTED")

	ms, err := r.Snapshot()
	require.NoError(t, err)
	_, running := find(ms, "distroconv_run_phase", map[string]string{"phase": "RUNNING"})
	assert.False(t, running)
	m, ok := find(ms, "distroconv_run_phase", map[string]string{"phase": "COMMITTED"})
	require.True(t, ok)
	assert.Equal(t, 1.0, m.Value)
}

func TestSnapshotAndTextfile(t *testing.T) {
	r := NewRun()
	r.CaseFinished("unprotect-shim-x64", "APPLIED")
	r.CaseFinished("openjdk-rpm-state-dir", "SKIPPED")
	r.Finish(1500 * time.Millisecond)

	ms, err := r.Snapshot()
	require.NoError(t, err)
	m, ok := find(ms, "distroconv_special_cases_total", map[string]string{"case": "unprotect-shim-x64", "outcome": "APPLIED"})
	require.True(t, ok)
	assert.Equal(t, 1.0, m.Value)
	d, ok := find(ms, "distroconv_run_duration_seconds", nil)
	require.True(t, ok)
	assert.Equal(t, 1.5, d.Value)

	path := filepath.Join(t.TempDir(), "distroconv.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `distroconv_special_cases_total{case="openjdk-rpm-state-dir",outcome="SKIPPED"} 1`)
}

func TestFormatHuman(t *testing.T) {
	ms := []Metric{
		{Name: "distroconv_ledger_size", Value: 2},
		{Name: "distroconv_special_cases_total", Value: 1, Labels: map[string]string{"outcome": "APPLIED", "case": "x"}},
		{Name: "distroconv_run_duration_seconds", Value: 1.25},
	}
	out := FormatHuman(ms)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "METRIC"))
	assert.Contains(t, lines[1], "ledger_size")
	assert.True(t, strings.HasSuffix(lines[1], " 2"))
	assert.Contains(t, lines[2], `special_cases_total{case="x",outcome="APPLIED"}`)
	assert.True(t, strings.HasSuffix(lines[3], " 1.25"))
	assert.NotContains(t, out, "distroconv_")
}
