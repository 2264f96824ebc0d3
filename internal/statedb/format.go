package statedb

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyndonlyu/distroconv/internal/restorable"
)

// FormatRunList returns a table of runs with columns ID, PHASE, STARTED and
// ENDED. Returns "No runs recorded.\n" if the slice is empty.
func FormatRunList(runs []RunRecord) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-17s %-32s %-32s\n", "ID", "PHASE", "STARTED", "ENDED")
	for _, r := range runs {
		phase := r.Phase
		if r.DryRun {
			phase += "*"
		}
		fmt.Fprintf(&b, "%-36s  %-17s %-32s %-32s\n", r.ID, phase, r.StartedAt, r.EndedAt)
	}
	return b.String()
}

// FormatRun renders one run with its pending ledger entries and case
// outcomes.
func FormatRun(r RunRecord, ledger []restorable.Record, cases []CaseRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:        %s\n", r.ID)
	fmt.Fprintf(&b, "Phase:      %s\n", r.Phase)
	if r.DryRun {
		b.WriteString("Dry run:    yes\n")
	}
	fmt.Fprintf(&b, "Started:    %s\n", r.StartedAt)
	if r.EndedAt != "" {
		fmt.Fprintf(&b, "Ended:      %s\n", r.EndedAt)
	}
	fmt.Fprintf(&b, "Backup dir: %s\n", r.BackupDir)

	if len(cases) > 0 {
		b.WriteString("\nSpecial cases:\n")
		for _, c := range cases {
			fmt.Fprintf(&b, "  %-14s %s", c.Outcome, c.Name)
			switch {
			case c.Error != "":
				fmt.Fprintf(&b, ": %s", c.Error)
			case c.Reason != "":
				fmt.Fprintf(&b, ": %s", c.Reason)
			}
			b.WriteString("\n")
		}
	}

	if len(ledger) == 0 {
		b.WriteString("\nNo pending ledger entries.\n")
		return b.String()
	}
	b.WriteString("\nPending ledger entries (restored newest first):\n")
	for i := len(ledger) - 1; i >= 0; i-- {
		rec := ledger[i]
		note := "restore from " + rec.BackupPath
		if !rec.Existed {
			note = "delete (absent before the run)"
		}
		fmt.Fprintf(&b, "  %s  %s\n", rec.Identity, note)
	}
	return b.String()
}

// FormatRunListJSON returns the runs as indented JSON.
func FormatRunListJSON(runs []RunRecord) (string, error) {
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("statedb: json marshal: %w", err)
	}
	return string(data), nil
}
