// Package report turns what statedb and the audit trail know about one run
// into a markdown document an operator can read or attach to a ticket.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/lyndonlyu/distroconv/internal/audit"
	"github.com/lyndonlyu/distroconv/internal/restorable"
	"github.com/lyndonlyu/distroconv/internal/rollback"
	"github.com/lyndonlyu/distroconv/internal/statedb"
)

type Input struct {
	Run     statedb.RunRecord
	Cases   []statedb.CaseRecord
	Pending []restorable.Record
	Events  []audit.Record
}

// Summary decodes the rollback summary stored with the run, if any.
func (in Input) Summary() (*rollback.Summary, error) {
	if in.Run.Summary == "" {
		return nil, nil
	}
	var s rollback.Summary
	if err := json.Unmarshal([]byte(in.Run.Summary), &s); err != nil {
		return nil, fmt.Errorf("report: decode summary: %w", err)
	}
	return &s, nil
}

// Markdown renders the report source.
func Markdown(in Input) (string, error) {
	sum, err := in.Summary()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Conversion run `%s`\n\n", in.Run.ID)
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Phase | **%s** |\n", in.Run.Phase)
	fmt.Fprintf(&b, "| Started | %s |\n", in.Run.StartedAt)
	if in.Run.EndedAt != "" {
		fmt.Fprintf(&b, "| Ended | %s |\n", in.Run.EndedAt)
	}
	if in.Run.DryRun {
		b.WriteString("| Dry run | yes |\n")
	}
	fmt.Fprintf(&b, "| Backups | `%s` |\n\n", in.Run.BackupDir)

	b.WriteString("## Special cases\n\n")
	if len(in.Cases) == 0 {
		b.WriteString("No special case was evaluated.\n\n")
	} else {
		b.WriteString("| Case | Outcome | Detail |\n|---|---|---|\n")
		for _, c := range in.Cases {
			detail := c.Reason
			if c.Error != "" {
				detail = c.Error
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", c.Name, c.Outcome, cell(detail))
		}
		b.WriteString("\n")
	}

	if sum != nil {
		b.WriteString("## Rollback\n\n")
		if len(sum.Restored) == 0 && sum.Complete() {
			b.WriteString("Nothing needed restoring.\n\n")
		}
		for _, id := range sum.Restored {
			fmt.Fprintf(&b, "- restored `%s`\n", id)
		}
		if !sum.Complete() {
			b.WriteString("\n**The following changes could not be reverted and need manual cleanup:**\n\n")
			for _, r := range sum.Residuals {
				fmt.Fprintf(&b, "- `%s`: %s\n", r.Identity, r.Error)
			}
		}
		b.WriteString("\n")
	}

	if len(in.Pending) > 0 {
		b.WriteString("## Pending ledger\n\n")
		b.WriteString("These resources are still backed up and will be restored by `distroconv rollback ")
		b.WriteString(in.Run.ID)
		b.WriteString("`:\n\n")
		for i := len(in.Pending) - 1; i >= 0; i-- {
			rec := in.Pending[i]
			if rec.Existed {
				fmt.Fprintf(&b, "- `%s` from `%s`\n", rec.Identity, rec.BackupPath)
			} else {
				fmt.Fprintf(&b, "- `%s` (delete, absent before the run)\n", rec.Identity)
			}
		}
		b.WriteString("\n")
	}

	if len(in.Events) > 0 {
		b.WriteString("## Audit trail\n\n")
		b.WriteString("| Time | Action | Resource | Outcome |\n|---|---|---|---|\n")
		for _, e := range in.Events {
			outcome := e.Outcome
			if e.Error != "" {
				outcome += ": " + e.Error
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", e.Timestamp, e.Action, cell(e.Resource), cell(outcome))
		}
	}
	return b.String(), nil
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// Render renders markdown for a terminal. plain selects the no-colour style
// used when stdout is not a terminal.
func Render(md string, width int, plain bool) (string, error) {
	style := glamour.WithAutoStyle()
	if plain {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("report: renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("report: render: %w", err)
	}
	return out, nil
}
