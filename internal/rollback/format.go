package rollback

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatSummary returns a human-readable rollback report.
func FormatSummary(s Summary) string {
	var b strings.Builder
	verdict := "COMPLETE"
	if !s.Complete() {
		verdict = "PARTIAL"
	}
	fmt.Fprintf(&b, "Rollback %s (run %s)\n", verdict, s.RunID)
	fmt.Fprintf(&b, "\nRestored (%d):\n", len(s.Restored))
	for _, id := range s.Restored {
		fmt.Fprintf(&b, "  [OK]   %s\n", id)
	}
	if len(s.Residuals) > 0 {
		fmt.Fprintf(&b, "\nManual cleanup required (%d):\n", len(s.Residuals))
		for _, r := range s.Residuals {
			fmt.Fprintf(&b, "  [FAIL] %s: %s\n", r.Identity, r.Error)
		}
	}
	return b.String()
}

// FormatSummaryJSON returns the summary as indented JSON.
func FormatSummaryJSON(s Summary) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rollback: json marshal: %w", err)
	}
	return string(data), nil
}
