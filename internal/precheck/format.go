package precheck

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatRunResult lists every check, then the failures again under the
// verdict so an inhibited run ends with the reasons.
func FormatRunResult(result RunResult) string {
	var b strings.Builder
	b.WriteString("Conversion Precheck:\n\n")
	passed := 0
	for _, r := range result.Results {
		tag := "[FAIL]"
		if r.Passed {
			tag = "[PASS]"
			passed++
		}
		fmt.Fprintf(&b, "  %s %s: %s\n", tag, r.Name, r.Message)
	}

	if result.AllPassed {
		fmt.Fprintf(&b, "\nResult: READY, %d/%d checks passed (%s)\n", passed, len(result.Results), result.Duration)
		return b.String()
	}
	fmt.Fprintf(&b, "\nResult: INHIBITED, %d/%d checks passed (%s)\n", passed, len(result.Results), result.Duration)
	for _, r := range result.Failed() {
		fmt.Fprintf(&b, "  - %s\n", r.Name)
	}
	return b.String()
}

func FormatRunResultJSON(result RunResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("precheck: encode result: %w", err)
	}
	return string(data), nil
}
