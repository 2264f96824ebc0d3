package metrics

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
)

const namePrefix = "distroconv_"

// FormatHuman renders samples as an aligned table, labels in exposition
// syntax. Integral values print without decimals.
func FormatHuman(samples []Metric) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tVALUE")
	for _, m := range samples {
		fmt.Fprintf(w, "%s%s\t%s\n", strings.TrimPrefix(m.Name, namePrefix), labelString(m.Labels), formatValue(m.Value))
	}
	w.Flush()
	return b.String()
}

func labelString(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
