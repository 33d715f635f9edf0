package metrics

import "strings"

// label keeps empty or blank values from producing an empty label series.
func label(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unknown"
	}
	return v
}
