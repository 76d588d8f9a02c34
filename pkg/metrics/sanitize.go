package metrics

import (
	"regexp"
)

// MaxLabelLength caps Prometheus label values to keep cardinality and
// storage in check.
const MaxLabelLength = 128

// labelSanitizeRegex matches characters that are NOT allowed in label
// values: anything outside alphanumeric, underscore, hyphen, dot.
var labelSanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)

// SanitizeLabel makes a string safe to use as a Prometheus label
// value: invalid characters become underscores and the result is
// truncated to MaxLabelLength. Empty input maps to "unknown".
func SanitizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	value = labelSanitizeRegex.ReplaceAllString(value, "_")
	if len(value) > MaxLabelLength {
		value = value[:MaxLabelLength]
	}
	return value
}
