package domain

import (
	"strings"
	"time"
)

// FormatLogLine renders one deployment log entry. Multi-line messages keep a single timestamp.
func FormatLogLine(at time.Time, message string) string {
	message = strings.TrimRight(message, "\n")
	return "[" + at.UTC().Format(time.RFC3339) + "] " + message + "\n"
}
