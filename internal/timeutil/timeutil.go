// Package timeutil handles the backend's timestamp dialect: UTC with a
// six-digit fractional second and a literal Z suffix. Stamps arrive with
// anything from zero to six fractional digits, so parsing is more lenient
// than formatting.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Stamp is the canonical layout the backend expects on writes.
const Stamp = "2006-01-02T15:04:05.000000Z"

// pathSafeStamp is compact enough for filenames: no separators that upset
// filesystems, still sorts chronologically.
const pathSafeStamp = "20060102T150405"

// Parse decodes a backend timestamp. Stamps always end in Z but the backend
// is inconsistent about fractional digits.
func Parse(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("timeutil: empty timestamp")
	}
	parsed, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: parse %q: %w", value, err)
	}
	return parsed.UTC(), nil
}

// Format encodes a time in the backend's canonical layout.
func Format(t time.Time) string {
	return t.UTC().Format(Stamp)
}

// Now returns the current UTC time formatted for the backend.
func Now() string {
	return Format(time.Now())
}

// PathSafe renders a timestamp suitable for embedding in file names.
func PathSafe(t time.Time) string {
	return t.UTC().Format(pathSafeStamp)
}
