package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationPattern matches an optional "<digits>h" followed by an optional
// "<digits>m". It rejects ambiguous forms such as "2m30m" (repeated units).
// Both groups are optional, so it also matches ""; ParseDuration rejects a
// match in which neither group is present.
var durationPattern = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?$`)

// ParseDuration parses a duration string of the form "30m", "1h", or
// "2h30m". It rejects the empty string and any string that doesn't fully
// match the grammar (so "2m30m", "1h1h", and "30" are all invalid).
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("parse duration %q: empty string", s)
	}

	m := durationPattern.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, fmt.Errorf("parse duration %q: must match <digits>h<digits>m, at least one present", s)
	}

	var total time.Duration
	if m[1] != "" {
		h, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
		total += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		minutes, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
		total += time.Duration(minutes) * time.Minute
	}
	return total, nil
}

// FormatDuration renders d back into the "XhYm" grammar ParseDuration
// accepts, omitting whichever unit is zero. FormatDuration(0) returns "0m".
func FormatDuration(d time.Duration) string {
	hours := d / time.Hour
	minutes := (d - hours*time.Hour) / time.Minute

	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
