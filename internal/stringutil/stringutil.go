// Package stringutil provides small string helpers shared across packages.
package stringutil

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// FormatDuration renders a duration the way prompts and journal messages
// expect: seconds under a minute, fractional minutes under an hour, then
// fractional hours.
func FormatDuration(d time.Duration) string {
	s := d.Seconds()
	switch {
	case s < 60:
		return fmt.Sprintf("%.0fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fmin", s/60)
	default:
		return fmt.Sprintf("%.1fh", s/3600)
	}
}

// FormatAgo renders how long ago a timestamp was relative to now.
func FormatAgo(t, now time.Time) string {
	return FormatDuration(now.Sub(t)) + " ago"
}

// Truncate shortens s to at most n bytes, backing up to a rune boundary so
// the result stays valid UTF-8.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
