// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// JobID creates a tag for wait-job identifiers.
func JobID(id string) slog.Attr {
	return slog.String("job-id", id)
}

// TaskID creates a tag for task identifiers.
func TaskID(id string) slog.Attr {
	return slog.String("task-id", id)
}

// Display creates a tag for display strings (e.g. ":101").
func Display(d string) slog.Attr {
	return slog.String("display", d)
}

// Target creates a tag for a wait job's capture target.
func Target(t string) slog.Attr {
	return slog.String("target", t)
}

// Verdict creates a tag for a vision verdict label.
func Verdict(v string) slog.Attr {
	return slog.String("verdict", v)
}

// Backend creates a tag for the vision backend name.
func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

// Status creates a tag for lifecycle statuses.
func Status(s string) slog.Attr {
	return slog.String("status", s)
}

// Reason creates a tag for cancellation / stuck reasons.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}

// Ordinal creates a tag for plan-item ordinals.
func Ordinal(n int) slog.Attr {
	return slog.Int("ordinal", n)
}

// Interval creates a tag for poll intervals.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Elapsed creates a tag for elapsed durations.
func Elapsed(d time.Duration) slog.Attr {
	return slog.Duration("elapsed", d)
}

// Count creates a tag for generic counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Path creates a tag for filesystem paths.
func Path(p string) slog.Attr {
	return slog.String("path", p)
}

// DiffRatio creates a tag for pixel-diff ratios.
func DiffRatio(r float64) slog.Attr {
	return slog.Float64("diff-ratio", r)
}

// Port creates a tag for network ports.
func Port(p int) slog.Attr {
	return slog.Int("port", p)
}
