package core

import "strings"

// normalize lowercases, trims, and maps the "canceled" spelling to the
// canonical "cancelled" before any enum lookup.
func normalize(v string) string {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "canceled" {
		s = "cancelled"
	}
	return s
}

// NormalizeStatusToken exposes the alias mapping for callers that pass raw
// tokens through (e.g. list filters with the special value "all").
func NormalizeStatusToken(v string) string {
	return normalize(v)
}

// TargetKind is the kind half of a wait target ("screen" or "window").
type TargetKind string

const (
	TargetScreen TargetKind = "screen"
	TargetWindow TargetKind = "window"
)

// ParseTarget splits a "<kind>:<id>" target string. A bare "screen" target
// defaults its id to "full".
func ParseTarget(target string) (TargetKind, string, bool) {
	kind, id, found := strings.Cut(target, ":")
	switch TargetKind(strings.ToLower(strings.TrimSpace(kind))) {
	case TargetScreen:
		if !found || id == "" {
			id = "full"
		}
		return TargetScreen, id, true
	case TargetWindow:
		if !found || strings.TrimSpace(id) == "" {
			return TargetWindow, "", false
		}
		return TargetWindow, strings.TrimSpace(id), true
	default:
		return "", "", false
	}
}
