package waitengine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vigil-run/vigil/internal/core"
	"github.com/vigil-run/vigil/internal/stringutil"
)

// Verdict is the outcome of one vision round-trip.
type Verdict struct {
	Label       core.VerdictLabel
	Description string
	At          time.Time
}

const (
	finalJSONMarker = "FINAL_JSON:"
	// rawDescriptionLimit bounds the description when a reply carries no
	// recognizable verdict at all.
	rawDescriptionLimit = 500
)

type finalJSON struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Evidence   []any   `json:"evidence"`
	Summary    string  `json:"summary"`
}

var linePrefixRe = regexp.MustCompile(`(?i)^(YES|PARTIAL|NO)\b:?\s*(.*)$`)

// ParseVerdict turns a model's free-form reply into a Verdict. Resolution
// order: a FINAL_JSON fragment, then YES/PARTIAL/NO line prefixes, then
// watching with the truncated raw text. It never fails; malformed input is
// a watching verdict.
func ParseVerdict(raw string, resolveConfidence float64, now time.Time) Verdict {
	if v, ok := parseFinalJSON(raw, resolveConfidence, now); ok {
		return v
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := linePrefixRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(m[2])
		if desc == "" {
			desc = line
		}
		switch strings.ToUpper(m[1]) {
		case "YES":
			return Verdict{Label: core.VerdictResolved, Description: desc, At: now}
		case "PARTIAL":
			return Verdict{Label: core.VerdictPartial, Description: desc, At: now}
		case "NO":
			return Verdict{Label: core.VerdictWatching, Description: desc, At: now}
		}
	}
	return Verdict{
		Label:       core.VerdictWatching,
		Description: stringutil.Truncate(strings.TrimSpace(raw), rawDescriptionLimit),
		At:          now,
	}
}

func parseFinalJSON(raw string, resolveConfidence float64, now time.Time) (Verdict, bool) {
	idx := strings.LastIndex(raw, finalJSONMarker)
	if idx < 0 {
		return Verdict{}, false
	}
	fragment := extractJSONObject(raw[idx+len(finalJSONMarker):])
	if fragment == "" {
		return Verdict{}, false
	}
	var fj finalJSON
	if err := json.Unmarshal([]byte(fragment), &fj); err != nil {
		return Verdict{}, false
	}

	var label core.VerdictLabel
	switch strings.ToLower(strings.TrimSpace(fj.Decision)) {
	case "resolved":
		label = core.VerdictResolved
	case "partial":
		label = core.VerdictPartial
	case "watching":
		label = core.VerdictWatching
	default:
		return Verdict{}, false
	}

	evidence := make([]string, 0, len(fj.Evidence))
	for _, e := range fj.Evidence {
		s := strings.TrimSpace(fmt.Sprintf("%v", e))
		if s != "" {
			evidence = append(evidence, s)
		}
	}

	// Models often answer "watching" with high confidence when they have in
	// fact seen movement; confident, evidenced watching counts as partial.
	if label == core.VerdictWatching && fj.Confidence >= resolveConfidence && len(evidence) > 0 {
		label = core.VerdictPartial
	}

	desc := strings.TrimSpace(fj.Summary)
	if len(evidence) > 0 {
		desc = fmt.Sprintf("%s (evidence: %s)", desc, strings.Join(evidence, "; "))
	}
	desc = fmt.Sprintf("%s [confidence %.2f]", strings.TrimSpace(desc), fj.Confidence)

	return Verdict{Label: label, Description: desc, At: now}, true
}

// extractJSONObject returns the first balanced {...} fragment of s,
// respecting string literals and escapes.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
