package core

// VerdictLabel is the ordered outcome of one vision round-trip:
// resolved > partial > watching.
type VerdictLabel int

const (
	VerdictWatching VerdictLabel = iota
	VerdictPartial
	VerdictResolved
)

func (v VerdictLabel) String() string {
	switch v {
	case VerdictResolved:
		return "resolved"
	case VerdictPartial:
		return "partial"
	default:
		return "watching"
	}
}
