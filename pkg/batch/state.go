package batch

// State is the lifecycle of one document within a run.
type State int

const (
	// Pending documents have not been looked at (or lie below the start
	// index).
	Pending State = iota

	// Skipped documents already had an artifact in skip mode.
	Skipped

	// InFlight documents are being processed.
	InFlight

	// Succeeded documents have a summary artifact.
	Succeeded

	// FailedPermanently documents have a failure-marker artifact, or their
	// artifact could not be written.
	FailedPermanently
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Skipped:
		return "skipped"
	case InFlight:
		return "in_flight"
	case Succeeded:
		return "succeeded"
	case FailedPermanently:
		return "failed_permanently"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Skipped || s == Succeeded || s == FailedPermanently
}
