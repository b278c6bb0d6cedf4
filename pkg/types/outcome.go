package types

// WriteOutcome describes how an idempotent insert-or-verify write resolved.
type WriteOutcome int

const (
	// OutcomeInserted means this call stored the value.
	OutcomeInserted WriteOutcome = iota
	// OutcomeMatched means an equal value was already stored.
	OutcomeMatched
	// OutcomeRaceDiscarded means a concurrent writer committed the key first
	// and this write was dropped.
	OutcomeRaceDiscarded
	// OutcomeConflict means a different value was already stored. It always
	// travels with ErrInvariantViolation.
	OutcomeConflict
)

// String returns the label used in logs and metrics.
func (o WriteOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeMatched:
		return "matched"
	case OutcomeRaceDiscarded:
		return "race_discarded"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Succeeded reports whether the caller should treat the write as done.
func (o WriteOutcome) Succeeded() bool {
	return o != OutcomeConflict
}
