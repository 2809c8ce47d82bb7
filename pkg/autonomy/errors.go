package autonomy

import "fmt"

// InvariantBreachError reports a §7 category-7 fatal condition: the
// Policy Engine's own runtime assertions tripped, a malformed model
// response could not be parsed into a ProposedAction at all, or the
// episodic memory chain is corrupt. These are bugs, not recoverable
// policy outcomes — the loop aborts the incident rather than continuing
// or escalating.
type InvariantBreachError struct {
	IncidentID string
	Detail     string
}

func (e *InvariantBreachError) Error() string {
	return fmt.Sprintf("autonomy: invariant breach for incident %s: %s", e.IncidentID, e.Detail)
}
