package propagation

import "fmt"

// InvalidElementsError reports a malformed or inconsistent two-line element
// set. A satellite whose elements fail to compile is skipped entirely; it
// never enters the trackable set.
type InvalidElementsError struct {
	Reason string
}

func (e *InvalidElementsError) Error() string {
	return "invalid orbital elements: " + e.Reason
}

// Kind classifies a propagation failure.
type Kind string

const (
	// KindDecayed means the model produced a state below a survivable
	// orbit — the satellite has decayed (or the elements are far past
	// their validity window).
	KindDecayed Kind = "decayed"
	// KindNumerical means the model output was not a usable number
	// (NaN/Inf or a wildly implausible magnitude).
	KindNumerical Kind = "numerical"
)

// PropagationError reports that the propagator could not produce a valid
// position for otherwise-valid elements at a given instant. Callers treat it
// as "no position available now", never as fatal.
type PropagationError struct {
	Kind    Kind
	NORADID int
	Detail  string
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("propagation failed for NORAD %d (%s): %s", e.NORADID, e.Kind, e.Detail)
}
