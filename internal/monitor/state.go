package monitor

import (
	"fmt"
	"time"
)

// State is a node's reachability state.
type State string

const (
	StateUp      State = "UP"
	StatePending State = "PENDING"
	StateDown    State = "DOWN"
	StatePaused  State = "PAUSED"
)

func (s State) String() string {
	return string(s)
}

// nodeState is the per-node reachability bookkeeping. FailureCount counts
// retry failures since PENDING was entered; the failure that entered PENDING
// is not a retry, so with max_retries = N the node survives N retries and
// goes DOWN on retry N+1.
type nodeState struct {
	State          State
	FailureCount   int
	FirstFailureAt time.Time
}

// transition applies one aggregated probe outcome and reports whether the
// node entered DOWN on this call. It is pure; the manager serializes calls
// per node. A state outside the four known values means the state map is
// corrupted and stops the control loop.
func transition(st nodeState, success bool, maxRetries int, now time.Time) (nodeState, bool, error) {
	switch st.State {
	case StateUp, StatePending, StateDown, StatePaused:
	default:
		return st, false, fmt.Errorf("invalid reachability state %q", st.State)
	}

	if success {
		st.State = StateUp
		st.FailureCount = 0
		st.FirstFailureAt = time.Time{}
		return st, false, nil
	}

	switch st.State {
	case StateUp, StatePaused:
		st.State = StatePending
		st.FailureCount = 0
		st.FirstFailureAt = now
	case StatePending:
		st.FailureCount++
		if st.FailureCount > maxRetries {
			st.State = StateDown
			return st, true, nil
		}
	case StateDown:
		// Stays DOWN until a probe succeeds.
	}
	return st, false, nil
}
