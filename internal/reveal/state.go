package reveal

import "fmt"

// State is a reveal controller state.
type State int

const (
	// Idle means no commitment exists yet.
	Idle State = iota
	// Committing means commitments are being created.
	Committing
	// AwaitingRelease means every commitment exists and the release time
	// has not been confirmed yet.
	AwaitingRelease
	// KeyFetchInFlight means the release key is being fetched.
	KeyFetchInFlight
	// Revealed is terminal and holds the plaintexts.
	Revealed
	// Failed is terminal and holds a Failure.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Committing:
		return "committing"
	case AwaitingRelease:
		return "awaiting_release"
	case KeyFetchInFlight:
		return "key_fetch_in_flight"
	case Revealed:
		return "revealed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Revealed || s == Failed
}
