package supervisor

import "fmt"

// State is the supervisor's position in the invocation state machine.
type State int

const (
	// StateIdle means no invocation is running.
	StateIdle State = iota

	// StateWorkerStarting means a new worker is being spawned.
	StateWorkerStarting

	// StateAwaitingResponse means the request has been handed off and the
	// supervisor is reading worker output.
	StateAwaitingResponse

	// StateCompleted means the sentinel was seen before the deadline.
	StateCompleted

	// StateTimedOut means the deadline passed first.
	StateTimedOut

	// StateCrashed means the worker's output stream closed first.
	StateCrashed

	// StateSpawnFailed means no worker could be started.
	StateSpawnFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWorkerStarting:
		return "worker_starting"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCrashed:
		return "crashed"
	case StateSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateSpawnFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown supervisor state %q", text)
}
