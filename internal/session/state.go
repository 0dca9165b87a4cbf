// Package session implements the event-dispatch core: correlation tracking,
// result accumulation, lifecycle state, and the session facade.
package session

import "fmt"

// State is the session lifecycle state. Transitions are driven exclusively by
// lifecycle events observed by the dispatcher: NEW → STARTING → STARTED, then
// CONNECTION_UP ⇄ CONNECTION_DOWN while started, ending in TERMINATED.
// STARTUP_FAILURE is an absorbing state reachable only from STARTING.
type State int32

const (
	// StateNew is the initial state before Start is called.
	StateNew State = iota
	// StateStarting means startup is in flight.
	StateStarting
	// StateStarted means the session completed startup.
	StateStarted
	// StateStartupFailure means startup failed; the session is unusable.
	StateStartupFailure
	// StateConnectionUp means the daemon link is healthy.
	StateConnectionUp
	// StateConnectionDown means the daemon link dropped; recovery is possible.
	StateConnectionDown
	// StateTerminated means the session ended.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateStartupFailure:
		return "STARTUP_FAILURE"
	case StateConnectionUp:
		return "CONNECTION_UP"
	case StateConnectionDown:
		return "CONNECTION_DOWN"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// Usable reports whether requests and subscriptions may be issued.
func (s State) Usable() bool {
	switch s {
	case StateStarted, StateConnectionUp, StateConnectionDown:
		return true
	default:
		return false
	}
}

// lifecycleStates maps the daemon's session-status vocabulary onto states.
// Unknown status names are logged and ignored by the dispatcher.
var lifecycleStates = map[string]State{
	"SessionStarted":        StateStarted,
	"SessionStartupFailure": StateStartupFailure,
	"SessionConnectionUp":   StateConnectionUp,
	"SessionConnectionDown": StateConnectionDown,
	"SessionTerminated":     StateTerminated,
}
