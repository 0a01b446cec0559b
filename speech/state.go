package speech

// State represents the playback state of a controller.
type State int

const (
	// StateIdle indicates no session has been started.
	StateIdle State = iota
	// StateInitializing indicates a session was accepted and the engine
	// is being readied.
	StateInitializing
	// StatePlaying indicates chunks are being spoken.
	StatePlaying
	// StatePaused indicates playback is suspended at an estimated
	// position.
	StatePaused
	// StateStopped indicates the session ended, by completion or by an
	// explicit stop. A stopped controller is immediately reusable.
	StateStopped
	// StateErroring indicates retries were exhausted; no further
	// automatic speech is attempted.
	StateErroring
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateErroring:
		return "erroring"
	default:
		return "unknown"
	}
}

// IsRest reports whether the state accepts a new session.
func (s State) IsRest() bool {
	return s == StateIdle || s == StateStopped || s == StateErroring
}

// IsActive reports whether a session currently owns the controller.
func (s State) IsActive() bool {
	return s == StatePlaying || s == StatePaused || s == StateInitializing
}

// StateMachine validates playback state transitions.
type StateMachine struct {
	current     State
	transitions map[State][]State
}

// NewStateMachine creates a state machine at StateIdle with the valid
// playback transition edges.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[State][]State{
			StateIdle:         {StateInitializing, StateStopped},
			StateInitializing: {StatePlaying, StateStopped, StateErroring},
			StatePlaying:      {StatePaused, StateStopped, StateErroring},
			StatePaused:       {StatePlaying, StateStopped},
			StateStopped:      {StateInitializing},
			StateErroring:     {StateInitializing, StateStopped},
		},
	}
}

// Transition moves to the target state if the edge is valid and reports
// whether it happened.
func (sm *StateMachine) Transition(to State) bool {
	for _, next := range sm.transitions[sm.current] {
		if next == to {
			sm.current = to
			return true
		}
	}
	return false
}

// Current returns the current state.
func (sm *StateMachine) Current() State {
	return sm.current
}
