package engine

import "time"

// State is a step of the engine's startup state machine.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateAuthenticating State = "authenticating"
	StateSyncing        State = "syncing"
	StateDisabled       State = "disabled"
)

// Transition is one recorded state change.
type Transition struct {
	Seq    int64     `json:"seq"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// allowed lists the legal transitions. Disabled and Syncing are terminal
// for one engine lifetime.
var allowed = map[State][]State{
	StateUninitialized:  {StateAuthenticating, StateDisabled},
	StateAuthenticating: {StateSyncing, StateDisabled},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
