package queue

import "fmt"

// State is the lifecycle state of a refresh run.
type State string

const (
	StateIdle       State = "idle"
	StatePreparing  State = "preparing"
	StateProcessing State = "processing"
	StateFinished   State = "finished"
)

var transitions = map[State][]State{
	StateIdle:       {StatePreparing},
	StatePreparing:  {StateProcessing, StateFinished},
	StateProcessing: {StateProcessing, StateFinished},
	StateFinished:   {StateIdle},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a run may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a state change is not allowed.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid refresh state transition %s -> %s", e.From, e.To)
}
