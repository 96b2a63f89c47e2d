package models

// Status is a ticket's position in its lifecycle.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusServing   Status = "serving"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// transitions is the full edge set of the ticket state machine. Terminal
// states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusWaiting: {StatusServing, StatusCancelled},
	StatusServing: {StatusCompleted, StatusSkipped},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusServing, StatusCompleted, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// CanTransitionTo reports whether the state machine permits s -> to.
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}
