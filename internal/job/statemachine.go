package job

import "fmt"

// InvalidTransitionError is returned when a status change violates the
// transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// transitions is the full table of legal status changes. A job must be
// actively running to finish: pending cannot pause and paused cannot
// complete. Terminal states accept nothing.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusRunning:   true,
		StatusPaused:    true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusPaused: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Transition mutates the job's status after validating it against the
// table. It is the only sanctioned way to change Status.
func (j *Job) Transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return InvalidTransitionError{From: j.Status, To: to}
	}
	j.Status = to
	return nil
}
