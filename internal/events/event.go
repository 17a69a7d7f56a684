package events

import "time"

// Event names. The connected/log/progress/warning/complete/error/close set
// is what goes over the wire to stream subscribers; transition and the
// status-named events are internal lifecycle notifications.
const (
	Connected  = "connected"
	Log        = "log"
	Progress   = "progress"
	Warning    = "warning"
	Complete   = "complete"
	Error      = "error"
	Close      = "close"
	Transition = "transition"
)

// StreamNames is the set of event names relayed to HTTP stream clients.
var StreamNames = map[string]bool{
	Connected: true,
	Log:       true,
	Progress:  true,
	Warning:   true,
	Complete:  true,
	Error:     true,
	Close:     true,
}

// Event is one frame of a job's event stream. Name selects which optional
// fields are populated; the zero fields are omitted from the JSON payload.
type Event struct {
	Name      string    `json:"-"`
	JobID     string    `json:"jobId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Message   string    `json:"message,omitempty"`
	Progress  *int      `json:"progress,omitempty"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Error     string    `json:"error,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
}

func NewConnected(jobID string) Event {
	return Event{Name: Connected, JobID: jobID}
}

func NewLog(message string) Event {
	return Event{Name: Log, Timestamp: time.Now().UTC(), Message: message}
}

func NewProgress(pct int, message string) Event {
	return Event{Name: Progress, Timestamp: time.Now().UTC(), Message: message, Progress: &pct}
}

func NewWarning(message string) Event {
	return Event{Name: Warning, Timestamp: time.Now().UTC(), Message: message}
}

func NewComplete(pct, exitCode int, message string) Event {
	return Event{Name: Complete, Timestamp: time.Now().UTC(), Message: message, Progress: &pct, ExitCode: &exitCode}
}

// NewCancelled is the terminal frame for a cancelled job: a complete
// event that keeps the last reported progress and carries no exit code.
func NewCancelled(pct int) Event {
	return Event{Name: Complete, Timestamp: time.Now().UTC(), Message: "Preview cancelled", Progress: &pct}
}

func NewError(rawErr, message string) Event {
	return Event{Name: Error, Timestamp: time.Now().UTC(), Message: message, Error: rawErr}
}

func NewClose() Event {
	return Event{Name: Close}
}

func NewTransition(from, to string) Event {
	return Event{Name: Transition, Timestamp: time.Now().UTC(), From: from, To: to}
}

func NewStatus(status string) Event {
	return Event{Name: status, Timestamp: time.Now().UTC()}
}
