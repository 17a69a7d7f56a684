package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/overlayforge/orchestrator/internal/events"
	"github.com/overlayforge/orchestrator/internal/job"
)

// Events streams a job's events as server-sent events. The subscription
// is deregistered when the client disconnects, whether or not the job
// ever finishes; a reconnect to an already-finished job gets its
// terminal frame replayed and an immediate close.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	rec, err := h.mgr.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if rec.Status.IsTerminal() {
		writeFrame(w, flusher, events.NewConnected(id))
		writeFrame(w, flusher, terminalFrame(rec))
		writeFrame(w, flusher, events.NewClose())
		return
	}

	sub := h.bus.Subscribe(id)
	defer h.bus.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if !events.StreamNames[ev.Name] {
				continue
			}
			if !writeFrame(w, flusher, ev) {
				return
			}
		}
	}
}

// writeFrame writes one SSE frame. A failed write reports false instead
// of surfacing an error; one dead connection must never affect the rest
// of the fan-out.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, ev events.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// terminalFrame synthesizes the stream frame for a job that finished
// before the client connected.
func terminalFrame(rec *job.Job) events.Event {
	switch rec.Status {
	case job.StatusFailed:
		return events.NewError(rec.Error, "Preview render failed: "+rec.Error)
	case job.StatusCancelled:
		return events.NewCancelled(rec.Progress)
	default:
		exitCode := 0
		if rec.ExitCode != nil {
			exitCode = *rec.ExitCode
		}
		return events.NewComplete(rec.Progress, exitCode, "Preview render completed")
	}
}
