package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/overlayforge/orchestrator/internal/events"
)

// Frame is one WebSocket message on the event stream: the same events
// the SSE endpoint delivers, wrapped with their name.
type Frame struct {
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}

// EventsWS mirrors the SSE stream over a WebSocket for clients that
// prefer a bidirectional transport.
func (h *Handlers) EventsWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	rec, err := h.mgr.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("WebSocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	ctx := r.Context()

	if rec.Status.IsTerminal() {
		wsjson.Write(ctx, conn, Frame{Event: events.Connected, Data: events.NewConnected(id)})
		term := terminalFrame(rec)
		wsjson.Write(ctx, conn, Frame{Event: term.Name, Data: term})
		wsjson.Write(ctx, conn, Frame{Event: events.Close, Data: events.NewClose()})
		return
	}

	sub := h.bus.Subscribe(id)
	defer h.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if !events.StreamNames[ev.Name] {
				continue
			}
			if err := wsjson.Write(ctx, conn, Frame{Event: ev.Name, Data: ev}); err != nil {
				return
			}
		}
	}
}
