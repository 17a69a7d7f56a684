package events

import (
	"testing"
	"time"
)

// drain collects everything currently buffered on the subscription.
func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBus_ConnectedOnSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer bus.Unsubscribe(sub)

	select {
	case ev := <-sub.Events():
		if ev.Name != Connected {
			t.Errorf("expected connected, got %s", ev.Name)
		}
		if ev.JobID != "job-1" {
			t.Errorf("expected job-1, got %s", ev.JobID)
		}
	default:
		t.Fatal("expected an immediate connected event")
	}
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	defer bus.Unsubscribe(sub)
	drain(sub) // connected

	bus.Publish("job-1", NewLog("first"))
	bus.Publish("job-1", NewProgress(10, "Rendering: 10%"))
	bus.Publish("job-1", NewLog("second"))

	got := drain(sub)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Message != "first" || got[1].Name != Progress || got[2].Message != "second" {
		t.Errorf("events out of order: %+v", got)
	}
}

func TestBus_JobIsolation(t *testing.T) {
	bus := NewBus()
	subA := bus.Subscribe("job-a")
	subB := bus.Subscribe("job-b")
	defer bus.Unsubscribe(subA)
	defer bus.Unsubscribe(subB)
	drain(subA)
	drain(subB)

	bus.Publish("job-a", NewProgress(33, "Rendering: 33%"))
	bus.Publish("job-b", NewProgress(66, "Rendering: 66%"))

	gotA := drain(subA)
	gotB := drain(subB)

	if len(gotA) != 1 || *gotA[0].Progress != 33 {
		t.Errorf("job-a subscriber saw wrong events: %+v", gotA)
	}
	if len(gotB) != 1 || *gotB[0].Progress != 66 {
		t.Errorf("job-b subscriber saw wrong events: %+v", gotB)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	drain(sub)

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub) // idempotent

	if n := bus.SubscriberCount("job-1"); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}

	// The channel must be closed so a streaming loop terminates.
	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after unsubscribe")
	}
}

func TestBus_DisconnectDoesNotLeakAcrossReconnects(t *testing.T) {
	bus := NewBus()
	for i := 0; i < 50; i++ {
		sub := bus.Subscribe("job-1")
		bus.Unsubscribe(sub)
	}
	if n := bus.SubscriberCount("job-1"); n != 0 {
		t.Errorf("expected 0 subscribers after churn, got %d", n)
	}
}

func TestBus_TerminalEventClosesStream(t *testing.T) {
	bus := NewBusWithGrace(10 * time.Millisecond)
	sub := bus.Subscribe("job-1")

	bus.Publish("job-1", NewComplete(100, 0, "Preview render completed"))

	var got []Event
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// channel closed: verify exactly one close at the end
				var closes int
				for _, e := range got {
					if e.Name == Close {
						closes++
					}
				}
				if closes != 1 {
					t.Fatalf("expected exactly one close event, got %d (%+v)", closes, got)
				}
				if got[len(got)-1].Name != Close {
					t.Fatalf("expected close to be the final event, got %s", got[len(got)-1].Name)
				}
				return
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("stream never closed after terminal event")
		}
	}
}

func TestBus_ErrorEventClosesStream(t *testing.T) {
	bus := NewBusWithGrace(10 * time.Millisecond)
	sub := bus.Subscribe("job-1")
	drain(sub)

	bus.Publish("job-1", NewError("boom", "Preview render failed: boom"))

	deadline := time.After(time.Second)
	sawClose := false
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if !sawClose {
					t.Fatal("channel closed without a close event")
				}
				return
			}
			if sawClose {
				t.Fatalf("event %s delivered after close", ev.Name)
			}
			if ev.Name == Close {
				sawClose = true
			}
		case <-deadline:
			t.Fatal("stream never closed after error event")
		}
	}
}

func TestBus_DropClosesImmediately(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")
	drain(sub)

	bus.Drop("job-1")

	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after drop")
	}
	if n := bus.SubscriberCount("job-1"); n != 0 {
		t.Errorf("expected topic gone, got %d subscribers", n)
	}
}
