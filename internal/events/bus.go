package events

import (
	"sync"
	"time"
)

// subscriber channels are buffered; a subscriber that falls this far
// behind starts losing frames rather than blocking the publisher.
const subscriberBuffer = 64

// DefaultCloseGrace is how long the bus waits after a terminal event
// before closing a job's stream, so the final frame reaches clients.
const DefaultCloseGrace = 500 * time.Millisecond

// Subscription is one registered listener on a job's event stream.
// Unsubscribing (or the topic closing) closes the Events channel.
type Subscription struct {
	jobID  string
	ch     chan Event
	closed bool // guarded by the bus mutex
}

func (s *Subscription) JobID() string {
	return s.jobID
}

func (s *Subscription) Events() <-chan Event {
	return s.ch
}

type topic struct {
	subs    []*Subscription
	closing bool
}

// Bus fans each job's events out to its subscribers. Topics are keyed by
// job ID and fully isolated from one another; delivery to a subscriber is
// in publish order.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]*topic
	closeGrace time.Duration
}

func NewBus() *Bus {
	return NewBusWithGrace(DefaultCloseGrace)
}

func NewBusWithGrace(closeGrace time.Duration) *Bus {
	return &Bus{topics: make(map[string]*topic), closeGrace: closeGrace}
}

// Subscribe registers a listener for the job and immediately delivers a
// connected event to it, independent of job activity.
func (b *Bus) Subscribe(jobID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{}
		b.topics[jobID] = t
	}

	sub := &Subscription{jobID: jobID, ch: make(chan Event, subscriberBuffer)}
	t.subs = append(t.subs, sub)
	sub.ch <- NewConnected(jobID)

	return sub
}

// Unsubscribe deregisters the listener and closes its channel. It is
// idempotent and must be called when a client disconnects, whether or not
// the job ever reached a terminal state.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	t, ok := b.topics[sub.jobID]
	if !ok {
		return
	}
	for i, s := range t.subs {
		if s == sub {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			break
		}
	}
	if len(t.subs) == 0 && !t.closing {
		delete(b.topics, sub.jobID)
	}
}

// Publish delivers the event to every current subscriber of the job, in
// registration order, before returning. A subscriber whose buffer is full
// loses the frame; the publish itself never fails or blocks.
//
// Publishing a complete or error event also schedules the end of the
// stream: after the grace delay every subscriber receives a close event
// and its channel is closed.
func (b *Bus) Publish(jobID string, ev Event) {
	b.mu.Lock()

	t, ok := b.topics[jobID]
	if ok {
		for _, sub := range t.subs {
			if sub.closed {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}

	terminal := ev.Name == Complete || ev.Name == Error
	if terminal && ok && !t.closing {
		t.closing = true
		go func() {
			time.Sleep(b.closeGrace)
			b.Publish(jobID, NewClose())
			b.Drop(jobID)
		}()
	}
	b.mu.Unlock()
}

// Drop closes every subscription for the job and removes the topic
// immediately, with no grace delay. Used by force-delete.
func (b *Bus) Drop(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	for _, sub := range t.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(b.topics, jobID)
}

// SubscriberCount reports the live subscribers for a job.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return 0
	}
	return len(t.subs)
}
