package hub

import (
	"github.com/andresmarpz/sandcastle-sub001/internal/event"
)

// Subscription is one attached consumer of a session's event stream. The
// first event delivered is always a synthesized initial-state; everything
// after is the live tail in emission order.
type Subscription struct {
	ch     chan event.Event
	closed bool
}

func newSubscription(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Subscription{ch: make(chan event.Event, buffer)}
}

// Events yields broadcast events until the subscription is detached. The
// channel is closed on detach; consuming it never blocks the hub.
func (s *Subscription) Events() <-chan event.Event {
	return s.ch
}

// closeLocked is called with the owning session's lock held.
func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// offerLocked attempts a non-blocking delivery. It reports false when the
// subscriber's buffer is full, in which case the caller drops the
// subscription.
func (s *Subscription) offerLocked(evt event.Event) bool {
	if s.closed {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// replayBuffer is the turn-scoped catch-up buffer: bounded, oldest-evicted,
// cleared at every turn boundary.
type replayBuffer struct {
	cap    int
	events []event.Event
}

func newReplayBuffer(cap int) *replayBuffer {
	if cap <= 0 {
		cap = defaultBufferCap
	}
	return &replayBuffer{cap: cap}
}

func (b *replayBuffer) append(evt event.Event) {
	b.events = append(b.events, evt)
	if len(b.events) > b.cap {
		// Shift rather than re-slice so the backing array is reusable and
		// old events become collectable.
		copy(b.events, b.events[1:])
		b.events = b.events[:b.cap]
	}
}

func (b *replayBuffer) snapshot() []event.Event {
	if len(b.events) == 0 {
		return nil
	}
	out := make([]event.Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *replayBuffer) reset() {
	b.events = b.events[:0]
}
