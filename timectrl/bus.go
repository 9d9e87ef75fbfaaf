package timectrl

import (
	"sort"
)

// Listener receives batches of events delivered at a single time.
type Listener[E any] interface {
	Handle(time int64, events []E) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc[E any] func(time int64, events []E) error

// Handle calls f.
func (f ListenerFunc[E]) Handle(time int64, events []E) error { return f(time, events) }

// Port is the type-erased face of a Bus that the Runner schedules.
type Port interface {
	// NextTime returns the time of the earliest pending event.
	NextTime() (int64, bool)
	// DeliverNext delivers every event pending at the earliest time.
	DeliverNext() error
}

type pending[E any] struct {
	time int64
	seq  uint64
	ev   E
}

// Bus is a time-ordered delay queue that delivers batched events to its
// listeners. Events queued for the same time are delivered in insertion
// order, in a single Handle call per listener.
//
// A Bus is not safe for concurrent use; conversions are single-threaded.
type Bus[E any] struct {
	counter   uint64
	events    []pending[E] // ordered by (time, seq)
	listeners []Listener[E]
}

// NewBus returns an empty bus.
func NewBus[E any]() *Bus[E] {
	return &Bus[E]{}
}

// AddListener registers l. Listeners are called in registration order.
func (b *Bus[E]) AddListener(l Listener[E]) {
	b.listeners = append(b.listeners, l)
}

// Listen registers fn as a listener.
func (b *Bus[E]) Listen(fn func(time int64, events []E) error) {
	b.AddListener(ListenerFunc[E](fn))
}

// Queue schedules ev for delivery at time t.
func (b *Bus[E]) Queue(t int64, ev E) {
	b.counter++
	p := pending[E]{time: t, seq: b.counter, ev: ev}

	// Insert after every event already queued for a time <= t.
	idx := sort.Search(len(b.events), func(i int) bool {
		return b.events[i].time > t
	})
	b.events = append(b.events, pending[E]{})
	copy(b.events[idx+1:], b.events[idx:])
	b.events[idx] = p
}

// QueueAll schedules every event of evs at time t.
func (b *Bus[E]) QueueAll(t int64, evs []E) {
	for _, ev := range evs {
		b.Queue(t, ev)
	}
}

// Len returns the number of pending events.
func (b *Bus[E]) Len() int { return len(b.events) }

// NextTime returns the time of the earliest pending event.
func (b *Bus[E]) NextTime() (int64, bool) {
	if len(b.events) == 0 {
		return 0, false
	}
	return b.events[0].time, true
}

// DeliverNext removes every event pending at the earliest time and hands
// them to the listeners as one batch.
func (b *Bus[E]) DeliverNext() error {
	if len(b.events) == 0 {
		return nil
	}
	t := b.events[0].time
	n := 1
	for n < len(b.events) && b.events[n].time == t {
		n++
	}
	batch := make([]E, n)
	for i := range n {
		batch[i] = b.events[i].ev
	}
	b.events = b.events[n:]

	for _, l := range b.listeners {
		if err := l.Handle(t, batch); err != nil {
			return err
		}
	}
	return nil
}

// FlushTo delivers every event pending at or before t, including events
// queued by listeners during delivery.
func (b *Bus[E]) FlushTo(t int64) error {
	for {
		next, ok := b.NextTime()
		if !ok || next > t {
			return nil
		}
		if err := b.DeliverNext(); err != nil {
			return err
		}
	}
}

// RetractIf removes every pending event for which match returns true and
// returns how many were removed. Retraction must happen before the
// event's delivery time.
func (b *Bus[E]) RetractIf(match func(time int64, ev E) bool) int {
	kept := b.events[:0]
	removed := 0
	for _, p := range b.events {
		if match(p.time, p.ev) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	clear(b.events[len(kept):])
	b.events = kept
	return removed
}

// Reset drops every pending event. Listeners are kept.
func (b *Bus[E]) Reset() {
	b.events = nil
}

var _ Port = (*Bus[struct{}])(nil)
