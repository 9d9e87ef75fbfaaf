package trace

import (
	"strconv"

	"github.com/signalsfoundry/contact-traces/timectrl"
)

// WriteObserver is notified of events committed to a trace.
type WriteObserver interface {
	EventsWritten(traceType string, n int)
}

// Writer appends to a trace under construction. SetInitState must be called
// exactly once before any event; events must be appended in non-decreasing
// time order. Queue defers ordering decisions until Flush.
type Writer[E, S any] struct {
	store    *Store
	trace    *Trace[E, S]
	ref      Updater[E, S]
	queue    *timectrl.Bus[E]
	observer WriteObserver

	initSet      bool
	lastTime     int64
	snapInterval int64
	nextSnap     int64
	closed       bool
}

func newWriter[E, S any](store *Store, name string, typ Type[E, S]) *Writer[E, S] {
	w := &Writer[E, S]{
		store: store,
		trace: &Trace[E, S]{name: name, typ: typ, props: Properties{}},
		ref:   typ.NewUpdater(),
		queue: timectrl.NewBus[E](),
	}
	if store != nil {
		w.observer = store.observer
	}
	w.queue.Listen(func(t int64, evs []E) error {
		return w.AppendAll(t, evs)
	})
	return w
}

// Name returns the trace name.
func (w *Writer[E, S]) Name() string { return w.trace.name }

// SetInitState records the state at time t. It must be called once,
// before any event.
func (w *Writer[E, S]) SetInitState(t int64, states []S) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.initSet {
		return ErrInitStateSet
	}
	w.initSet = true
	w.lastTime = t
	w.trace.minTime = t
	w.trace.maxTime = max(w.trace.maxTime, t)
	w.ref.SetState(states)
	w.trace.snapshots = []Snapshot[S]{{Time: t, States: w.ref.States()}}
	if w.snapInterval > 0 {
		w.nextSnap = t + w.snapInterval
	}
	return nil
}

// InitStateSet reports whether SetInitState has been called.
func (w *Writer[E, S]) InitStateSet() bool { return w.initSet }

// Append writes ev at time t.
func (w *Writer[E, S]) Append(t int64, ev E) error {
	if w.closed {
		return ErrWriterClosed
	}
	if !w.initSet {
		return ErrInitStateMissing
	}
	if t < w.lastTime {
		return ErrOutOfOrder
	}
	if w.snapInterval > 0 {
		for t > w.nextSnap {
			w.trace.snapshots = append(w.trace.snapshots, Snapshot[S]{
				Time:       w.nextSnap,
				EventIndex: len(w.trace.events),
				States:     w.ref.States(),
			})
			w.nextSnap += w.snapInterval
		}
	}
	w.lastTime = t
	w.trace.events = append(w.trace.events, Timed[E]{Time: t, Event: ev})
	w.ref.Apply(t, ev)
	if w.observer != nil {
		w.observer.EventsWritten(w.trace.typ.Name, 1)
	}
	return nil
}

// AppendAll writes every event of evs at time t.
func (w *Writer[E, S]) AppendAll(t int64, evs []E) error {
	for _, ev := range evs {
		if err := w.Append(t, ev); err != nil {
			return err
		}
	}
	return nil
}

// Queue schedules ev at time t. Queued events are committed by Flush in
// time order, then insertion order.
func (w *Writer[E, S]) Queue(t int64, ev E) {
	w.queue.Queue(t, ev)
}

// Flush commits every queued event stamped at or before upTo.
func (w *Writer[E, S]) Flush(upTo int64) error {
	return w.queue.FlushTo(upTo)
}

// FlushAll commits every queued event.
func (w *Writer[E, S]) FlushAll() error {
	for w.queue.Len() > 0 {
		if err := w.queue.DeliverNext(); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of queued events.
func (w *Writer[E, S]) Pending() int { return w.queue.Len() }

// SetProperty sets a trace property.
func (w *Writer[E, S]) SetProperty(key, value string) {
	w.trace.props[key] = value
	if key == PropSnapshotInterval {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 && !w.initSet {
			w.snapInterval = n
		}
	}
}

// SetPropertyInt sets an integer trace property.
func (w *Writer[E, S]) SetPropertyInt(key string, value int64) {
	w.SetProperty(key, strconv.FormatInt(value, 10))
}

// SetProperties copies every property of props.
func (w *Writer[E, S]) SetProperties(props Properties) {
	for k, v := range props {
		w.SetProperty(k, v)
	}
}

// SetMaxTime extends the trace's time bound.
func (w *Writer[E, S]) SetMaxTime(t int64) {
	w.trace.maxTime = max(w.trace.maxTime, t)
}

// ReferenceState returns the live state after every committed event.
func (w *Writer[E, S]) ReferenceState() []S { return w.ref.States() }

// LastTime returns the time of the last committed event or init state.
func (w *Writer[E, S]) LastTime() int64 { return w.lastTime }

// Close commits queued events and hands the trace to the store.
func (w *Writer[E, S]) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.FlushAll(); err != nil {
		return err
	}
	if !w.initSet {
		return ErrInitStateMissing
	}
	w.closed = true
	w.trace.maxTime = max(w.trace.maxTime, w.lastTime)
	if w.store == nil {
		return nil
	}
	return commit(w.store, w.trace)
}

// Trace returns the trace being written. It is complete only after Close.
func (w *Writer[E, S]) Trace() *Trace[E, S] { return w.trace }

// DiscardPending drops every queued event that has not been flushed.
func (w *Writer[E, S]) DiscardPending() { w.queue.Reset() }

// RetractIf drops queued events matching match and returns how many were
// dropped.
func (w *Writer[E, S]) RetractIf(match func(t int64, ev E) bool) int {
	return w.queue.RetractIf(match)
}
