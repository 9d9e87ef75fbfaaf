package trace

import "github.com/signalsfoundry/contact-traces/timectrl"

// StatefulReader replays a trace into a timectrl.Runner. Seek delivers the
// full state on StateBus; Incr delivers events on Bus.
//
// With a shift d the reader looks ahead: trace time t is delivered at
// runner time t-d.
type StatefulReader[E, S any] struct {
	trace    *Trace[E, S]
	priority int
	shift    int64
	stateBus *timectrl.Bus[S]
	bus      *timectrl.Bus[E]
	now      int64
	cursor   int
}

func newStatefulReader[E, S any](t *Trace[E, S], priority int) *StatefulReader[E, S] {
	return &StatefulReader[E, S]{
		trace:    t,
		priority: priority,
		stateBus: timectrl.NewBus[S](),
		bus:      timectrl.NewBus[E](),
	}
}

// SetShift sets the look-ahead. It takes effect at the next Seek.
func (r *StatefulReader[E, S]) SetShift(d int64) { r.shift = d }

// Shift returns the look-ahead.
func (r *StatefulReader[E, S]) Shift() int64 { return r.shift }

// StateBus carries the state delivered on Seek.
func (r *StatefulReader[E, S]) StateBus() *timectrl.Bus[S] { return r.stateBus }

// Bus carries incremental events.
func (r *StatefulReader[E, S]) Bus() *timectrl.Bus[E] { return r.bus }

// Trace returns the trace being read.
func (r *StatefulReader[E, S]) Trace() *Trace[E, S] { return r.trace }

func (r *StatefulReader[E, S]) Seek(t int64) error {
	r.stateBus.Reset()
	r.bus.Reset()
	r.now = t
	at := t + r.shift
	r.stateBus.QueueAll(t, r.trace.StateAt(at))
	r.cursor = r.trace.indexAfter(at)
	return nil
}

func (r *StatefulReader[E, S]) Incr(dt int64) error {
	r.now += dt
	limit := r.now + r.shift
	events := r.trace.events
	for r.cursor < len(events) && events[r.cursor].Time <= limit {
		ev := events[r.cursor]
		r.bus.Queue(ev.Time-r.shift, ev.Event)
		r.cursor++
	}
	return nil
}

func (r *StatefulReader[E, S]) Busses() []timectrl.Port {
	return []timectrl.Port{r.stateBus, r.bus}
}

func (r *StatefulReader[E, S]) Priority() int { return r.priority }

var _ timectrl.Generator = (*StatefulReader[struct{}, struct{}])(nil)
