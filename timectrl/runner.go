// Package timectrl is the discrete-event engine that drives conversions.
//
// Generators feed events onto buses; the Runner advances a virtual clock
// in fixed increments and delivers every due bus batch ordered by time,
// then by the owning generator's priority (lower first), then by
// registration order.
package timectrl

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
)

// Priority sentinels. A generator with LowestPriority is always delivered
// last at a given time; HighestPriority always first.
const (
	HighestPriority = math.MinInt32
	DefaultPriority = 0
	LowestPriority  = math.MaxInt32
)

// Clock exposes the current virtual time.
type Clock interface {
	Now() int64
}

// Generator is a schedulable unit that advances with the virtual clock and
// emits events onto one or more buses.
type Generator interface {
	// Incr advances local time by dt, queueing any events that are now due.
	Incr(dt int64) error
	// Seek jumps to time t, discarding in-flight state.
	Seek(t int64) error
	// Busses declares the buses this generator feeds.
	Busses() []Port
	// Priority breaks ties between buses at the same time.
	Priority() int
}

type registeredPort struct {
	port     Port
	priority int
	order    int
}

// Runner drives a set of generators from Min to Max in steps of Incr.
type Runner struct {
	Incr int64
	Min  int64
	Max  int64

	now        int64
	generators []Generator
	ports      []registeredPort
}

// NewRunner constructs a runner.
func NewRunner(incr, minTime, maxTime int64) *Runner {
	return &Runner{Incr: incr, Min: minTime, Max: maxTime, now: minTime}
}

// Now returns the current virtual time. Implements Clock.
func (r *Runner) Now() int64 { return r.now }

// Add registers a generator and its buses.
func (r *Runner) Add(g Generator) {
	r.generators = append(r.generators, g)
	for _, p := range g.Busses() {
		r.ports = append(r.ports, registeredPort{port: p, priority: g.Priority(), order: len(r.ports)})
	}
}

// Run seeks every generator to Min and steps the clock until Max.
func (r *Runner) Run(ctx context.Context) error {
	if r.Incr <= 0 {
		return fmt.Errorf("runner increment must be positive, got %d", r.Incr)
	}
	if r.Max < r.Min {
		return fmt.Errorf("runner max time %d before min time %d", r.Max, r.Min)
	}

	slices.SortStableFunc(r.generators, func(a, b Generator) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})

	r.now = r.Min
	for _, g := range r.generators {
		if err := g.Seek(r.Min); err != nil {
			return err
		}
	}
	if err := r.deliver(r.Min); err != nil {
		return err
	}

	for r.now < r.Max {
		if err := ctx.Err(); err != nil {
			return err
		}
		dt := min(r.Incr, r.Max-r.now)
		for _, g := range r.generators {
			if err := g.Incr(dt); err != nil {
				return err
			}
		}
		r.now += dt
		if err := r.deliver(r.now); err != nil {
			return err
		}
	}
	return nil
}

// deliver hands out every batch due at or before t, earliest first, lower
// priority value first on ties. Listeners may queue more events while
// this runs; they are picked up by the same loop.
func (r *Runner) deliver(t int64) error {
	for {
		var best *registeredPort
		var bestTime int64
		for i := range r.ports {
			p := &r.ports[i]
			next, ok := p.port.NextTime()
			if !ok || next > t {
				continue
			}
			if best == nil || next < bestTime ||
				(next == bestTime && (p.priority < best.priority ||
					(p.priority == best.priority && p.order < best.order))) {
				best, bestTime = p, next
			}
		}
		if best == nil {
			return nil
		}
		if err := best.port.DeliverNext(); err != nil {
			return err
		}
	}
}

// Ticker is a generator that queues one tick per clock step on its own
// bus. Registered with LowestPriority it gives a converter a callback after
// all of its inputs for an instant have been delivered.
type Ticker struct {
	bus      *Bus[struct{}]
	priority int
	now      int64
}

// NewTicker returns a ticker calling fn at every step.
func NewTicker(priority int, fn func(t int64) error) *Ticker {
	tk := &Ticker{bus: NewBus[struct{}](), priority: priority}
	tk.bus.Listen(func(t int64, _ []struct{}) error { return fn(t) })
	return tk
}

func (tk *Ticker) Seek(t int64) error {
	tk.bus.Reset()
	tk.now = t
	tk.bus.Queue(t, struct{}{})
	return nil
}

func (tk *Ticker) Incr(dt int64) error {
	tk.now += dt
	tk.bus.Queue(tk.now, struct{}{})
	return nil
}

func (tk *Ticker) Busses() []Port { return []Port{tk.bus} }
func (tk *Ticker) Priority() int  { return tk.priority }

// Local registers buses owned by a converter, such as delay queues, with a
// runner. Seek and Incr do nothing: the owner queues events itself.
type Local struct {
	ports    []Port
	priority int
}

// NewLocal wraps ports as a generator with the given priority.
func NewLocal(priority int, ports ...Port) *Local {
	return &Local{ports: ports, priority: priority}
}

func (l *Local) Seek(int64) error { return nil }
func (l *Local) Incr(int64) error { return nil }
func (l *Local) Busses() []Port   { return l.ports }
func (l *Local) Priority() int    { return l.priority }
