// Package trace holds time-ordered state+event traces: typed descriptors,
// an in-memory Trace with periodic state snapshots, a Writer enforcing the
// init-state-then-ordered-events contract, a StatefulReader that feeds a
// timectrl.Runner, and a Store with a pluggable persistence Backend.
package trace

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	ErrTraceNotFound    = errors.New("trace not found")
	ErrTraceExists      = errors.New("trace already exists")
	ErrWrongType        = errors.New("trace has a different type")
	ErrInitStateSet     = errors.New("initial state already set")
	ErrInitStateMissing = errors.New("initial state not set")
	ErrOutOfOrder       = errors.New("event time before last written time")
	ErrWriterClosed     = errors.New("writer closed")
	ErrReadOnly         = errors.New("store is read-only")
)

// Well-known property keys.
const (
	PropTau              = "tau"
	PropEta              = "eta"
	PropDelay            = "delay"
	PropTimeUnit         = "time_unit"
	PropSnapshotInterval = "snapshot_interval"
	PropRange            = "range"
	PropDescription      = "description"
	PropEpoch            = "epoch"
)

// Properties is trace-level key/value metadata.
type Properties map[string]string

// Get returns the value for key.
func (p Properties) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Int returns the integer value for key.
func (p Properties) Int(key string) (int64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("property %q: %w", key, errMissing)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("property %q: %w", key, err)
	}
	return n, nil
}

// IntOr returns the integer value for key, or def when absent or malformed.
func (p Properties) IntOr(key string, def int64) int64 {
	n, err := p.Int(key)
	if err != nil {
		return def
	}
	return n
}

var errMissing = errors.New("missing")

// IsMissing reports whether err comes from an absent property.
func IsMissing(err error) bool { return errors.Is(err, errMissing) }

// Timed is an event stamped with its time.
type Timed[E any] struct {
	Time  int64 `json:"time"`
	Event E     `json:"event"`
}

// Snapshot is a full state captured after the first EventIndex events.
type Snapshot[S any] struct {
	Time       int64 `json:"time"`
	EventIndex int   `json:"event_index"`
	States     []S   `json:"states"`
}

// Trace is a named, time-bounded, property-tagged sequence of events with
// periodic state snapshots. The first snapshot is the initial state.
type Trace[E, S any] struct {
	name      string
	typ       Type[E, S]
	props     Properties
	minTime   int64
	maxTime   int64
	snapshots []Snapshot[S]
	events    []Timed[E]
}

func (t *Trace[E, S]) Name() string           { return t.name }
func (t *Trace[E, S]) Type() Type[E, S]       { return t.typ }
func (t *Trace[E, S]) Properties() Properties { return t.props }
func (t *Trace[E, S]) MinTime() int64         { return t.minTime }
func (t *Trace[E, S]) MaxTime() int64         { return t.maxTime }

// Property returns a single property value.
func (t *Trace[E, S]) Property(key string) (string, bool) { return t.props.Get(key) }

// InitState returns the initial state and its time.
func (t *Trace[E, S]) InitState() (int64, []S) {
	if len(t.snapshots) == 0 {
		return t.minTime, nil
	}
	return t.snapshots[0].Time, t.snapshots[0].States
}

// Events returns every event in time order. The slice must not be modified.
func (t *Trace[E, S]) Events() []Timed[E] { return t.events }

// EventsBetween returns the events with from < time <= to.
func (t *Trace[E, S]) EventsBetween(from, to int64) []Timed[E] {
	return t.events[t.indexAfter(from):t.indexAfter(to)]
}

// indexAfter returns the index of the first event with time > at.
func (t *Trace[E, S]) indexAfter(at int64) int {
	return sort.Search(len(t.events), func(i int) bool { return t.events[i].Time > at })
}

// StateAt reconstructs the state at time at, including every event stamped
// at or before it, by replaying from the nearest prior snapshot.
func (t *Trace[E, S]) StateAt(at int64) []S {
	if len(t.snapshots) == 0 {
		return nil
	}
	i := sort.Search(len(t.snapshots), func(i int) bool { return t.snapshots[i].Time > at }) - 1
	if i < 0 {
		i = 0
	}
	snap := t.snapshots[i]
	u := t.typ.NewUpdater()
	u.SetState(snap.States)
	for _, ev := range t.events[snap.EventIndex:] {
		if ev.Time > at {
			break
		}
		u.Apply(ev.Time, ev.Event)
	}
	return u.States()
}

// NewReader returns a stateful reader over the trace.
func (t *Trace[E, S]) NewReader(priority int) *StatefulReader[E, S] {
	return newStatefulReader(t, priority)
}
