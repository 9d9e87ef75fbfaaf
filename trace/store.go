package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/signalsfoundry/contact-traces/internal/logging"
)

// Backend persists trace records.
type Backend interface {
	Save(rec *Record) error
	Load(name string) (*Record, error)
	Delete(name string) error
	List() ([]string, error)
	Close() error
}

// Record is the type-erased, encoded form of a trace.
type Record struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
	MinTime    int64             `json:"min_time"`
	MaxTime    int64             `json:"max_time"`
	Snapshots  []RecordSnapshot  `json:"snapshots"`
	Events     []RecordEvent     `json:"-"`
}

// RecordSnapshot is an encoded snapshot.
type RecordSnapshot struct {
	Time       int64           `json:"time"`
	EventIndex int             `json:"event_index"`
	States     json.RawMessage `json:"states"`
}

// RecordEvent is an encoded event.
type RecordEvent struct {
	Time  int64           `json:"time"`
	Event json.RawMessage `json:"event"`
}

// Store holds traces by name. Without a backend it is purely in memory;
// with one, closed traces are saved and unknown names are loaded lazily.
type Store struct {
	mu       sync.RWMutex
	traces   map[string]any
	types    map[string]string
	backend  Backend
	observer WriteObserver
	log      logging.Logger
	readOnly bool
	skipped  int
}

// Option configures a Store.
type Option func(*Store)

// WithBackend persists traces through b.
func WithBackend(b Backend) Option { return func(s *Store) { s.backend = b } }

// WithObserver reports committed events to o.
func WithObserver(o WriteObserver) Option { return func(s *Store) { s.observer = o } }

// WithLogger reports malformed persisted records to l.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// ReadOnly rejects Create and Delete with ErrReadOnly.
func ReadOnly() Option { return func(s *Store) { s.readOnly = true } }

// NewStore constructs a store.
func NewStore(opts ...Option) *Store {
	s := &Store{traces: make(map[string]any), types: make(map[string]string), log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts writing a new trace.
func Create[E, S any](s *Store, typ Type[E, S], name string) (*Writer[E, S], error) {
	if s.readOnly {
		return nil, ErrReadOnly
	}
	if s.Has(name) {
		return nil, fmt.Errorf("%w: %q", ErrTraceExists, name)
	}
	return newWriter(s, name, typ), nil
}

// Open returns a trace readable as typ.
func Open[E, S any](s *Store, typ Type[E, S], name string) (*Trace[E, S], error) {
	s.mu.RLock()
	v, ok := s.traces[name]
	stored := s.types[name]
	s.mu.RUnlock()
	if ok {
		t, isType := v.(*Trace[E, S])
		if !isType || !typ.Compatible(stored) {
			return nil, fmt.Errorf("%w: %q is %s, want %s", ErrWrongType, name, stored, typ.Name)
		}
		return t, nil
	}
	if s.backend == nil {
		return nil, fmt.Errorf("%w: %q", ErrTraceNotFound, name)
	}

	rec, err := s.backend.Load(name)
	if err != nil {
		return nil, err
	}
	if !typ.Compatible(rec.Type) {
		return nil, fmt.Errorf("%w: %q is %s, want %s", ErrWrongType, name, rec.Type, typ.Name)
	}
	t, skipped := decode(typ, rec, func(what string, i int, at int64, err error) {
		s.log.Warn(context.Background(), "skipping malformed record",
			logging.String("trace", name),
			logging.String("record", what),
			logging.Int("index", i),
			logging.Int64("time", at),
			logging.Err(err))
	})
	s.mu.Lock()
	s.traces[name] = t
	s.types[name] = rec.Type
	s.skipped += skipped
	s.mu.Unlock()
	return t, nil
}

// Has reports whether a trace exists in memory or in the backend.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	_, ok := s.traces[name]
	s.mu.RUnlock()
	if ok || s.backend == nil {
		return ok
	}
	names, err := s.backend.List()
	return err == nil && slices.Contains(names, name)
}

// TypeOf returns the type name of a stored trace.
func (s *Store) TypeOf(name string) (string, error) {
	s.mu.RLock()
	typ, ok := s.types[name]
	s.mu.RUnlock()
	if ok {
		return typ, nil
	}
	if s.backend == nil {
		return "", fmt.Errorf("%w: %q", ErrTraceNotFound, name)
	}
	rec, err := s.backend.Load(name)
	if err != nil {
		return "", err
	}
	return rec.Type, nil
}

// Delete removes a trace.
func (s *Store) Delete(name string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	_, ok := s.traces[name]
	delete(s.traces, name)
	delete(s.types, name)
	s.mu.Unlock()
	if s.backend != nil {
		if err := s.backend.Delete(name); err != nil && !(ok && errors.Is(err, ErrTraceNotFound)) {
			return err
		}
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrTraceNotFound, name)
	}
	return nil
}

// List returns every trace name, sorted.
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.traces))
	for name := range s.traces {
		names = append(names, name)
	}
	s.mu.RUnlock()
	if s.backend != nil {
		stored, err := s.backend.List()
		if err != nil {
			return nil, err
		}
		for _, name := range stored {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return names, nil
}

// Skipped returns how many malformed persisted records were left out of
// opened traces.
func (s *Store) Skipped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skipped
}

// Close closes the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func commit[E, S any](s *Store, t *Trace[E, S]) error {
	if s.backend != nil {
		rec, err := encode(t)
		if err != nil {
			return fmt.Errorf("encode trace %q: %w", t.name, err)
		}
		if err := s.backend.Save(rec); err != nil {
			return fmt.Errorf("save trace %q: %w", t.name, err)
		}
	}
	s.mu.Lock()
	s.traces[t.name] = t
	s.types[t.name] = t.typ.Name
	s.mu.Unlock()
	return nil
}

func encode[E, S any](t *Trace[E, S]) (*Record, error) {
	rec := &Record{
		Name:       t.name,
		Type:       t.typ.Name,
		Properties: t.props,
		MinTime:    t.minTime,
		MaxTime:    t.maxTime,
		Snapshots:  make([]RecordSnapshot, len(t.snapshots)),
		Events:     make([]RecordEvent, len(t.events)),
	}
	for i, snap := range t.snapshots {
		raw, err := json.Marshal(snap.States)
		if err != nil {
			return nil, err
		}
		rec.Snapshots[i] = RecordSnapshot{Time: snap.Time, EventIndex: snap.EventIndex, States: raw}
	}
	for i, ev := range t.events {
		raw, err := json.Marshal(ev.Event)
		if err != nil {
			return nil, err
		}
		rec.Events[i] = RecordEvent{Time: ev.Time, Event: raw}
	}
	return rec, nil
}

// decode rebuilds a trace from rec. Records that fail to decode are
// reported to skip and left out; snapshot event indexes are remapped to
// the kept events. A malformed initial snapshot decodes as an empty state.
func decode[E, S any](typ Type[E, S], rec *Record, skip func(what string, i int, at int64, err error)) (*Trace[E, S], int) {
	t := &Trace[E, S]{
		name:    rec.Name,
		typ:     typ,
		props:   Properties{},
		minTime: rec.MinTime,
		maxTime: rec.MaxTime,
		events:  make([]Timed[E], 0, len(rec.Events)),
	}
	for k, v := range rec.Properties {
		t.props[k] = v
	}
	skipped := 0
	// kept[i] is the number of events kept before record event i.
	kept := make([]int, len(rec.Events)+1)
	for i, ev := range rec.Events {
		kept[i] = len(t.events)
		var e E
		if err := json.Unmarshal(ev.Event, &e); err != nil {
			skip("event", i, ev.Time, err)
			skipped++
			continue
		}
		t.events = append(t.events, Timed[E]{Time: ev.Time, Event: e})
	}
	kept[len(rec.Events)] = len(t.events)
	for i, snap := range rec.Snapshots {
		var states []S
		if err := json.Unmarshal(snap.States, &states); err != nil {
			skip("snapshot", i, snap.Time, err)
			skipped++
			if i > 0 {
				continue
			}
			states = nil
		}
		idx := min(max(snap.EventIndex, 0), len(rec.Events))
		t.snapshots = append(t.snapshots, Snapshot[S]{Time: snap.Time, EventIndex: kept[idx], States: states})
	}
	return t, skipped
}
