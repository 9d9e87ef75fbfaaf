package core

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// Buffer smears every UP event earlier by up to Before and every DOWN event
// later by up to After. With Randomize the offsets are drawn uniformly from
// [0,Before] and [0,After]; otherwise they are exactly Before and After.
//
// A couple goes down in the output only once every underlying up period
// covering it has ended, so overlapping windows never flicker.
type Buffer[C model.Couple] struct {
	Store     *trace.Store
	Input     string
	Output    string
	Before    int64
	After     int64
	Randomize bool
	Seed      uint64

	name    string
	inType  trace.Type[model.CoupleEvent[C], C]
	outType trace.Type[model.CoupleEvent[C], C]
	// props are set on the output after the input's properties.
	props trace.Properties
}

// NewBufferEdges buffers an edges trace.
func NewBufferEdges(store *trace.Store, input, output string, before, after int64) *Buffer[model.Edge] {
	return &Buffer[model.Edge]{Store: store, Input: input, Output: output, Before: before, After: after,
		name: "buffer_edges", inType: trace.Edges, outType: trace.Edges}
}

// NewBufferLinks buffers a links trace.
func NewBufferLinks(store *trace.Store, input, output string, before, after int64) *Buffer[model.Link] {
	return &Buffer[model.Link]{Store: store, Input: input, Output: output, Before: before, After: after,
		name: "buffer_links", inType: trace.Links, outType: trace.Links}
}

// NewBufferArcs buffers an arcs trace.
func NewBufferArcs(store *trace.Store, input, output string, before, after int64) *Buffer[model.Arc] {
	return &Buffer[model.Arc]{Store: store, Input: input, Output: output, Before: before, After: after,
		name: "buffer_arcs", inType: trace.Arcs, outType: trace.Arcs}
}

func (b *Buffer[C]) Name() string { return b.name }

func (b *Buffer[C]) Convert(ctx context.Context) error {
	if b.Before < 0 || b.After < 0 {
		return fmt.Errorf("%w: before=%d after=%d must be non-negative", ErrBadParameter, b.Before, b.After)
	}
	in, err := openInput(b.Store, b.inType, b.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(b.Store, b.outType, b.Output)
	if err != nil {
		return err
	}
	w.SetProperties(in.Properties())
	w.SetProperties(b.props)

	rng := rand.New(rand.NewPCG(b.Seed, b.Seed^0x9e3779b97f4a7c15))
	jitter := func(limit int64) int64 {
		if !b.Randomize || limit == 0 {
			return limit
		}
		return rng.Int64N(limit + 1)
	}

	minTime := in.MinTime()
	counts := make(map[C]int)
	delayed := timectrl.NewBus[model.CoupleEvent[C]]()

	initState := func() []C {
		u := b.outType.NewUpdater()
		states := make([]C, 0, len(counts))
		for c := range counts {
			states = append(states, c)
		}
		u.SetState(states)
		return u.States()
	}

	delayed.Listen(func(t int64, evs []model.CoupleEvent[C]) error {
		if t > minTime {
			if err := ensureInit(w, minTime, initState); err != nil {
				return err
			}
		}
		// UPs first, so touching windows of one couple never reach zero.
		ordered := slices.Clone(evs)
		slices.SortStableFunc(ordered, func(a, b model.CoupleEvent[C]) int {
			switch {
			case a.Up == b.Up:
				return 0
			case a.Up:
				return -1
			}
			return 1
		})
		for _, ev := range ordered {
			emit := false
			if ev.Up {
				counts[ev.Couple]++
				emit = counts[ev.Couple] == 1
			} else {
				n, ok := counts[ev.Couple]
				if !ok {
					panic(fmt.Sprintf("buffer: DOWN for %v without a prior UP", ev.Couple))
				}
				if n == 1 {
					delete(counts, ev.Couple)
					emit = true
				} else {
					counts[ev.Couple] = n - 1
				}
			}
			if emit && t > minTime {
				if err := w.Append(t, ev); err != nil {
					return err
				}
			}
		}
		return nil
	})

	r := in.NewReader(timectrl.DefaultPriority)
	r.SetShift(b.Before)
	r.StateBus().Listen(func(_ int64, states []C) error {
		for _, c := range states {
			counts[c]++
		}
		return nil
	})
	r.Bus().Listen(func(now int64, evs []model.CoupleEvent[C]) error {
		t := now + b.Before
		for _, ev := range evs {
			if ev.Up {
				delayed.Queue(t-jitter(b.Before), ev)
			} else {
				delayed.Queue(t+jitter(b.After), ev)
			}
		}
		return nil
	})

	start, end := minTime-b.Before, in.MaxTime()+b.After
	runner := timectrl.NewRunner(span(start, end), start, end)
	runner.Add(r)
	runner.Add(timectrl.NewLocal(timectrl.DefaultPriority, delayed))
	if err := runner.Run(ctx); err != nil {
		return err
	}
	if err := ensureInit(w, minTime, initState); err != nil {
		return err
	}
	w.SetMaxTime(in.MaxTime())
	loggerFrom(ctx).Info(ctx, "buffered trace written",
		logging.String("output", b.Output),
		logging.Int64("before", b.Before),
		logging.Int64("after", b.After),
		logging.Int("events", len(w.Trace().Events())))
	return w.Close()
}
