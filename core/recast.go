package core

import (
	"context"

	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// Project rewrites a couple trace into another couple kind. Every input
// couple maps to zero or more output couples; an output couple is up
// while at least one input couple mapping to it is up.
type Project[A, B model.Couple] struct {
	Store  *trace.Store
	Input  string
	Output string

	name    string
	inType  trace.Type[model.CoupleEvent[A], A]
	outType trace.Type[model.CoupleEvent[B], B]
	project func(A) []B
}

// NewArcsToEdges keeps an edge up while either of its arcs is up.
func NewArcsToEdges(store *trace.Store, input, output string) *Project[model.Arc, model.Edge] {
	return &Project[model.Arc, model.Edge]{Store: store, Input: input, Output: output,
		name: "arcs_to_edges", inType: trace.Arcs, outType: trace.Edges,
		project: func(a model.Arc) []model.Edge { return []model.Edge{model.NewEdge(a.From, a.To)} }}
}

// NewEdgesToArcs turns every edge into its two arcs.
func NewEdgesToArcs(store *trace.Store, input, output string) *Project[model.Edge, model.Arc] {
	return &Project[model.Edge, model.Arc]{Store: store, Input: input, Output: output,
		name: "edges_to_arcs", inType: trace.Edges, outType: trace.Arcs,
		project: func(e model.Edge) []model.Arc {
			if e.ID1 == e.ID2 {
				return []model.Arc{model.NewArc(e.ID1, e.ID2)}
			}
			return []model.Arc{model.NewArc(e.ID1, e.ID2), model.NewArc(e.ID2, e.ID1)}
		}}
}

// NewLinksToEdges recasts links as edges.
func NewLinksToEdges(store *trace.Store, input, output string) *Project[model.Link, model.Edge] {
	return &Project[model.Link, model.Edge]{Store: store, Input: input, Output: output,
		name: "links_to_edges", inType: trace.Links, outType: trace.Edges,
		project: func(l model.Link) []model.Edge { return []model.Edge{model.NewEdge(l.ID1, l.ID2)} }}
}

// NewEdgesToLinks recasts edges as links.
func NewEdgesToLinks(store *trace.Store, input, output string) *Project[model.Edge, model.Link] {
	return &Project[model.Edge, model.Link]{Store: store, Input: input, Output: output,
		name: "edges_to_links", inType: trace.Edges, outType: trace.Links,
		project: func(e model.Edge) []model.Link { return []model.Link{model.NewLink(e.ID1, e.ID2)} }}
}

func (p *Project[A, B]) Name() string { return p.name }

func (p *Project[A, B]) Convert(ctx context.Context) error {
	in, err := openInput(p.Store, p.inType, p.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(p.Store, p.outType, p.Output)
	if err != nil {
		return err
	}
	w.SetProperties(in.Properties())

	counts := make(map[B]int)
	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []A) error {
		for _, a := range states {
			for _, b := range p.project(a) {
				counts[b]++
			}
		}
		u := p.outType.NewUpdater()
		init := make([]B, 0, len(counts))
		for b := range counts {
			init = append(init, b)
		}
		u.SetState(init)
		return w.SetInitState(t, u.States())
	})
	r.Bus().Listen(func(t int64, evs []model.CoupleEvent[A]) error {
		for _, ev := range evs {
			for _, b := range p.project(ev.Couple) {
				if ev.Up {
					counts[b]++
					if counts[b] == 1 {
						if err := w.Append(t, model.UpEvent(b)); err != nil {
							return err
						}
					}
					continue
				}
				n, ok := counts[b]
				if !ok {
					continue
				}
				if n > 1 {
					counts[b] = n - 1
					continue
				}
				delete(counts, b)
				if err := w.Append(t, model.DownEvent(b)); err != nil {
					return err
				}
			}
		}
		return nil
	})

	runner := timectrl.NewRunner(span(in.MinTime(), in.MaxTime()), in.MinTime(), in.MaxTime())
	runner.Add(r)
	if err := runner.Run(ctx); err != nil {
		return err
	}
	w.SetMaxTime(in.MaxTime())
	loggerFrom(ctx).Info(ctx, "couples recast",
		logging.String("output", p.Output),
		logging.Int("events", len(w.Trace().Events())))
	return w.Close()
}

// CouplesToPresence marks a node present while it belongs to at least one
// up couple.
type CouplesToPresence[C model.Couple] struct {
	Store  *trace.Store
	Input  string
	Output string

	name   string
	inType trace.Type[model.CoupleEvent[C], C]
}

// NewEdgesToPresence derives presence from an edges trace.
func NewEdgesToPresence(store *trace.Store, input, output string) *CouplesToPresence[model.Edge] {
	return &CouplesToPresence[model.Edge]{Store: store, Input: input, Output: output,
		name: "edges_to_presence", inType: trace.Edges}
}

// NewLinksToPresence derives presence from a links trace.
func NewLinksToPresence(store *trace.Store, input, output string) *CouplesToPresence[model.Link] {
	return &CouplesToPresence[model.Link]{Store: store, Input: input, Output: output,
		name: "links_to_presence", inType: trace.Links}
}

// NewArcsToPresence derives presence from an arcs trace.
func NewArcsToPresence(store *trace.Store, input, output string) *CouplesToPresence[model.Arc] {
	return &CouplesToPresence[model.Arc]{Store: store, Input: input, Output: output,
		name: "arcs_to_presence", inType: trace.Arcs}
}

func (c *CouplesToPresence[C]) Name() string { return c.name }

func (c *CouplesToPresence[C]) Convert(ctx context.Context) error {
	in, err := openInput(c.Store, c.inType, c.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(c.Store, trace.Presence, c.Output)
	if err != nil {
		return err
	}
	copyProperties(w, in.Properties(), trace.PropTimeUnit, trace.PropEta)

	degree := make(map[int]int)
	endpoints := func(cp C) []int {
		if cp.First() == cp.Second() {
			return []int{cp.First()}
		}
		return []int{cp.First(), cp.Second()}
	}

	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []C) error {
		for _, cp := range states {
			for _, id := range endpoints(cp) {
				degree[id]++
			}
		}
		ids := make(map[int]struct{}, len(degree))
		for id := range degree {
			ids[id] = struct{}{}
		}
		init := make([]model.Presence, 0, len(ids))
		for _, id := range model.SetIDs(ids) {
			init = append(init, model.Presence{ID: id})
		}
		return w.SetInitState(t, init)
	})
	r.Bus().Listen(func(t int64, evs []model.CoupleEvent[C]) error {
		for _, ev := range evs {
			for _, id := range endpoints(ev.Couple) {
				if ev.Up {
					degree[id]++
					if degree[id] == 1 {
						if err := w.Append(t, model.PresenceEvent{ID: id, In: true}); err != nil {
							return err
						}
					}
					continue
				}
				n, ok := degree[id]
				if !ok {
					continue
				}
				if n > 1 {
					degree[id] = n - 1
					continue
				}
				delete(degree, id)
				if err := w.Append(t, model.PresenceEvent{ID: id}); err != nil {
					return err
				}
			}
		}
		return nil
	})

	runner := timectrl.NewRunner(span(in.MinTime(), in.MaxTime()), in.MinTime(), in.MaxTime())
	runner.Add(r)
	if err := runner.Run(ctx); err != nil {
		return err
	}
	w.SetMaxTime(in.MaxTime())
	loggerFrom(ctx).Info(ctx, "presence written",
		logging.String("output", c.Output),
		logging.Int("events", len(w.Trace().Events())))
	return w.Close()
}
