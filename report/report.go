// Package report replays a trace and writes plain-text statistics about
// it. Reports are read-only listeners: they never write traces.
package report

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// Report writes a textual summary of one input trace.
type Report interface {
	Name() string
	Write(ctx context.Context, out io.Writer) error
}

// ContactDurations lists every contact of a couple trace, one per line:
// "from to start end duration". Contacts up at the trace start begin at
// its min time; contacts still up at the end are closed at its max time.
type ContactDurations[C model.Couple] struct {
	Store *trace.Store
	Input string

	name   string
	inType trace.Type[model.CoupleEvent[C], C]
}

func NewEdgeContacts(store *trace.Store, input string) *ContactDurations[model.Edge] {
	return &ContactDurations[model.Edge]{Store: store, Input: input, name: "edge_contacts", inType: trace.Edges}
}

func NewLinkContacts(store *trace.Store, input string) *ContactDurations[model.Link] {
	return &ContactDurations[model.Link]{Store: store, Input: input, name: "link_contacts", inType: trace.Links}
}

func NewArcContacts(store *trace.Store, input string) *ContactDurations[model.Arc] {
	return &ContactDurations[model.Arc]{Store: store, Input: input, name: "arc_contacts", inType: trace.Arcs}
}

func (c *ContactDurations[C]) Name() string { return c.name }

func (c *ContactDurations[C]) Write(ctx context.Context, out io.Writer) error {
	in, err := trace.Open(c.Store, c.inType, c.Input)
	if err != nil {
		return fmt.Errorf("open %q: %w", c.Input, err)
	}
	bw := bufio.NewWriter(out)
	started := make(map[C]int64)
	var order []C
	contacts := 0

	emit := func(cp C, start, end int64) {
		fmt.Fprintf(bw, "%d %d %d %d %d\n", cp.First(), cp.Second(), start, end, end-start)
		contacts++
	}

	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []C) error {
		for _, cp := range states {
			started[cp] = t
			order = append(order, cp)
		}
		return nil
	})
	r.Bus().Listen(func(t int64, evs []model.CoupleEvent[C]) error {
		for _, ev := range evs {
			if ev.Up {
				if _, ok := started[ev.Couple]; !ok {
					started[ev.Couple] = t
					order = append(order, ev.Couple)
				}
				continue
			}
			start, ok := started[ev.Couple]
			if !ok {
				continue
			}
			delete(started, ev.Couple)
			emit(ev.Couple, start, t)
		}
		return nil
	})

	if err := replay(ctx, in.MinTime(), in.MaxTime(), r); err != nil {
		return err
	}
	for _, cp := range order {
		if start, ok := started[cp]; ok {
			delete(started, cp)
			emit(cp, start, in.MaxTime())
		}
	}
	loggerFrom(ctx).Info(ctx, "contact report written",
		logging.String("input", c.Input),
		logging.Int("contacts", contacts))
	return bw.Flush()
}

// NodeDegree writes the time-averaged degree of every node of an
// undirected couple trace over [min, max], one "node degree" line per node
// in ascending node order.
type NodeDegree[C model.Couple] struct {
	Store *trace.Store
	Input string

	name   string
	inType trace.Type[model.CoupleEvent[C], C]
}

func NewEdgeDegree(store *trace.Store, input string) *NodeDegree[model.Edge] {
	return &NodeDegree[model.Edge]{Store: store, Input: input, name: "edge_degree", inType: trace.Edges}
}

func NewLinkDegree(store *trace.Store, input string) *NodeDegree[model.Link] {
	return &NodeDegree[model.Link]{Store: store, Input: input, name: "link_degree", inType: trace.Links}
}

func (d *NodeDegree[C]) Name() string { return d.name }

type degreeAcc struct {
	degree int
	since  int64
	area   int64
}

func (a *degreeAcc) move(t int64, delta int) {
	a.area += int64(a.degree) * (t - a.since)
	a.since = t
	a.degree += delta
}

func (d *NodeDegree[C]) Write(ctx context.Context, out io.Writer) error {
	in, err := trace.Open(d.Store, d.inType, d.Input)
	if err != nil {
		return fmt.Errorf("open %q: %w", d.Input, err)
	}
	nodes := make(map[int]*degreeAcc)
	touch := func(t int64, id, delta int) {
		acc, ok := nodes[id]
		if !ok {
			acc = &degreeAcc{since: t}
			nodes[id] = acc
		}
		acc.move(t, delta)
	}
	endpoints := func(t int64, cp C, delta int) {
		touch(t, cp.First(), delta)
		if cp.Second() != cp.First() {
			touch(t, cp.Second(), delta)
		}
	}

	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []C) error {
		for _, cp := range states {
			endpoints(t, cp, 1)
		}
		return nil
	})
	r.Bus().Listen(func(t int64, evs []model.CoupleEvent[C]) error {
		for _, ev := range evs {
			if ev.Up {
				endpoints(t, ev.Couple, 1)
			} else {
				endpoints(t, ev.Couple, -1)
			}
		}
		return nil
	})

	if err := replay(ctx, in.MinTime(), in.MaxTime(), r); err != nil {
		return err
	}

	ids := make(map[int]struct{}, len(nodes))
	for id := range nodes {
		ids[id] = struct{}{}
	}
	total := in.MaxTime() - in.MinTime()
	bw := bufio.NewWriter(out)
	for _, id := range model.SetIDs(ids) {
		acc := nodes[id]
		acc.move(in.MaxTime(), 0)
		avg := 0.0
		if total > 0 {
			avg = float64(acc.area) / float64(total)
		}
		fmt.Fprintf(bw, "%d %.4f\n", id, avg)
	}
	loggerFrom(ctx).Info(ctx, "degree report written",
		logging.String("input", d.Input),
		logging.Int("nodes", len(nodes)))
	return bw.Flush()
}

func loggerFrom(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return logging.Noop()
}

func replay(ctx context.Context, minTime, maxTime int64, gens ...timectrl.Generator) error {
	incr := maxTime - minTime
	if incr <= 0 {
		incr = 1
	}
	runner := timectrl.NewRunner(incr, minTime, maxTime)
	for _, g := range gens {
		runner.Add(g)
	}
	return runner.Run(ctx)
}
