package core

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/signalsfoundry/contact-traces/adjacency"
	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// EdgesToReachable derives the one-hop reachability trace with delay Tau
// from an undirected couple trace: arc (a,b) is up at t when the couple
// stays up during [t, t+Tau]. Times are quantized to Eta steps from the
// input's start.
type EdgesToReachable[C model.Couple] struct {
	Store  *trace.Store
	Input  string
	Output string
	Tau    int64
	Eta    int64

	name   string
	inType trace.Type[model.CoupleEvent[C], C]
}

// NewEdgesToReachable converts an edges trace.
func NewEdgesToReachable(store *trace.Store, input, output string, tau, eta int64) *EdgesToReachable[model.Edge] {
	return &EdgesToReachable[model.Edge]{Store: store, Input: input, Output: output, Tau: tau, Eta: eta,
		name: "edges_to_reachable", inType: trace.Edges}
}

// NewLinksToReachable converts a links trace.
func NewLinksToReachable(store *trace.Store, input, output string, tau, eta int64) *EdgesToReachable[model.Link] {
	return &EdgesToReachable[model.Link]{Store: store, Input: input, Output: output, Tau: tau, Eta: eta,
		name: "links_to_reachable", inType: trace.Links}
}

func (e *EdgesToReachable[C]) Name() string { return e.name }

type contactWindow struct {
	up        int64
	confirmed bool
}

func (e *EdgesToReachable[C]) Convert(ctx context.Context) error {
	if e.Eta <= 0 || e.Tau < 0 {
		return fmt.Errorf("%w: tau=%d eta=%d", ErrBadParameter, e.Tau, e.Eta)
	}
	in, err := openInput(e.Store, e.inType, e.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(e.Store, trace.Reachability, e.Output)
	if err != nil {
		return err
	}
	copyProperties(w, in.Properties(), trace.PropTimeUnit)
	w.SetPropertyInt(trace.PropTau, e.Tau)
	w.SetPropertyInt(trace.PropEta, e.Eta)
	w.SetPropertyInt(trace.PropDelay, e.Tau)

	minTime, maxTime := in.MinTime(), in.MaxTime()
	if err := w.SetInitState(minTime, nil); err != nil {
		return err
	}

	// A departure at s is valid while the couple stays up through s+Tau.
	// UP is stamped at the first grid point at or after the contact start,
	// DOWN at the first grid point whose departure would arrive at or after
	// the contact end.
	upTime := func(t int64) int64 { return minTime + ceilDiv(t-minTime, e.Eta)*e.Eta }
	downTime := func(t int64) int64 { return minTime + ceilDiv(t-e.Tau-minTime, e.Eta)*e.Eta }

	open := make(map[model.Edge]*contactWindow)
	// DOWN times queued but not yet flushed, per edge.
	pendingDown := make(map[model.Edge]int64)

	queueArcs := func(t int64, c model.Edge, up bool) {
		for _, a := range []model.Arc{model.NewArc(c.ID1, c.ID2), model.NewArc(c.ID2, c.ID1)} {
			if up {
				w.Queue(t, model.UpEvent(a))
			} else {
				w.Queue(t, model.DownEvent(a))
			}
		}
	}
	bringUp := func(t int64, c C) {
		if c.First() == c.Second() {
			return
		}
		edge := model.NewEdge(c.First(), c.Second())
		if _, ok := open[edge]; ok {
			return
		}
		up := upTime(t)
		if d, ok := pendingDown[edge]; ok && d >= up {
			// The new window starts before the previous one closes.
			w.RetractIf(func(at int64, ev model.ArcEvent) bool {
				return at == d && !ev.Up && model.NewEdge(ev.Couple.From, ev.Couple.To) == edge
			})
			delete(pendingDown, edge)
			open[edge] = &contactWindow{up: up, confirmed: true}
			return
		}
		open[edge] = &contactWindow{up: up}
	}

	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []C) error {
		for _, c := range states {
			bringUp(t, c)
		}
		return nil
	})
	r.Bus().Listen(func(t int64, evs []model.CoupleEvent[C]) error {
		for _, ev := range evs {
			if ev.Up {
				bringUp(t, ev.Couple)
				continue
			}
			edge := model.NewEdge(ev.Couple.First(), ev.Couple.Second())
			cw, ok := open[edge]
			if !ok {
				continue
			}
			delete(open, edge)
			down := downTime(t)
			switch {
			case cw.confirmed:
				queueArcs(down, edge, false)
				pendingDown[edge] = down
			case down > cw.up:
				queueArcs(cw.up, edge, true)
				queueArcs(down, edge, false)
				pendingDown[edge] = down
			}
		}
		return nil
	})

	tick := timectrl.NewTicker(timectrl.LowestPriority, func(now int64) error {
		var ready []model.Edge
		for edge, cw := range open {
			if !cw.confirmed && cw.up+e.Tau <= now {
				ready = append(ready, edge)
			}
		}
		slices.SortFunc(ready, adjacency.Compare[model.Edge])
		for _, edge := range ready {
			open[edge].confirmed = true
			queueArcs(open[edge].up, edge, true)
		}
		boundary := now - e.Tau
		for edge, d := range pendingDown {
			if d <= boundary {
				delete(pendingDown, edge)
			}
		}
		return w.Flush(boundary)
	})

	runner := timectrl.NewRunner(e.Eta, minTime, maxTime)
	runner.Add(r)
	runner.Add(tick)
	if err := runner.Run(ctx); err != nil {
		return err
	}

	// Departures after maxTime-Tau cannot be decided from the input.
	pending := w.Pending()
	w.DiscardPending()
	w.SetMaxTime(max(minTime, maxTime-e.Tau))
	loggerFrom(ctx).Info(ctx, "reachability written",
		logging.String("output", e.Output),
		logging.Int64("delay", e.Tau),
		logging.Int("events", len(w.Trace().Events())),
		logging.Int("undecided", pending))
	return w.Close()
}

// UpperReachable widens a reachability trace with delay d into one with
// delay Delay >= d: a message may wait up to Delay-d before the original
// journey starts.
type UpperReachable struct {
	Store  *trace.Store
	Input  string
	Output string
	Delay  int64
}

// NewUpperReachable returns an UpperReachable converter.
func NewUpperReachable(store *trace.Store, input, output string, delay int64) *UpperReachable {
	return &UpperReachable{Store: store, Input: input, Output: output, Delay: delay}
}

func (u *UpperReachable) Name() string { return "upper_reachable" }

func (u *UpperReachable) Convert(ctx context.Context) error {
	in, err := openInput(u.Store, trace.Reachability, u.Input)
	if err != nil {
		return err
	}
	d, err := intProperty(in.Properties(), trace.PropDelay)
	if err != nil {
		return fmt.Errorf("input %q: %w", u.Input, err)
	}
	if u.Delay < d {
		return fmt.Errorf("%w: delay %d below input delay %d", ErrBadParameter, u.Delay, d)
	}
	b := &Buffer[model.Arc]{
		Store:   u.Store,
		Input:   u.Input,
		Output:  u.Output,
		Before:  u.Delay - d,
		name:    u.Name(),
		inType:  trace.Reachability,
		outType: trace.Reachability,
		props:   trace.Properties{trace.PropDelay: strconv.FormatInt(u.Delay, 10)},
	}
	return b.Convert(ctx)
}
