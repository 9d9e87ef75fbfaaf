package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/signalsfoundry/contact-traces/adjacency"
	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// AddingReachable composes two reachability families into the
// reachability trace with delay Delay: a reaches c when a reaches some b
// with delay δ and b, from time t+δ on, reaches c with delay Delay-δ.
//
// Each split point is handled by a composer reading the Delta member with
// delay δ and the Mu member with delay Delay-δ looked ahead by δ.
type AddingReachable struct {
	Store  *trace.Store
	Delta  *ReachabilityFamily
	Mu     *ReachabilityFamily
	Output string
	Delay  int64
}

// NewAddingReachable returns an AddingReachable converter.
func NewAddingReachable(store *trace.Store, delta, mu *ReachabilityFamily, output string, delay int64) *AddingReachable {
	return &AddingReachable{Store: store, Delta: delta, Mu: mu, Output: output, Delay: delay}
}

func (a *AddingReachable) Name() string { return "adding_reachable" }

func (a *AddingReachable) Convert(ctx context.Context) error {
	if a.Delta.Eta != a.Mu.Eta || a.Delta.Tau != a.Mu.Tau {
		return fmt.Errorf("%w: families disagree on tau/eta (%d/%d vs %d/%d)",
			ErrBadParameter, a.Delta.Tau, a.Delta.Eta, a.Mu.Tau, a.Mu.Eta)
	}
	eta := a.Mu.Eta

	var composers []*composer
	minTime, maxTime := int64(0), int64(0)
	for k := range a.Mu.composers() {
		mu := a.Mu.MinDelay() + k*eta
		delta := a.Delay - mu
		if delta >= a.Delay {
			return fmt.Errorf("%w: split %d leaves no room for delay %d", ErrBadParameter, mu, a.Delay)
		}
		dt, err := a.Delta.Member(delta)
		if err != nil {
			return err
		}
		mt, err := a.Mu.Member(mu)
		if err != nil {
			return err
		}
		lo := max(dt.MinTime(), mt.MinTime())
		hi := min(dt.MaxTime(), mt.MaxTime()-delta)
		if len(composers) == 0 {
			minTime, maxTime = lo, hi
		} else {
			minTime, maxTime = max(minTime, lo), min(maxTime, hi)
		}
		composers = append(composers, newComposer(dt, mt, delta))
	}
	if maxTime < minTime {
		return fmt.Errorf("%w: members do not overlap for delay %d", ErrBadParameter, a.Delay)
	}

	w, err := createOutput(a.Store, trace.Reachability, a.Output)
	if err != nil {
		return err
	}
	w.SetPropertyInt(trace.PropTau, a.Mu.Tau)
	w.SetPropertyInt(trace.PropEta, eta)
	w.SetPropertyInt(trace.PropDelay, a.Delay)

	refs := newRefCounter(w, minTime)
	runner := timectrl.NewRunner(eta, minTime, maxTime)
	for _, c := range composers {
		c.register(runner)
	}
	runner.Add(timectrl.NewTicker(timectrl.LowestPriority, func(now int64) error {
		for _, c := range composers {
			c.processDeltaUps(refs)
		}
		if err := refs.flush(now - eta); err != nil {
			return err
		}
		for _, c := range composers {
			c.processJourneyUps(refs)
		}
		for _, c := range composers {
			c.processDowns(refs)
		}
		return nil
	}))

	if err := runner.Run(ctx); err != nil {
		return err
	}
	if err := refs.flush(maxTime); err != nil {
		return err
	}
	w.SetMaxTime(maxTime)
	loggerFrom(ctx).Info(ctx, "composed reachability written",
		logging.String("output", a.Output),
		logging.Int64("delay", a.Delay),
		logging.Int("composers", len(composers)),
		logging.Int("events", len(w.Trace().Events())))
	return w.Close()
}

// arcInfo counts the reasons an arc is up.
type arcInfo struct {
	score   int
	emitted bool
}

// refCounter tracks arc scores and emits UP on a 0->1 crossing and DOWN on
// a 1->0 crossing that are still in effect when flush runs.
type refCounter struct {
	w       *trace.Writer[model.ArcEvent, model.Arc]
	minTime int64
	infos   map[model.Arc]*arcInfo
	touched map[model.Arc]struct{}
	// fresh arcs came up during the current step and must wait for the
	// next flush.
	fresh map[model.Arc]struct{}
}

func newRefCounter(w *trace.Writer[model.ArcEvent, model.Arc], minTime int64) *refCounter {
	return &refCounter{
		w:       w,
		minTime: minTime,
		infos:   make(map[model.Arc]*arcInfo),
		touched: make(map[model.Arc]struct{}),
		fresh:   make(map[model.Arc]struct{}),
	}
}

func (r *refCounter) increment(a model.Arc) {
	info, ok := r.infos[a]
	if !ok {
		info = &arcInfo{}
		r.infos[a] = info
	}
	info.score++
	r.touched[a] = struct{}{}
}

// incrementFresh increments a and holds a 0->1 crossing back from the
// next flush.
func (r *refCounter) incrementFresh(a model.Arc) {
	r.increment(a)
	if info := r.infos[a]; info.score == 1 && !info.emitted {
		r.fresh[a] = struct{}{}
	}
}

func (r *refCounter) decrement(a model.Arc) {
	info, ok := r.infos[a]
	if !ok || info.score == 0 {
		panic(fmt.Sprintf("adding reachable: decrement of untracked arc %v", a))
	}
	info.score--
	r.touched[a] = struct{}{}
}

// flush writes the pending crossings at time t. The first flush at or
// after the minimum time writes the initial state instead.
func (r *refCounter) flush(t int64) error {
	if t < r.minTime {
		r.releaseFresh()
		return nil
	}
	if !r.w.InitStateSet() {
		var init []model.Arc
		for a, info := range r.infos {
			if _, isFresh := r.fresh[a]; isFresh {
				continue
			}
			if info.score > 0 {
				info.emitted = true
				init = append(init, a)
			} else {
				delete(r.infos, a)
			}
			delete(r.touched, a)
		}
		slices.SortFunc(init, adjacency.Compare[model.Arc])
		r.releaseFresh()
		return r.w.SetInitState(t, init)
	}

	arcs := make([]model.Arc, 0, len(r.touched))
	for a := range r.touched {
		if _, isFresh := r.fresh[a]; !isFresh {
			arcs = append(arcs, a)
		}
	}
	slices.SortFunc(arcs, adjacency.Compare[model.Arc])
	var ups, downs []model.Arc
	for _, a := range arcs {
		delete(r.touched, a)
		info := r.infos[a]
		switch {
		case info.score > 0 && !info.emitted:
			info.emitted = true
			ups = append(ups, a)
		case info.score == 0 && info.emitted:
			delete(r.infos, a)
			downs = append(downs, a)
		case info.score == 0:
			delete(r.infos, a)
		}
	}
	for _, a := range ups {
		if err := r.w.Append(t, model.UpEvent(a)); err != nil {
			return err
		}
	}
	for _, a := range downs {
		if err := r.w.Append(t, model.DownEvent(a)); err != nil {
			return err
		}
	}
	r.releaseFresh()
	return nil
}

func (r *refCounter) releaseFresh() {
	for a := range r.fresh {
		r.touched[a] = struct{}{}
	}
	clear(r.fresh)
}

// composer joins one delta member with one look-ahead mu member.
type composer struct {
	deltaReader *trace.StatefulReader[model.ArcEvent, model.Arc]
	muReader    *trace.StatefulReader[model.ArcEvent, model.Arc]

	// Events received since the last step.
	deltaUps, deltaDowns, muUps, muDowns []model.Arc

	direct *adjacency.Set[model.Arc]
	// Waypoints: deltaRev holds b->a for every delta arc a->b, mu holds
	// every mu arc b->c.
	deltaRev *adjacency.Set[model.Arc]
	mu       *adjacency.Set[model.Arc]
}

func newComposer(delta, mu *trace.Trace[model.ArcEvent, model.Arc], shift int64) *composer {
	c := &composer{
		deltaReader: delta.NewReader(timectrl.DefaultPriority),
		muReader:    mu.NewReader(timectrl.DefaultPriority),
		direct:      adjacency.NewSet(model.Arcs),
		deltaRev:    adjacency.NewSet(model.Arcs),
		mu:          adjacency.NewSet(model.Arcs),
	}
	c.muReader.SetShift(shift)

	c.deltaReader.StateBus().Listen(func(_ int64, states []model.Arc) error {
		c.deltaUps = append(c.deltaUps, states...)
		return nil
	})
	c.deltaReader.Bus().Listen(func(_ int64, evs []model.ArcEvent) error {
		for _, ev := range evs {
			if ev.Up {
				c.deltaUps = append(c.deltaUps, ev.Couple)
			} else {
				c.deltaDowns = append(c.deltaDowns, ev.Couple)
			}
		}
		return nil
	})
	c.muReader.StateBus().Listen(func(_ int64, states []model.Arc) error {
		c.muUps = append(c.muUps, states...)
		return nil
	})
	c.muReader.Bus().Listen(func(_ int64, evs []model.ArcEvent) error {
		for _, ev := range evs {
			if ev.Up {
				c.muUps = append(c.muUps, ev.Couple)
			} else {
				c.muDowns = append(c.muDowns, ev.Couple)
			}
		}
		return nil
	})
	return c
}

func (c *composer) register(r *timectrl.Runner) {
	r.Add(c.deltaReader)
	r.Add(c.muReader)
}

// processDeltaUps counts every new delta arc as a direct reason.
func (c *composer) processDeltaUps(refs *refCounter) {
	for _, a := range c.deltaUps {
		if a.From != a.To && c.direct.Add(a) {
			refs.incrementFresh(a)
		}
	}
}

// processJourneyUps adds new delta and mu arcs to the waypoints and counts
// every two-hop journey they complete.
func (c *composer) processJourneyUps(refs *refCounter) {
	for _, a := range c.deltaUps {
		if a.From == a.To || !c.deltaRev.Add(a.Reverse()) {
			continue
		}
		for to := range c.mu.Next(a.To) {
			if to != a.From {
				refs.increment(model.NewArc(a.From, to))
			}
		}
	}
	for _, m := range c.muUps {
		if m.From == m.To || !c.mu.Add(m) {
			continue
		}
		for from := range c.deltaRev.Next(m.From) {
			if from != m.To {
				refs.increment(model.NewArc(from, m.To))
			}
		}
	}
	c.deltaUps, c.muUps = c.deltaUps[:0], c.muUps[:0]
}

// processDowns releases the journeys through removed mu arcs, then
// through removed delta arcs, then the direct reasons.
func (c *composer) processDowns(refs *refCounter) {
	for _, m := range c.muDowns {
		if !c.mu.Remove(m) {
			continue
		}
		for from := range c.deltaRev.Next(m.From) {
			if from != m.To {
				refs.decrement(model.NewArc(from, m.To))
			}
		}
	}
	for _, a := range c.deltaDowns {
		if c.deltaRev.Remove(a.Reverse()) {
			for to := range c.mu.Next(a.To) {
				if to != a.From {
					refs.decrement(model.NewArc(a.From, to))
				}
			}
		}
		if c.direct.Remove(a) {
			refs.decrement(a)
		}
	}
	c.muDowns, c.deltaDowns = c.muDowns[:0], c.deltaDowns[:0]
}
