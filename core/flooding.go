package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/contact-traces/adjacency"
	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// infection is a pending hop of the epidemic started at origin.
type infection struct {
	origin int
	hop    model.Arc
}

// FloodingReachable computes reachability under epidemic flooding. Every
// Delay period a round starts: each present node infects itself and every
// hop along an up couple takes Tau. The arcs (origin, node) reached during
// a round are committed at the next round boundary, stamped at the round's
// start, as a diff against the output's current state.
type FloodingReachable[C model.Couple] struct {
	Store    *trace.Store
	Input    string
	Presence string
	Output   string
	Tau      int64
	Delay    int64

	name   string
	inType trace.Type[model.CoupleEvent[C], C]

	retracted int
}

// NewEdgesFlooding floods over an edges trace.
func NewEdgesFlooding(store *trace.Store, input, output string, tau, delay int64) *FloodingReachable[model.Edge] {
	return &FloodingReachable[model.Edge]{Store: store, Input: input, Output: output, Tau: tau, Delay: delay,
		name: "edges_flooding", inType: trace.Edges}
}

// NewLinksFlooding floods over a links trace.
func NewLinksFlooding(store *trace.Store, input, output string, tau, delay int64) *FloodingReachable[model.Link] {
	return &FloodingReachable[model.Link]{Store: store, Input: input, Output: output, Tau: tau, Delay: delay,
		name: "links_flooding", inType: trace.Links}
}

func (f *FloodingReachable[C]) Name() string { return f.name }

// Retracted returns how many pending infections were cancelled by couples
// going down.
func (f *FloodingReachable[C]) Retracted() int { return f.retracted }

func (f *FloodingReachable[C]) Convert(ctx context.Context) error {
	if f.Tau < 0 || f.Delay <= 0 {
		return fmt.Errorf("%w: tau=%d delay=%d", ErrBadParameter, f.Tau, f.Delay)
	}
	in, err := openInput(f.Store, f.inType, f.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(f.Store, trace.Reachability, f.Output)
	if err != nil {
		return err
	}
	eta := stepOf(in.Properties())
	copyProperties(w, in.Properties(), trace.PropTimeUnit)
	w.SetPropertyInt(trace.PropTau, f.Tau)
	w.SetPropertyInt(trace.PropEta, eta)
	w.SetPropertyInt(trace.PropDelay, f.Delay)

	fl := &flood{
		tau:       f.Tau,
		matrix:    adjacency.NewSet(model.Links),
		revMatrix: adjacency.NewSet(model.Arcs),
		state:     adjacency.NewSet(model.Arcs),
		bus:       timectrl.NewBus[infection](),
		present:   make(map[int]struct{}),
		explicit:  f.Presence != "",
	}
	fl.bus.Listen(func(t int64, evs []infection) error {
		for _, inf := range evs {
			fl.infect(t, inf.origin, inf.hop.To)
		}
		return nil
	})

	minTime, maxTime := in.MinTime(), in.MaxTime()
	runner := timectrl.NewRunner(eta, minTime, maxTime)

	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []C) error {
		for _, c := range states {
			fl.linkUp(t, c.First(), c.Second())
		}
		return nil
	})
	r.Bus().Listen(func(t int64, evs []model.CoupleEvent[C]) error {
		for _, ev := range evs {
			if ev.Up {
				fl.linkUp(t, ev.Couple.First(), ev.Couple.Second())
			} else {
				f.retracted += fl.linkDown(ev.Couple.First(), ev.Couple.Second())
			}
		}
		return nil
	})
	runner.Add(r)

	if f.Presence != "" {
		pin, err := openInput(f.Store, trace.Presence, f.Presence)
		if err != nil {
			return err
		}
		pr := pin.NewReader(timectrl.DefaultPriority)
		pr.StateBus().Listen(func(_ int64, states []model.Presence) error {
			for _, p := range states {
				fl.present[p.ID] = struct{}{}
			}
			return nil
		})
		pr.Bus().Listen(func(_ int64, evs []model.PresenceEvent) error {
			for _, ev := range evs {
				if ev.In {
					fl.present[ev.ID] = struct{}{}
				} else {
					delete(fl.present, ev.ID)
				}
			}
			return nil
		})
		runner.Add(pr)
	}

	roundStart, nextRound, started, rounds := int64(0), minTime, false, 0
	commit := func() error {
		rounds++
		if !w.InitStateSet() {
			return w.SetInitState(roundStart, fl.state.Couples())
		}
		ref := adjacency.NewSet(model.Arcs)
		ref.AddAll(w.ReferenceState())
		for _, a := range fl.state.Couples() {
			if !ref.Contains(a) {
				if err := w.Append(roundStart, model.UpEvent(a)); err != nil {
					return err
				}
			}
		}
		for _, a := range ref.Couples() {
			if !fl.state.Contains(a) {
				if err := w.Append(roundStart, model.DownEvent(a)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// Infections land after every topology change of the same instant and
	// before the round boundary tick.
	runner.Add(timectrl.NewLocal(timectrl.LowestPriority, fl.bus))
	runner.Add(timectrl.NewTicker(timectrl.LowestPriority, func(now int64) error {
		if now < nextRound {
			return nil
		}
		if started {
			if err := commit(); err != nil {
				return err
			}
		}
		fl.reseed(now)
		roundStart, started = now, true
		for nextRound <= now {
			nextRound += f.Delay
		}
		return nil
	}))

	if err := runner.Run(ctx); err != nil {
		return err
	}
	if !w.InitStateSet() {
		// The trace is shorter than one round.
		if err := w.SetInitState(minTime, fl.state.Couples()); err != nil {
			return err
		}
	}
	w.SetMaxTime(maxTime)
	loggerFrom(ctx).Info(ctx, "flooding reachability written",
		logging.String("output", f.Output),
		logging.Int("rounds", rounds),
		logging.Int("retracted", f.retracted),
		logging.Int("events", len(w.Trace().Events())))
	return w.Close()
}

// flood is the per-round epidemic state.
type flood struct {
	tau       int64
	matrix    *adjacency.Set[model.Link]
	revMatrix *adjacency.Set[model.Arc] // node -> origins that reached it
	state     *adjacency.Set[model.Arc] // origin -> reached node
	bus       *timectrl.Bus[infection]
	present   map[int]struct{}
	explicit  bool
}

func (fl *flood) infected(node, origin int) bool {
	return fl.revMatrix.Contains(model.NewArc(node, origin))
}

// infect marks node as reached by origin at t and schedules hops to every
// neighbor origin has not reached yet.
func (fl *flood) infect(t int64, origin, node int) {
	if !fl.revMatrix.Add(model.NewArc(node, origin)) {
		return
	}
	fl.state.Add(model.NewArc(origin, node))
	for next := range fl.matrix.Next(node) {
		if !fl.infected(next, origin) {
			fl.bus.Queue(t+fl.tau, infection{origin: origin, hop: model.NewArc(node, next)})
		}
	}
}

func (fl *flood) linkUp(t int64, a, b int) {
	if a == b || !fl.matrix.Add(model.NewLink(a, b)) {
		return
	}
	for _, hop := range [][2]int{{a, b}, {b, a}} {
		from, to := hop[0], hop[1]
		for origin := range fl.revMatrix.Next(from) {
			if !fl.infected(to, origin) {
				fl.bus.Queue(t+fl.tau, infection{origin: origin, hop: model.NewArc(from, to)})
			}
		}
	}
}

// linkDown cancels every pending hop over the link and returns how many
// were cancelled.
func (fl *flood) linkDown(a, b int) int {
	if !fl.matrix.Remove(model.NewLink(a, b)) {
		return 0
	}
	link := model.NewLink(a, b)
	return fl.bus.RetractIf(func(_ int64, inf infection) bool {
		return model.NewLink(inf.hop.From, inf.hop.To) == link
	})
}

func (fl *flood) nodes() []int {
	if fl.explicit {
		return model.SetIDs(fl.present)
	}
	return fl.matrix.Nodes()
}

// reseed discards the round and lets every present node infect itself.
func (fl *flood) reseed(t int64) {
	fl.bus.Reset()
	fl.revMatrix.Clear()
	fl.state.Clear()
	for _, id := range fl.nodes() {
		fl.infect(t, id, id)
	}
}
