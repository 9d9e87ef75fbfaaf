package core

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/signalsfoundry/contact-traces/adjacency"
	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// rangeTolerance absorbs rounding at the exact meeting instants.
const rangeTolerance = 1e-9

// MovementToEdges turns a movement trace into the edges trace of nodes
// within Range of each other. Contacts start at the first integer time
// the pair is in range and end at the first integer time it is not.
//
// With LineOfSight set, positions are ECEF kilometres and a pair only
// comes up if the segment between them clears the Earth at that time.
// A moving pair in range is then re-checked every time unit, so the
// contact follows the Earth's shadow at integer times.
type MovementToEdges struct {
	Store       *trace.Store
	Input       string
	Output      string
	Range       float64
	LineOfSight bool

	retracted int
}

// NewMovementToEdges returns a MovementToEdges converter.
func NewMovementToEdges(store *trace.Store, input, output string, rng float64) *MovementToEdges {
	return &MovementToEdges{Store: store, Input: input, Output: output, Range: rng}
}

func (m *MovementToEdges) Name() string { return "movement_to_edges" }

// Retracted returns how many scheduled pair checks were invalidated by
// movement changes.
func (m *MovementToEdges) Retracted() int { return m.retracted }

// contactCheck asks for the pair to be re-evaluated.
type contactCheck struct {
	edge model.Edge
}

func (m *MovementToEdges) Convert(ctx context.Context) error {
	if m.Range <= 0 {
		return fmt.Errorf("%w: range %g", ErrBadParameter, m.Range)
	}
	in, err := openInput(m.Store, trace.Movements, m.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(m.Store, trace.Edges, m.Output)
	if err != nil {
		return err
	}
	copyProperties(w, in.Properties(), trace.PropTimeUnit, trace.PropEta)
	w.SetProperty(trace.PropRange, strconv.FormatFloat(m.Range, 'g', -1, 64))

	minTime, maxTime := in.MinTime(), in.MaxTime()
	tr := &contactTracker{
		rng:    m.Range,
		los:    m.LineOfSight,
		nodes:  make(map[int]model.Movement),
		up:     adjacency.NewSet(model.Edges),
		checks: timectrl.NewBus[contactCheck](),
		wakes:  timectrl.NewBus[int](),
	}
	emit := func(t int64, e model.Edge, up bool) error {
		if !w.InitStateSet() {
			return nil
		}
		if up {
			return w.Append(t, model.UpEvent(e))
		}
		return w.Append(t, model.DownEvent(e))
	}
	tr.emit = emit

	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []model.Movement) error {
		for _, mv := range states {
			tr.nodes[mv.ID] = mv
		}
		for _, mv := range states {
			if err := tr.refresh(t, mv.ID); err != nil {
				return err
			}
		}
		return w.SetInitState(t, tr.up.Couples())
	})
	r.Bus().Listen(func(t int64, evs []model.MovementEvent) error {
		for _, ev := range evs {
			switch ev.Type {
			case model.MovementIn:
				tr.nodes[ev.ID] = model.Stationary(ev.ID, ev.Pos, t)
			case model.MovementNewDest:
				mv, ok := tr.nodes[ev.ID]
				if !ok {
					continue
				}
				tr.nodes[ev.ID] = mv.Redirect(t, ev.Dest, ev.Speed)
			case model.MovementOut:
				if err := tr.leave(t, ev.ID); err != nil {
					return err
				}
				continue
			}
			if err := tr.refresh(t, ev.ID); err != nil {
				return err
			}
		}
		return nil
	})
	tr.wakes.Listen(func(t int64, ids []int) error {
		for _, id := range ids {
			if _, ok := tr.nodes[id]; ok {
				if err := tr.refresh(t, id); err != nil {
					return err
				}
			}
		}
		return nil
	})
	tr.checks.Listen(func(t int64, evs []contactCheck) error {
		for _, ev := range evs {
			if err := tr.check(t, ev.edge.ID1, ev.edge.ID2); err != nil {
				return err
			}
		}
		return nil
	})

	runner := timectrl.NewRunner(span(minTime, maxTime), minTime, maxTime)
	runner.Add(r)
	// Arrivals re-plan a node before any pair check of the same instant.
	runner.Add(timectrl.NewLocal(timectrl.DefaultPriority+1, tr.wakes))
	runner.Add(timectrl.NewLocal(timectrl.DefaultPriority+2, tr.checks))
	if err := runner.Run(ctx); err != nil {
		return err
	}
	if err := ensureInit(w, minTime, nil); err != nil {
		return err
	}
	m.retracted = tr.retracted
	w.SetMaxTime(maxTime)
	loggerFrom(ctx).Info(ctx, "contacts written",
		logging.String("output", m.Output),
		logging.Int("nodes", len(tr.nodes)),
		logging.Int("events", len(w.Trace().Events())),
		logging.Int("retracted", tr.retracted))
	return w.Close()
}

// contactTracker keeps node movements and the set of pairs in range.
type contactTracker struct {
	rng  float64
	los  bool
	emit func(t int64, e model.Edge, up bool) error

	nodes     map[int]model.Movement
	up        *adjacency.Set[model.Edge]
	checks    *timectrl.Bus[contactCheck]
	wakes     *timectrl.Bus[int]
	retracted int
}

// inRange reports whether a and b are within range at t and, separately,
// whether they also have line of sight when that is required.
func (c *contactTracker) inRange(t int64, a, b model.Movement) (near, linked bool) {
	pa, pb := a.PositionAt(float64(t)), b.PositionAt(float64(t))
	if pa.DistanceTo(pb) > c.rng*(1+rangeTolerance)+rangeTolerance {
		return false, false
	}
	return true, !c.los || model.LineOfSight(pa, pb)
}

// refresh re-plans node id after its movement changed at t.
func (c *contactTracker) refresh(t int64, id int) error {
	c.retracted += c.wakes.RetractIf(func(_ int64, other int) bool { return other == id })
	if arrival := c.nodes[id].Arrival(); arrival > float64(t) {
		c.wakes.Queue(int64(math.Ceil(arrival)), id)
	}
	others := make([]int, 0, len(c.nodes))
	for other := range c.nodes {
		if other != id {
			others = append(others, other)
		}
	}
	slices.Sort(others)
	for _, other := range others {
		if err := c.check(t, id, other); err != nil {
			return err
		}
	}
	return nil
}

// check brings the pair's edge in line with their distance at t and
// schedules the next time it can change.
func (c *contactTracker) check(t int64, a, b int) error {
	e := model.NewEdge(a, b)
	c.retracted += c.checks.RetractIf(func(_ int64, ev contactCheck) bool { return ev.edge == e })
	ma, okA := c.nodes[a]
	mb, okB := c.nodes[b]
	if !okA || !okB {
		return nil
	}

	near, now := c.inRange(t, ma, mb)
	switch {
	case now && c.up.Add(e):
		if err := c.emit(t, e, true); err != nil {
			return err
		}
	case !now && c.up.Remove(e):
		if err := c.emit(t, e, false); err != nil {
			return err
		}
	}

	// Line of sight can change while a moving pair stays in range.
	sweep := c.los && near && (ma.VelocityAt(float64(t)) != model.Vec3{} || mb.VelocityAt(float64(t)) != model.Vec3{})

	t1, t2, ok := model.MeetingTimes(ma, mb, c.rng, float64(t))
	var next int64
	switch {
	case !ok && !sweep:
		return nil
	case !ok || sweep:
		next = t + 1
	case near:
		next = int64(math.Floor(t2)) + 1
	default:
		if t1 <= float64(t) {
			return nil
		}
		next = int64(math.Ceil(t1))
		if float64(next) > t2 {
			// The pair is never in range at an integer time.
			return nil
		}
	}
	if next <= t {
		next = t + 1
	}
	c.checks.Queue(next, contactCheck{edge: e})
	return nil
}

// leave removes id and brings down its edges.
func (c *contactTracker) leave(t int64, id int) error {
	if _, ok := c.nodes[id]; !ok {
		return nil
	}
	c.retracted += c.wakes.RetractIf(func(_ int64, other int) bool { return other == id })
	c.retracted += c.checks.RetractIf(func(_ int64, ev contactCheck) bool {
		return ev.edge.ID1 == id || ev.edge.ID2 == id
	})
	delete(c.nodes, id)
	for _, e := range c.up.Couples() {
		if e.ID1 != id && e.ID2 != id {
			continue
		}
		c.up.Remove(e)
		if err := c.emit(t, e, false); err != nil {
			return err
		}
	}
	return nil
}
