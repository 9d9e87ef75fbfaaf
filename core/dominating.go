package core

import (
	"context"
	"slices"

	"github.com/signalsfoundry/contact-traces/adjacency"
	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// DominatingSetGID is the id of the single group a dominating set trace
// holds.
const DominatingSetGID = 0

// DominatingSet maintains a greedy approximate minimum dominating set of a
// couple trace, recomputed from scratch after every instant that changed
// the graph. Undirected couples dominate both ways.
//
// Present nodes come from the Presence trace when set, otherwise from the
// nodes with at least one couple.
type DominatingSet[C model.Couple] struct {
	Store    *trace.Store
	Input    string
	Presence string
	Output   string

	name   string
	inType trace.Type[model.CoupleEvent[C], C]
	kind   model.Kind[C]
}

// NewEdgesToDominatingSet converts an edges trace.
func NewEdgesToDominatingSet(store *trace.Store, input, output string) *DominatingSet[model.Edge] {
	return &DominatingSet[model.Edge]{Store: store, Input: input, Output: output,
		name: "edges_to_dominating_set", inType: trace.Edges, kind: model.Edges}
}

// NewArcsToDominatingSet converts an arcs trace.
func NewArcsToDominatingSet(store *trace.Store, input, output string) *DominatingSet[model.Arc] {
	return &DominatingSet[model.Arc]{Store: store, Input: input, Output: output,
		name: "arcs_to_dominating_set", inType: trace.Arcs, kind: model.Arcs}
}

func (d *DominatingSet[C]) Name() string { return d.name }

func (d *DominatingSet[C]) Convert(ctx context.Context) error {
	in, err := openInput(d.Store, d.inType, d.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(d.Store, trace.Groups, d.Output)
	if err != nil {
		return err
	}
	copyProperties(w, in.Properties(), trace.PropEta, trace.PropTimeUnit)

	g := newDominationGraph()
	dirty := true
	minTime, maxTime := in.MinTime(), in.MaxTime()

	apply := func(c C, up bool) {
		a, b := c.First(), c.Second()
		if a == b {
			return
		}
		if up {
			g.addArc(a, b)
			if !d.kind.Directed {
				g.addArc(b, a)
			}
		} else {
			g.removeArc(a, b)
			if !d.kind.Directed {
				g.removeArc(b, a)
			}
		}
		dirty = true
	}

	runner := timectrl.NewRunner(stepOf(in.Properties()), minTime, maxTime)
	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(_ int64, states []C) error {
		for _, c := range states {
			apply(c, true)
		}
		return nil
	})
	r.Bus().Listen(func(_ int64, evs []model.CoupleEvent[C]) error {
		for _, ev := range evs {
			apply(ev.Couple, ev.Up)
		}
		return nil
	})
	runner.Add(r)

	if d.Presence != "" {
		g.explicit = true
		pin, err := openInput(d.Store, trace.Presence, d.Presence)
		if err != nil {
			return err
		}
		pr := pin.NewReader(timectrl.DefaultPriority)
		pr.StateBus().Listen(func(_ int64, states []model.Presence) error {
			for _, p := range states {
				g.present[p.ID] = struct{}{}
			}
			dirty = true
			return nil
		})
		pr.Bus().Listen(func(_ int64, evs []model.PresenceEvent) error {
			for _, ev := range evs {
				if ev.In {
					g.present[ev.ID] = struct{}{}
				} else {
					delete(g.present, ev.ID)
				}
			}
			dirty = true
			return nil
		})
		runner.Add(pr)
	}

	var current []int
	recomputes := 0
	runner.Add(timectrl.NewTicker(timectrl.LowestPriority, func(now int64) error {
		if !dirty {
			return nil
		}
		dirty = false
		recomputes++
		next := g.dominatingSet(current)
		if !w.InitStateSet() {
			current = next
			return w.SetInitState(now, []model.Group{{GID: DominatingSetGID, Members: next}})
		}
		joined, left := diffSorted(current, next)
		current = next
		if len(joined) > 0 {
			if err := w.Append(now, model.JoinEvent(DominatingSetGID, joined)); err != nil {
				return err
			}
		}
		if len(left) > 0 {
			if err := w.Append(now, model.LeaveEvent(DominatingSetGID, left)); err != nil {
				return err
			}
		}
		return nil
	}))

	if err := runner.Run(ctx); err != nil {
		return err
	}
	w.SetMaxTime(maxTime)
	loggerFrom(ctx).Info(ctx, "dominating set written",
		logging.String("output", d.Output),
		logging.Int("recomputations", recomputes),
		logging.Int("final_size", len(current)))
	return w.Close()
}

// dominationGraph is a directed graph where an arc a->b means a covers b.
type dominationGraph struct {
	out      *adjacency.Set[model.Arc]
	in       *adjacency.Set[model.Arc] // reversed arcs
	present  map[int]struct{}
	explicit bool
}

func newDominationGraph() *dominationGraph {
	return &dominationGraph{
		out:     adjacency.NewSet(model.Arcs),
		in:      adjacency.NewSet(model.Arcs),
		present: make(map[int]struct{}),
	}
}

func (g *dominationGraph) addArc(a, b int) {
	g.out.Add(model.NewArc(a, b))
	g.in.Add(model.NewArc(b, a))
}

func (g *dominationGraph) removeArc(a, b int) {
	g.out.Remove(model.NewArc(a, b))
	g.in.Remove(model.NewArc(b, a))
}

func (g *dominationGraph) nodes() []int {
	if g.explicit {
		return model.SetIDs(g.present)
	}
	set := make(map[int]struct{})
	for _, id := range g.out.Nodes() {
		set[id] = struct{}{}
	}
	for _, id := range g.in.Nodes() {
		set[id] = struct{}{}
	}
	return model.SetIDs(set)
}

// dominatingSet runs the greedy heuristic. Nodes without incoming arcs are
// taken first; then the node covering the most uncovered nodes is taken
// repeatedly, preferring members of prev, then the lowest id.
func (g *dominationGraph) dominatingSet(prev []int) []int {
	nodes := g.nodes()
	present := make(map[int]struct{}, len(nodes))
	for _, id := range nodes {
		present[id] = struct{}{}
	}
	wasMember := make(map[int]struct{}, len(prev))
	for _, id := range prev {
		wasMember[id] = struct{}{}
	}

	covered := make(map[int]struct{}, len(nodes))
	chosen := make(map[int]struct{})
	cover := func(x int) {
		chosen[x] = struct{}{}
		covered[x] = struct{}{}
		for y := range g.out.Next(x) {
			if _, ok := present[y]; ok {
				covered[y] = struct{}{}
			}
		}
	}

	for _, x := range nodes {
		hasIn := false
		for y := range g.in.Next(x) {
			if _, ok := present[y]; ok {
				hasIn = true
				break
			}
		}
		if !hasIn {
			cover(x)
		}
	}

	// remainder[x] counts uncovered nodes among out(x) and x itself;
	// buckets index candidates by that count.
	remainder := make(map[int]int)
	buckets := make(map[int]map[int]struct{})
	move := func(x, from, to int) {
		if from > 0 {
			delete(buckets[from], x)
		}
		if to > 0 {
			if buckets[to] == nil {
				buckets[to] = make(map[int]struct{})
			}
			buckets[to][x] = struct{}{}
		}
		remainder[x] = to
	}
	isUncovered := func(y int) bool {
		if _, ok := present[y]; !ok {
			return false
		}
		_, ok := covered[y]
		return !ok
	}
	largest := 0
	for _, x := range nodes {
		if _, ok := chosen[x]; ok {
			continue
		}
		n := 0
		if isUncovered(x) {
			n++
		}
		for y := range g.out.Next(x) {
			if isUncovered(y) {
				n++
			}
		}
		move(x, 0, n)
		largest = max(largest, n)
	}

	// markCovered updates the remainders of everything that covers y.
	markCovered := func(y int) {
		covered[y] = struct{}{}
		update := func(z int) {
			if n, ok := remainder[z]; ok && n > 0 {
				move(z, n, n-1)
			}
		}
		update(y)
		for z := range g.in.Next(y) {
			update(z)
		}
	}

	for largest > 0 {
		bucket := buckets[largest]
		if len(bucket) == 0 {
			largest--
			continue
		}
		pick, pickPrev := -1, false
		for x := range bucket {
			_, isPrev := wasMember[x]
			if pick < 0 || (isPrev && !pickPrev) || (isPrev == pickPrev && x < pick) {
				pick, pickPrev = x, isPrev
			}
		}
		move(pick, largest, 0)
		delete(remainder, pick)
		chosen[pick] = struct{}{}
		if isUncovered(pick) {
			markCovered(pick)
		}
		for y := range g.out.Next(pick) {
			if isUncovered(y) {
				markCovered(y)
			}
		}
	}
	return model.SetIDs(chosen)
}

// diffSorted returns the ids in next but not in prev, and those in prev but
// not in next. Both inputs are sorted.
func diffSorted(prev, next []int) (joined, left []int) {
	for _, id := range next {
		if _, found := slices.BinarySearch(prev, id); !found {
			joined = append(joined, id)
		}
	}
	for _, id := range prev {
		if _, found := slices.BinarySearch(next, id); !found {
			left = append(left, id)
		}
	}
	return joined, left
}
