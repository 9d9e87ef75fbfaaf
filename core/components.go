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

// ConnectedComponents tracks the connected components of an undirected
// couple trace and writes them as a groups trace. Components are merged
// smaller-into-larger and split by carving out the smaller piece.
type ConnectedComponents[C model.Couple] struct {
	Store  *trace.Store
	Input  string
	Output string

	name   string
	inType trace.Type[model.CoupleEvent[C], C]
}

// NewEdgesToConnectedComponents converts an edges trace.
func NewEdgesToConnectedComponents(store *trace.Store, input, output string) *ConnectedComponents[model.Edge] {
	return &ConnectedComponents[model.Edge]{Store: store, Input: input, Output: output,
		name: "edges_to_connected_components", inType: trace.Edges}
}

// NewLinksToConnectedComponents converts a links trace.
func NewLinksToConnectedComponents(store *trace.Store, input, output string) *ConnectedComponents[model.Link] {
	return &ConnectedComponents[model.Link]{Store: store, Input: input, Output: output,
		name: "links_to_connected_components", inType: trace.Links}
}

func (c *ConnectedComponents[C]) Name() string { return c.name }

func (c *ConnectedComponents[C]) Convert(ctx context.Context) error {
	in, err := openInput(c.Store, c.inType, c.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(c.Store, trace.Groups, c.Output)
	if err != nil {
		return err
	}
	copyProperties(w, in.Properties(), trace.PropEta, trace.PropTimeUnit)

	ct := newComponentTracker()
	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []C) error {
		for _, s := range states {
			if s.First() != s.Second() {
				ct.adj.Add(model.NewLink(s.First(), s.Second()))
			}
		}
		ct.buildForest()
		return w.SetInitState(t, ct.state())
	})
	r.Bus().Listen(func(t int64, evs []model.CoupleEvent[C]) error {
		if err := ensureInit(w, in.MinTime(), nil); err != nil {
			return err
		}
		for _, ev := range evs {
			a, b := ev.Couple.First(), ev.Couple.Second()
			var out []model.GroupEvent
			if ev.Up {
				out = ct.add(a, b)
			} else {
				out = ct.remove(a, b)
			}
			if err := w.AppendAll(t, out); err != nil {
				return err
			}
		}
		return nil
	})

	runner := timectrl.NewRunner(span(in.MinTime(), in.MaxTime()), in.MinTime(), in.MaxTime())
	runner.Add(r)
	if err := runner.Run(ctx); err != nil {
		return err
	}
	if err := ensureInit(w, in.MinTime(), nil); err != nil {
		return err
	}
	w.SetMaxTime(in.MaxTime())
	loggerFrom(ctx).Info(ctx, "components written",
		logging.String("output", c.Output),
		logging.Int("groups", len(ct.groups)),
		logging.Int("events", len(w.Trace().Events())))
	return w.Close()
}

// componentTracker is an explicitly materialized partition of the nodes
// with at least one link. Every mutation returns the group events that
// describe it.
type componentTracker struct {
	adj     *adjacency.Set[model.Link]
	groups  map[int]map[int]struct{}
	nodeGID map[int]int
	nextGID int
}

func newComponentTracker() *componentTracker {
	return &componentTracker{
		adj:     adjacency.NewSet(model.Links),
		groups:  make(map[int]map[int]struct{}),
		nodeGID: make(map[int]int),
	}
}

func (ct *componentTracker) newGroup(members map[int]struct{}) int {
	gid := ct.nextGID
	ct.nextGID++
	ct.groups[gid] = members
	for id := range members {
		ct.nodeGID[id] = gid
	}
	return gid
}

// buildForest assigns a group to every component of the current adjacency.
func (ct *componentTracker) buildForest() {
	for _, id := range ct.adj.Nodes() {
		if _, ok := ct.nodeGID[id]; ok {
			continue
		}
		ct.newGroup(ct.reach(id))
	}
}

// reach returns every node connected to from.
func (ct *componentTracker) reach(from int) map[int]struct{} {
	seen := map[int]struct{}{from: {}}
	queue := []int{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for next := range ct.adj.Next(id) {
			if _, ok := seen[next]; !ok {
				seen[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func (ct *componentTracker) state() []model.Group {
	u := trace.Groups.NewUpdater()
	states := make([]model.Group, 0, len(ct.groups))
	for gid, members := range ct.groups {
		states = append(states, model.Group{GID: gid, Members: model.SetIDs(members)})
	}
	u.SetState(states)
	return u.States()
}

func (ct *componentTracker) add(a, b int) []model.GroupEvent {
	if a == b || !ct.adj.Add(model.NewLink(a, b)) {
		return nil
	}
	ga, okA := ct.nodeGID[a]
	gb, okB := ct.nodeGID[b]
	switch {
	case !okA && !okB:
		gid := ct.newGroup(map[int]struct{}{a: {}, b: {}})
		return []model.GroupEvent{model.NewGroupEvent(gid), model.JoinEvent(gid, []int{a, b})}
	case !okB:
		return ct.join(ga, b)
	case !okA:
		return ct.join(gb, a)
	case ga == gb:
		return nil
	default:
		return ct.merge(ga, gb)
	}
}

func (ct *componentTracker) join(gid, id int) []model.GroupEvent {
	ct.groups[gid][id] = struct{}{}
	ct.nodeGID[id] = gid
	return []model.GroupEvent{model.JoinEvent(gid, []int{id})}
}

// merge absorbs the smaller group into the larger one. On equal sizes the
// lower group id survives.
func (ct *componentTracker) merge(ga, gb int) []model.GroupEvent {
	big, small := ga, gb
	if n, m := len(ct.groups[ga]), len(ct.groups[gb]); m > n || (m == n && gb < ga) {
		big, small = gb, ga
	}
	moved := model.SetIDs(ct.groups[small])
	for _, id := range moved {
		ct.groups[big][id] = struct{}{}
		ct.nodeGID[id] = big
	}
	delete(ct.groups, small)
	return []model.GroupEvent{
		model.LeaveEvent(small, moved),
		model.DeleteGroupEvent(small),
		model.JoinEvent(big, moved),
	}
}

func (ct *componentTracker) remove(a, b int) []model.GroupEvent {
	if a == b || !ct.adj.Remove(model.NewLink(a, b)) {
		return nil
	}
	gid, ok := ct.nodeGID[a]
	if !ok {
		panic(fmt.Sprintf("connected components: node %d is linked but in no component", a))
	}

	aAlone, bAlone := !ct.adj.HasNext(a), !ct.adj.HasNext(b)
	if aAlone || bAlone {
		var out []model.GroupEvent
		if aAlone {
			out = append(out, ct.leave(gid, a)...)
		}
		if bAlone {
			out = append(out, ct.leave(gid, b)...)
		}
		return out
	}

	members := ct.groups[gid]
	reached := ct.reach(a)
	if len(reached) == len(members) {
		return nil
	}
	rest := make(map[int]struct{}, len(members)-len(reached))
	for id := range members {
		if _, ok := reached[id]; !ok {
			rest[id] = struct{}{}
		}
	}
	carved := rest
	if len(reached) < len(rest) {
		carved = reached
	}
	for id := range carved {
		delete(members, id)
	}
	ids := model.SetIDs(carved)
	newGID := ct.newGroup(carved)
	return []model.GroupEvent{
		model.LeaveEvent(gid, ids),
		model.NewGroupEvent(newGID),
		model.JoinEvent(newGID, ids),
	}
}

// leave evicts a node that lost its last link.
func (ct *componentTracker) leave(gid, id int) []model.GroupEvent {
	members := ct.groups[gid]
	delete(members, id)
	delete(ct.nodeGID, id)
	out := []model.GroupEvent{model.LeaveEvent(gid, []int{id})}
	if len(members) == 0 {
		delete(ct.groups, gid)
		out = append(out, model.DeleteGroupEvent(gid))
	}
	return out
}
