package core

import (
	"context"

	"github.com/signalsfoundry/contact-traces/adjacency"
	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// ComponentsToReachable turns a groups trace into instantaneous
// reachability: every ordered pair of members of the same group is an arc.
// The events of one instant are applied together and only the net arc
// changes are written, UPs first.
type ComponentsToReachable struct {
	Store  *trace.Store
	Input  string
	Output string
}

// NewComponentsToReachable returns a ComponentsToReachable converter.
func NewComponentsToReachable(store *trace.Store, input, output string) *ComponentsToReachable {
	return &ComponentsToReachable{Store: store, Input: input, Output: output}
}

func (c *ComponentsToReachable) Name() string { return "components_to_reachable" }

func (c *ComponentsToReachable) Convert(ctx context.Context) error {
	in, err := openInput(c.Store, trace.Groups, c.Input)
	if err != nil {
		return err
	}
	w, err := createOutput(c.Store, trace.Reachability, c.Output)
	if err != nil {
		return err
	}
	copyProperties(w, in.Properties(), trace.PropTimeUnit)
	w.SetPropertyInt(trace.PropEta, stepOf(in.Properties()))
	w.SetPropertyInt(trace.PropTau, 0)
	w.SetPropertyInt(trace.PropDelay, 0)

	groups := make(map[int]map[int]struct{})
	nodeGID := make(map[int]int)

	// arcsOf adds to set every arc between id and the rest of its group.
	arcsOf := func(set *adjacency.Set[model.Arc], id int) {
		gid, ok := nodeGID[id]
		if !ok {
			return
		}
		for other := range groups[gid] {
			if other != id {
				set.Add(model.NewArc(id, other))
				set.Add(model.NewArc(other, id))
			}
		}
	}
	apply := func(ev model.GroupEvent) {
		switch ev.Type {
		case model.GroupNew:
			groups[ev.GID] = make(map[int]struct{})
		case model.GroupJoin:
			members, ok := groups[ev.GID]
			if !ok {
				members = make(map[int]struct{})
				groups[ev.GID] = members
			}
			for _, id := range ev.Members {
				members[id] = struct{}{}
				nodeGID[id] = ev.GID
			}
		case model.GroupLeave:
			for _, id := range ev.Members {
				delete(groups[ev.GID], id)
				if nodeGID[id] == ev.GID {
					delete(nodeGID, id)
				}
			}
		case model.GroupDelete:
			delete(groups, ev.GID)
		}
	}

	r := in.NewReader(timectrl.DefaultPriority)
	r.StateBus().Listen(func(t int64, states []model.Group) error {
		all := adjacency.NewSet(model.Arcs)
		for _, g := range states {
			apply(model.JoinEvent(g.GID, g.Members))
		}
		for id := range nodeGID {
			arcsOf(all, id)
		}
		return w.SetInitState(t, all.Couples())
	})
	r.Bus().Listen(func(t int64, evs []model.GroupEvent) error {
		if err := ensureInit(w, in.MinTime(), nil); err != nil {
			return err
		}
		touched := make(map[int]struct{})
		for _, ev := range evs {
			for _, id := range ev.Members {
				touched[id] = struct{}{}
			}
		}
		before := adjacency.NewSet(model.Arcs)
		for id := range touched {
			arcsOf(before, id)
		}
		for _, ev := range evs {
			apply(ev)
		}
		after := adjacency.NewSet(model.Arcs)
		for id := range touched {
			arcsOf(after, id)
		}
		for _, a := range after.Couples() {
			if !before.Contains(a) {
				if err := w.Append(t, model.UpEvent(a)); err != nil {
					return err
				}
			}
		}
		for _, a := range before.Couples() {
			if !after.Contains(a) {
				if err := w.Append(t, model.DownEvent(a)); err != nil {
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
	if err := ensureInit(w, in.MinTime(), nil); err != nil {
		return err
	}
	w.SetMaxTime(in.MaxTime())
	loggerFrom(ctx).Info(ctx, "reachability written",
		logging.String("output", c.Output),
		logging.Int("events", len(w.Trace().Events())))
	return w.Close()
}
