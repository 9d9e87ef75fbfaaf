package core

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

// assertDominates checks that members cover every node touched by arcs.
func assertDominates(t *testing.T, at int64, arcs []model.Arc, members []int) {
	t.Helper()
	covered := make(map[int]bool)
	for _, m := range members {
		covered[m] = true
	}
	for _, a := range arcs {
		if slices.Contains(members, a.From) {
			covered[a.To] = true
		}
	}
	for _, a := range arcs {
		for _, id := range []int{a.From, a.To} {
			if !covered[id] {
				t.Fatalf("t=%d: node %d not dominated by %v", at, id, members)
			}
		}
	}
}

func TestEdgesDominatingSetPrefersPreviousMembers(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 10, nil,
		[]model.Edge{model.NewEdge(1, 2), model.NewEdge(2, 3), model.NewEdge(3, 4), model.NewEdge(4, 5)},
		[]trace.Timed[model.EdgeEvent]{edgeUp(5, 5, 6)})

	if err := NewEdgesToDominatingSet(s, "edges", "ds").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Groups, "ds")
	if at, init := out.InitState(); at != 0 || fmt.Sprint(init) != "[0 [2 4]]" {
		t.Fatalf("init state = %d %v, want 0 [0 [2 4]]", at, init)
	}
	assertLog(t, eventLog(out), []string{"5:JOIN 0 [5]", "5:LEAVE 0 [4]"})

	in := mustOpen(t, s, trace.Edges, "edges")
	for _, at := range []int64{0, 4, 5, 10} {
		var arcs []model.Arc
		for _, e := range in.StateAt(at) {
			arcs = append(arcs, model.NewArc(e.ID1, e.ID2), model.NewArc(e.ID2, e.ID1))
		}
		groups := out.StateAt(at)
		if len(groups) != 1 || groups[0].GID != DominatingSetGID {
			t.Fatalf("t=%d: groups = %v, want the single dominating set group", at, groups)
		}
		assertDominates(t, at, arcs, groups[0].Members)
	}
}

func TestArcsDominatingSetWithPresence(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Arcs, "arcs", 0, 10, nil,
		[]model.Arc{model.NewArc(1, 2), model.NewArc(1, 3), model.NewArc(4, 3)}, nil)
	writeTrace(t, s, trace.Presence, "presence", 0, 10, nil,
		[]model.Presence{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 9}},
		[]trace.Timed[model.PresenceEvent]{{Time: 5, Event: model.PresenceEvent{ID: 9}}})

	ds := NewArcsToDominatingSet(s, "arcs", "ds")
	ds.Presence = "presence"
	if err := ds.Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Groups, "ds")
	if _, init := out.InitState(); fmt.Sprint(init) != "[0 [1 4 9]]" {
		t.Fatalf("init state = %v, want [0 [1 4 9]]", init)
	}
	assertLog(t, eventLog(out), []string{"5:LEAVE 0 [9]"})
}

func TestDominatingSetOfEmptyGraph(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 10, nil, nil, nil)
	if err := NewEdgesToDominatingSet(s, "edges", "ds").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Groups, "ds")
	if _, init := out.InitState(); fmt.Sprint(init) != "[0 []]" {
		t.Fatalf("init state = %v, want an empty group 0", init)
	}
	if n := len(out.Events()); n != 0 {
		t.Fatalf("got %d events, want none", n)
	}
}
