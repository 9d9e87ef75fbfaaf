package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

func TestArcsToEdgesKeepsEdgeWhileEitherArcIsUp(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Arcs, "arcs", 0, 20, nil,
		[]model.Arc{model.NewArc(2, 1)},
		[]trace.Timed[model.ArcEvent]{
			arcUp(3, 1, 2),
			arcDown(5, 2, 1),
			arcDown(8, 1, 2),
			arcUp(9, 4, 3),
		})

	if err := NewArcsToEdges(s, "arcs", "edges").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Edges, "edges")
	if _, init := out.InitState(); fmt.Sprint(init) != "[1-2]" {
		t.Fatalf("init state = %v", init)
	}
	assertLog(t, eventLog(out), []string{"8:1-2 DOWN", "9:3-4 UP"})
}

func TestEdgesToArcs(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 20, nil,
		[]model.Edge{model.NewEdge(1, 2)},
		[]trace.Timed[model.EdgeEvent]{edgeDown(4, 1, 2)})

	if err := NewEdgesToArcs(s, "edges", "arcs").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Arcs, "arcs")
	if _, init := out.InitState(); fmt.Sprint(init) != "[1->2 2->1]" {
		t.Fatalf("init state = %v", init)
	}
	assertLog(t, eventLog(out), []string{"4:1->2 DOWN", "4:2->1 DOWN"})
}

func TestRecastLinksAndEdges(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Links, "links", 0, 20, trace.Properties{trace.PropEta: "2"},
		[]model.Link{model.NewLink(3, 1)},
		[]trace.Timed[model.LinkEvent]{{Time: 6, Event: model.UpEvent(model.NewLink(5, 4))}})

	if err := NewLinksToEdges(s, "links", "edges").Convert(context.Background()); err != nil {
		t.Fatalf("LinksToEdges: %v", err)
	}
	if err := NewEdgesToLinks(s, "edges", "links2").Convert(context.Background()); err != nil {
		t.Fatalf("EdgesToLinks: %v", err)
	}
	edges := mustOpen(t, s, trace.Edges, "edges")
	assertLog(t, eventLog(edges), []string{"6:4-5 UP"})
	if eta, _ := edges.Properties().Int(trace.PropEta); eta != 2 {
		t.Fatalf("eta = %d, want the input's 2", eta)
	}
	back := mustOpen(t, s, trace.Links, "links2")
	if _, init := back.InitState(); fmt.Sprint(init) != "[1~3]" {
		t.Fatalf("round-trip init state = %v", init)
	}
	assertLog(t, eventLog(back), []string{"6:4~5 UP"})
}

func TestCouplesToPresence(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 20, nil,
		[]model.Edge{model.NewEdge(1, 2), model.NewEdge(2, 3)},
		[]trace.Timed[model.EdgeEvent]{
			edgeDown(5, 1, 2),
			edgeUp(7, 4, 4),
			edgeDown(9, 2, 3),
		})

	if err := NewEdgesToPresence(s, "edges", "presence").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Presence, "presence")
	if _, init := out.InitState(); fmt.Sprint(init) != "[{1} {2} {3}]" {
		t.Fatalf("init state = %v", init)
	}
	assertLog(t, eventLog(out), []string{"5:1 OUT", "7:4 IN", "9:2 OUT", "9:3 OUT"})
}
