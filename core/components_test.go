package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

func TestComponentsMergeAndSplitTriangles(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 10, nil, nil, []trace.Timed[model.EdgeEvent]{
		edgeUp(1, 1, 2), edgeUp(2, 2, 3), edgeUp(3, 1, 3),
		edgeUp(4, 4, 5), edgeUp(5, 5, 6), edgeUp(6, 4, 6),
		edgeUp(7, 3, 4),
		edgeDown(8, 3, 4),
	})

	if err := NewEdgesToConnectedComponents(s, "edges", "cc").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Groups, "cc")
	assertLog(t, eventLog(out), []string{
		"1:NEW 0", "1:JOIN 0 [1 2]",
		"2:JOIN 0 [3]",
		"4:NEW 1", "4:JOIN 1 [4 5]",
		"5:JOIN 1 [6]",
		"7:LEAVE 1 [4 5 6]", "7:DELETE 1", "7:JOIN 0 [4 5 6]",
		"8:LEAVE 0 [4 5 6]", "8:NEW 2", "8:JOIN 2 [4 5 6]",
	})
	if got := fmt.Sprint(out.StateAt(10)); got != "[0 [1 2 3] 2 [4 5 6]]" {
		t.Fatalf("final state = %s", got)
	}
}

func TestComponentsSingletonEviction(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 10, nil, nil, []trace.Timed[model.EdgeEvent]{
		edgeUp(0, 1, 2),
		edgeUp(5, 2, 3),
		edgeDown(10, 1, 2),
	})
	if err := NewEdgesToConnectedComponents(s, "edges", "cc").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Groups, "cc")
	at, init := out.InitState()
	if at != 0 || fmt.Sprint(init) != "[0 [1 2]]" {
		t.Fatalf("init state = %d %v, want 0 [0 [1 2]]", at, init)
	}
	assertLog(t, eventLog(out), []string{"5:JOIN 0 [3]", "10:LEAVE 0 [1]"})
	if got := fmt.Sprint(out.StateAt(10)); got != "[0 [2 3]]" {
		t.Fatalf("state at 10 = %s", got)
	}
}

func TestLinksComponentsDeleteWhenLastLinkGoes(t *testing.T) {
	s := trace.NewStore()
	up := func(ts int64, a, b int) trace.Timed[model.LinkEvent] {
		return trace.Timed[model.LinkEvent]{Time: ts, Event: model.UpEvent(model.NewLink(a, b))}
	}
	down := func(ts int64, a, b int) trace.Timed[model.LinkEvent] {
		return trace.Timed[model.LinkEvent]{Time: ts, Event: model.DownEvent(model.NewLink(a, b))}
	}
	writeTrace(t, s, trace.Links, "links", 0, 20,
		nil, []model.Link{model.NewLink(7, 3), model.NewLink(5, 5)},
		[]trace.Timed[model.LinkEvent]{up(2, 3, 7), up(4, 8, 9), down(6, 3, 7)})

	if err := NewLinksToConnectedComponents(s, "links", "cc").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Groups, "cc")
	if _, init := out.InitState(); fmt.Sprint(init) != "[0 [3 7]]" {
		t.Fatalf("init state = %v, self-links must be ignored", init)
	}
	assertLog(t, eventLog(out), []string{
		"4:NEW 1", "4:JOIN 1 [8 9]",
		"6:LEAVE 0 [3]", "6:LEAVE 0 [7]", "6:DELETE 0",
	})
}

func TestComponentTrackerPanicsOnUnknownNode(t *testing.T) {
	ct := newComponentTracker()
	ct.adj.Add(model.NewLink(1, 2))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a linked node outside every component")
		}
	}()
	ct.remove(1, 2)
}
