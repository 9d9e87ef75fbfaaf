package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

func TestBufferFixedOffsetsMergeOverlappingWindows(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 20, nil, nil, []trace.Timed[model.EdgeEvent]{
		edgeUp(10, 1, 2), edgeDown(11, 1, 2),
		edgeUp(12, 1, 2), edgeDown(14, 1, 2),
	})

	if err := NewBufferEdges(s, "edges", "buffered", 3, 3).Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Edges, "buffered")
	assertLog(t, eventLog(out), []string{"7:1-2 UP", "17:1-2 DOWN"})
	if at, init := out.InitState(); at != 0 || len(init) != 0 {
		t.Fatalf("init state = %d %v, want empty at 0", at, init)
	}
}

func TestBufferTouchingWindowsDoNotFlicker(t *testing.T) {
	s := trace.NewStore()
	// The first window's DOWN (11+3) lands on the second window's UP (17-3).
	writeTrace(t, s, trace.Edges, "edges", 0, 30, nil, nil, []trace.Timed[model.EdgeEvent]{
		edgeUp(10, 1, 2), edgeDown(11, 1, 2),
		edgeUp(17, 1, 2), edgeDown(20, 1, 2),
	})

	if err := NewBufferEdges(s, "edges", "buffered", 3, 3).Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Edges, "buffered")
	assertLog(t, eventLog(out), []string{"7:1-2 UP", "23:1-2 DOWN"})
}

func TestBufferFoldsEarlyEventsIntoInitState(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 30, nil,
		[]model.Edge{model.NewEdge(1, 2)},
		[]trace.Timed[model.EdgeEvent]{edgeUp(2, 3, 4), edgeDown(10, 1, 2)})

	if err := NewBufferEdges(s, "edges", "buffered", 3, 2).Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Edges, "buffered")
	if at, init := out.InitState(); at != 0 || fmt.Sprint(init) != "[1-2 3-4]" {
		t.Fatalf("init state = %d %v, want 0 [1-2 3-4]", at, init)
	}
	assertLog(t, eventLog(out), []string{"12:1-2 DOWN"})
}

func TestBufferRandomizedIsDeterministicPerSeed(t *testing.T) {
	var events []trace.Timed[model.LinkEvent]
	for i := int64(0); i < 20; i++ {
		l := model.NewLink(int(i%3), int(i%3)+1)
		events = append(events,
			trace.Timed[model.LinkEvent]{Time: 10 + i*7, Event: model.UpEvent(l)},
			trace.Timed[model.LinkEvent]{Time: 12 + i*7, Event: model.DownEvent(l)})
	}
	slices.SortStableFunc(events, func(a, b trace.Timed[model.LinkEvent]) int { return int(a.Time - b.Time) })

	run := func(seed uint64) []string {
		s := trace.NewStore()
		writeTrace(t, s, trace.Links, "links", 0, 200, nil, nil, events)
		b := NewBufferLinks(s, "links", "buffered", 5, 5)
		b.Randomize = true
		b.Seed = seed
		if err := b.Convert(context.Background()); err != nil {
			t.Fatalf("Convert: %v", err)
		}
		out := mustOpen(t, s, trace.Links, "buffered")

		// Every couple must alternate UP, DOWN, UP, ... starting from down.
		up := make(map[model.Link]bool)
		for _, ev := range out.Events() {
			if up[ev.Event.Couple] == ev.Event.Up {
				t.Fatalf("seed %d: %v at %d repeats the current state", seed, ev.Event, ev.Time)
			}
			up[ev.Event.Couple] = ev.Event.Up
		}
		for l, isUp := range up {
			if isUp {
				t.Fatalf("seed %d: %v still up at the end", seed, l)
			}
		}
		return eventLog(out)
	}

	first := run(42)
	if again := run(42); !slices.Equal(first, again) {
		t.Fatalf("same seed gave different logs:\n%v\n%v", first, again)
	}
}

func TestBufferRejectsNegativeOffsets(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 10, nil, nil, nil)
	err := NewBufferEdges(s, "edges", "buffered", -1, 0).Convert(context.Background())
	if !errors.Is(err, ErrBadParameter) {
		t.Fatalf("err = %v, want ErrBadParameter", err)
	}
}
