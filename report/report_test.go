package report

import (
	"bytes"
	"context"
	"testing"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

func writeEdges(t *testing.T, s *trace.Store, name string, minTime, maxTime int64, init []model.Edge, events []trace.Timed[model.EdgeEvent]) {
	t.Helper()
	w, err := trace.Create(s, trace.Edges, name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.SetInitState(minTime, init); err != nil {
		t.Fatalf("SetInitState: %v", err)
	}
	for _, ev := range events {
		if err := w.Append(ev.Time, ev.Event); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	w.SetMaxTime(maxTime)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func up(t int64, a, b int) trace.Timed[model.EdgeEvent] {
	return trace.Timed[model.EdgeEvent]{Time: t, Event: model.UpEvent(model.NewEdge(a, b))}
}

func down(t int64, a, b int) trace.Timed[model.EdgeEvent] {
	return trace.Timed[model.EdgeEvent]{Time: t, Event: model.DownEvent(model.NewEdge(a, b))}
}

func TestContactDurations(t *testing.T) {
	s := trace.NewStore()
	writeEdges(t, s, "edges", 0, 20,
		[]model.Edge{model.NewEdge(1, 2)},
		[]trace.Timed[model.EdgeEvent]{
			up(3, 2, 3),
			down(5, 1, 2),
			up(8, 1, 2),
			down(12, 2, 3),
		})

	var buf bytes.Buffer
	if err := NewEdgeContacts(s, "edges").Write(context.Background(), &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := "1 2 0 5 5\n2 3 3 12 9\n1 2 8 20 12\n"
	if buf.String() != want {
		t.Fatalf("report =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestNodeDegree(t *testing.T) {
	s := trace.NewStore()
	writeEdges(t, s, "edges", 0, 10,
		[]model.Edge{model.NewEdge(1, 2)},
		[]trace.Timed[model.EdgeEvent]{
			up(5, 1, 3),
			down(5, 1, 2),
		})

	var buf bytes.Buffer
	if err := NewEdgeDegree(s, "edges").Write(context.Background(), &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Node 1 has degree 1 throughout, node 2 for the first half, node 3
	// for the second.
	want := "1 1.0000\n2 0.5000\n3 0.5000\n"
	if buf.String() != want {
		t.Fatalf("report =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestReportMissingInput(t *testing.T) {
	var buf bytes.Buffer
	err := NewEdgeDegree(trace.NewStore(), "nope").Write(context.Background(), &buf)
	if err == nil {
		t.Fatalf("expected an error for a missing trace")
	}
}
