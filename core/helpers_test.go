package core

import (
	"fmt"
	"testing"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

func writeTrace[E, S any](t *testing.T, s *trace.Store, typ trace.Type[E, S], name string, minTime, maxTime int64,
	props trace.Properties, init []S, events []trace.Timed[E]) {
	t.Helper()
	w, err := trace.Create(s, typ, name)
	if err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	w.SetProperties(props)
	if err := w.SetInitState(minTime, init); err != nil {
		t.Fatalf("SetInitState %s: %v", name, err)
	}
	for _, ev := range events {
		if err := w.Append(ev.Time, ev.Event); err != nil {
			t.Fatalf("Append %s: %v", name, err)
		}
	}
	w.SetMaxTime(maxTime)
	if err := w.Close(); err != nil {
		t.Fatalf("Close %s: %v", name, err)
	}
}

func edgeUp(t int64, a, b int) trace.Timed[model.EdgeEvent] {
	return trace.Timed[model.EdgeEvent]{Time: t, Event: model.UpEvent(model.NewEdge(a, b))}
}

func edgeDown(t int64, a, b int) trace.Timed[model.EdgeEvent] {
	return trace.Timed[model.EdgeEvent]{Time: t, Event: model.DownEvent(model.NewEdge(a, b))}
}

func arcUp(t int64, a, b int) trace.Timed[model.ArcEvent] {
	return trace.Timed[model.ArcEvent]{Time: t, Event: model.UpEvent(model.NewArc(a, b))}
}

func arcDown(t int64, a, b int) trace.Timed[model.ArcEvent] {
	return trace.Timed[model.ArcEvent]{Time: t, Event: model.DownEvent(model.NewArc(a, b))}
}

// eventLog renders every event of tr as "time:event".
func eventLog[E, S any](tr *trace.Trace[E, S]) []string {
	out := make([]string, 0, len(tr.Events()))
	for _, ev := range tr.Events() {
		out = append(out, fmt.Sprintf("%d:%v", ev.Time, ev.Event))
	}
	return out
}

func mustOpen[E, S any](t *testing.T, s *trace.Store, typ trace.Type[E, S], name string) *trace.Trace[E, S] {
	t.Helper()
	tr, err := trace.Open(s, typ, name)
	if err != nil {
		t.Fatalf("Open %s: %v", name, err)
	}
	return tr
}

func assertLog(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q\nfull log: %v", i, got[i], want[i], got)
		}
	}
}
