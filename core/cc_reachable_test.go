package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

func TestComponentsToReachable(t *testing.T) {
	at := func(ts int64, ev model.GroupEvent) trace.Timed[model.GroupEvent] {
		return trace.Timed[model.GroupEvent]{Time: ts, Event: ev}
	}
	s := trace.NewStore()
	writeTrace(t, s, trace.Groups, "cc", 0, 30, nil,
		[]model.Group{{GID: 0, Members: []int{1, 2}}},
		[]trace.Timed[model.GroupEvent]{
			at(5, model.JoinEvent(0, []int{3})),
			at(10, model.LeaveEvent(0, []int{1})),
			at(15, model.NewGroupEvent(1)),
			at(15, model.JoinEvent(1, []int{4, 5})),
			at(20, model.LeaveEvent(1, []int{4, 5})),
			at(20, model.DeleteGroupEvent(1)),
			at(20, model.JoinEvent(0, []int{4, 5})),
		})

	if err := NewComponentsToReachable(s, "cc", "reach").Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Reachability, "reach")
	if _, init := out.InitState(); fmt.Sprint(init) != "[1->2 2->1]" {
		t.Fatalf("init state = %v", init)
	}
	assertLog(t, eventLog(out), []string{
		"5:1->3 UP", "5:2->3 UP", "5:3->1 UP", "5:3->2 UP",
		"10:1->2 DOWN", "10:1->3 DOWN", "10:2->1 DOWN", "10:3->1 DOWN",
		"15:4->5 UP", "15:5->4 UP",
		"20:2->4 UP", "20:2->5 UP", "20:3->4 UP", "20:3->5 UP",
		"20:4->2 UP", "20:4->3 UP", "20:5->2 UP", "20:5->3 UP",
	})
	if d, _ := out.Properties().Int(trace.PropDelay); d != 0 {
		t.Fatalf("delay = %d, want 0", d)
	}
}
