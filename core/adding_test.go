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

func TestRefCounterZeroCrossings(t *testing.T) {
	s := trace.NewStore()
	w, err := trace.Create(s, trace.Reachability, "out")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r := newRefCounter(w, 0)
	a, b := model.NewArc(1, 2), model.NewArc(3, 4)

	step := func(at int64, fn func()) {
		t.Helper()
		if fn != nil {
			fn()
		}
		if err := r.flush(at); err != nil {
			t.Fatalf("flush(%d): %v", at, err)
		}
	}
	step(0, nil)
	step(1, func() { r.increment(a) })
	// 1 -> 0 -> 1 inside one window: no flicker.
	step(2, func() { r.decrement(a); r.increment(a) })
	step(3, func() { r.decrement(a) })
	// 0 -> 1 -> 0 inside one window: nothing either.
	step(4, func() { r.increment(a); r.decrement(a) })
	// Fresh crossings wait one flush.
	step(5, func() { r.incrementFresh(b) })
	step(6, nil)
	step(7, func() { r.increment(b) })
	step(8, func() { r.decrement(b) })
	step(9, func() { r.decrement(b) })

	assertLog(t, eventLog(w.Trace()), []string{
		"1:1->2 UP",
		"3:1->2 DOWN",
		"6:3->4 UP",
		"9:3->4 DOWN",
	})
	if len(r.infos) != 0 {
		t.Fatalf("infos = %v, want every arc released", r.infos)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("decrementing an untracked arc must panic")
		}
	}()
	r.decrement(model.NewArc(7, 8))
}

func TestRefCounterFirstFlushWritesInitState(t *testing.T) {
	s := trace.NewStore()
	w, err := trace.Create(s, trace.Reachability, "out")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r := newRefCounter(w, 10)
	r.increment(model.NewArc(2, 1))
	r.increment(model.NewArc(1, 2))
	r.increment(model.NewArc(5, 6))
	r.decrement(model.NewArc(5, 6))
	if err := r.flush(5); err != nil {
		t.Fatalf("flush before min: %v", err)
	}
	if w.InitStateSet() {
		t.Fatalf("flush before the minimum time must not write")
	}
	if err := r.flush(10); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if at, init := w.Trace().InitState(); at != 10 || fmt.Sprint(init) != "[1->2 2->1]" {
		t.Fatalf("init state = %d %v", at, init)
	}
}

func TestAddingReachableComposesAcrossFamilies(t *testing.T) {
	s := trace.NewStore()
	props := trace.Properties{trace.PropTau: "0", trace.PropEta: "1", trace.PropDelay: "1"}
	writeTrace(t, s, trace.Reachability, "delta.1", 0, 30, props,
		[]model.Arc{model.NewArc(1, 2)},
		[]trace.Timed[model.ArcEvent]{arcDown(10, 1, 2)})
	writeTrace(t, s, trace.Reachability, "mu.1", 0, 30, props, nil,
		[]trace.Timed[model.ArcEvent]{arcUp(5, 2, 3), arcDown(20, 2, 3)})

	delta, err := OpenFamily(s, "delta")
	if err != nil {
		t.Fatalf("OpenFamily delta: %v", err)
	}
	mu, err := OpenFamily(s, "mu")
	if err != nil {
		t.Fatalf("OpenFamily mu: %v", err)
	}
	if err := NewAddingReachable(s, delta, mu, "out", 2).Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Reachability, "out")
	if at, init := out.InitState(); at != 0 || fmt.Sprint(init) != "[1->2]" {
		t.Fatalf("init state = %d %v, want 0 [1->2]", at, init)
	}
	assertLog(t, eventLog(out), []string{"4:1->3 UP", "10:1->2 DOWN", "10:1->3 DOWN"})
	if out.MaxTime() != 29 {
		t.Fatalf("max time = %d, want 29", out.MaxTime())
	}

	if err := NewAddingReachable(s, delta, mu, "out3", 3).Convert(context.Background()); !errors.Is(err, ErrFamilyMember) {
		t.Fatalf("err = %v, want ErrFamilyMember for the missing delta member", err)
	}
}

func TestBuildFamily(t *testing.T) {
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 30, nil, nil, []trace.Timed[model.EdgeEvent]{
		edgeUp(0, 1, 2), edgeUp(5, 2, 3), edgeDown(10, 1, 2), edgeDown(20, 2, 3),
	})

	fam, err := BuildFamily(context.Background(), s, "edges", "reach", 1, 1, 3)
	if err != nil {
		t.Fatalf("BuildFamily: %v", err)
	}
	if got := fam.Delays(); !slices.Equal(got, []int64{1, 2, 3}) {
		t.Fatalf("delays = %v, want [1 2 3]", got)
	}

	reopened, err := OpenFamily(s, "reach")
	if err != nil {
		t.Fatalf("OpenFamily: %v", err)
	}
	if reopened.MinDelay() != 1 || reopened.MaxDelay() != 3 || reopened.Tau != 1 || reopened.Eta != 1 {
		t.Fatalf("reopened family = %+v", reopened)
	}

	two, err := reopened.Member(2)
	if err != nil {
		t.Fatalf("Member(2): %v", err)
	}
	if at, init := two.InitState(); at != 0 || fmt.Sprint(init) != "[1->2 2->1]" {
		t.Fatalf("member 2 init state = %d %v", at, init)
	}
	assertLog(t, eventLog(two), []string{
		"4:1->3 UP",
		"5:2->3 UP", "5:3->1 UP", "5:3->2 UP",
		"8:3->1 DOWN",
		"9:1->2 DOWN", "9:1->3 DOWN", "9:2->1 DOWN",
		"19:2->3 DOWN", "19:3->2 DOWN",
	})
	if d, _ := two.Properties().Int(trace.PropDelay); d != 2 {
		t.Fatalf("member 2 delay = %d", d)
	}

	if _, err := reopened.Member(7); !errors.Is(err, ErrFamilyMember) {
		t.Fatalf("Member(7) err = %v, want ErrFamilyMember", err)
	}
	if _, err := BuildFamily(context.Background(), s, "edges", "bad", 0, 1, 3); !errors.Is(err, ErrBadParameter) {
		t.Fatalf("tau 0 err = %v, want ErrBadParameter", err)
	}
}
