package pebblestore

import (
	"errors"
	"slices"
	"testing"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

func TestPebbleBackendPersistsTraces(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := trace.NewStore(trace.WithBackend(b))
	for _, name := range []string{"a", "ab"} {
		w, err := trace.Create(s, trace.Arcs, name)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		w.SetPropertyInt(trace.PropEta, 2)
		if err := w.SetInitState(0, []model.Arc{model.NewArc(1, 2)}); err != nil {
			t.Fatalf("SetInitState: %v", err)
		}
		for i := int64(1); i <= 300; i++ {
			if err := w.Append(i*2, model.UpEvent(model.NewArc(int(i), int(i+1)))); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("store Close: %v", err)
	}

	b, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	s = trace.NewStore(trace.WithBackend(b))

	names, err := s.List()
	if err != nil || !slices.Equal(names, []string{"a", "ab"}) {
		t.Fatalf("List() = %v, %v", names, err)
	}
	tr, err := trace.Open(s, trace.Arcs, "ab")
	if err != nil {
		t.Fatalf("trace.Open: %v", err)
	}
	if len(tr.Events()) != 300 {
		t.Fatalf("reloaded %d events, want 300", len(tr.Events()))
	}
	if tr.Events()[299].Time != 600 {
		t.Fatalf("events not in key order: last time %d", tr.Events()[299].Time)
	}
	if eta, err := tr.Properties().Int(trace.PropEta); err != nil || eta != 2 {
		t.Fatalf("eta = %d, %v", eta, err)
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Load("a"); !errors.Is(err, trace.ErrTraceNotFound) {
		t.Fatalf("Load after delete: err = %v", err)
	}
	if _, err := b.Load("ab"); err != nil {
		t.Fatalf("deleting a must not touch ab: %v", err)
	}
	if err := b.Save(&trace.Record{Name: "x/y"}); !errors.Is(err, ErrBadName) {
		t.Fatalf("Save with slash: err = %v, want ErrBadName", err)
	}
}
