package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

// ISS sample TLE.
const (
	issLine1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issLine2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

func TestStaticMotionModel_NoChange(t *testing.T) {
	m := &StaticMotionModel{Pos: model.Vec3{X: 1, Y: 2, Z: 3}}
	t1 := time.Now().UTC()
	if got := m.PositionAt(t1); got != (model.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static motion moved to %+v", got)
	}
	if got := m.PositionAt(t1.Add(time.Hour)); got != (model.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static motion moved to %+v after an hour", got)
	}
}

// We don't assert exact orbital values (those belong to go-satellite);
// we just ensure that positions differ at distinct times and stay in LEO.
func TestOrbitalSGP4MotionModel_ChangesOverTime(t *testing.T) {
	m, err := NewOrbitalModelFromTLE(issLine1, issLine2)
	if err != nil {
		t.Fatalf("NewOrbitalModelFromTLE: %v", err)
	}
	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	first := m.PositionAt(t1)
	second := m.PositionAt(t1.Add(5 * time.Minute))
	if first == second {
		t.Fatalf("expected orbital position to change over time, got %+v at both times", first)
	}
	for _, p := range []model.Vec3{first, second} {
		if r := p.Norm(); r < 6500 || r > 7000 {
			t.Fatalf("radius %.1f km is not a LEO radius", r)
		}
	}

	if _, err := NewOrbitalModelFromTLE("1 25544U", issLine2); !errors.Is(err, ErrBadParameter) {
		t.Fatalf("short line err = %v, want ErrBadParameter", err)
	}
}

func TestParseTLE(t *testing.T) {
	input := strings.Join([]string{
		"ISS (ZARYA)",
		issLine1,
		issLine2,
		"",
		issLine1,
		issLine2,
	}, "\n")
	orbits, err := ParseTLE(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseTLE: %v", err)
	}
	if len(orbits) != 2 {
		t.Fatalf("got %d orbits, want 2", len(orbits))
	}
	if orbits[0].Name != "ISS (ZARYA)" || orbits[1].Name != "" {
		t.Fatalf("names = %q, %q", orbits[0].Name, orbits[1].Name)
	}

	if _, err := ParseTLE(strings.NewReader(issLine1 + "\nbogus\n")); err == nil {
		t.Fatalf("expected an error for a missing line 2")
	}
	if _, err := ParseTLE(strings.NewReader(issLine1)); err == nil {
		t.Fatalf("expected an error for a truncated set")
	}
}

func TestOrbitsToMovement(t *testing.T) {
	orbits, err := ParseTLE(strings.NewReader(issLine1 + "\n" + issLine2))
	if err != nil {
		t.Fatalf("ParseTLE: %v", err)
	}
	nodes, err := NodesFromTLE(orbits, 0)
	if err != nil {
		t.Fatalf("NodesFromTLE: %v", err)
	}
	ground := model.Vec3{X: model.EarthRadiusKm}
	nodes = append(nodes, TrackedNode{ID: 100, Model: &StaticMotionModel{Pos: ground}})

	s := trace.NewStore()
	epoch := time.Date(2021, 10, 2, 14, 10, 0, 0, time.UTC)
	if err := NewOrbitsToMovement(s, nodes, "orbits", epoch, 0, 600, 60).Convert(context.Background()); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	out := mustOpen(t, s, trace.Movements, "orbits")

	_, init := out.InitState()
	if len(init) != 2 {
		t.Fatalf("init state has %d movements, want 2", len(init))
	}
	if len(out.Events()) != 9 {
		t.Fatalf("got %d legs, want 9 (the ground node never moves)", len(out.Events()))
	}
	for _, ev := range out.Events() {
		if ev.Event.ID != 0 || ev.Event.Type != model.MovementNewDest {
			t.Fatalf("unexpected event %v at %d", ev.Event, ev.Time)
		}
		// Orbital speed plus Earth rotation, in km per second.
		if ev.Event.Speed < 6.5 || ev.Event.Speed > 8.5 {
			t.Fatalf("leg speed %.2f km/s at %d", ev.Event.Speed, ev.Time)
		}
	}

	for _, at := range []int64{0, 90, 330, 599} {
		for _, mv := range out.StateAt(at) {
			p := mv.PositionAt(float64(at))
			switch mv.ID {
			case 0:
				if r := p.Norm(); r < 6500 || r > 7000 {
					t.Fatalf("t=%d: satellite radius %.1f km", at, r)
				}
			case 100:
				if p != ground {
					t.Fatalf("t=%d: ground node at %+v", at, p)
				}
			default:
				t.Fatalf("t=%d: unexpected node %d", at, mv.ID)
			}
		}
	}
	if v, _ := out.Property(trace.PropEpoch); v != "2021-10-02T14:10:00Z" {
		t.Fatalf("epoch property = %q", v)
	}
	if got := fmt.Sprint(out.Properties()[trace.PropTimeUnit]); got != "1s" {
		t.Fatalf("time unit = %q", got)
	}
}
