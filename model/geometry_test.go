package model

import (
	"math"
	"testing"
)

func TestLineOfSight_NoObstruction(t *testing.T) {
	// Two satellites high and on the same side of Earth, separated in Y.
	posA := Vec3{X: 8000, Y: 0, Z: 0}
	posB := Vec3{X: 8000, Y: 1000, Z: 0}

	if !LineOfSight(posA, posB) {
		t.Errorf("expected LoS between two high satellites on same side of Earth")
	}
}

func TestLineOfSight_Obstructed(t *testing.T) {
	// The chord between opposite sides passes through the Earth.
	posA := Vec3{X: 7000, Y: 0, Z: 0}
	posB := Vec3{X: -7000, Y: 0, Z: 0}

	if LineOfSight(posA, posB) {
		t.Errorf("expected LoS to be blocked by Earth")
	}
}

func TestMovementPositionAt(t *testing.T) {
	m := Movement{ID: 1, From: Vec3{}, Dest: Vec3{X: 10}, Speed: 2, Since: 0}
	if got := m.Arrival(); got != 5 {
		t.Fatalf("Arrival() = %v, want 5", got)
	}
	if got := m.PositionAt(2); got != (Vec3{X: 4}) {
		t.Fatalf("PositionAt(2) = %v, want {4 0 0}", got)
	}
	if got := m.PositionAt(100); got != m.Dest {
		t.Fatalf("PositionAt(100) = %v, want destination", got)
	}
	if got := m.VelocityAt(6); got != (Vec3{}) {
		t.Fatalf("VelocityAt after arrival = %v, want zero", got)
	}
}

func TestMeetingTimes(t *testing.T) {
	// a moves along x at speed 1 from -10; b sits at the origin.
	a := Movement{ID: 1, From: Vec3{X: -10}, Dest: Vec3{X: 100}, Speed: 1}
	b := Stationary(2, Vec3{}, 0)

	t1, t2, ok := MeetingTimes(a, b, 2, 0)
	if !ok {
		t.Fatalf("expected a meeting")
	}
	if math.Abs(t1-8) > 1e-9 || math.Abs(t2-12) > 1e-9 {
		t.Fatalf("MeetingTimes = (%v, %v), want (8, 12)", t1, t2)
	}

	// Already past: no future meeting.
	if _, _, ok := MeetingTimes(a, b, 2, 20); ok {
		t.Fatalf("expected no meeting once a has moved away")
	}

	// Parallel motion never changes the distance.
	c := Movement{ID: 3, From: Vec3{Y: 1}, Dest: Vec3{X: 100, Y: 1}, Speed: 1}
	d := Movement{ID: 4, From: Vec3{}, Dest: Vec3{X: 100}, Speed: 1}
	if _, _, ok := MeetingTimes(c, d, 5, 0); ok {
		t.Fatalf("parallel movements should not report meeting times")
	}
}
