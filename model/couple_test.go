package model

import "testing"

func TestCoupleCanonicalization(t *testing.T) {
	pairs := [][2]int{{0, 0}, {1, 2}, {2, 1}, {7, 3}, {5, 5}}
	for _, p := range pairs {
		a, b := p[0], p[1]
		if NewEdge(a, b) != NewEdge(b, a) {
			t.Fatalf("Edge(%d,%d) != Edge(%d,%d)", a, b, b, a)
		}
		l := NewLink(a, b)
		if l.ID1 > l.ID2 {
			t.Fatalf("Link(%d,%d) not canonical: %v", a, b, l)
		}
		arc := NewArc(a, b)
		if arc.From != a || arc.To != b {
			t.Fatalf("Arc(%d,%d) changed endpoints: %v", a, b, arc)
		}
		if a != b && arc == NewArc(b, a) {
			t.Fatalf("Arc(%d,%d) == Arc(%d,%d)", a, b, b, a)
		}
		if arc.Reverse() != NewArc(b, a) {
			t.Fatalf("Arc(%d,%d).Reverse() = %v", a, b, arc.Reverse())
		}
	}
}

func TestKindCombine(t *testing.T) {
	got := Arcs.Combine(NewArc(1, 2), NewArc(2, 3))
	if got != NewArc(1, 3) {
		t.Fatalf("Combine = %v, want 1->3", got)
	}
	if Edges.Reverse(NewEdge(4, 2)) != NewEdge(2, 4) {
		t.Fatalf("reversing an edge must yield the same edge")
	}
}

func TestGroupEventSortsMembers(t *testing.T) {
	ev := JoinEvent(3, []int{5, 1, 4})
	if ev.Members[0] != 1 || ev.Members[2] != 5 {
		t.Fatalf("members not sorted: %v", ev.Members)
	}
}
