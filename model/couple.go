package model

import "fmt"

// Couple is a pair of node identifiers. Edge and Link canonicalize their
// endpoints so that ID1 <= ID2; Arc keeps them exactly as given.
type Couple interface {
	comparable
	First() int
	Second() int
}

// Edge is an undirected couple. It does not auto-mirror in adjacency
// structures.
type Edge struct {
	ID1 int `json:"id1"`
	ID2 int `json:"id2"`
}

// NewEdge returns the canonical edge between a and b.
func NewEdge(a, b int) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{ID1: a, ID2: b}
}

func (e Edge) First() int  { return e.ID1 }
func (e Edge) Second() int { return e.ID2 }

// Other returns the endpoint of e that is not id.
func (e Edge) Other(id int) int {
	if e.ID1 == id {
		return e.ID2
	}
	return e.ID1
}

func (e Edge) String() string { return fmt.Sprintf("%d-%d", e.ID1, e.ID2) }

// Link is an undirected couple used for symmetric "currently linked"
// relations. Adjacency structures built with the Links kind mirror it.
type Link struct {
	ID1 int `json:"id1"`
	ID2 int `json:"id2"`
}

// NewLink returns the canonical link between a and b.
func NewLink(a, b int) Link {
	if a > b {
		a, b = b, a
	}
	return Link{ID1: a, ID2: b}
}

func (l Link) First() int  { return l.ID1 }
func (l Link) Second() int { return l.ID2 }

// Other returns the endpoint of l that is not id.
func (l Link) Other(id int) int {
	if l.ID1 == id {
		return l.ID2
	}
	return l.ID1
}

func (l Link) String() string { return fmt.Sprintf("%d~%d", l.ID1, l.ID2) }

// Arc is a directed couple.
type Arc struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// NewArc returns the arc from -> to.
func NewArc(from, to int) Arc { return Arc{From: from, To: to} }

func (a Arc) First() int  { return a.From }
func (a Arc) Second() int { return a.To }

// Reverse returns the arc to -> from.
func (a Arc) Reverse() Arc { return Arc{From: a.To, To: a.From} }

func (a Arc) String() string { return fmt.Sprintf("%d->%d", a.From, a.To) }

// Kind is the small trait that generic adjacency structures and converters
// are parameterized over. Make canonicalizes for undirected kinds, Mirrored
// reports whether adjacency structures must store both directions, and
// Directed reports whether (a,b) and (b,a) are distinct couples.
type Kind[C Couple] struct {
	Name     string
	Make     func(a, b int) C
	Mirrored bool
	Directed bool
}

// Reverse returns the couple with swapped endpoints. For undirected kinds it
// is the couple itself.
func (k Kind[C]) Reverse(c C) C {
	return k.Make(c.Second(), c.First())
}

// Combine joins a couple ending at a node with a couple starting at that
// node, i.e. (a,b) + (b,c) = (a,c).
func (k Kind[C]) Combine(first, second C) C {
	return k.Make(first.First(), second.Second())
}

var (
	// Edges is the kind of undirected, non-mirrored edges.
	Edges = Kind[Edge]{Name: "edges", Make: NewEdge}
	// Links is the kind of undirected links that mirror in adjacency maps.
	Links = Kind[Link]{Name: "links", Make: NewLink, Mirrored: true}
	// Arcs is the kind of directed arcs.
	Arcs = Kind[Arc]{Name: "arcs", Make: NewArc, Directed: true}
)
