// Package adjacency provides a two-level sparse matrix keyed by couples.
//
// A Map stores values under from -> to -> value. Buckets that become empty
// are removed, so the outer map only ever holds nodes with at least one
// stored couple. Maps built for a mirrored kind (model.Links) store every
// couple in both directions and count it once.
package adjacency

import (
	"cmp"
	"iter"
	"slices"

	"github.com/signalsfoundry/contact-traces/model"
)

// Map maps couples of kind C to values of type T.
type Map[C model.Couple, T any] struct {
	kind model.Kind[C]
	m    map[int]map[int]T
	size int
}

// NewMap returns an empty map for couples of the given kind.
func NewMap[C model.Couple, T any](kind model.Kind[C]) *Map[C, T] {
	return &Map[C, T]{kind: kind, m: make(map[int]map[int]T)}
}

// Kind returns the couple kind of the map.
func (a *Map[C, T]) Kind() model.Kind[C] { return a.kind }

// Put stores v under c (and under its mirror for mirrored kinds).
func (a *Map[C, T]) Put(c C, v T) {
	if !a.put(c.First(), c.Second(), v) {
		a.size++
	}
	if a.kind.Mirrored && c.First() != c.Second() {
		a.put(c.Second(), c.First(), v)
	}
}

func (a *Map[C, T]) put(from, to int, v T) (existed bool) {
	inner, ok := a.m[from]
	if !ok {
		inner = make(map[int]T)
		a.m[from] = inner
	}
	_, existed = inner[to]
	inner[to] = v
	return existed
}

// Get returns the value stored under c.
func (a *Map[C, T]) Get(c C) (T, bool) {
	v, ok := a.m[c.First()][c.Second()]
	return v, ok
}

// Contains reports whether c is stored.
func (a *Map[C, T]) Contains(c C) bool {
	_, ok := a.m[c.First()][c.Second()]
	return ok
}

// Delete removes c and reports whether it was present.
func (a *Map[C, T]) Delete(c C) bool {
	if !a.remove(c.First(), c.Second()) {
		return false
	}
	if a.kind.Mirrored && c.First() != c.Second() {
		a.remove(c.Second(), c.First())
	}
	a.size--
	return true
}

func (a *Map[C, T]) remove(from, to int) bool {
	inner, ok := a.m[from]
	if !ok {
		return false
	}
	if _, ok := inner[to]; !ok {
		return false
	}
	delete(inner, to)
	if len(inner) == 0 {
		delete(a.m, from)
	}
	return true
}

// Len returns the number of distinct couples stored. Mirrored couples are
// counted once.
func (a *Map[C, T]) Len() int { return a.size }

// Next iterates over the nodes reachable from id and their values. For
// non-mirrored undirected kinds only canonical successors (to >= id) are
// visited. The map must not be mutated while iterating.
func (a *Map[C, T]) Next(id int) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for to, v := range a.m[id] {
			if !yield(to, v) {
				return
			}
		}
	}
}

// NextIDs returns the successors of id in ascending order.
func (a *Map[C, T]) NextIDs(id int) []int {
	inner := a.m[id]
	out := make([]int, 0, len(inner))
	for to := range inner {
		out = append(out, to)
	}
	slices.Sort(out)
	return out
}

// Degree returns the number of successors of id.
func (a *Map[C, T]) Degree(id int) int { return len(a.m[id]) }

// HasNext reports whether id has at least one successor.
func (a *Map[C, T]) HasNext(id int) bool { return len(a.m[id]) > 0 }

// Nodes returns every node with at least one successor, ascending.
func (a *Map[C, T]) Nodes() []int {
	out := make([]int, 0, len(a.m))
	for id := range a.m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// All iterates over every stored couple once, in no particular order.
func (a *Map[C, T]) All() iter.Seq2[C, T] {
	return func(yield func(C, T) bool) {
		for from, inner := range a.m {
			for to, v := range inner {
				if a.kind.Mirrored && to < from {
					continue
				}
				if !yield(a.kind.Make(from, to), v) {
					return
				}
			}
		}
	}
}

// Couples returns every stored couple ordered by (first, second).
func (a *Map[C, T]) Couples() []C {
	out := make([]C, 0, a.size)
	for c := range a.All() {
		out = append(out, c)
	}
	slices.SortFunc(out, Compare[C])
	return out
}

// Clear removes every couple.
func (a *Map[C, T]) Clear() {
	clear(a.m)
	a.size = 0
}

// Compare orders couples by first then second endpoint.
func Compare[C model.Couple](x, y C) int {
	if c := cmp.Compare(x.First(), y.First()); c != 0 {
		return c
	}
	return cmp.Compare(x.Second(), y.Second())
}

// Set is a Map used as a couple set.
type Set[C model.Couple] struct {
	*Map[C, struct{}]
}

// NewSet returns an empty set for couples of the given kind.
func NewSet[C model.Couple](kind model.Kind[C]) *Set[C] {
	return &Set[C]{Map: NewMap[C, struct{}](kind)}
}

// Add inserts c and reports whether it was absent.
func (s *Set[C]) Add(c C) bool {
	if s.Contains(c) {
		return false
	}
	s.Put(c, struct{}{})
	return true
}

// Remove deletes c and reports whether it was present.
func (s *Set[C]) Remove(c C) bool { return s.Delete(c) }

// AddAll inserts every couple of cs.
func (s *Set[C]) AddAll(cs []C) {
	for _, c := range cs {
		s.Add(c)
	}
}
