package trace

import (
	"slices"

	"github.com/signalsfoundry/contact-traces/adjacency"
	"github.com/signalsfoundry/contact-traces/model"
)

// Updater applies events of a trace type to a state set. It backs seeking,
// snapshots and the writer's live reference state.
type Updater[E, S any] interface {
	SetState(states []S)
	Apply(time int64, ev E)
	States() []S
}

// Type describes a trace type: its name, the family of types sharing the
// same Go event and state types, and how events update state.
type Type[E, S any] struct {
	Name       string
	Family     string
	NewUpdater func() Updater[E, S]
}

// Compatible reports whether a trace stored under typeName can be read as t.
func (t Type[E, S]) Compatible(typeName string) bool {
	if typeName == t.Name {
		return true
	}
	fam, ok := families[typeName]
	return ok && fam == t.Family
}

var families = map[string]string{
	"edges":        "edges",
	"links":        "links",
	"arcs":         "arcs",
	"reachability": "arcs",
	"presence":     "presence",
	"groups":       "groups",
	"movement":     "movement",
}

var (
	Edges        = coupleType("edges", "edges", model.Edges)
	Links        = coupleType("links", "links", model.Links)
	Arcs         = coupleType("arcs", "arcs", model.Arcs)
	Reachability = coupleType("reachability", "arcs", model.Arcs)

	Presence = Type[model.PresenceEvent, model.Presence]{
		Name: "presence", Family: "presence",
		NewUpdater: func() Updater[model.PresenceEvent, model.Presence] { return &presenceUpdater{ids: map[int]struct{}{}} },
	}
	Groups = Type[model.GroupEvent, model.Group]{
		Name: "groups", Family: "groups",
		NewUpdater: func() Updater[model.GroupEvent, model.Group] {
			return &groupUpdater{groups: map[int]map[int]struct{}{}}
		},
	}
	Movements = Type[model.MovementEvent, model.Movement]{
		Name: "movement", Family: "movement",
		NewUpdater: func() Updater[model.MovementEvent, model.Movement] {
			return &movementUpdater{nodes: map[int]model.Movement{}}
		},
	}
)

func coupleType[C model.Couple](name, family string, kind model.Kind[C]) Type[model.CoupleEvent[C], C] {
	return Type[model.CoupleEvent[C], C]{
		Name:   name,
		Family: family,
		NewUpdater: func() Updater[model.CoupleEvent[C], C] {
			return &coupleUpdater[C]{set: adjacency.NewSet(kind)}
		},
	}
}

type coupleUpdater[C model.Couple] struct {
	set *adjacency.Set[C]
}

func (u *coupleUpdater[C]) SetState(states []C) {
	u.set.Clear()
	u.set.AddAll(states)
}

func (u *coupleUpdater[C]) Apply(_ int64, ev model.CoupleEvent[C]) {
	if ev.Up {
		u.set.Add(ev.Couple)
	} else {
		u.set.Remove(ev.Couple)
	}
}

func (u *coupleUpdater[C]) States() []C { return u.set.Couples() }

type presenceUpdater struct {
	ids map[int]struct{}
}

func (u *presenceUpdater) SetState(states []model.Presence) {
	clear(u.ids)
	for _, p := range states {
		u.ids[p.ID] = struct{}{}
	}
}

func (u *presenceUpdater) Apply(_ int64, ev model.PresenceEvent) {
	if ev.In {
		u.ids[ev.ID] = struct{}{}
	} else {
		delete(u.ids, ev.ID)
	}
}

func (u *presenceUpdater) States() []model.Presence {
	ids := model.SetIDs(u.ids)
	out := make([]model.Presence, len(ids))
	for i, id := range ids {
		out[i] = model.Presence{ID: id}
	}
	return out
}

type groupUpdater struct {
	groups map[int]map[int]struct{}
}

func (u *groupUpdater) SetState(states []model.Group) {
	clear(u.groups)
	for _, g := range states {
		members := make(map[int]struct{}, len(g.Members))
		for _, id := range g.Members {
			members[id] = struct{}{}
		}
		u.groups[g.GID] = members
	}
}

func (u *groupUpdater) Apply(_ int64, ev model.GroupEvent) {
	switch ev.Type {
	case model.GroupNew:
		u.groups[ev.GID] = map[int]struct{}{}
	case model.GroupJoin:
		members, ok := u.groups[ev.GID]
		if !ok {
			members = map[int]struct{}{}
			u.groups[ev.GID] = members
		}
		for _, id := range ev.Members {
			members[id] = struct{}{}
		}
	case model.GroupLeave:
		for _, id := range ev.Members {
			delete(u.groups[ev.GID], id)
		}
	case model.GroupDelete:
		delete(u.groups, ev.GID)
	}
}

func (u *groupUpdater) States() []model.Group {
	gids := make([]int, 0, len(u.groups))
	for gid := range u.groups {
		gids = append(gids, gid)
	}
	slices.Sort(gids)
	out := make([]model.Group, len(gids))
	for i, gid := range gids {
		out[i] = model.Group{GID: gid, Members: model.SetIDs(u.groups[gid])}
	}
	return out
}

type movementUpdater struct {
	nodes map[int]model.Movement
}

func (u *movementUpdater) SetState(states []model.Movement) {
	clear(u.nodes)
	for _, m := range states {
		u.nodes[m.ID] = m
	}
}

func (u *movementUpdater) Apply(time int64, ev model.MovementEvent) {
	switch ev.Type {
	case model.MovementIn:
		u.nodes[ev.ID] = model.Stationary(ev.ID, ev.Pos, time)
	case model.MovementOut:
		delete(u.nodes, ev.ID)
	case model.MovementNewDest:
		if m, ok := u.nodes[ev.ID]; ok {
			u.nodes[ev.ID] = m.Redirect(time, ev.Dest, ev.Speed)
		}
	}
}

func (u *movementUpdater) States() []model.Movement {
	ids := make([]int, 0, len(u.nodes))
	for id := range u.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]model.Movement, len(ids))
	for i, id := range ids {
		out[i] = u.nodes[id]
	}
	return out
}
