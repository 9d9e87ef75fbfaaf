package model

import (
	"fmt"
	"slices"
)

// CoupleEvent is an UP or DOWN transition of a couple.
type CoupleEvent[C Couple] struct {
	Couple C    `json:"couple"`
	Up     bool `json:"up"`
}

func (e CoupleEvent[C]) String() string {
	if e.Up {
		return fmt.Sprintf("%v UP", e.Couple)
	}
	return fmt.Sprintf("%v DOWN", e.Couple)
}

type (
	EdgeEvent = CoupleEvent[Edge]
	LinkEvent = CoupleEvent[Link]
	ArcEvent  = CoupleEvent[Arc]
)

// UpEvent builds an UP event for c.
func UpEvent[C Couple](c C) CoupleEvent[C] { return CoupleEvent[C]{Couple: c, Up: true} }

// DownEvent builds a DOWN event for c.
func DownEvent[C Couple](c C) CoupleEvent[C] { return CoupleEvent[C]{Couple: c} }

// GroupEventType enumerates group membership changes.
type GroupEventType int

const (
	GroupNew GroupEventType = iota
	GroupJoin
	GroupLeave
	GroupDelete
)

func (t GroupEventType) String() string {
	switch t {
	case GroupNew:
		return "NEW"
	case GroupJoin:
		return "JOIN"
	case GroupLeave:
		return "LEAVE"
	case GroupDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("GroupEventType(%d)", int(t))
	}
}

// GroupEvent changes the membership of group GID. Members is only set for
// JOIN and LEAVE and is kept sorted.
type GroupEvent struct {
	Type    GroupEventType `json:"type"`
	GID     int            `json:"gid"`
	Members []int          `json:"members,omitempty"`
}

func (e GroupEvent) String() string {
	if len(e.Members) == 0 {
		return fmt.Sprintf("%s %d", e.Type, e.GID)
	}
	return fmt.Sprintf("%s %d %v", e.Type, e.GID, e.Members)
}

// NewGroupEvent builds a NEW event.
func NewGroupEvent(gid int) GroupEvent { return GroupEvent{Type: GroupNew, GID: gid} }

// DeleteGroupEvent builds a DELETE event.
func DeleteGroupEvent(gid int) GroupEvent { return GroupEvent{Type: GroupDelete, GID: gid} }

// JoinEvent builds a JOIN event for the given members.
func JoinEvent(gid int, members []int) GroupEvent {
	return GroupEvent{Type: GroupJoin, GID: gid, Members: SortedIDs(members)}
}

// LeaveEvent builds a LEAVE event for the given members.
func LeaveEvent(gid int, members []int) GroupEvent {
	return GroupEvent{Type: GroupLeave, GID: gid, Members: SortedIDs(members)}
}

// Group is a group state item.
type Group struct {
	GID     int   `json:"gid"`
	Members []int `json:"members"`
}

func (g Group) String() string { return fmt.Sprintf("%d %v", g.GID, g.Members) }

// PresenceEvent reports a node entering (In) or leaving the trace.
type PresenceEvent struct {
	ID int  `json:"id"`
	In bool `json:"in"`
}

func (e PresenceEvent) String() string {
	if e.In {
		return fmt.Sprintf("%d IN", e.ID)
	}
	return fmt.Sprintf("%d OUT", e.ID)
}

// Presence is a presence state item.
type Presence struct {
	ID int `json:"id"`
}

// SortedIDs returns a sorted copy of ids.
func SortedIDs(ids []int) []int {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

// SetIDs returns the keys of set in ascending order.
func SetIDs(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
