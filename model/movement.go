package model

import (
	"fmt"
	"math"
)

// Movement is the state of a moving node: it left From at time Since and
// travels in a straight line towards Dest at Speed (distance per time unit),
// then stays there.
type Movement struct {
	ID    int     `json:"id"`
	From  Vec3    `json:"from"`
	Dest  Vec3    `json:"dest"`
	Speed float64 `json:"speed"`
	Since int64   `json:"since"`
}

// Stationary returns a movement that stays at pos.
func Stationary(id int, pos Vec3, since int64) Movement {
	return Movement{ID: id, From: pos, Dest: pos, Since: since}
}

// Arrival returns the time at which the node reaches Dest. Stationary
// movements arrive at Since.
func (m Movement) Arrival() float64 {
	d := m.From.DistanceTo(m.Dest)
	if d == 0 || m.Speed <= 0 {
		return float64(m.Since)
	}
	return float64(m.Since) + d/m.Speed
}

// Velocity returns the velocity vector while the node is travelling.
func (m Movement) Velocity() Vec3 {
	d := m.From.DistanceTo(m.Dest)
	if d == 0 || m.Speed <= 0 {
		return Vec3{}
	}
	return m.Dest.Sub(m.From).Scale(m.Speed / d)
}

// PositionAt returns the node position at time t (t >= Since).
func (m Movement) PositionAt(t float64) Vec3 {
	if t >= m.Arrival() {
		return m.Dest
	}
	dt := t - float64(m.Since)
	if dt <= 0 {
		return m.From
	}
	return m.From.Add(m.Velocity().Scale(dt))
}

// VelocityAt returns the velocity at time t: zero once arrived.
func (m Movement) VelocityAt(t float64) Vec3 {
	if t >= m.Arrival() {
		return Vec3{}
	}
	return m.Velocity()
}

// Redirect returns the movement that starts from the current position at
// time t towards dest.
func (m Movement) Redirect(t int64, dest Vec3, speed float64) Movement {
	return Movement{ID: m.ID, From: m.PositionAt(float64(t)), Dest: dest, Speed: speed, Since: t}
}

func (m Movement) String() string {
	return fmt.Sprintf("%d %v->%v @%g since %d", m.ID, m.From, m.Dest, m.Speed, m.Since)
}

// MeetingTimes returns the times t1 <= t2, both >= from, at which a and b
// are exactly r apart, assuming neither changes velocity after from. It
// solves |dp + dv*(t-from)|^2 = r^2. ok is false when the distance never
// equals r in the future (including the parallel-motion case).
func MeetingTimes(a, b Movement, r float64, from float64) (t1, t2 float64, ok bool) {
	dp := a.PositionAt(from).Sub(b.PositionAt(from))
	dv := a.VelocityAt(from).Sub(b.VelocityAt(from))
	qa := dv.Dot(dv)
	qb := 2 * dp.Dot(dv)
	qc := dp.Dot(dp) - r*r
	if qa == 0 {
		return 0, 0, false
	}
	disc := qb*qb - 4*qa*qc
	if disc < 0 {
		return 0, 0, false
	}
	sq := math.Sqrt(disc)
	r1 := (-qb - sq) / (2 * qa)
	r2 := (-qb + sq) / (2 * qa)
	if r2 < 0 {
		return 0, 0, false
	}
	return from + r1, from + r2, true
}

// MovementEventType enumerates movement trace events.
type MovementEventType int

const (
	MovementIn MovementEventType = iota
	MovementOut
	MovementNewDest
)

func (t MovementEventType) String() string {
	switch t {
	case MovementIn:
		return "IN"
	case MovementOut:
		return "OUT"
	case MovementNewDest:
		return "NEW_DEST"
	default:
		return fmt.Sprintf("MovementEventType(%d)", int(t))
	}
}

// MovementEvent changes the movement of node ID. IN carries the starting
// position in Pos; NEW_DEST carries Dest and Speed.
type MovementEvent struct {
	Type  MovementEventType `json:"type"`
	ID    int               `json:"id"`
	Pos   Vec3              `json:"pos,omitempty"`
	Dest  Vec3              `json:"dest,omitempty"`
	Speed float64           `json:"speed,omitempty"`
}

func (e MovementEvent) String() string {
	switch e.Type {
	case MovementIn:
		return fmt.Sprintf("%d IN %v", e.ID, e.Pos)
	case MovementNewDest:
		return fmt.Sprintf("%d NEW_DEST %v @%g", e.ID, e.Dest, e.Speed)
	default:
		return fmt.Sprintf("%d %s", e.ID, e.Type)
	}
}
