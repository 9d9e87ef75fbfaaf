package core

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/timectrl"
	"github.com/signalsfoundry/contact-traces/trace"
)

// MotionModel gives a node's ECEF position (kilometres) at a wall-clock
// time.
type MotionModel interface {
	PositionAt(at time.Time) model.Vec3
}

// StaticMotionModel never moves.
type StaticMotionModel struct {
	Pos model.Vec3
}

// PositionAt returns the fixed position.
func (m *StaticMotionModel) PositionAt(time.Time) model.Vec3 { return m.Pos }

// OrbitalSGP4MotionModel propagates a TLE with SGP4.
type OrbitalSGP4MotionModel struct {
	sat satellite.Satellite
}

// NewOrbitalModelFromTLE constructs an orbital model from TLE lines.
func NewOrbitalModelFromTLE(line1, line2 string) (*OrbitalSGP4MotionModel, error) {
	if len(line1) < 69 || len(line2) < 69 || !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return nil, fmt.Errorf("%w: malformed TLE %q / %q", ErrBadParameter, line1, line2)
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &OrbitalSGP4MotionModel{sat: sat}, nil
}

// PositionAt propagates the satellite to at and rotates the result into
// ECEF. go-satellite works in kilometres.
func (m *OrbitalSGP4MotionModel) PositionAt(at time.Time) model.Vec3 {
	at = at.UTC()
	year, month, day := at.Date()
	hour, minute, sec := at.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, minute, sec)
	jd := satellite.JDay(year, int(month), day, hour, minute, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)
	return model.Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
}

// Orbit is one two-line element set.
type Orbit struct {
	Name  string
	Line1 string
	Line2 string
}

// ParseTLE reads two- or three-line element sets. A line preceding a
// "1 " line that is not itself element data names the set.
func ParseTLE(r io.Reader) ([]Orbit, error) {
	var (
		out  []Orbit
		name string
		l1   string
	)
	sc := bufio.NewScanner(r)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimRight(sc.Text(), " \r")
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case strings.HasPrefix(line, "1 ") && l1 == "":
			l1 = line
		case strings.HasPrefix(line, "2 ") && l1 != "":
			out = append(out, Orbit{Name: name, Line1: l1, Line2: line})
			name, l1 = "", ""
		case l1 != "":
			return nil, fmt.Errorf("line %d: expected TLE line 2", lineNo)
		default:
			name = strings.TrimSpace(strings.TrimPrefix(line, "0 "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if l1 != "" {
		return nil, fmt.Errorf("truncated TLE %q", l1)
	}
	return out, nil
}

// TrackedNode binds a node id to its motion.
type TrackedNode struct {
	ID    int
	Model MotionModel
}

// NodesFromTLE builds orbital nodes numbered from firstID in input order.
func NodesFromTLE(orbits []Orbit, firstID int) ([]TrackedNode, error) {
	nodes := make([]TrackedNode, 0, len(orbits))
	for i, o := range orbits {
		m, err := NewOrbitalModelFromTLE(o.Line1, o.Line2)
		if err != nil {
			return nil, fmt.Errorf("orbit %d %q: %w", i, o.Name, err)
		}
		nodes = append(nodes, TrackedNode{ID: firstID + i, Model: m})
	}
	return nodes, nil
}

// OrbitsToMovement samples every node every Step time units over
// [Start, End] and writes straight-line legs between the samples. Trace
// time t is Epoch + t*Unit.
type OrbitsToMovement struct {
	Store  *trace.Store
	Nodes  []TrackedNode
	Output string
	Epoch  time.Time
	Unit   time.Duration
	Start  int64
	End    int64
	Step   int64
}

// NewOrbitsToMovement returns a converter with one-second time units.
func NewOrbitsToMovement(store *trace.Store, nodes []TrackedNode, output string, epoch time.Time, start, end, step int64) *OrbitsToMovement {
	return &OrbitsToMovement{Store: store, Nodes: nodes, Output: output, Epoch: epoch,
		Unit: time.Second, Start: start, End: end, Step: step}
}

func (o *OrbitsToMovement) Name() string { return "orbits_to_movement" }

func (o *OrbitsToMovement) Convert(ctx context.Context) error {
	if o.Step <= 0 || o.End < o.Start || o.Unit <= 0 {
		return fmt.Errorf("%w: start=%d end=%d step=%d unit=%s", ErrBadParameter, o.Start, o.End, o.Step, o.Unit)
	}
	w, err := createOutput(o.Store, trace.Movements, o.Output)
	if err != nil {
		return err
	}
	w.SetProperty(trace.PropTimeUnit, o.Unit.String())
	w.SetProperty(trace.PropEpoch, o.Epoch.UTC().Format(time.RFC3339))
	w.SetPropertyInt(trace.PropEta, o.Step)

	at := func(t int64) time.Time { return o.Epoch.Add(time.Duration(t) * o.Unit) }
	dests := make(map[int]model.Vec3, len(o.Nodes))
	init := make([]model.Movement, 0, len(o.Nodes))
	for _, n := range o.Nodes {
		from := n.Model.PositionAt(at(o.Start))
		dest := n.Model.PositionAt(at(o.Start + o.Step))
		dests[n.ID] = dest
		init = append(init, model.Movement{
			ID:    n.ID,
			From:  from,
			Dest:  dest,
			Speed: from.DistanceTo(dest) / float64(o.Step),
			Since: o.Start,
		})
	}
	if err := w.SetInitState(o.Start, init); err != nil {
		return err
	}

	legs := 0
	runner := timectrl.NewRunner(o.Step, o.Start, o.End)
	runner.Add(timectrl.NewTicker(timectrl.DefaultPriority, func(now int64) error {
		if now == o.Start || now >= o.End {
			return nil
		}
		for _, n := range o.Nodes {
			from := dests[n.ID]
			dest := n.Model.PositionAt(at(now + o.Step))
			if dest == from {
				continue
			}
			dests[n.ID] = dest
			legs++
			ev := model.MovementEvent{
				Type:  model.MovementNewDest,
				ID:    n.ID,
				Dest:  dest,
				Speed: from.DistanceTo(dest) / float64(o.Step),
			}
			if err := w.Append(now, ev); err != nil {
				return err
			}
		}
		return nil
	}))
	if err := runner.Run(ctx); err != nil {
		return err
	}
	w.SetMaxTime(o.End)
	loggerFrom(ctx).Info(ctx, "movement written",
		logging.String("output", o.Output),
		logging.Int("nodes", len(o.Nodes)),
		logging.Int("legs", legs))
	return w.Close()
}
