// Package sensors turns simulator events into policy observations. The
// point-navigation sensors fuse per-step object sightings from depth and
// instance masks into a recency-weighted estimate expressed relative to the
// agent or its wrist.
package sensors

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// Target selects which task object a sensor tracks.
type Target string

const (
	Source      Target = "source"
	Destination Target = "destination"
)

// CameraID selects the body camera or the wrist-mounted camera.
type CameraID int

const (
	BodyCamera CameraID = iota
	ArmCamera
)

func (c CameraID) String() string {
	if c == ArmCamera {
		return "arm"
	}
	return "body"
}

// TaskView is the part of a running task sensors may read.
type TaskView interface {
	NumSteps() int
	TargetID(Target) string
	PickedUp() bool
}

// Sensor produces one named observation per step.
type Sensor interface {
	UUID() string
	Observe(e *env.Environment, t TaskView) (any, error)
}

// Observation maps sensor UUIDs to values.
type Observation map[string]any

// Suite evaluates an ordered list of sensors.
type Suite struct {
	sensors []Sensor
}

// NewSuite rejects duplicate UUIDs.
func NewSuite(ss ...Sensor) (*Suite, error) {
	seen := make(map[string]bool, len(ss))
	for _, s := range ss {
		if seen[s.UUID()] {
			return nil, fmt.Errorf("duplicate sensor uuid %q", s.UUID())
		}
		seen[s.UUID()] = true
	}
	return &Suite{sensors: ss}, nil
}

// UUIDs lists the sensor names in evaluation order.
func (s *Suite) UUIDs() []string {
	out := make([]string, len(s.sensors))
	for i, sn := range s.sensors {
		out[i] = sn.UUID()
	}
	return out
}

// Observe runs every sensor in order.
func (s *Suite) Observe(e *env.Environment, t TaskView) (Observation, error) {
	obs := make(Observation, len(s.sensors))
	for _, sn := range s.sensors {
		v, err := sn.Observe(e, t)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", sn.UUID(), err)
		}
		obs[sn.UUID()] = v
	}
	return obs, nil
}

// view is one camera's pose and frames from an event.
type view struct {
	cam   geom.Camera
	depth *mat.Dense
	masks map[string]*sim.Mask
}

func cameraView(ev *sim.Event, id CameraID) (view, bool) {
	m := ev.Metadata
	if id == BodyCamera {
		return view{
			cam: geom.Camera{
				Position: m.CameraPosition.R3(),
				Yaw:      m.Agent.Rotation.Y,
				Horizon:  float64(m.Agent.CameraHorizon),
				FOV:      float64(m.FOV),
			},
			depth: ev.Depth,
			masks: ev.InstanceMasks,
		}, true
	}

	if len(m.ThirdPartyCameras) == 0 {
		return view{}, false
	}
	if len(m.ThirdPartyCameras) != 1 {
		monitoring.Logf("expected one third-party camera, got %d", len(m.ThirdPartyCameras))
	}
	c := m.ThirdPartyCameras[0]
	v := view{cam: geom.Camera{
		Position: c.Position.R3(),
		Yaw:      c.Rotation.Y,
		Horizon:  c.Rotation.X,
		FOV:      float64(c.FieldOfView),
	}}
	if len(ev.ThirdPartyDepth) > 0 {
		v.depth = ev.ThirdPartyDepth[0]
	}
	if len(ev.ThirdPartyMasks) > 0 {
		v.masks = ev.ThirdPartyMasks[0]
	}
	return v, true
}
