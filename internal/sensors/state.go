package sensors

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/units"
)

// PointNavGT is the true target position relative to the agent base, or to
// the wrist in FrameArm.
type PointNavGT struct {
	Target Target
	Frame  Frame
}

func (s PointNavGT) UUID() string {
	if s.Frame == FrameArm {
		return fmt.Sprintf("arm_point_nav_real_%s", s.Target)
	}
	return fmt.Sprintf("point_nav_real_%s", s.Target)
}

func (s PointNavGT) Observe(e *env.Environment, t TaskView) (any, error) {
	id := t.TargetID(s.Target)
	o, ok := e.ObjectByID(id)
	if !ok {
		return nil, fmt.Errorf("object %q not in scene", id)
	}
	agent := e.AgentPose()
	rel := geom.WorldToAgent(o.Position.R3(), agent)
	if s.Frame == FrameArm {
		rel = r3.Sub(rel, geom.WorldToAgent(e.HandPosition(), agent))
	}
	return rel, nil
}

// PickedUp reports the task's picked-up latch.
type PickedUp struct{}

func (PickedUp) UUID() string { return "pickedup_object" }

func (PickedUp) Observe(_ *env.Environment, t TaskView) (any, error) {
	return t.PickedUp(), nil
}

// OdometryReading is the base motion since the previous step, expressed in
// the previous base frame.
type OdometryReading struct {
	Delta    r3.Vec
	DeltaYaw float64 // degrees in (-180, 180]
}

// Odometry emulates wheel odometry from the nominal pose, or from the true
// pose when Truth is set.
type Odometry struct {
	Truth bool
	prev  geom.Pose
}

func (s *Odometry) UUID() string {
	if s.Truth {
		return "odometry_real"
	}
	return "odometry_emul"
}

func (s *Odometry) Observe(e *env.Environment, t TaskView) (any, error) {
	cur := e.NominalPose()
	if s.Truth {
		cur = e.AgentPose()
	}
	if t.NumSteps() == 0 {
		s.prev = cur
	}
	r := OdometryReading{
		Delta:    geom.WorldToAgent(cur.Position, s.prev),
		DeltaYaw: units.SignedDegrees(cur.Yaw - s.prev.Yaw),
	}
	s.prev = cur
	return r, nil
}
