package sensors

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/units"
)

// Frame selects the reference frame of a point-navigation estimate.
type Frame int

const (
	// FrameAgent is relative to the observing camera.
	FrameAgent Frame = iota
	// FrameArm is relative to the wrist, expressed in the camera's axes.
	FrameArm
)

// PointNavConfig configures a PointNavEmul sensor.
type PointNavConfig struct {
	Target Target
	Camera CameraID
	Frame  Frame
	// UseGroundTruth replaces the depth sighting with the true object
	// position. It still goes through the weighted history, with a count
	// of one.
	UseGroundTruth bool
	// DeadReckoning places the camera at the nominal base pose instead of
	// the true one.
	DeadReckoning bool
	// Mask tunes the mask used for depth sightings. Its Target and Camera
	// are overridden.
	Mask ObjectMask
}

// extractor produces this step's sighting of the target in world
// coordinates, and how many pixels back it.
type extractor func(e *env.Environment, t TaskView, v view) (r3.Vec, int, bool)

// PointNavEmul estimates the target's relative position from what the
// camera has seen so far this episode.
type PointNavEmul struct {
	cfg     PointNavConfig
	extract extractor
	history geom.History
}

// NewPointNavEmul returns a sensor with an empty history.
func NewPointNavEmul(cfg PointNavConfig) *PointNavEmul {
	cfg.Mask.Target = cfg.Target
	cfg.Mask.Camera = cfg.Camera
	s := &PointNavEmul{cfg: cfg}
	if cfg.UseGroundTruth {
		s.extract = s.groundTruth
	} else {
		s.extract = s.fromDepth
	}
	return s
}

func (s *PointNavEmul) UUID() string {
	prefix := "point_nav_emul"
	if s.cfg.Frame == FrameArm {
		prefix = "arm_point_nav_emul"
	}
	if s.cfg.DeadReckoning {
		prefix += "_dr"
	}
	return fmt.Sprintf("%s_%s", prefix, s.cfg.Target)
}

// History exposes the accumulated sightings.
func (s *PointNavEmul) History() []geom.Observation { return s.history.Observations() }

// Observe records this step's sighting, if any, and returns the current
// belief. Without any sighting it returns geom.Sentinel.
func (s *PointNavEmul) Observe(e *env.Environment, t TaskView) (any, error) {
	step := t.NumSteps()
	if step == 0 {
		s.history.Reset()
	}

	v, ok := cameraView(e.LastEvent(), s.cfg.Camera)
	if !ok {
		monitoring.Logf("%s: no %s camera in event", s.UUID(), s.cfg.Camera)
		return geom.Sentinel, nil
	}
	wrist := e.HandPosition()
	if s.cfg.DeadReckoning {
		truth, nominal := e.AgentPose(), e.NominalPose()
		v.cam = deadReckonedCamera(v.cam, truth, nominal)
		if s.cfg.Camera == BodyCamera {
			v.cam.Horizon = e.NominalHorizon()
		}
		wrist = geom.AgentToWorld(geom.WorldToAgent(wrist, truth), nominal)
	}

	if p, n, ok := s.extract(e, t, v); ok {
		s.history.Add(geom.Observation{Point: p, Count: n, Step: step})
	}

	est, ok := s.history.Estimate(step)
	if !ok {
		return geom.Sentinel, nil
	}
	frame := geom.Pose{Position: v.cam.Position, Yaw: v.cam.Yaw}
	rel := geom.WorldToAgent(est, frame)
	if s.cfg.Frame == FrameArm {
		rel = r3.Sub(rel, geom.WorldToAgent(wrist, frame))
	}
	out, finite := geom.OrSentinel(rel)
	if !finite {
		monitoring.NonFinite(s.UUID(), rel)
	}
	return out, nil
}

func (s *PointNavEmul) fromDepth(e *env.Environment, t TaskView, v view) (r3.Vec, int, bool) {
	mask := s.cfg.Mask.mask(e, t)
	if mask.Count() == 0 || v.depth == nil {
		return r3.Vec{}, 0, false
	}
	pts := geom.Unproject(v.depth, v.cam, mask.At)
	p, n := geom.Centroid(pts)
	if n == 0 {
		monitoring.NonFinite(s.UUID()+" sighting", p)
		return r3.Vec{}, 0, false
	}
	return p, n, true
}

func (s *PointNavEmul) groundTruth(e *env.Environment, t TaskView, _ view) (r3.Vec, int, bool) {
	o, ok := e.ObjectByID(t.TargetID(s.cfg.Target))
	if !ok {
		return r3.Vec{}, 0, false
	}
	return o.Position.R3(), 1, true
}

// deadReckonedCamera moves cam rigidly with the base from the true pose to
// the nominal one. Pitch and field of view are kept.
func deadReckonedCamera(cam geom.Camera, truth, nominal geom.Pose) geom.Camera {
	rel := geom.WorldToAgent(cam.Position, truth)
	cam.Position = geom.AgentToWorld(rel, nominal)
	cam.Yaw = units.NormalizeDegrees(nominal.Yaw + cam.Yaw - truth.Yaw)
	return cam
}
