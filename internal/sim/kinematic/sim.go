// Package kinematic is an in-process simulator that implements
// sim.Controller with simple kinematics: the body moves on a reachable grid,
// the arm is a free wrist within a reach sphere, and grasping picks the
// nearest pickupable object inside the hand radius. It renders low
// resolution depth frames and instance masks so the sensor pipeline can run
// end to end without the real simulator.
package kinematic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
	"github.com/kschmeckpeper/manipulathor/internal/units"
)

// Options tune the simulated embodiment and renderer.
type Options struct {
	// Rows and Cols set the rendered frame size. Zero disables rendering.
	Rows, Cols int
	FOV        float64
	// CameraHeight is the body camera height above the agent position.
	CameraHeight float64
	// ArmReach bounds the wrist's distance from the arm root.
	ArmReach float64
	// PickupRadius is how close to the wrist an object must be to grasp it.
	PickupRadius float64
	// VisibilityDistance bounds the visible flag in object metadata.
	VisibilityDistance float64
	// GridTolerance is how far from a reachable position the body may stand.
	GridTolerance float64
	// ArmCameraHorizon is the pitch of the wrist camera.
	ArmCameraHorizon float64
}

// DefaultOptions returns options matching the real embodiment closely
// enough for tests.
func DefaultOptions() Options {
	return Options{
		Rows:               32,
		Cols:               32,
		FOV:                90,
		CameraHeight:       0.675,
		ArmReach:           1.0,
		PickupRadius:       0.15,
		VisibilityDistance: 1.5,
		GridTolerance:      0.2,
		ArmCameraHorizon:   45,
	}
}

// ErrStopped is returned after Stop.
var ErrStopped = errors.New("kinematic simulator stopped")

type object struct {
	spec     ObjectSpec
	position r3.Vec
}

// Sim is the kinematic simulator. It is safe for use by one environment at
// a time; the mutex only guards the test hooks.
type Sim struct {
	opts   Options
	scenes map[string]Scene

	mu         sync.Mutex
	failNext   map[string]int
	failResets int
	commands   []sim.Command
	stopped    bool

	scene     Scene
	agent     geom.Pose
	horizon   float64
	armHeight float64 // normalised [0, 1]
	hand      r3.Vec  // root-relative wrist position
	wristYaw  float64
	objects   []*object
	held      string
	last      *sim.Event
}

// New returns a simulator that can reset into any of scenes.
func New(opts Options, scenes ...Scene) *Sim {
	s := &Sim{
		opts:     opts,
		scenes:   make(map[string]Scene, len(scenes)),
		failNext: make(map[string]int),
	}
	for _, sc := range scenes {
		s.scenes[sc.Name] = sc
	}
	return s
}

// FailNext makes the next n commands named action report failure.
func (s *Sim) FailNext(action string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[action] += n
}

// FailResets makes the next n Reset calls return an error.
func (s *Sim) FailResets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failResets = n
}

// Commands returns every command stepped since the last reset.
func (s *Sim) Commands() []sim.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sim.Command(nil), s.commands...)
}

// SetObjectPosition moves an object, for test setup.
func (s *Sim) SetObjectPosition(id string, p r3.Vec) {
	for _, o := range s.objects {
		if o.spec.ID == id {
			o.position = p
		}
	}
	s.last = s.event(s.last.Metadata.LastAction, true, "", nil)
}

// AgentPose is the ground-truth body pose.
func (s *Sim) AgentPose() geom.Pose { return s.agent }

// Reset loads scene.
func (s *Sim) Reset(ctx context.Context, scene string) (*sim.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if s.failResets > 0 {
		s.failResets--
		s.mu.Unlock()
		return nil, fmt.Errorf("reset %s: simulated crash", scene)
	}
	s.commands = nil
	s.mu.Unlock()

	sc, ok := s.scenes[scene]
	if !ok {
		return nil, fmt.Errorf("unknown scene %q", scene)
	}
	s.scene = sc
	s.agent = sc.AgentStart
	s.horizon = sc.Horizon
	s.armHeight = 0.5
	s.hand = r3.Vec{Z: 0.5}
	s.wristYaw = 0
	s.held = ""
	s.objects = make([]*object, len(sc.Objects))
	for i, spec := range sc.Objects {
		s.objects[i] = &object{spec: spec, position: spec.Position}
	}
	s.last = s.event("Initialize", true, "", nil)
	return s.last, nil
}

// LastEvent returns the most recent event.
func (s *Sim) LastEvent() *sim.Event { return s.last }

// Stop ends the session.
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Step executes one command.
func (s *Sim) Step(ctx context.Context, cmd sim.Command) (*sim.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.commands = append(s.commands, cmd)
	forced := s.failNext[cmd.Action] > 0
	if forced {
		s.failNext[cmd.Action]--
	}
	s.mu.Unlock()

	if s.last == nil {
		return nil, errors.New("step before reset")
	}

	for _, o := range s.objects {
		if o.spec.ID != s.held {
			o.position = r3.Add(o.position, o.spec.Drift)
		}
	}

	var (
		ok     bool
		msg    string
		actRet json.RawMessage
	)
	if forced {
		msg = "forced failure"
	} else {
		ok, msg, actRet = s.apply(cmd)
	}
	s.carryHeld()
	s.last = s.event(cmd.Action, ok, msg, actRet)
	return s.last, nil
}

func (s *Sim) apply(cmd sim.Command) (bool, string, json.RawMessage) {
	switch cmd.Action {
	case sim.CmdMoveAgent:
		ahead, _ := cmd.Float("ahead")
		right, _ := cmd.Float("right")
		next := geom.AgentToWorld(r3.Vec{X: right, Z: ahead}, s.agent)
		if !s.reachable(next) {
			return false, "collided", nil
		}
		s.agent.Position = next
	case sim.CmdRotateAgent:
		deg, _ := cmd.Float("degrees")
		s.agent.Yaw = units.NormalizeDegrees(s.agent.Yaw + deg)
	case sim.CmdMoveArmBase:
		y, _ := cmd.Float("y")
		if y < 0 || y > 1 {
			return false, "arm height out of range", nil
		}
		s.armHeight = y
	case sim.CmdMoveArm:
		p, ok := cmd.Vec("position")
		if !ok {
			return false, "missing position", nil
		}
		if r3.Norm(p.R3()) > s.opts.ArmReach {
			return false, "target out of reach", nil
		}
		s.hand = p.R3()
	case sim.CmdRotateWristRelative:
		yaw, _ := cmd.Float("yaw")
		s.wristYaw = units.SignedDegrees(s.wristYaw + yaw)
	case sim.CmdPickupObject:
		if s.held != "" {
			return false, "hand is full", nil
		}
		cands := s.pickupable()
		if len(cands) == 0 {
			return false, "nothing to pick up", nil
		}
		s.held = cands[0]
	case sim.CmdReleaseObject:
		if s.held == "" {
			return false, "hand is empty", nil
		}
		s.held = ""
	case sim.CmdPass, "Done":
	case sim.CmdGetReachablePositions:
		pts := make([]sim.Vec3, len(s.scene.Reachable))
		for i, p := range s.scene.Reachable {
			pts[i] = sim.FromR3(p)
		}
		raw, err := json.Marshal(pts)
		if err != nil {
			return false, err.Error(), nil
		}
		return true, "", raw
	case sim.CmdTeleportFull:
		x, _ := cmd.Float("x")
		y, _ := cmd.Float("y")
		z, _ := cmd.Float("z")
		rot, _ := cmd.Vec("rotation")
		horizon, _ := cmd.Float("horizon")
		next := r3.Vec{X: x, Y: y, Z: z}
		if !s.reachable(next) {
			return false, "teleport target unreachable", nil
		}
		s.agent = geom.Pose{Position: next, Yaw: units.NormalizeDegrees(rot.Y)}
		s.horizon = horizon
	default:
		return false, fmt.Sprintf("unsupported action %q", cmd.Action), nil
	}
	return true, "", nil
}

func (s *Sim) reachable(p r3.Vec) bool {
	i := geom.NearestIndex(s.scene.Reachable, p)
	if i < 0 {
		return true
	}
	g := s.scene.Reachable[i]
	return math.Hypot(g.X-p.X, g.Z-p.Z) <= s.opts.GridTolerance
}

// armRoot is the world position of the arm base joint.
func (s *Sim) armRoot() r3.Vec {
	lo, hi := sim.ArmHeightRange(s.agent.Position.Y)
	return r3.Vec{X: s.agent.Position.X, Y: lo + s.armHeight*(hi-lo), Z: s.agent.Position.Z}
}

func (s *Sim) handWorld() r3.Vec {
	return geom.AgentToWorld(s.hand, geom.Pose{Position: s.armRoot(), Yaw: s.agent.Yaw})
}

// pickupable lists graspable objects near the wrist, nearest first.
func (s *Sim) pickupable() []string {
	hand := s.handWorld()
	type cand struct {
		id string
		d  float64
	}
	var cs []cand
	for _, o := range s.objects {
		if !o.spec.Pickupable {
			continue
		}
		if d := geom.Distance(o.position, hand); d <= s.opts.PickupRadius {
			cs = append(cs, cand{o.spec.ID, d})
		}
	}
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].d < cs[j-1].d; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.id
	}
	return ids
}

func (s *Sim) carryHeld() {
	if s.held == "" {
		return
	}
	for _, o := range s.objects {
		if o.spec.ID == s.held {
			o.position = s.handWorld()
		}
	}
}

func (s *Sim) bodyCamera() geom.Camera {
	return geom.Camera{
		Position: r3.Add(s.agent.Position, r3.Vec{Y: s.opts.CameraHeight}),
		Yaw:      s.agent.Yaw,
		Horizon:  s.horizon,
		FOV:      s.opts.FOV,
	}
}

func (s *Sim) armCamera() geom.Camera {
	return geom.Camera{
		Position: s.handWorld(),
		Yaw:      units.NormalizeDegrees(s.agent.Yaw + s.wristYaw),
		Horizon:  s.opts.ArmCameraHorizon,
		FOV:      s.opts.FOV,
	}
}

func (s *Sim) event(action string, ok bool, msg string, actRet json.RawMessage) *sim.Event {
	body := s.bodyCamera()
	arm := s.armCamera()
	root := s.armRoot()
	hand := s.handWorld()

	m := sim.Metadata{
		SceneName: s.scene.Name,
		Agent: sim.AgentMeta{
			Position:      sim.FromR3(s.agent.Position),
			Rotation:      sim.Vec3{Y: s.agent.Yaw},
			CameraHorizon: sim.Float(s.horizon),
			IsStanding:    true,
		},
		Arm: sim.ArmMeta{
			Joints: []sim.Joint{
				{Name: "robot_arm_1_jnt", Position: sim.FromR3(root)},
				{Name: "robot_arm_2_jnt", Position: sim.FromR3(r3.Add(root, r3.Scale(0.33, r3.Sub(hand, root)))), RootRelativePosition: sim.FromR3(r3.Scale(0.33, s.hand))},
				{Name: "robot_arm_3_jnt", Position: sim.FromR3(r3.Add(root, r3.Scale(0.66, r3.Sub(hand, root)))), RootRelativePosition: sim.FromR3(r3.Scale(0.66, s.hand))},
				{Name: sim.WristJoint, Position: sim.FromR3(hand), RootRelativePosition: sim.FromR3(s.hand)},
			},
			PickupableObjects: s.pickupable(),
			HandSphereCenter:  sim.FromR3(hand),
		},
		CameraPosition: sim.FromR3(body.Position),
		FOV:            sim.Float(body.FOV),
		ThirdPartyCameras: []sim.CameraMeta{{
			Position:    sim.FromR3(arm.Position),
			Rotation:    sim.Vec3{X: arm.Horizon, Y: arm.Yaw},
			FieldOfView: sim.Float(arm.FOV),
		}},
		LastAction:        action,
		LastActionSuccess: ok,
		ErrorMessage:      msg,
		ActionReturn:      actRet,
	}
	if s.held != "" {
		m.Arm.HeldObjects = []string{s.held}
	}
	for _, o := range s.objects {
		m.Objects = append(m.Objects, sim.ObjectMeta{
			ObjectID:   o.spec.ID,
			ObjectType: o.spec.Type,
			Position:   sim.FromR3(o.position),
			Visible:    s.visible(o, body),
			Pickupable: o.spec.Pickupable,
		})
		if o.spec.ID == s.held {
			m.InventoryObjects = []sim.InventoryObject{{ObjectID: o.spec.ID, ObjectType: o.spec.Type}}
		}
	}

	ev := &sim.Event{Metadata: m}
	if s.opts.Rows > 0 && s.opts.Cols > 0 {
		ev.Depth, ev.InstanceMasks, ev.Frame = s.render(body)
		d, masks, _ := s.render(arm)
		ev.ThirdPartyDepth = append(ev.ThirdPartyDepth, d)
		ev.ThirdPartyMasks = append(ev.ThirdPartyMasks, masks)
	}
	return ev
}

func (s *Sim) visible(o *object, cam geom.Camera) bool {
	if geom.Distance(o.position, cam.Position) > s.opts.VisibilityDistance {
		return false
	}
	rows, cols := s.opts.Rows, s.opts.Cols
	if rows == 0 || cols == 0 {
		rows, cols = 100, 100
	}
	r, c, _, ok := geom.Project(o.position, cam, rows, cols)
	return ok && r >= -0.5 && c >= -0.5 && r <= float64(rows)-0.5 && c <= float64(cols)-0.5
}
