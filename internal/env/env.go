// Package env translates discrete task actions into physical simulator
// commands. Locomotion is split into a drift micro-step followed by the
// nominal motion, arm actions become absolute joint targets, and grasping is
// resolved here so the outward action is always a no-op. The environment
// also tracks the nominal (dead-reckoned) agent pose, which only follows
// the intended motion of successful actions.
package env

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/noise"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
	"github.com/kschmeckpeper/manipulathor/internal/units"
)

var (
	// ErrUnknownAction is returned for action names or indices outside the
	// supported set. It is a configuration error.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInventory is returned when the agent holds more than one object.
	ErrInventory = errors.New("more than one object in inventory")
)

// Options are the embodiment's nominal step sizes.
type Options struct {
	AheadNominal  float64 // metres per MoveAhead
	RotateNominal float64 // degrees per Rotate
	ArmStep       float64 // metres per arm x/y/z action
	ArmHeightStep float64 // normalised height per arm height action
	WristRotation float64 // degrees per wrist action
	// Stretch moves the lift and telescope through MoveArm instead of
	// MoveArmBase.
	Stretch bool
}

// DefaultOptions returns the ManipulaTHOR step sizes.
func DefaultOptions() Options {
	return Options{
		AheadNominal:  0.2,
		RotateNominal: 45,
		ArmStep:       0.05,
		ArmHeightStep: 0.05,
		WristRotation: 10,
	}
}

// smallDivisor scales nominal motion for the small rotation and wrist
// actions.
const smallDivisor = 5

// armArgs ride along with every arm and locomotion command.
var armArgs = map[string]any{
	"disableRendering": true,
	"returnToStart":    true,
	"speed":            1.0,
}

// Request is one discrete action. ObjectID names the grasp target for
// PickUp.
type Request struct {
	Action   string
	ObjectID string
}

// Environment owns one simulator session.
type Environment struct {
	ctrl    sim.Controller
	factory sim.Factory
	noise   noise.Model
	opts    Options

	nominal     geom.Pose
	horizon     float64 // nominal camera pitch
	reachable   []r3.Vec
	issued      []sim.Command
	lastSuccess bool
}

// New starts a controller from factory. The factory is kept so a crashed
// session can be recreated during Reset.
func New(ctx context.Context, factory sim.Factory, model noise.Model, opts Options) (*Environment, error) {
	ctrl, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("start controller: %w", err)
	}
	return &Environment{ctrl: ctrl, factory: factory, noise: model, opts: opts}, nil
}

// Reset loads scene. A failed reset recreates the controller and retries
// once; a second failure is returned. Afterwards the reachable grid is
// refreshed, the noise model redrawn and the nominal pose snapped to the
// true pose.
func (e *Environment) Reset(ctx context.Context, scene string) (*sim.Event, error) {
	if _, err := e.ctrl.Reset(ctx, scene); err != nil {
		monitoring.Logf("resetting scene %s because of: %v", scene, err)
		if serr := e.ctrl.Stop(); serr != nil {
			monitoring.Logf("stopping crashed controller: %v", serr)
		}
		ctrl, ferr := e.factory(ctx)
		if ferr != nil {
			return nil, fmt.Errorf("recreate controller: %w", ferr)
		}
		e.ctrl = ctrl
		if _, err := e.ctrl.Reset(ctx, scene); err != nil {
			return nil, fmt.Errorf("reset %s: %w", scene, err)
		}
	}

	e.issued = nil
	e.reachable = nil
	ev, err := e.ctrl.Step(ctx, sim.Simple(sim.CmdGetReachablePositions))
	if err != nil {
		return nil, fmt.Errorf("get reachable positions: %w", err)
	}
	if !ev.Success() {
		monitoring.Logf("reachable positions query failed in %s: %s", scene, ev.Metadata.ErrorMessage)
	} else if pts, err := ev.Metadata.ReachablePositions(); err != nil {
		monitoring.Logf("reachable positions in %s: %v", scene, err)
	} else {
		e.reachable = make([]r3.Vec, len(pts))
		for i, p := range pts {
			e.reachable[i] = p.R3()
		}
	}

	e.noise.Reset()
	e.nominal = e.AgentPose()
	e.horizon = e.AgentHorizon()
	e.lastSuccess = true
	return e.ctrl.LastEvent(), nil
}

// Stop ends the simulator session.
func (e *Environment) Stop() error { return e.ctrl.Stop() }

// Step executes one discrete action and returns the event of its final
// nominal command. Simulator-level failure is reported on the event.
func (e *Environment) Step(ctx context.Context, req Request) (*sim.Event, error) {
	var cmd sim.Command
	switch req.Action {
	case PickUp, Done:
		if req.Action == PickUp {
			if err := e.grasp(ctx, req.ObjectID); err != nil {
				return nil, err
			}
		}
		cmd = sim.Simple(sim.CmdPass)

	case MoveAhead, MoveBack, RotateRight, RotateLeft, RotateRightSmall, RotateLeftSmall:
		correction, nominal := e.locomotion(req.Action)
		if _, err := e.exec(ctx, correction); err != nil {
			return nil, err
		}
		cmd = nominal

	case MoveArmHeightP, MoveArmHeightM, MoveArmXP, MoveArmXM, MoveArmYP, MoveArmYM, MoveArmZP, MoveArmZM:
		cmd = e.armMove(req.Action)

	case MoveWristP:
		cmd = sim.RotateWristRelative(-e.opts.WristRotation)
	case MoveWristM:
		cmd = sim.RotateWristRelative(e.opts.WristRotation)
	case MoveWristPSmall:
		cmd = sim.RotateWristRelative(-e.opts.WristRotation / smallDivisor)
	case MoveWristMSmall:
		cmd = sim.RotateWristRelative(e.opts.WristRotation / smallDivisor)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	ev, err := e.exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	e.lastSuccess = ev.Success()
	if ev.Success() {
		e.advanceNominal(req.Action)
		return ev, nil
	}

	if isLocomotion(req.Action) {
		d := e.noise.RotateDrift()
		if _, err := e.exec(ctx, sim.MoveAgent(d.Ahead, d.Lateral).WithArgs(armArgs)); err != nil {
			return nil, err
		}
		if _, err := e.exec(ctx, sim.RotateAgent(d.Rotation).WithArgs(armArgs)); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// Teleport places the agent at pose with the given camera horizon. On
// success the nominal pose and horizon are set to the target.
func (e *Environment) Teleport(ctx context.Context, pose geom.Pose, horizon float64) (*sim.Event, error) {
	ev, err := e.exec(ctx, sim.TeleportFull(sim.FromR3(pose.Position), pose.Yaw, horizon))
	if err != nil {
		return nil, err
	}
	e.lastSuccess = ev.Success()
	if ev.Success() {
		e.nominal = geom.Pose{Position: pose.Position, Yaw: units.NormalizeDegrees(pose.Yaw)}
		e.horizon = horizon
	}
	return ev, nil
}

// Exec issues a raw physical command without nominal bookkeeping. Tasks use
// it for grasp attempts outside the action space.
func (e *Environment) Exec(ctx context.Context, cmd sim.Command) (*sim.Event, error) {
	return e.exec(ctx, cmd)
}

func (e *Environment) exec(ctx context.Context, cmd sim.Command) (*sim.Event, error) {
	ev, err := e.ctrl.Step(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", cmd.Action, err)
	}
	e.issued = append(e.issued, cmd)
	return ev, nil
}

func (e *Environment) grasp(ctx context.Context, objectID string) error {
	if e.IsHeld(objectID) || !slices.Contains(e.Pickupable(), objectID) {
		return nil
	}
	if _, err := e.exec(ctx, sim.Simple(sim.CmdPickupObject)); err != nil {
		return err
	}
	held := e.ctrl.LastEvent().Metadata.Arm.HeldObjects
	if len(held) > 0 && !slices.Contains(held, objectID) {
		monitoring.Logf("picked up the wrong object %v instead of %s", held, objectID)
		if _, err := e.exec(ctx, sim.Simple(sim.CmdReleaseObject)); err != nil {
			return err
		}
	}
	return nil
}

// locomotion returns the drift-correction command and the nominal command
// for a base motion. The correction runs first.
func (e *Environment) locomotion(action string) (correction, nominal sim.Command) {
	switch action {
	case MoveAhead, MoveBack:
		d := e.noise.AheadDrift(e.opts.AheadNominal)
		ahead := d.Ahead + e.opts.AheadNominal
		if action == MoveBack {
			ahead = d.Ahead - e.opts.AheadNominal
		}
		return sim.RotateAgent(d.Rotation).WithArgs(armArgs),
			sim.MoveAgent(ahead, d.Lateral).WithArgs(armArgs)
	}

	d := e.noise.RotateDrift()
	rot := e.opts.RotateNominal
	if action == RotateRightSmall || action == RotateLeftSmall {
		d = noise.Drift{Ahead: d.Ahead / 2, Lateral: d.Lateral / 2, Rotation: d.Rotation / 2}
		rot /= smallDivisor
	}
	if action == RotateLeft || action == RotateLeftSmall {
		rot = -rot
	}
	return sim.MoveAgent(d.Ahead, d.Lateral).WithArgs(armArgs),
		sim.RotateAgent(d.Rotation + rot).WithArgs(armArgs)
}

func (e *Environment) armMove(action string) sim.Command {
	st := e.ArmState()
	w := st.Wrist
	step := e.opts.ArmStep

	if e.opts.Stretch {
		switch action {
		case MoveArmHeightP:
			w.Y += step
		case MoveArmHeightM:
			w.Y -= step
		case MoveArmZP:
			w.Z += step
		case MoveArmZM:
			w.Z -= step
		}
		return sim.MoveArm(sim.FromR3(w)).WithArgs(armArgs)
	}

	switch action {
	case MoveArmHeightP:
		return sim.MoveArmBase(st.Height + e.opts.ArmHeightStep).WithArgs(armArgs)
	case MoveArmHeightM:
		return sim.MoveArmBase(st.Height - e.opts.ArmHeightStep).WithArgs(armArgs)
	case MoveArmXP:
		w.X += step
	case MoveArmXM:
		w.X -= step
	case MoveArmYP:
		w.Y += step
	case MoveArmYM:
		w.Y -= step
	case MoveArmZP:
		w.Z += step
	case MoveArmZM:
		w.Z -= step
	}
	return sim.MoveArm(sim.FromR3(w)).WithArgs(armArgs)
}

// advanceNominal applies the intended, noise-free displacement of action.
func (e *Environment) advanceNominal(action string) {
	n := &e.nominal
	switch action {
	case RotateRight:
		n.Yaw = units.NormalizeDegrees(n.Yaw + e.opts.RotateNominal)
	case RotateLeft:
		n.Yaw = units.NormalizeDegrees(n.Yaw - e.opts.RotateNominal)
	case RotateRightSmall:
		n.Yaw = units.NormalizeDegrees(n.Yaw + e.opts.RotateNominal/smallDivisor)
	case RotateLeftSmall:
		n.Yaw = units.NormalizeDegrees(n.Yaw - e.opts.RotateNominal/smallDivisor)
	case MoveAhead:
		n.Position = r3.Add(n.Position, r3.Scale(e.opts.AheadNominal, geom.Forward(n.Yaw)))
	case MoveBack:
		n.Position = r3.Sub(n.Position, r3.Scale(e.opts.AheadNominal, geom.Forward(n.Yaw)))
	}
}
