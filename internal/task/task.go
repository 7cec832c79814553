// Package task implements the bring-object task: pick up a source object
// and carry it to a goal object. It drives an env.Environment one discrete
// action at a time, latches pickup and success, scores each step with a
// configurable reward pipeline and summarises the episode as metrics.
package task

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/sensors"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// ErrDone is returned by Step once the episode has ended.
var ErrDone = errors.New("episode is done")

// Reward holds the weight of every reward term.
type Reward struct {
	StepPenalty         float64
	GoalSuccessReward   float64
	PickupSuccessReward float64
	FailedStopReward    float64
	ShapingWeight       float64
	FailedActionPenalty float64
	ArmDistMultiplier   float64
	ExplorationReward   float64
	ObjectFound         float64
}

// DefaultReward returns the standard weights.
func DefaultReward() Reward {
	return Reward{
		StepPenalty:         -0.01,
		GoalSuccessReward:   10,
		PickupSuccessReward: 5,
		FailedStopReward:    0,
		ShapingWeight:       1,
		FailedActionPenalty: -0.03,
		ArmDistMultiplier:   1,
		ExplorationReward:   0.1,
		ObjectFound:         1,
	}
}

// Config selects the task flavour.
type Config struct {
	Actions  env.ActionSet
	MaxSteps int
	Reward   Reward
	// Tolerance is the per-axis distance below which the source counts as
	// delivered.
	Tolerance float64
	// ObjectsMoveThreshold is the per-axis displacement that counts as
	// disturbing an object.
	ObjectsMoveThreshold float64
	// ArmLength scales the far-distance cutoff of the shaping terms.
	ArmLength float64
	// AutoPickup grasps the source whenever it becomes pickupable.
	AutoPickup bool
	// CutoffFarDeltas zeroes distance shaping while the previous distance
	// exceeds twice the arm length.
	CutoffFarDeltas bool
	// Terms names the active reward terms. Empty means DefaultTerms.
	Terms []string
	// ConstantlyMoving lists, per scene, objects that move on their own and
	// are never counted as disturbed.
	ConstantlyMoving map[string][]string
}

// DefaultConfig is the arm embodiment with the default reward pipeline.
func DefaultConfig() Config {
	return Config{
		Actions:              env.ArmActions,
		MaxSteps:             200,
		Reward:               DefaultReward(),
		Tolerance:            0.2,
		ObjectsMoveThreshold: 0.01,
		ArmLength:            1.0,
	}
}

// StepInfo is the auxiliary output of Step.
type StepInfo struct {
	Action            string
	LastActionSuccess bool
}

// StepResult is what the policy sees after one action.
type StepResult struct {
	Observation sensors.Observation
	Reward      float64
	// Terms breaks Reward down by term name.
	Terms map[string]float64
	Done  bool
	Info  StepInfo
}

type actionRecord struct {
	action  string
	success bool
}

// Task is one episode. It is not safe for concurrent use.
type Task struct {
	cfg     Config
	env     *env.Environment
	sensors *sensors.Suite
	info    Info
	terms   []term

	numSteps    int
	pickedUp    bool
	success     bool
	tookEnd     bool
	lastAction  string
	lastSuccess bool
	eplenPickup int
	actions     []actionRecord
	totalReward float64

	initialObjects map[string]r3.Vec
	sourceInitial  r3.Vec

	judge   judgeState
	metrics Metrics
}

// New builds a task on an environment that has already been reset into
// info.SceneName (and placed at info.AgentStart, if any).
func New(e *env.Environment, suite *sensors.Suite, info Info, cfg Config) (*Task, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Actions) == 0 {
		return nil, fmt.Errorf("%w: empty action set", env.ErrUnknownAction)
	}
	terms, err := buildTerms(cfg.Terms)
	if err != nil {
		return nil, err
	}
	src, ok := e.ObjectByID(info.SourceObjectID)
	if !ok {
		return nil, fmt.Errorf("source object %q not in scene %s", info.SourceObjectID, info.SceneName)
	}
	if _, ok := e.ObjectByID(info.GoalObjectID); !ok {
		return nil, fmt.Errorf("goal object %q not in scene %s", info.GoalObjectID, info.SceneName)
	}

	t := &Task{
		cfg:            cfg,
		env:            e,
		sensors:        suite,
		info:           info,
		terms:          terms,
		lastSuccess:    true,
		initialObjects: e.ObjectLocations(),
		sourceInitial:  src.Position.R3(),
	}
	if info.SourceInitial != nil {
		t.sourceInitial = info.SourceInitial.R3()
	}
	t.judge.visited = make([]bool, len(e.ReachablePositions()))
	return t, nil
}

// Info is the episode description.
func (t *Task) Info() Info { return t.info }

// NumSteps is how many actions have been taken.
func (t *Task) NumSteps() int { return t.numSteps }

// TargetID resolves a sensor target to an object id.
func (t *Task) TargetID(target sensors.Target) string {
	if target == sensors.Destination {
		return t.info.GoalObjectID
	}
	return t.info.SourceObjectID
}

// PickedUp reports the pickup latch.
func (t *Task) PickedUp() bool { return t.pickedUp }

// Success reports the success latch.
func (t *Task) Success() bool { return t.success }

// TookEndAction reports whether the episode reached a terminal state.
func (t *Task) TookEndAction() bool { return t.tookEnd }

// IsDone is true after a terminal state or when the step budget is spent.
func (t *Task) IsDone() bool {
	return t.tookEnd || t.numSteps >= t.cfg.MaxSteps
}

// TotalReward sums every reward returned so far.
func (t *Task) TotalReward() float64 { return t.totalReward }

// Observe evaluates the sensors without acting. Call it once before the
// first Step for the initial observation.
func (t *Task) Observe() (sensors.Observation, error) {
	if t.sensors == nil {
		return sensors.Observation{}, nil
	}
	return t.sensors.Observe(t.env, t)
}

// Render returns the latest body camera frame.
func (t *Task) Render() image.Image {
	return t.env.LastEvent().Frame
}

// Close stops the simulator session.
func (t *Task) Close() error { return t.env.Stop() }

// Step takes the action at index in the configured action set.
func (t *Task) Step(ctx context.Context, index int) (StepResult, error) {
	if t.IsDone() {
		return StepResult{}, ErrDone
	}
	action, err := t.cfg.Actions.Action(index)
	if err != nil {
		return StepResult{}, err
	}
	source := t.info.SourceObjectID

	req := env.Request{Action: action}
	if action == env.PickUp {
		req.ObjectID = source
	}
	if _, err := t.env.Step(ctx, req); err != nil {
		return StepResult{}, err
	}
	t.lastAction = action
	t.lastSuccess = t.env.LastActionSuccess()
	if action == env.PickUp {
		t.lastSuccess = t.env.IsHeld(source)
	}
	t.actions = append(t.actions, actionRecord{action, t.lastSuccess})

	if !t.pickedUp {
		if t.cfg.AutoPickup {
			if err := t.autoPickup(ctx); err != nil {
				return StepResult{}, err
			}
		}
		if t.env.IsHeld(source) {
			t.pickedUp = true
			t.eplenPickup = t.numSteps + 1
		}
	}

	if t.pickedUp && t.delivered() {
		t.tookEnd = true
		t.success = true
		t.lastSuccess = true
	} else if action == env.Done {
		t.tookEnd = true
	}

	t.numSteps++
	reward, terms := t.score()
	t.totalReward += reward

	obs, err := t.Observe()
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{
		Observation: obs,
		Reward:      reward,
		Terms:       terms,
		Done:        t.IsDone(),
		Info:        StepInfo{Action: action, LastActionSuccess: t.lastSuccess},
	}, nil
}

func (t *Task) autoPickup(ctx context.Context) error {
	source := t.info.SourceObjectID
	if t.env.IsHeld(source) || !slices.Contains(t.env.Pickupable(), source) {
		return nil
	}
	ev, err := t.env.Exec(ctx, sim.Simple(sim.CmdPickupObject))
	if err != nil {
		return err
	}
	held := ev.Metadata.Arm.HeldObjects
	if len(held) > 0 && !slices.Contains(held, source) {
		if _, err := t.env.Exec(ctx, sim.Simple(sim.CmdReleaseObject)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Task) delivered() bool {
	src, ok1 := t.env.ObjectByID(t.info.SourceObjectID)
	goal, ok2 := t.env.ObjectByID(t.info.GoalObjectID)
	return ok1 && ok2 && geom.WithinTolerance(src.Position.R3(), goal.Position.R3(), t.cfg.Tolerance)
}

// ArmToObjectDistance is the wrist-to-source distance.
func (t *Task) ArmToObjectDistance() float64 {
	src, _ := t.env.ObjectByID(t.info.SourceObjectID)
	return geom.Distance(src.Position.R3(), t.env.HandPosition())
}

// ObjectToGoalDistance is the source-to-goal distance.
func (t *Task) ObjectToGoalDistance() float64 {
	src, _ := t.env.ObjectByID(t.info.SourceObjectID)
	goal, _ := t.env.ObjectByID(t.info.GoalObjectID)
	return geom.Distance(src.Position.R3(), goal.Position.R3())
}

// originalDistance is how far the source has moved from its start.
func (t *Task) originalDistance() float64 {
	src, _ := t.env.ObjectByID(t.info.SourceObjectID)
	return geom.Distance(t.sourceInitial, src.Position.R3())
}
