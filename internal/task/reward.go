package task

import (
	"fmt"
	"math"
	"slices"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
)

// Reward term names.
const (
	TermStepPenalty  = "step_penalty"
	TermExploration  = "exploration"
	TermObjectFound  = "object_found"
	TermFailedAction = "failed_action"
	TermTerminal     = "terminal"
	TermPickup       = "pickup"
	TermArmToObject  = "arm_to_obj"
	TermObjectToGoal = "obj_to_goal"
)

// DefaultTerms is the plain bring-object reward.
var DefaultTerms = []string{
	TermStepPenalty, TermFailedAction, TermTerminal, TermPickup, TermArmToObject, TermObjectToGoal,
}

// ExploreTerms adds the exploration and first-sighting bonuses.
var ExploreTerms = []string{
	TermStepPenalty, TermExploration, TermObjectFound, TermFailedAction,
	TermTerminal, TermPickup, TermArmToObject, TermObjectToGoal,
}

// term scores one aspect of the latest step. Terms may update latches in
// judgeState, so they run once per step in canonical order.
type term struct {
	name  string
	score func(t *Task) float64
}

// canonical is the evaluation order.
var canonical = []term{
	{TermStepPenalty, (*Task).stepPenalty},
	{TermExploration, (*Task).exploration},
	{TermObjectFound, (*Task).objectFound},
	{TermFailedAction, (*Task).failedAction},
	{TermTerminal, (*Task).terminal},
	{TermPickup, (*Task).pickup},
	{TermArmToObject, (*Task).armToObject},
	{TermObjectToGoal, (*Task).objectToGoal},
}

func buildTerms(names []string) ([]term, error) {
	if len(names) == 0 {
		names = DefaultTerms
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if !slices.ContainsFunc(canonical, func(tm term) bool { return tm.name == n }) {
			return nil, fmt.Errorf("unknown reward term %q", n)
		}
		want[n] = true
	}
	var out []term
	for _, tm := range canonical {
		if want[tm.name] {
			out = append(out, tm)
		}
	}
	return out, nil
}

// judgeState is the bookkeeping the reward terms carry across steps.
type judgeState struct {
	gotPickupReward bool
	// sourceSeen and goalSeen latch after every term has run, so terms see
	// the sightings of earlier steps. newSource and newGoal mark a first
	// sighting on the current step.
	sourceSeen bool
	goalSeen   bool
	newSource  bool
	newGoal    bool

	hasArmToObj  bool
	lastArmToObj float64
	hasObjToGoal bool
	lastObjGoal  float64

	visited  []bool
	newPlace bool
}

// score runs the reward pipeline for the step just taken.
func (t *Task) score() (float64, map[string]float64) {
	t.markVisited()
	t.markSightings()
	total := 0.0
	parts := make(map[string]float64, len(t.terms))
	for _, tm := range t.terms {
		v := tm.score(t)
		parts[tm.name] = v
		total += v
	}
	j := &t.judge
	j.sourceSeen = j.sourceSeen || j.newSource
	j.goalSeen = j.goalSeen || j.newGoal
	if math.IsNaN(total) || math.IsInf(total, 0) {
		monitoring.NonFinite(fmt.Sprintf("reward in %s (terms %v)", t.info.SceneName, parts), total)
	}
	return total, parts
}

// markVisited snaps the agent to the reachable grid and records whether the
// cell is new.
func (t *Task) markVisited() {
	j := &t.judge
	j.newPlace = false
	i := geom.NearestIndex(t.env.ReachablePositions(), t.env.AgentPose().Position)
	if i < 0 || i >= len(j.visited) {
		return
	}
	j.newPlace = !j.visited[i]
	j.visited[i] = true
}

func (t *Task) markSightings() {
	j := &t.judge
	src, ok := t.env.ObjectByID(t.info.SourceObjectID)
	j.newSource = ok && src.Visible && !j.sourceSeen
	goal, ok := t.env.ObjectByID(t.info.GoalObjectID)
	j.newGoal = ok && goal.Visible && !j.goalSeen
}

func (t *Task) stepPenalty() float64 { return t.cfg.Reward.StepPenalty }

func (t *Task) exploration() float64 {
	j := &t.judge
	if !j.newPlace {
		return 0
	}
	if !j.sourceSeen || (t.pickedUp && !j.goalSeen) {
		return t.cfg.Reward.ExplorationReward
	}
	return 0
}

func (t *Task) objectFound() float64 {
	r := 0.0
	if t.judge.newSource {
		r += t.cfg.Reward.ObjectFound
	}
	if t.judge.newGoal {
		r += t.cfg.Reward.ObjectFound
	}
	return r
}

func (t *Task) failedAction() float64 {
	if !t.lastSuccess || (t.lastAction == env.PickUp && !t.pickedUp) {
		return t.cfg.Reward.FailedActionPenalty
	}
	return 0
}

func (t *Task) terminal() float64 {
	switch {
	case !t.tookEnd:
		return 0
	case t.success:
		return t.cfg.Reward.GoalSuccessReward
	default:
		return t.cfg.Reward.FailedStopReward
	}
}

func (t *Task) pickup() float64 {
	if t.judge.gotPickupReward || !t.pickedUp {
		return 0
	}
	t.judge.gotPickupReward = true
	return t.cfg.Reward.PickupSuccessReward
}

func (t *Task) armToObject() float64 {
	j := &t.judge
	cur := t.ArmToObjectDistance()
	d := t.shapingDelta(j.hasArmToObj, j.lastArmToObj, cur)
	j.hasArmToObj, j.lastArmToObj = true, cur
	return d
}

func (t *Task) objectToGoal() float64 {
	j := &t.judge
	cur := t.ObjectToGoalDistance()
	d := t.shapingDelta(j.hasObjToGoal, j.lastObjGoal, cur)
	j.hasObjToGoal, j.lastObjGoal = true, cur
	return d
}

// shapingDelta rewards progress: the previous distance minus the current
// one, zero on the first step and, with CutoffFarDeltas, while the
// previous distance is beyond twice the arm length.
func (t *Task) shapingDelta(hasLast bool, last, cur float64) float64 {
	if !hasLast {
		return 0
	}
	if t.cfg.CutoffFarDeltas && last > 2*t.cfg.ArmLength {
		return 0
	}
	return (last - cur) * t.cfg.Reward.ArmDistMultiplier * t.cfg.Reward.ShapingWeight
}
