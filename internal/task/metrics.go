package task

import (
	"maps"
	"slices"
)

// Metrics is the end-of-episode summary. Booleans are 0 or 1.
type Metrics map[string]float64

// actionEpsilon keeps per-action success rates finite for unused actions.
const actionEpsilon = 1e-6

// byRoomKeys are repeated under by_room/<room type>/.
var byRoomKeys = []string{
	"ep_length",
	"reward",
	"success",
	"metric/average/success_wo_disturb",
	"metric/average/final_obj_pickup/total",
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Metrics summarises a finished episode. It is computed on the first call
// after the episode ends and cached; ok is false while it is running.
func (t *Task) Metrics() (m Metrics, ok bool) {
	if !t.IsDone() {
		return nil, false
	}
	if t.metrics == nil {
		t.metrics = t.computeMetrics()
	}
	return maps.Clone(t.metrics), true
}

func (t *Task) computeMetrics() Metrics {
	m := Metrics{
		"ep_length": float64(t.numSteps),
		"reward":    t.totalReward,
	}
	t.actionMetrics(m)

	objGoal := t.ObjectToGoalDistance()
	original := t.originalDistance()
	m["metric/average/final_obj_distance_from_goal"] = objGoal
	m["metric/average/final_arm_distance_from_obj"] = t.ArmToObjectDistance()
	m["metric/average/final_obj_pickup/total"] = boolMetric(t.pickedUp)
	m["metric/average/original_distance"] = original
	m["metric/average/final_obj_pickup/"+Category(t.info.SourceObjectID)] = boolMetric(t.pickedUp)

	if t.pickedUp {
		m["metric/average/final_success/"+Category(t.info.GoalObjectID)] = boolMetric(t.success)
		m["metric/average/ratio_distance_left"] = objGoal / (original + 1e-9)
		m["metric/average/eplen_pickup"] = float64(t.eplenPickup)
	}

	m["metric/average/success_wo_disturb"] = 0
	if t.success {
		m["metric/average/eplen_success"] = float64(t.numSteps)
		unwanted := t.unwantedMoves()
		m["metric/average/number_of_unwanted_moved_objects"] = float64(len(unwanted))
		m["metric/average/success_wo_disturb"] = boolMetric(len(unwanted) == 0)
	}
	m["success"] = boolMetric(t.success)

	if n := len(t.judge.visited); n > 0 {
		seen := 0
		for _, v := range t.judge.visited {
			if v {
				seen++
			}
		}
		m["percent_room_visited"] = float64(seen) / float64(n)
	}
	room := RoomType(t.info.SceneName)
	for _, k := range byRoomKeys {
		m["by_room/"+room+"/"+k] = m[k]
	}
	return m
}

// actionMetrics adds the per-action usage share and success rate.
func (t *Task) actionMetrics(m Metrics) {
	count := make(map[string]float64, len(t.cfg.Actions))
	succ := make(map[string]float64, len(t.cfg.Actions))
	total := 0.0
	for _, r := range t.actions {
		count[r.action]++
		if r.success {
			succ[r.action]++
			total++
		}
	}
	n := float64(len(t.actions))
	if n > 0 {
		m["metric/action_success/total"] = total / n
	} else {
		m["metric/action_success/total"] = 0
	}
	for _, a := range t.cfg.Actions {
		m["metric/action_success/"+a] = succ[a] / (count[a] + actionEpsilon)
		if n > 0 {
			m["metric/action_stat/"+a] = count[a] / n
		} else {
			m["metric/action_stat/"+a] = 0
		}
	}
}

// unwantedMoves lists disturbed objects other than the source, the goal and
// the scene's constantly moving objects.
func (t *Task) unwantedMoves() []string {
	moved := t.env.ObjectsMoved(t.initialObjects, t.cfg.ObjectsMoveThreshold)
	skip := append([]string{t.info.SourceObjectID, t.info.GoalObjectID},
		t.cfg.ConstantlyMoving[t.env.LastEvent().Metadata.SceneName]...)
	return slices.DeleteFunc(moved, func(id string) bool { return slices.Contains(skip, id) })
}
