// Package report records what happened in an episode step by step and
// renders it: PNG plots for offline inspection and HTML charts for the admin
// server.
package report

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Step is one recorded action.
type Step struct {
	Index        int
	Action       string
	Success      bool
	Reward       float64
	Nominal      r3.Vec // dead-reckoned base position
	True         r3.Vec // simulator base position
	ArmToObject  float64
	ObjectToGoal float64
}

// Trace is the step history of one episode.
type Trace struct {
	EpisodeID string
	Scene     string
	Steps     []Step
}

// Record appends a step.
func (t *Trace) Record(s Step) { t.Steps = append(t.Steps, s) }

// Rewards returns the per-step rewards.
func (t *Trace) Rewards() []float64 {
	out := make([]float64, len(t.Steps))
	for i, s := range t.Steps {
		out[i] = s.Reward
	}
	return out
}

// Cumulative returns the running reward sum.
func (t *Trace) Cumulative() []float64 {
	r := t.Rewards()
	return floats.CumSum(make([]float64, len(r)), r)
}

// Drift returns, per step, the distance between the nominal and the true
// base position on the floor plane.
func (t *Trace) Drift() []float64 {
	out := make([]float64, len(t.Steps))
	for i, s := range t.Steps {
		d := r3.Sub(s.True, s.Nominal)
		d.Y = 0
		out[i] = r3.Norm(d)
	}
	return out
}
