package geom

import (
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Observation is one per-step point estimate kept in a History.
type Observation struct {
	Point r3.Vec
	Count int // pixels (or 1 for ground truth) behind Point
	Step  int
}

// History is an append-only record of point estimates for one episode.
// Estimates weight each entry by 1/(current+1-step), so recent observations
// dominate.
type History struct {
	obs []Observation
}

// Add appends an observation.
func (h *History) Add(o Observation) {
	h.obs = append(h.obs, o)
}

// Reset clears the history at an episode boundary.
func (h *History) Reset() {
	h.obs = h.obs[:0]
}

// Len is the number of recorded observations.
func (h *History) Len() int {
	return len(h.obs)
}

// Observations returns a copy of the recorded entries.
func (h *History) Observations() []Observation {
	return append([]Observation(nil), h.obs...)
}

// Weight is the recency weight of an entry recorded at step when evaluated at
// current.
func Weight(current, step int) float64 {
	return 1 / float64(current+1-step)
}

// Estimate returns the recency-weighted mean of all entries as of step
// current. ok is false when the history is empty.
func (h *History) Estimate(current int) (p r3.Vec, ok bool) {
	if len(h.obs) == 0 {
		return r3.Vec{}, false
	}
	n := len(h.obs)
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	ws := make([]float64, n)
	for i, o := range h.obs {
		xs[i], ys[i], zs[i] = o.Point.X, o.Point.Y, o.Point.Z
		ws[i] = Weight(current, o.Step)
	}
	return r3.Vec{
		X: stat.Mean(xs, ws),
		Y: stat.Mean(ys, ws),
		Z: stat.Mean(zs, ws),
	}, true
}
