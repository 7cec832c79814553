package geom

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/units"
)

// Up is the world's vertical axis.
var Up = r3.Vec{Y: 1}

// Sentinel is the estimate reported when an object's location is unknown.
var Sentinel = r3.Vec{X: 4, Y: 4, Z: 4}

// Pose is a position plus a heading about the vertical axis. Roll and pitch
// are ignored by every frame conversion in this package.
type Pose struct {
	Position r3.Vec
	Yaw      float64 // degrees
}

// WorldToAgent expresses the world point p in the frame of agent.
func WorldToAgent(p r3.Vec, agent Pose) r3.Vec {
	d := r3.Sub(p, agent.Position)
	return r3.NewRotation(-units.DegToRad(agent.Yaw), Up).Rotate(d)
}

// AgentToWorld is the inverse of WorldToAgent.
func AgentToWorld(p r3.Vec, agent Pose) r3.Vec {
	w := r3.NewRotation(units.DegToRad(agent.Yaw), Up).Rotate(p)
	return r3.Add(w, agent.Position)
}

// Forward returns the unit heading of a yaw in the horizontal plane.
func Forward(yaw float64) r3.Vec {
	rad := units.DegToRad(yaw)
	return r3.Vec{X: math.Sin(rad), Z: math.Cos(rad)}
}

// IsFinite reports whether every component of v is finite.
func IsFinite(v r3.Vec) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// OrSentinel returns v when finite and Sentinel otherwise. The boolean is
// false when a substitution happened.
func OrSentinel(v r3.Vec) (r3.Vec, bool) {
	if IsFinite(v) {
		return v, true
	}
	return Sentinel, false
}

// ZeroNonFinite replaces NaN/Inf components with zero.
func ZeroNonFinite(v r3.Vec) (r3.Vec, bool) {
	fixed := false
	fix := func(c float64) float64 {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			fixed = true
			return 0
		}
		return c
	}
	return r3.Vec{X: fix(v.X), Y: fix(v.Y), Z: fix(v.Z)}, fixed
}

// MaxAbsDiff is the L∞ distance between a and b.
func MaxAbsDiff(a, b r3.Vec) float64 {
	d := r3.Sub(a, b)
	return math.Max(math.Abs(d.X), math.Max(math.Abs(d.Y), math.Abs(d.Z)))
}

// WithinTolerance reports whether a and b differ by strictly less than tol on
// every axis.
func WithinTolerance(a, b r3.Vec, tol float64) bool {
	return MaxAbsDiff(a, b) < tol
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}

// NearestIndex returns the index of the grid point closest to p, or -1 for an
// empty grid. Ties resolve to the lowest index.
func NearestIndex(grid []r3.Vec, p r3.Vec) int {
	if len(grid) == 0 {
		return -1
	}
	d := make([]float64, len(grid))
	for i, g := range grid {
		d[i] = r3.Norm2(r3.Sub(g, p))
	}
	return floats.MinIdx(d)
}
