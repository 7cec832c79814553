package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/units"
)

// Camera is a pinhole camera pose. Yaw and Horizon are in degrees; FOV is
// the full field of view in degrees, applied to the horizontal axis and
// assumed equal vertically for the square frames the simulator renders.
type Camera struct {
	Position r3.Vec
	Yaw      float64
	Horizon  float64
	FOV      float64
}

// rotation returns the 3x3 camera-to-world rotation: pitch by the horizon,
// then yaw about +Y.
func (c Camera) rotation() *mat.Dense {
	psi := -units.DegToRad(c.Horizon)
	pitch := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(psi), math.Sin(psi),
		0, -math.Sin(psi), math.Cos(psi),
	})
	phi := -units.DegToRad(c.Yaw)
	yaw := mat.NewDense(3, 3, []float64{
		math.Cos(phi), 0, -math.Sin(phi),
		0, 1, 0,
		math.Sin(phi), 0, math.Cos(phi),
	})
	var r mat.Dense
	r.Mul(yaw, pitch)
	return &r
}

// Unproject converts the depth pixels accepted by keep into world-space
// points. Depth is rows x cols in metres; pixels with non-positive or
// non-finite depth are skipped. A nil keep accepts every pixel.
func Unproject(depth mat.Matrix, cam Camera, keep func(row, col int) bool) []r3.Vec {
	rows, cols := depth.Dims()
	if rows == 0 || cols == 0 {
		return nil
	}
	focal := (float64(cols) / 2) / math.Tan(units.DegToRad(cam.FOV)/2)

	data := make([]float64, 0, 3*rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if keep != nil && !keep(i, j) {
				continue
			}
			d := depth.At(i, j)
			if d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) {
				continue
			}
			x := (float64(j) + 0.5 - float64(cols)/2) / focal
			y := (float64(rows)/2 - float64(i) - 0.5) / focal
			data = append(data, x*d, y*d, d)
		}
	}
	n := len(data) / 3
	if n == 0 {
		return nil
	}

	camPts := mat.NewDense(n, 3, data)
	var world mat.Dense
	world.Mul(camPts, cam.rotation().T())

	out := make([]r3.Vec, n)
	for k := range out {
		out[k] = r3.Vec{
			X: world.At(k, 0) + cam.Position.X,
			Y: world.At(k, 1) + cam.Position.Y,
			Z: world.At(k, 2) + cam.Position.Z,
		}
	}
	return out
}

// Centroid is the mean of the finite points and how many contributed.
// With no finite points the centroid is NaN on every axis.
func Centroid(points []r3.Vec) (r3.Vec, int) {
	var sum r3.Vec
	n := 0
	for _, p := range points {
		if !IsFinite(p) {
			continue
		}
		sum = r3.Add(sum, p)
		n++
	}
	if n == 0 {
		nan := math.NaN()
		return r3.Vec{X: nan, Y: nan, Z: nan}, 0
	}
	return r3.Scale(1/float64(n), sum), n
}

// Project maps a world point onto the rows x cols image of cam. It returns
// the continuous pixel coordinates (pixel centres at integer values), the
// depth along the optical axis, and false when the point is behind the
// camera.
func Project(p r3.Vec, cam Camera, rows, cols int) (row, col, depth float64, ok bool) {
	rel := r3.Sub(p, cam.Position)
	var local mat.VecDense
	local.MulVec(cam.rotation().T(), mat.NewVecDense(3, []float64{rel.X, rel.Y, rel.Z}))
	x, y, z := local.AtVec(0), local.AtVec(1), local.AtVec(2)
	if z <= 0 {
		return 0, 0, 0, false
	}
	focal := (float64(cols) / 2) / math.Tan(units.DegToRad(cam.FOV)/2)
	col = x/z*focal + float64(cols)/2 - 0.5
	row = float64(rows)/2 - y/z*focal - 0.5
	return row, col, z, true
}
