package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestUnprojectSinglePixel(t *testing.T) {
	t.Parallel()

	depth := mat.NewDense(1, 1, []float64{2})
	base := r3.Vec{X: 1, Y: 2, Z: 3}

	tests := []struct {
		name string
		cam  Camera
		want r3.Vec
	}{
		{"level facing +z", Camera{Position: base, FOV: 90}, r3.Vec{X: 1, Y: 2, Z: 5}},
		{"level facing +x", Camera{Position: base, Yaw: 90, FOV: 90}, r3.Vec{X: 3, Y: 2, Z: 3}},
		{"level facing -x", Camera{Position: base, Yaw: 270, FOV: 90}, r3.Vec{X: -1, Y: 2, Z: 3}},
		{"looking straight down", Camera{Position: base, Horizon: 90, FOV: 90}, r3.Vec{X: 1, Y: 0, Z: 3}},
		{"pitched down 30", Camera{Position: base, Horizon: 30, FOV: 90}, r3.Vec{X: 1, Y: 1, Z: 3 + 2*math.Cos(math.Pi/6)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pts := Unproject(depth, tt.cam, nil)
			require.Len(t, pts, 1)
			assertVec(t, tt.want, pts[0])
		})
	}
}

func TestUnprojectPixelLayout(t *testing.T) {
	t.Parallel()

	// fov 90 on a 2x2 frame gives focal length 1 so offsets are +-0.5.
	depth := mat.NewDense(2, 2, []float64{
		1, 1,
		1, 1,
	})
	cam := Camera{FOV: 90}

	keepTopLeft := func(r, c int) bool { return r == 0 && c == 0 }
	pts := Unproject(depth, cam, keepTopLeft)
	require.Len(t, pts, 1)
	assertVec(t, r3.Vec{X: -0.5, Y: 0.5, Z: 1}, pts[0])

	all := Unproject(depth, cam, nil)
	require.Len(t, all, 4)
	c, n := Centroid(all)
	assert.Equal(t, 4, n)
	assertVec(t, r3.Vec{Z: 1}, c)
}

func TestUnprojectSkipsInvalidDepth(t *testing.T) {
	t.Parallel()
	depth := mat.NewDense(1, 4, []float64{0, -1, math.NaN(), 3})
	pts := Unproject(depth, Camera{FOV: 60}, nil)
	require.Len(t, pts, 1)
	assert.InDelta(t, 3, pts[0].Z, tol)

	assert.Empty(t, Unproject(mat.NewDense(1, 2, []float64{0, 0}), Camera{FOV: 60}, nil))
}

func TestCentroid(t *testing.T) {
	t.Parallel()

	c, n := Centroid([]r3.Vec{{X: 1}, {X: 3, Y: 2}, {X: math.NaN()}})
	assert.Equal(t, 2, n)
	assertVec(t, r3.Vec{X: 2, Y: 1}, c)

	c, n = Centroid(nil)
	assert.Zero(t, n)
	assert.False(t, IsFinite(c))
}

func TestProjectInvertsUnproject(t *testing.T) {
	t.Parallel()

	cam := Camera{Position: r3.Vec{X: 0.5, Y: 1.5, Z: -1}, Yaw: 60, Horizon: 20, FOV: 90}
	const rows, cols = 8, 8
	depth := mat.NewDense(rows, cols, nil)
	depth.Set(2, 5, 1.7)

	pts := Unproject(depth, cam, nil)
	require.Len(t, pts, 1)

	row, col, d, ok := Project(pts[0], cam, rows, cols)
	require.True(t, ok)
	assert.InDelta(t, 2, row, 1e-9)
	assert.InDelta(t, 5, col, 1e-9)
	assert.InDelta(t, 1.7, d, 1e-9)

	behind := AgentToWorld(r3.Vec{Z: -1}, Pose{Position: cam.Position, Yaw: cam.Yaw})
	_, _, _, ok = Project(behind, Camera{Position: cam.Position, Yaw: cam.Yaw, FOV: 90}, rows, cols)
	assert.False(t, ok)
}
