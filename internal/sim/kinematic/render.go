package kinematic

import (
	"image"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
	"github.com/kschmeckpeper/manipulathor/internal/units"
)

// backgroundDepth is the depth of the walls behind every object.
const backgroundDepth = 5.0

var (
	backgroundColor = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	heldColor       = color.RGBA{R: 240, G: 200, B: 40, A: 255}
)

// render draws every object as a flat disc facing the camera. Objects are
// painted far to near so nearer discs occlude farther ones.
func (s *Sim) render(cam geom.Camera) (*mat.Dense, map[string]*sim.Mask, image.Image) {
	rows, cols := s.opts.Rows, s.opts.Cols
	depth := mat.NewDense(rows, cols, nil)
	owner := make([]int, rows*cols)
	for i := range owner {
		owner[i] = -1
	}
	frame := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			depth.Set(r, c, backgroundDepth)
			frame.SetRGBA(c, r, backgroundColor)
		}
	}

	type proj struct {
		idx           int
		row, col, dep float64
	}
	var ps []proj
	for i, o := range s.objects {
		row, col, d, ok := geom.Project(o.position, cam, rows, cols)
		if !ok || !(d < backgroundDepth) || math.IsNaN(row) || math.IsNaN(col) {
			continue
		}
		ps = append(ps, proj{i, row, col, d})
	}
	sort.Slice(ps, func(a, b int) bool { return ps[a].dep > ps[b].dep })

	focal := (float64(cols) / 2) / math.Tan(units.DegToRad(cam.FOV)/2)
	for _, p := range ps {
		o := s.objects[p.idx]
		rad := math.Max(o.spec.Radius/p.dep*focal, 0.5)
		if p.row+rad < 0 || p.row-rad > float64(rows-1) || p.col+rad < 0 || p.col-rad > float64(cols-1) {
			continue
		}
		r0 := int(math.Max(0, math.Floor(p.row-rad)))
		r1 := int(math.Min(float64(rows-1), math.Ceil(p.row+rad)))
		c0 := int(math.Max(0, math.Floor(p.col-rad)))
		c1 := int(math.Min(float64(cols-1), math.Ceil(p.col+rad)))
		col := objectColor(p.idx)
		if o.spec.ID == s.held {
			col = heldColor
		}
		for r := r0; r <= r1; r++ {
			for c := c0; c <= c1; c++ {
				dr, dc := float64(r)-p.row, float64(c)-p.col
				if dr*dr+dc*dc > rad*rad {
					continue
				}
				depth.Set(r, c, p.dep)
				owner[r*cols+c] = p.idx
				frame.SetRGBA(c, r, col)
			}
		}
	}

	masks := make(map[string]*sim.Mask)
	for px, idx := range owner {
		if idx < 0 {
			continue
		}
		id := s.objects[idx].spec.ID
		m, ok := masks[id]
		if !ok {
			m = sim.NewMask(rows, cols)
			masks[id] = m
		}
		m.Bits[px] = true
	}
	return depth, masks, frame
}

func objectColor(i int) color.RGBA {
	palette := []color.RGBA{
		{R: 200, G: 40, B: 40, A: 255},
		{R: 40, G: 160, B: 60, A: 255},
		{R: 50, G: 90, B: 200, A: 255},
		{R: 160, G: 60, B: 180, A: 255},
		{R: 30, G: 170, B: 170, A: 255},
	}
	return palette[i%len(palette)]
}
