package sim

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// Mask is a binary instance mask in row-major order.
type Mask struct {
	Rows, Cols int
	Bits       []bool
}

// NewMask allocates an empty rows x cols mask.
func NewMask(rows, cols int) *Mask {
	return &Mask{Rows: rows, Cols: cols, Bits: make([]bool, rows*cols)}
}

// At reports whether pixel (r, c) is set. Out-of-range pixels are unset.
func (m *Mask) At(r, c int) bool {
	if m == nil || r < 0 || c < 0 || r >= m.Rows || c >= m.Cols {
		return false
	}
	return m.Bits[r*m.Cols+c]
}

// Set marks pixel (r, c).
func (m *Mask) Set(r, c int, v bool) {
	if r < 0 || c < 0 || r >= m.Rows || c >= m.Cols {
		return
	}
	m.Bits[r*m.Cols+c] = v
}

// Count is the number of set pixels.
func (m *Mask) Count() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Clear unsets every pixel.
func (m *Mask) Clear() {
	for i := range m.Bits {
		m.Bits[i] = false
	}
}

// Event is what the simulator returns after a command: metadata plus the
// body camera frames and any third-party (arm) camera frames.
type Event struct {
	Metadata Metadata

	Frame         image.Image
	Depth         *mat.Dense
	InstanceMasks map[string]*Mask

	ThirdPartyDepth []*mat.Dense
	ThirdPartyMasks []map[string]*Mask
}

// Success is shorthand for Metadata.LastActionSuccess.
func (e *Event) Success() bool {
	return e != nil && e.Metadata.LastActionSuccess
}
