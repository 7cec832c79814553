package simclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// maxPixels bounds the size of a decoded mask.
const maxPixels = 1 << 24

// frame is a depth image on the wire. Non-finite depths are sent as 0.
type frame struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// mask lists the set pixels of an instance mask in row-major order.
type mask struct {
	Rows int   `json:"rows"`
	Cols int   `json:"cols"`
	On   []int `json:"on"`
}

// event is the JSON form of sim.Event shared by both transports.
type event struct {
	Metadata        sim.Metadata      `json:"metadata"`
	Frame           []byte            `json:"frame,omitempty"` // PNG
	Depth           *frame            `json:"depth,omitempty"`
	InstanceMasks   map[string]mask   `json:"instanceMasks,omitempty"`
	ThirdPartyDepth []*frame          `json:"thirdPartyDepth,omitempty"`
	ThirdPartyMasks []map[string]mask `json:"thirdPartyMasks,omitempty"`
}

func encodeFrame(d *mat.Dense) *frame {
	if d == nil {
		return nil
	}
	r, c := d.Dims()
	f := &frame{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := d.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			f.Data = append(f.Data, v)
		}
	}
	return f
}

func (f *frame) dense() (*mat.Dense, error) {
	if f == nil {
		return nil, nil
	}
	if f.Rows <= 0 || f.Cols <= 0 || len(f.Data) != f.Rows*f.Cols {
		return nil, fmt.Errorf("depth frame %dx%d carries %d values", f.Rows, f.Cols, len(f.Data))
	}
	return mat.NewDense(f.Rows, f.Cols, f.Data), nil
}

func encodeMasks(ms map[string]*sim.Mask) map[string]mask {
	if ms == nil {
		return nil
	}
	out := make(map[string]mask, len(ms))
	for id, m := range ms {
		wm := mask{Rows: m.Rows, Cols: m.Cols}
		for i, b := range m.Bits {
			if b {
				wm.On = append(wm.On, i)
			}
		}
		out[id] = wm
	}
	return out
}

func decodeMasks(ms map[string]mask) (map[string]*sim.Mask, error) {
	if ms == nil {
		return nil, nil
	}
	out := make(map[string]*sim.Mask, len(ms))
	for id, wm := range ms {
		if wm.Rows <= 0 || wm.Cols <= 0 || wm.Rows > maxPixels/wm.Cols {
			return nil, fmt.Errorf("mask %s: bad size %dx%d", id, wm.Rows, wm.Cols)
		}
		m := sim.NewMask(wm.Rows, wm.Cols)
		for _, i := range wm.On {
			if i < 0 || i >= len(m.Bits) {
				return nil, fmt.Errorf("mask %s: pixel %d outside %dx%d", id, i, wm.Rows, wm.Cols)
			}
			m.Bits[i] = true
		}
		out[id] = m
	}
	return out, nil
}

func encodeEvent(ev *sim.Event) (*event, error) {
	out := &event{
		Metadata:      ev.Metadata,
		Depth:         encodeFrame(ev.Depth),
		InstanceMasks: encodeMasks(ev.InstanceMasks),
	}
	if ev.Frame != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, ev.Frame); err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
		out.Frame = buf.Bytes()
	}
	for _, d := range ev.ThirdPartyDepth {
		out.ThirdPartyDepth = append(out.ThirdPartyDepth, encodeFrame(d))
	}
	for _, m := range ev.ThirdPartyMasks {
		out.ThirdPartyMasks = append(out.ThirdPartyMasks, encodeMasks(m))
	}
	return out, nil
}

func (w *event) decode() (*sim.Event, error) {
	ev := &sim.Event{Metadata: w.Metadata}
	var err error
	if len(w.Frame) > 0 {
		var img image.Image
		if img, err = png.Decode(bytes.NewReader(w.Frame)); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		ev.Frame = img
	}
	if ev.Depth, err = w.Depth.dense(); err != nil {
		return nil, err
	}
	if ev.InstanceMasks, err = decodeMasks(w.InstanceMasks); err != nil {
		return nil, err
	}
	for _, f := range w.ThirdPartyDepth {
		d, err := f.dense()
		if err != nil {
			return nil, fmt.Errorf("third-party camera: %w", err)
		}
		ev.ThirdPartyDepth = append(ev.ThirdPartyDepth, d)
	}
	for _, m := range w.ThirdPartyMasks {
		dm, err := decodeMasks(m)
		if err != nil {
			return nil, fmt.Errorf("third-party camera: %w", err)
		}
		ev.ThirdPartyMasks = append(ev.ThirdPartyMasks, dm)
	}
	return ev, nil
}

// toMap and fromMap move between the typed wire structs and the generic
// maps both transports carry. Non-finite metadata survives the hop as
// sim.Float strings.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any, v any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
