package sensors

import (
	"fmt"
	"math"
	"slices"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// defaultMinPixels is the smallest mask kept when small masks are
// suppressed.
const defaultMinPixels = 20

// ObjectMask reports the target's instance mask from one camera. A target
// that is not in view yields an all-false mask of the frame size.
type ObjectMask struct {
	Target Target
	Camera CameraID
	// DistanceThreshold and OnlyCloseBigMasks together drop masks of objects
	// farther than the threshold (horizontal distance from the agent) or
	// smaller than MinPixels.
	DistanceThreshold float64
	OnlyCloseBigMasks bool
	MinPixels         int
}

func (s ObjectMask) UUID() string {
	if s.Camera == ArmCamera {
		return fmt.Sprintf("arm_object_mask_%s", s.Target)
	}
	return fmt.Sprintf("object_mask_%s", s.Target)
}

func (s ObjectMask) Observe(e *env.Environment, t TaskView) (any, error) {
	return s.mask(e, t), nil
}

func (s ObjectMask) mask(e *env.Environment, t TaskView) *sim.Mask {
	v, ok := cameraView(e.LastEvent(), s.Camera)
	var rows, cols int
	if ok && v.depth != nil {
		rows, cols = v.depth.Dims()
	}

	id := t.TargetID(s.Target)
	src, found := v.masks[id]
	if !ok || !found || src == nil {
		return sim.NewMask(rows, cols)
	}
	out := &sim.Mask{Rows: src.Rows, Cols: src.Cols, Bits: slices.Clone(src.Bits)}

	if s.DistanceThreshold > 0 && s.OnlyCloseBigMasks {
		minPx := s.MinPixels
		if minPx == 0 {
			minPx = defaultMinPixels
		}
		agent := e.AgentPose().Position
		dist := math.Inf(1)
		if o, ok := e.ObjectByID(id); ok {
			dist = math.Hypot(o.Position.X-agent.X, o.Position.Z-agent.Z)
		}
		if dist > s.DistanceThreshold || out.Count() < minPx {
			out.Clear()
		}
	}
	return out
}
