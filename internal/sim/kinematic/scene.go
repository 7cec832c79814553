package kinematic

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// ObjectSpec is the initial state of one scene object.
type ObjectSpec struct {
	ID         string
	Type       string
	Position   r3.Vec
	Pickupable bool
	// Radius is the rendered size in metres.
	Radius float64
	// Drift is added to the position on every step, for objects that move
	// on their own (curtains, swinging doors).
	Drift r3.Vec
}

// Scene is a static layout the simulator can be reset into.
type Scene struct {
	Name       string
	AgentStart geom.Pose
	Horizon    float64
	Objects    []ObjectSpec
	Reachable  []r3.Vec
}

// Grid returns the reachable positions of a square floor area centred on the
// origin with the given half-width and spacing, at agent height y.
func Grid(halfWidth, spacing, y float64) []r3.Vec {
	var out []r3.Vec
	n := int(halfWidth/spacing + 1e-9)
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			out = append(out, r3.Vec{X: float64(i) * spacing, Y: y, Z: float64(j) * spacing})
		}
	}
	return out
}

// DefaultScene is a small kitchen with an apple to bring to a bowl.
func DefaultScene() Scene {
	return Scene{
		Name:       "FloorPlan1_physics",
		AgentStart: geom.Pose{Position: r3.Vec{Y: sim.AgentBaseHeight}},
		Horizon:    30,
		Objects: []ObjectSpec{
			{ID: "Apple|+01.00|+00.95|+01.00", Type: "Apple", Position: r3.Vec{X: 1, Y: 0.95, Z: 1}, Pickupable: true, Radius: 0.05},
			{ID: "Bowl|-01.00|+00.95|+01.00", Type: "Bowl", Position: r3.Vec{X: -1, Y: 0.95, Z: 1}, Radius: 0.1},
			{ID: "Mug|+00.50|+00.95|-01.00", Type: "Mug", Position: r3.Vec{X: 0.5, Y: 0.95, Z: -1}, Pickupable: true, Radius: 0.05},
			{ID: "Curtains|+00.00|+01.50|+01.75", Type: "Curtains", Position: r3.Vec{Y: 1.5, Z: 1.75}, Radius: 0.3, Drift: r3.Vec{X: 0.02}},
		},
		Reachable: Grid(1.5, 0.25, sim.AgentBaseHeight),
	}
}
