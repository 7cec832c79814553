package env

import (
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
)

// ArmState is the arm pose relative to its root: the wrist position and the
// normalised lift height in [0, 1].
type ArmState struct {
	Wrist  r3.Vec
	Height float64
}

// LastEvent is the controller's most recent event.
func (e *Environment) LastEvent() *sim.Event { return e.ctrl.LastEvent() }

// LastActionSuccess reports whether the nominal command of the last Step
// succeeded. Fallback corrections do not change it.
func (e *Environment) LastActionSuccess() bool { return e.lastSuccess }

// Commands lists the physical commands issued since the last reset.
func (e *Environment) Commands() []sim.Command {
	return slices.Clone(e.issued)
}

// NominalPose is the dead-reckoned base pose.
func (e *Environment) NominalPose() geom.Pose { return e.nominal }

// NominalHorizon is the camera pitch the agent was last told to hold. No
// action in the action sets tilts the camera, so it only changes on reset
// and teleport.
func (e *Environment) NominalHorizon() float64 { return e.horizon }

// AgentPose is the true base pose.
func (e *Environment) AgentPose() geom.Pose {
	a := e.ctrl.LastEvent().Metadata.Agent
	return geom.Pose{Position: a.Position.R3(), Yaw: a.Rotation.Y}
}

// AgentHorizon is the true camera pitch in degrees.
func (e *Environment) AgentHorizon() float64 {
	return float64(e.ctrl.LastEvent().Metadata.Agent.CameraHorizon)
}

// ArmState reads the wrist's root-relative position and the lift height.
// Non-finite components are zeroed.
func (e *Environment) ArmState() ArmState {
	m := e.ctrl.LastEvent().Metadata
	var st ArmState
	if w, ok := m.Arm.Wrist(); ok {
		st.Wrist = w.RootRelativePosition.R3()
	}
	if len(m.Arm.Joints) > 0 {
		lo, hi := sim.ArmHeightRange(m.Agent.Position.Y)
		st.Height = (m.Arm.Joints[0].Position.Y - lo) / (hi - lo)
	}

	wrist, fixed := geom.ZeroNonFinite(st.Wrist)
	if fixed {
		monitoring.NonFinite("relative hand", st.Wrist)
	}
	st.Wrist = wrist
	h, fixed := geom.ZeroNonFinite(r3.Vec{X: st.Height})
	if fixed {
		monitoring.NonFinite("arm height", st.Height)
	}
	st.Height = h.X
	return st
}

// HandPosition is the wrist's world position with non-finite components
// zeroed.
func (e *Environment) HandPosition() r3.Vec {
	w, ok := e.ctrl.LastEvent().Metadata.Arm.Wrist()
	if !ok {
		return r3.Vec{}
	}
	p, fixed := geom.ZeroNonFinite(w.Position.R3())
	if fixed {
		monitoring.NonFinite("absolute hand", w.Position)
	}
	return p
}

// ObjectByID returns object metadata with non-finite position components
// zeroed.
func (e *Environment) ObjectByID(id string) (sim.ObjectMeta, bool) {
	m := e.ctrl.LastEvent().Metadata
	o, ok := m.Object(id)
	if !ok {
		return o, false
	}
	p, fixed := geom.ZeroNonFinite(o.Position.R3())
	if fixed {
		monitoring.NonFinite("object "+id, o.Position)
	}
	o.Position = sim.FromR3(p)
	return o, true
}

// IsHeld reports whether the gripper holds id.
func (e *Environment) IsHeld(id string) bool {
	return slices.Contains(e.ctrl.LastEvent().Metadata.Arm.HeldObjects, id)
}

// ObjectInHand returns the single inventory object. More than one is an
// ErrInventory.
func (e *Environment) ObjectInHand() (sim.InventoryObject, bool, error) {
	inv := e.ctrl.LastEvent().Metadata.InventoryObjects
	switch len(inv) {
	case 0:
		return sim.InventoryObject{}, false, nil
	case 1:
		return inv[0], true, nil
	}
	return sim.InventoryObject{}, false, fmt.Errorf("%w: %d objects", ErrInventory, len(inv))
}

// Pickupable lists the objects the gripper could grasp now.
func (e *Environment) Pickupable() []string {
	return slices.Clone(e.ctrl.LastEvent().Metadata.Arm.PickupableObjects)
}

// ObjectLocations snapshots every object position.
func (e *Environment) ObjectLocations() map[string]r3.Vec {
	objs := e.ctrl.LastEvent().Metadata.Objects
	out := make(map[string]r3.Vec, len(objs))
	for _, o := range objs {
		out[o.ObjectID] = o.Position.R3()
	}
	return out
}

// ObjectsMoved lists, sorted, the objects whose position moved more than thr
// on any axis since initial was taken.
func (e *Environment) ObjectsMoved(initial map[string]r3.Vec, thr float64) []string {
	var moved []string
	for id, p := range e.ObjectLocations() {
		start, ok := initial[id]
		if !ok {
			continue
		}
		if geom.MaxAbsDiff(p, start) > thr {
			moved = append(moved, id)
		}
	}
	sort.Strings(moved)
	return moved
}

// ReachablePositions is the grid fetched at the last reset.
func (e *Environment) ReachablePositions() []r3.Vec { return e.reachable }
