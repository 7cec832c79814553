package sim

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is the simulator's {x,y,z} object.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// R3 converts v to a gonum vector.
func (v Vec3) R3() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// FromR3 converts a gonum vector.
func FromR3(v r3.Vec) Vec3 { return Vec3{X: v.X, Y: v.Y, Z: v.Z} }

// AgentMeta is the agent body state.
type AgentMeta struct {
	Position      Vec3  `json:"position"`
	Rotation      Vec3  `json:"rotation"`
	CameraHorizon Float `json:"cameraHorizon"`
	IsStanding    bool  `json:"isStanding"`
}

// Joint is one arm joint. The last joint is the wrist.
type Joint struct {
	Name                 string `json:"name"`
	Position             Vec3   `json:"position"`
	RootRelativePosition Vec3   `json:"rootRelativePosition"`
}

// ArmMeta is the arm state including grasp bookkeeping.
type ArmMeta struct {
	Joints            []Joint  `json:"joints"`
	HeldObjects       []string `json:"heldObjects"`
	PickupableObjects []string `json:"pickupableObjects"`
	HandSphereCenter  Vec3     `json:"handSphereCenter"`
}

// Wrist returns the last joint.
func (a ArmMeta) Wrist() (Joint, bool) {
	if len(a.Joints) == 0 {
		return Joint{}, false
	}
	return a.Joints[len(a.Joints)-1], true
}

// ObjectMeta is the pose and flags of one scene object.
type ObjectMeta struct {
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType"`
	Position   Vec3   `json:"position"`
	Rotation   Vec3   `json:"rotation"`
	Visible    bool   `json:"visible"`
	Pickupable bool   `json:"pickupable"`
}

// InventoryObject is an entry of the agent's inventory.
type InventoryObject struct {
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType"`
}

// CameraMeta describes a third-party camera. Rotation.X is its pitch.
type CameraMeta struct {
	Position    Vec3  `json:"position"`
	Rotation    Vec3  `json:"rotation"`
	FieldOfView Float `json:"fieldOfView"`
}

// Metadata is the per-step state report.
type Metadata struct {
	SceneName         string            `json:"sceneName"`
	Agent             AgentMeta         `json:"agent"`
	Arm               ArmMeta           `json:"arm"`
	Objects           []ObjectMeta      `json:"objects"`
	InventoryObjects  []InventoryObject `json:"inventoryObjects"`
	CameraPosition    Vec3              `json:"cameraPosition"`
	FOV               Float             `json:"fov"`
	ThirdPartyCameras []CameraMeta      `json:"thirdPartyCameras"`
	LastAction        string            `json:"lastAction"`
	LastActionSuccess bool              `json:"lastActionSuccess"`
	ErrorMessage      string            `json:"errorMessage"`
	ActionReturn      json.RawMessage   `json:"actionReturn,omitempty"`
}

// Object looks up an object by id.
func (m *Metadata) Object(id string) (ObjectMeta, bool) {
	for _, o := range m.Objects {
		if o.ObjectID == id {
			return o, true
		}
	}
	return ObjectMeta{}, false
}

// ReachablePositions decodes the action return of a GetReachablePositions
// command.
func (m *Metadata) ReachablePositions() ([]Vec3, error) {
	if len(m.ActionReturn) == 0 {
		return nil, fmt.Errorf("no action return for %q", m.LastAction)
	}
	var out []Vec3
	if err := json.Unmarshal(m.ActionReturn, &out); err != nil {
		return nil, fmt.Errorf("decode reachable positions: %w", err)
	}
	return out, nil
}
