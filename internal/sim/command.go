package sim

// Physical command names understood by the simulator.
const (
	CmdMoveAgent             = "MoveAgent"
	CmdRotateAgent           = "RotateAgent"
	CmdMoveArm               = "MoveArm"
	CmdMoveArmBase           = "MoveArmBase"
	CmdRotateWristRelative   = "RotateWristRelative"
	CmdPickupObject          = "PickupObject"
	CmdReleaseObject         = "ReleaseObject"
	CmdPass                  = "Pass"
	CmdGetReachablePositions = "GetReachablePositions"
	CmdTeleportFull          = "TeleportFull"
)

// Command is one physical simulator call: an action name plus its
// arguments. Arguments hold float64, bool, string or nested
// map[string]any values so that they encode directly as JSON or protobuf
// Struct.
type Command struct {
	Action string
	Args   map[string]any
}

// Dict flattens c into the simulator's action dictionary.
func (c Command) Dict() map[string]any {
	d := make(map[string]any, len(c.Args)+1)
	for k, v := range c.Args {
		d[k] = v
	}
	d["action"] = c.Action
	return d
}

// FromDict is the inverse of Dict.
func FromDict(d map[string]any) Command {
	c := Command{Args: make(map[string]any, len(d))}
	for k, v := range d {
		if k == "action" {
			c.Action, _ = v.(string)
			continue
		}
		c.Args[k] = v
	}
	return c
}

// Float returns a numeric argument.
func (c Command) Float(key string) (float64, bool) {
	switch v := c.Args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Vec returns an {x,y,z} argument.
func (c Command) Vec(key string) (Vec3, bool) {
	m, ok := c.Args[key].(map[string]any)
	if !ok {
		return Vec3{}, false
	}
	var v Vec3
	var okX, okY, okZ bool
	v.X, okX = m["x"].(float64)
	v.Y, okY = m["y"].(float64)
	v.Z, okZ = m["z"].(float64)
	return v, okX && okY && okZ
}

// WithArgs returns a copy of c with extra arguments merged in. Existing keys
// are kept.
func (c Command) WithArgs(extra map[string]any) Command {
	out := Command{Action: c.Action, Args: make(map[string]any, len(c.Args)+len(extra))}
	for k, v := range extra {
		out.Args[k] = v
	}
	for k, v := range c.Args {
		out.Args[k] = v
	}
	return out
}

func vecArg(v Vec3) map[string]any {
	return map[string]any{"x": v.X, "y": v.Y, "z": v.Z}
}

// MoveAgent translates the body by ahead and right metres.
func MoveAgent(ahead, right float64) Command {
	return Command{Action: CmdMoveAgent, Args: map[string]any{"ahead": ahead, "right": right}}
}

// RotateAgent turns the body by degrees (positive is clockwise from above).
func RotateAgent(degrees float64) Command {
	return Command{Action: CmdRotateAgent, Args: map[string]any{"degrees": degrees}}
}

// MoveArmBase sets the normalised arm height.
func MoveArmBase(y float64) Command {
	return Command{Action: CmdMoveArmBase, Args: map[string]any{"y": y}}
}

// MoveArm moves the wrist to a root-relative position.
func MoveArm(position Vec3) Command {
	return Command{Action: CmdMoveArm, Args: map[string]any{"position": vecArg(position)}}
}

// RotateWristRelative turns the wrist by yaw degrees.
func RotateWristRelative(yaw float64) Command {
	return Command{Action: CmdRotateWristRelative, Args: map[string]any{"yaw": yaw}}
}

// TeleportFull places the agent at an absolute pose.
func TeleportFull(position Vec3, rotation, horizon float64) Command {
	return Command{Action: CmdTeleportFull, Args: map[string]any{
		"x":        position.X,
		"y":        position.Y,
		"z":        position.Z,
		"rotation": map[string]any{"x": 0.0, "y": rotation, "z": 0.0},
		"horizon":  horizon,
	}}
}

// Simple returns an argument-less command.
func Simple(action string) Command {
	return Command{Action: action, Args: map[string]any{}}
}
