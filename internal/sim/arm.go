package sim

// Arm geometry of the manipulator embodiment. Heights are world Y for an
// agent standing at AgentBaseHeight; the usable range shifts with the
// agent's actual height.
const (
	ArmMinHeight    = 0.450998873
	ArmMaxHeight    = 1.8009994
	AgentBaseHeight = 0.9009995460510254

	// WristJoint is the name the simulator gives the last arm joint.
	WristJoint = "robot_arm_4_jnt"
)

// ArmHeightRange returns the world-Y range of the arm base for an agent
// standing at agentY.
func ArmHeightRange(agentY float64) (lo, hi float64) {
	offset := agentY - AgentBaseHeight
	return ArmMinHeight + offset, ArmMaxHeight + offset
}
