package env

import "fmt"

// Discrete action names accepted by Environment.Step.
const (
	MoveArmHeightP = "MoveArmHeightP"
	MoveArmHeightM = "MoveArmHeightM"
	MoveArmXP      = "MoveArmXP"
	MoveArmXM      = "MoveArmXM"
	MoveArmYP      = "MoveArmYP"
	MoveArmYM      = "MoveArmYM"
	MoveArmZP      = "MoveArmZP"
	MoveArmZM      = "MoveArmZM"

	MoveAhead        = "MoveAheadContinuous"
	MoveBack         = "MoveBackContinuous"
	RotateRight      = "RotateRightContinuous"
	RotateLeft       = "RotateLeftContinuous"
	RotateRightSmall = "RotateRightSmallContinuous"
	RotateLeftSmall  = "RotateLeftSmallContinuous"

	MoveWristP      = "MoveWristP"
	MoveWristM      = "MoveWristM"
	MoveWristPSmall = "MoveWristPSmall"
	MoveWristMSmall = "MoveWristMSmall"

	PickUp = "PickUpMidLevel"
	Done   = "DoneMidLevel"
)

// ActionSet is the ordered discrete action space of a task. A policy's
// action index selects an entry.
type ActionSet []string

// Action set names used in configuration.
const (
	ActionSetArm     = "arm"
	ActionSetStretch = "stretch"
)

// ArmActions is the ManipulaTHOR embodiment: a base that moves ahead and
// turns plus an arm with a free wrist.
var ArmActions = ActionSet{
	MoveArmHeightP, MoveArmHeightM,
	MoveArmXP, MoveArmXM,
	MoveArmYP, MoveArmYM,
	MoveArmZP, MoveArmZM,
	MoveAhead, RotateRight, RotateLeft,
	PickUp, Done,
}

// StretchActions is the Stretch embodiment: a telescoping arm on a lift, a
// rotating wrist, and a base that can also back up and make small turns.
var StretchActions = ActionSet{
	MoveArmHeightP, MoveArmHeightM,
	MoveArmZP, MoveArmZM,
	MoveAhead, MoveBack,
	RotateRight, RotateLeft,
	RotateRightSmall, RotateLeftSmall,
	MoveWristP, MoveWristM,
	MoveWristPSmall, MoveWristMSmall,
	PickUp, Done,
}

// ActionSetByName resolves a configured action set.
func ActionSetByName(name string) (ActionSet, error) {
	switch name {
	case "", ActionSetArm:
		return ArmActions, nil
	case ActionSetStretch:
		return StretchActions, nil
	}
	return nil, fmt.Errorf("%w: action set %q", ErrUnknownAction, name)
}

// Action returns the action name at index i.
func (s ActionSet) Action(i int) (string, error) {
	if i < 0 || i >= len(s) {
		return "", fmt.Errorf("%w: index %d outside action set of %d", ErrUnknownAction, i, len(s))
	}
	return s[i], nil
}

// Index returns the position of action in s, or -1.
func (s ActionSet) Index(action string) int {
	for i, a := range s {
		if a == action {
			return i
		}
	}
	return -1
}

func isLocomotion(action string) bool {
	switch action {
	case MoveAhead, MoveBack, RotateRight, RotateLeft, RotateRightSmall, RotateLeftSmall:
		return true
	}
	return false
}
