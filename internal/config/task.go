package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/noise"
	"github.com/kschmeckpeper/manipulathor/internal/task"
)

// DefaultConfigPath is the path to the canonical task defaults file.
const DefaultConfigPath = "config/task.defaults.json"

// TaskConfig is the root configuration of an evaluation run. Every field is
// optional; the Get* methods supply defaults for anything omitted.
type TaskConfig struct {
	// Reward weights
	StepPenalty         *float64 `json:"step_penalty,omitempty"`
	GoalSuccessReward   *float64 `json:"goal_success_reward,omitempty"`
	PickupSuccessReward *float64 `json:"pickup_success_reward,omitempty"`
	FailedStopReward    *float64 `json:"failed_stop_reward,omitempty"`
	ShapingWeight       *float64 `json:"shaping_weight,omitempty"`
	FailedActionPenalty *float64 `json:"failed_action_penalty,omitempty"`
	ArmDistMultiplier   *float64 `json:"arm_dist_multiplier,omitempty"`
	ExplorationReward   *float64 `json:"exploration_reward,omitempty"`
	ObjectFound         *float64 `json:"object_found,omitempty"`

	// Task params
	MaxSteps             *int                `json:"max_steps,omitempty"`
	SuccessTolerance     *float64            `json:"success_tolerance,omitempty"`
	ObjectsMoveThreshold *float64            `json:"objects_move_threshold,omitempty"`
	ArmLength            *float64            `json:"arm_length,omitempty"`
	ActionSet            *string             `json:"action_set,omitempty"` // "arm" or "stretch"
	AutoPickup           *bool               `json:"auto_pickup,omitempty"`
	CutoffFarDeltas      *bool               `json:"cutoff_far_deltas,omitempty"`
	RewardTerms          []string            `json:"reward_terms,omitempty"`
	ConstantlyMoving     map[string][]string `json:"constantly_moving_objects,omitempty"`

	// Motion noise params
	MotionNoiseType *string         `json:"motion_noise_type,omitempty"`
	NoiseAhead      *noise.AxisMeta `json:"noise_ahead,omitempty"`
	NoiseLateral    *noise.AxisMeta `json:"noise_lateral,omitempty"`
	NoiseTurning    *noise.AxisMeta `json:"noise_turning,omitempty"`
	EffectScale     *float64        `json:"effect_scale,omitempty"`
	NoiseSeed       *uint64         `json:"noise_seed,omitempty"`

	// Environment params
	AheadNominal  *float64 `json:"ahead_nominal,omitempty"`  // metres
	RotateNominal *float64 `json:"rotate_nominal,omitempty"` // degrees
	ArmStep       *float64 `json:"arm_step,omitempty"`
	ArmHeightStep *float64 `json:"arm_height_step,omitempty"`
	WristRotation *float64 `json:"wrist_rotation,omitempty"` // degrees
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyTaskConfig returns a TaskConfig with every field unset.
func EmptyTaskConfig() *TaskConfig {
	return &TaskConfig{}
}

// LoadTaskConfig loads a TaskConfig from a JSON file. The file must have a
// .json extension and be at most 1MB. Omitted fields keep their defaults.
func LoadTaskConfig(path string) (*TaskConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTaskConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. It panics if the file cannot be loaded and is
// intended for test setup.
func MustLoadDefaultConfig() *TaskConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/sim/kinematic/
	}
	for _, path := range candidates {
		if cfg, err := LoadTaskConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *TaskConfig) Validate() error {
	if c.MaxSteps != nil && *c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", *c.MaxSteps)
	}
	if c.SuccessTolerance != nil && *c.SuccessTolerance <= 0 {
		return fmt.Errorf("success_tolerance must be positive, got %f", *c.SuccessTolerance)
	}
	if c.ObjectsMoveThreshold != nil && *c.ObjectsMoveThreshold < 0 {
		return fmt.Errorf("objects_move_threshold must be non-negative, got %f", *c.ObjectsMoveThreshold)
	}
	if c.ArmLength != nil && *c.ArmLength <= 0 {
		return fmt.Errorf("arm_length must be positive, got %f", *c.ArmLength)
	}
	if c.ActionSet != nil {
		if _, err := env.ActionSetByName(*c.ActionSet); err != nil {
			return err
		}
	}
	for _, name := range c.RewardTerms {
		if !isTerm(name) {
			return fmt.Errorf("unknown reward term %q", name)
		}
	}
	if c.MotionNoiseType != nil {
		switch *c.MotionNoiseType {
		case "", noise.TypeHabitat, noise.TypeSimple1D:
		default:
			return fmt.Errorf("%w: %q", noise.ErrUnknownType, *c.MotionNoiseType)
		}
	}
	if c.EffectScale != nil && *c.EffectScale < 0 {
		return fmt.Errorf("effect_scale must be non-negative, got %f", *c.EffectScale)
	}
	for name, axis := range map[string]*noise.AxisMeta{"noise_ahead": c.NoiseAhead, "noise_lateral": c.NoiseLateral, "noise_turning": c.NoiseTurning} {
		if axis != nil && (axis.Bias.Variance < 0 || axis.Variance.Variance < 0) {
			return fmt.Errorf("%s: meta variances must be non-negative", name)
		}
	}
	if c.AheadNominal != nil && *c.AheadNominal <= 0 {
		return fmt.Errorf("ahead_nominal must be positive, got %f", *c.AheadNominal)
	}
	if c.RotateNominal != nil && *c.RotateNominal <= 0 {
		return fmt.Errorf("rotate_nominal must be positive, got %f", *c.RotateNominal)
	}
	return nil
}

func isTerm(name string) bool {
	for _, t := range task.ExploreTerms {
		if t == name {
			return true
		}
	}
	return false
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// GetReward returns the reward weights with defaults filled in.
func (c *TaskConfig) GetReward() task.Reward {
	d := task.DefaultReward()
	return task.Reward{
		StepPenalty:         getFloat(c.StepPenalty, d.StepPenalty),
		GoalSuccessReward:   getFloat(c.GoalSuccessReward, d.GoalSuccessReward),
		PickupSuccessReward: getFloat(c.PickupSuccessReward, d.PickupSuccessReward),
		FailedStopReward:    getFloat(c.FailedStopReward, d.FailedStopReward),
		ShapingWeight:       getFloat(c.ShapingWeight, d.ShapingWeight),
		FailedActionPenalty: getFloat(c.FailedActionPenalty, d.FailedActionPenalty),
		ArmDistMultiplier:   getFloat(c.ArmDistMultiplier, d.ArmDistMultiplier),
		ExplorationReward:   getFloat(c.ExplorationReward, d.ExplorationReward),
		ObjectFound:         getFloat(c.ObjectFound, d.ObjectFound),
	}
}

// GetMaxSteps returns the max_steps value or the default.
func (c *TaskConfig) GetMaxSteps() int {
	if c.MaxSteps == nil {
		return 200
	}
	return *c.MaxSteps
}

// GetActionSet returns the configured action set, the arm set by default.
// The name has been checked by Validate.
func (c *TaskConfig) GetActionSet() env.ActionSet {
	name := ""
	if c.ActionSet != nil {
		name = *c.ActionSet
	}
	set, err := env.ActionSetByName(name)
	if err != nil {
		return env.ArmActions
	}
	return set
}

// IsStretch reports whether the stretch embodiment is configured.
func (c *TaskConfig) IsStretch() bool {
	return c.ActionSet != nil && *c.ActionSet == env.ActionSetStretch
}

// GetAutoPickup returns the auto_pickup value or the default.
func (c *TaskConfig) GetAutoPickup() bool {
	if c.AutoPickup == nil {
		return false
	}
	return *c.AutoPickup
}

// GetCutoffFarDeltas returns the cutoff_far_deltas value or the default.
func (c *TaskConfig) GetCutoffFarDeltas() bool {
	if c.CutoffFarDeltas == nil {
		return false
	}
	return *c.CutoffFarDeltas
}

// GetMotionNoiseType returns the motion_noise_type value or "" for none.
func (c *TaskConfig) GetMotionNoiseType() string {
	if c.MotionNoiseType == nil {
		return ""
	}
	return *c.MotionNoiseType
}

// Task assembles the task configuration.
func (c *TaskConfig) Task() task.Config {
	d := task.DefaultConfig()
	return task.Config{
		Actions:              c.GetActionSet(),
		MaxSteps:             c.GetMaxSteps(),
		Reward:               c.GetReward(),
		Tolerance:            getFloat(c.SuccessTolerance, d.Tolerance),
		ObjectsMoveThreshold: getFloat(c.ObjectsMoveThreshold, d.ObjectsMoveThreshold),
		ArmLength:            getFloat(c.ArmLength, d.ArmLength),
		AutoPickup:           c.GetAutoPickup(),
		CutoffFarDeltas:      c.GetCutoffFarDeltas(),
		Terms:                c.RewardTerms,
		ConstantlyMoving:     c.ConstantlyMoving,
	}
}

// Noise assembles the motion noise configuration.
func (c *TaskConfig) Noise() noise.Config {
	nc := noise.Config{
		Type:        c.GetMotionNoiseType(),
		EffectScale: getFloat(c.EffectScale, 1),
	}
	if c.NoiseAhead != nil {
		nc.Ahead = *c.NoiseAhead
	}
	if c.NoiseLateral != nil {
		nc.Lateral = *c.NoiseLateral
	}
	if c.NoiseTurning != nil {
		nc.Turning = *c.NoiseTurning
	}
	if c.NoiseSeed != nil {
		nc.Seed = *c.NoiseSeed
	}
	return nc
}

// Env assembles the environment options.
func (c *TaskConfig) Env() env.Options {
	d := env.DefaultOptions()
	return env.Options{
		AheadNominal:  getFloat(c.AheadNominal, d.AheadNominal),
		RotateNominal: getFloat(c.RotateNominal, d.RotateNominal),
		ArmStep:       getFloat(c.ArmStep, d.ArmStep),
		ArmHeightStep: getFloat(c.ArmHeightStep, d.ArmHeightStep),
		WristRotation: getFloat(c.WristRotation, d.WristRotation),
		Stretch:       c.IsStretch(),
	}
}
