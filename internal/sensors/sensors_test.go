package sensors

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/noise"
	"github.com/kschmeckpeper/manipulathor/internal/sim"
	"github.com/kschmeckpeper/manipulathor/internal/sim/kinematic"
)

const (
	curtains = "Curtains|+00.00|+01.50|+01.75"
	mug      = "Mug|+00.50|+00.95|-01.00"
	apple    = "Apple|+01.00|+00.95|+01.00"
)

type fakeTask struct {
	steps  int
	source string
	goal   string
	picked bool
}

func (f *fakeTask) NumSteps() int { return f.steps }
func (f *fakeTask) PickedUp() bool { return f.picked }
func (f *fakeTask) TargetID(t Target) string {
	if t == Destination {
		return f.goal
	}
	return f.source
}

func newEnv(t *testing.T) *env.Environment {
	t.Helper()
	model, err := noise.New(noise.Config{})
	require.NoError(t, err)
	s := kinematic.New(kinematic.DefaultOptions(), kinematic.DefaultScene())
	e, err := env.New(context.Background(), func(context.Context) (sim.Controller, error) { return s, nil }, model, env.DefaultOptions())
	require.NoError(t, err)
	_, err = e.Reset(context.Background(), kinematic.DefaultScene().Name)
	require.NoError(t, err)
	return e
}

func teleport(t *testing.T, e *env.Environment, yaw float64) {
	t.Helper()
	ev, err := e.Teleport(context.Background(), geom.Pose{Position: r3.Vec{Y: sim.AgentBaseHeight}, Yaw: yaw}, 0)
	require.NoError(t, err)
	require.True(t, ev.Success())
}

func bodyFrame(e *env.Environment) geom.Pose {
	m := e.LastEvent().Metadata
	return geom.Pose{Position: m.CameraPosition.R3(), Yaw: m.Agent.Rotation.Y}
}

func objectPos(t *testing.T, e *env.Environment, id string) r3.Vec {
	t.Helper()
	o, ok := e.ObjectByID(id)
	require.True(t, ok)
	return o.Position.R3()
}

func TestObjectMask(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	teleport(t, e, 0)

	tests := []struct {
		name    string
		sensor  ObjectMask
		source  string
		visible bool
	}{
		{"in view", ObjectMask{Target: Source}, curtains, true},
		{"behind the camera", ObjectMask{Target: Source}, mug, false},
		{"far mask suppressed", ObjectMask{Target: Source, DistanceThreshold: 1, OnlyCloseBigMasks: true}, curtains, false},
		{"threshold alone keeps mask", ObjectMask{Target: Source, DistanceThreshold: 1}, curtains, true},
		{"close and big", ObjectMask{Target: Source, DistanceThreshold: 2, OnlyCloseBigMasks: true, MinPixels: 5}, curtains, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.sensor.Observe(e, &fakeTask{source: tt.source})
			require.NoError(t, err)
			m := v.(*sim.Mask)
			assert.Equal(t, kinematic.DefaultOptions().Rows, m.Rows)
			assert.Equal(t, tt.visible, m.Count() > 0)
		})
	}

	orig := e.LastEvent().InstanceMasks[curtains].Count()
	v, _ := ObjectMask{Target: Source, DistanceThreshold: 1, OnlyCloseBigMasks: true}.Observe(e, &fakeTask{source: curtains})
	assert.Zero(t, v.(*sim.Mask).Count())
	assert.Equal(t, orig, e.LastEvent().InstanceMasks[curtains].Count(), "event mask untouched")
	assert.Equal(t, "arm_object_mask_destination", ObjectMask{Target: Destination, Camera: ArmCamera}.UUID())
}

func TestPointNavEmulFromDepth(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	teleport(t, e, 0)
	task := &fakeTask{source: curtains}
	s := NewPointNavEmul(PointNavConfig{Target: Source})
	assert.Equal(t, "point_nav_emul_source", s.UUID())

	v, err := s.Observe(e, task)
	require.NoError(t, err)
	want := geom.WorldToAgent(objectPos(t, e, curtains), bodyFrame(e))
	got := v.(r3.Vec)
	assert.InDelta(t, 0, geom.MaxAbsDiff(want, got), 0.05, "got %v want %v", got, want)
	require.Len(t, s.History(), 1)
	assert.Positive(t, s.History()[0].Count)

	// Turned away, the estimate comes from history in the new camera frame.
	teleport(t, e, 180)
	task.steps = 1
	v, err = s.Observe(e, task)
	require.NoError(t, err)
	assert.Len(t, s.History(), 1)
	assert.InDelta(t, -1.75, v.(r3.Vec).Z, 0.05)

	// A new episode forgets the sighting.
	task.steps = 0
	v, err = s.Observe(e, task)
	require.NoError(t, err)
	assert.Equal(t, geom.Sentinel, v)
}

func TestPointNavEmulSentinel(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	teleport(t, e, 0)
	s := NewPointNavEmul(PointNavConfig{Target: Destination})

	v, err := s.Observe(e, &fakeTask{goal: mug})
	require.NoError(t, err)
	assert.Equal(t, geom.Sentinel, v)
	assert.Zero(t, len(s.History()))
}

func TestPointNavEmulGroundTruth(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	teleport(t, e, 0)
	task := &fakeTask{source: mug}

	body := NewPointNavEmul(PointNavConfig{Target: Source, UseGroundTruth: true})
	v, err := body.Observe(e, task)
	require.NoError(t, err)
	want := geom.WorldToAgent(objectPos(t, e, mug), bodyFrame(e))
	assert.InDelta(t, 0, geom.MaxAbsDiff(want, v.(r3.Vec)), 1e-9)
	require.Len(t, body.History(), 1)
	assert.Equal(t, 1, body.History()[0].Count)

	arm := NewPointNavEmul(PointNavConfig{Target: Source, Camera: ArmCamera, Frame: FrameArm, UseGroundTruth: true})
	assert.Equal(t, "arm_point_nav_emul_source", arm.UUID())
	v, err = arm.Observe(e, task)
	require.NoError(t, err)
	dist := geom.Distance(objectPos(t, e, mug), e.HandPosition())
	assert.InDelta(t, dist, r3.Norm(v.(r3.Vec)), 1e-9)
}

func TestDeadReckoningMatchesTruthWithoutNoise(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	teleport(t, e, 0)
	task := &fakeTask{source: curtains}

	truth := NewPointNavEmul(PointNavConfig{Target: Source})
	dr := NewPointNavEmul(PointNavConfig{Target: Source, DeadReckoning: true})
	assert.Equal(t, "point_nav_emul_dr_source", dr.UUID())

	a, err := truth.Observe(e, task)
	require.NoError(t, err)
	b, err := dr.Observe(e, task)
	require.NoError(t, err)
	assert.InDelta(t, 0, geom.MaxAbsDiff(a.(r3.Vec), b.(r3.Vec)), 1e-9)
}

func TestDeadReckonedCamera(t *testing.T) {
	t.Parallel()
	cam := geom.Camera{Position: r3.Vec{X: 1.5, Y: 1, Z: 1}, Yaw: 180, Horizon: 30, FOV: 90}
	truth := geom.Pose{Position: r3.Vec{X: 1, Z: 1}, Yaw: 90}
	nominal := geom.Pose{}

	got := deadReckonedCamera(cam, truth, nominal)
	assert.InDelta(t, 0, geom.MaxAbsDiff(r3.Vec{Y: 1, Z: 0.5}, got.Position), 1e-9)
	assert.InDelta(t, 90, got.Yaw, 1e-9)
	assert.Equal(t, 30.0, got.Horizon)
	assert.Equal(t, 90.0, got.FOV)
}

func TestPointNavGT(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	teleport(t, e, 90)
	task := &fakeTask{source: apple}

	v, err := PointNavGT{Target: Source}.Observe(e, task)
	require.NoError(t, err)
	// Facing +x, the apple at (1, 0.95, 1) is ahead and to the left.
	assert.InDelta(t, 0, geom.MaxAbsDiff(r3.Vec{X: -1, Y: 0.95 - sim.AgentBaseHeight, Z: 1}, v.(r3.Vec)), 1e-9)

	_, err = PointNavGT{Target: Destination}.Observe(e, task)
	assert.Error(t, err, "missing object")
}

func TestOdometry(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	task := &fakeTask{}
	odo := &Odometry{}

	v, err := odo.Observe(e, task)
	require.NoError(t, err)
	assert.Equal(t, OdometryReading{}, v)

	_, err = e.Step(context.Background(), env.Request{Action: env.MoveAhead})
	require.NoError(t, err)
	task.steps = 1
	v, _ = odo.Observe(e, task)
	r := v.(OdometryReading)
	assert.InDelta(t, 0.2, r.Delta.Z, 1e-9)
	assert.InDelta(t, 0, r.DeltaYaw, 1e-9)

	_, err = e.Step(context.Background(), env.Request{Action: env.RotateLeft})
	require.NoError(t, err)
	task.steps = 2
	v, _ = odo.Observe(e, task)
	r = v.(OdometryReading)
	assert.InDelta(t, 0, r3.Norm(r.Delta), 1e-9)
	assert.InDelta(t, -45, r.DeltaYaw, 1e-9)
}

func TestSuite(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, err := NewSuite(PickedUp{}, PickedUp{})
	assert.Error(t, err)

	suite, err := NewSuite(
		PickedUp{},
		ObjectMask{Target: Source},
		NewPointNavEmul(PointNavConfig{Target: Source}),
		&Odometry{},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"pickedup_object", "object_mask_source", "point_nav_emul_source", "odometry_emul"}, suite.UUIDs())

	obs, err := suite.Observe(e, &fakeTask{source: apple, picked: true})
	require.NoError(t, err)
	assert.Len(t, obs, 4)
	assert.Equal(t, true, obs["pickedup_object"])
}

// nanCamera reports a non-finite body camera position once enabled.
type nanCamera struct {
	*kinematic.Sim
	on   bool
	last *sim.Event
}

func (c *nanCamera) Reset(ctx context.Context, scene string) (*sim.Event, error) {
	ev, err := c.Sim.Reset(ctx, scene)
	c.last = ev
	return ev, err
}

func (c *nanCamera) Step(ctx context.Context, cmd sim.Command) (*sim.Event, error) {
	ev, err := c.Sim.Step(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if c.on {
		out := *ev
		out.Metadata.CameraPosition.X = math.NaN()
		ev = &out
	}
	c.last = ev
	return ev, nil
}

func (c *nanCamera) LastEvent() *sim.Event { return c.last }

func TestPointNavEmulNonFiniteCamera(t *testing.T) {
	t.Parallel()
	model, err := noise.New(noise.Config{})
	require.NoError(t, err)
	ctrl := &nanCamera{Sim: kinematic.New(kinematic.DefaultOptions(), kinematic.DefaultScene())}
	e, err := env.New(context.Background(), func(context.Context) (sim.Controller, error) { return ctrl, nil }, model, env.DefaultOptions())
	require.NoError(t, err)
	_, err = e.Reset(context.Background(), kinematic.DefaultScene().Name)
	require.NoError(t, err)
	teleport(t, e, 0)

	s := NewPointNavEmul(PointNavConfig{Target: Source})
	task := &fakeTask{source: curtains}
	v, err := s.Observe(e, task)
	require.NoError(t, err)
	require.NotEqual(t, geom.Sentinel, v)

	ctrl.on = true
	_, err = e.Exec(context.Background(), sim.Simple(sim.CmdPass))
	require.NoError(t, err)
	task.steps = 1

	before := monitoring.NonFiniteCount()
	v, err = s.Observe(e, task)
	require.NoError(t, err)
	assert.Equal(t, geom.Sentinel, v)
	assert.Greater(t, monitoring.NonFiniteCount(), before)
}
