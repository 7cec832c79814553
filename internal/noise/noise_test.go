package noise

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// biasOnly draws a random per-episode bias but no per-call spread, so every
// sample within an episode equals the bias.
var biasOnly = AxisMeta{Bias: Meta{Mean: 0, Variance: 0.01}}

func TestNewUnknownType(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Type: "gaussian"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestZeroEffectModel(t *testing.T) {
	t.Parallel()

	noisy := AxisMeta{Bias: Meta{Mean: 0.3, Variance: 1}, Variance: Meta{Mean: 1, Variance: 1}}
	for _, cfg := range []Config{
		{Ahead: noisy, Lateral: noisy, Turning: noisy, EffectScale: 3, Seed: 7}, // empty type forces scale 0
		{Type: TypeHabitat, Ahead: noisy, Lateral: noisy, Turning: noisy, EffectScale: 0, Seed: 7},
		{Type: TypeSimple1D, Ahead: noisy, Turning: noisy, EffectScale: 0},
	} {
		m, err := New(cfg)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			assert.Equal(t, Drift{}, m.AheadDrift(0.2))
			assert.Equal(t, Drift{}, m.RotateDrift())
		}
		m.Reset()
		assert.Equal(t, Drift{}, m.AheadDrift(0.2))
	}
}

func TestSeededModelsAreDeterministic(t *testing.T) {
	t.Parallel()

	axisMeta := AxisMeta{Bias: Meta{Mean: 0, Variance: 0.01}, Variance: Meta{Mean: 0.001, Variance: 0.0001}}
	cfg := Config{Type: TypeHabitat, Ahead: axisMeta, Lateral: axisMeta, Turning: axisMeta, EffectScale: 1, Seed: 42}

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.AheadDrift(0.2), b.AheadDrift(0.2))
		assert.Equal(t, a.RotateDrift(), b.RotateDrift())
		if i == 5 {
			a.Reset()
			b.Reset()
		}
	}

	cfg.Seed = 43
	c, err := New(cfg)
	require.NoError(t, err)
	a2, _ := New(Config{Type: TypeHabitat, Ahead: axisMeta, Lateral: axisMeta, Turning: axisMeta, EffectScale: 1, Seed: 42})
	assert.NotEqual(t, a2.AheadDrift(0.2), c.AheadDrift(0.2))
}

func TestResetRedrawsBias(t *testing.T) {
	t.Parallel()

	m, err := New(Config{Type: TypeHabitat, Ahead: biasOnly, Lateral: biasOnly, Turning: biasOnly, EffectScale: 1, Seed: 1})
	require.NoError(t, err)

	first := m.RotateDrift()
	assert.Equal(t, first, m.RotateDrift(), "no per-call spread within an episode")

	m.Reset()
	assert.NotEqual(t, first, m.RotateDrift())
}

func TestHabitatAheadScalesWithNominal(t *testing.T) {
	t.Parallel()

	m, err := New(Config{Type: TypeHabitat, Ahead: biasOnly, Lateral: biasOnly, Turning: biasOnly, EffectScale: 1, Seed: 9})
	require.NoError(t, err)

	one := m.AheadDrift(1)
	two := m.AheadDrift(-2)
	assert.InDelta(t, 2*one.Ahead, two.Ahead, 1e-12)
	assert.InDelta(t, 2*one.Lateral, two.Lateral, 1e-12)
	assert.InDelta(t, one.Rotation, two.Rotation, 1e-12, "rotation drift is independent of distance")
}

func TestSimple1DTouchesOnlyCommandedAxis(t *testing.T) {
	t.Parallel()

	m, err := New(Config{Type: TypeSimple1D, Ahead: biasOnly, Lateral: biasOnly, Turning: biasOnly, EffectScale: 1, Seed: 3})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		a := m.AheadDrift(0.2)
		assert.Zero(t, a.Lateral)
		assert.Zero(t, a.Rotation)
		assert.NotZero(t, a.Ahead)

		r := m.RotateDrift()
		assert.Zero(t, r.Ahead)
		assert.Zero(t, r.Lateral)
		assert.NotZero(t, r.Rotation)
	}
}

func TestNonFiniteDriftPanics(t *testing.T) {
	t.Parallel()

	bad := AxisMeta{Bias: Meta{Mean: math.Inf(1)}}
	m, err := New(Config{Type: TypeSimple1D, Ahead: bad, EffectScale: 1})
	require.NoError(t, err)
	assert.Panics(t, func() { m.AheadDrift(0.2) })
}
