package report

import (
	"bytes"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot/plotter"
)

func sampleTrace() *Trace {
	tr := &Trace{EpisodeID: "ep1", Scene: "FloorPlan1_physics"}
	tr.Record(Step{Index: 1, Action: "MoveAheadContinuous", Success: true, Reward: -0.01,
		Nominal: r3.Vec{X: 0, Z: 0.2}, True: r3.Vec{X: 0.01, Z: 0.21}, ArmToObject: 1.2, ObjectToGoal: 2})
	tr.Record(Step{Index: 2, Action: "PickUpMidLevel", Success: true, Reward: 4.99,
		Nominal: r3.Vec{X: 0, Z: 0.2}, True: r3.Vec{X: 0.03, Z: 0.24}, ArmToObject: 0.1, ObjectToGoal: 2})
	tr.Record(Step{Index: 3, Action: "DoneMidLevel", Success: true, Reward: 11.99,
		Nominal: r3.Vec{X: 0, Z: 0.2}, True: r3.Vec{X: 0.03, Z: 0.24}, ArmToObject: 0, ObjectToGoal: 0})
	return tr
}

func TestTraceSeries(t *testing.T) {
	t.Parallel()
	tr := sampleTrace()

	assert.Equal(t, []float64{-0.01, 4.99, 11.99}, tr.Rewards())
	if diff := cmp.Diff([]float64{-0.01, 4.98, 16.97}, tr.Cumulative(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Cumulative() mismatch (-want +got):\n%s", diff)
	}

	drift := tr.Drift()
	assert.InDelta(t, 0.05, drift[1], 1e-9)
	assert.InDelta(t, drift[1], drift[2], 1e-12)
}

func TestSavePlots(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "plots")

	files, err := SavePlots(dir, sampleTrace())
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		fh, err := os.Open(f)
		require.NoError(t, err)
		_, err = png.DecodeConfig(fh)
		fh.Close()
		assert.NoError(t, err, f)
	}
	assert.Equal(t, filepath.Join(dir, "ep1_trajectory.png"), files[0])

	_, err = SavePlots(dir, &Trace{})
	assert.Error(t, err)
}

func TestRenderCharts(t *testing.T) {
	t.Parallel()

	t.Run("reward", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, RenderRewardChart(&buf, sampleTrace()))
		assert.Contains(t, buf.String(), "cumulative")
		assert.Contains(t, buf.String(), "object to goal")
	})

	t.Run("summary", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		rows := []SceneRate{
			{Scene: "FloorPlan1_physics", Episodes: 4, SuccessRate: 0.5, PickupRate: 0.75},
			{Scene: "FloorPlan2_physics", Episodes: 2, SuccessRate: 0, PickupRate: 0.5},
		}
		require.NoError(t, RenderSummaryChart(&buf, rows))
		assert.Contains(t, buf.String(), "FloorPlan2_physics")
		assert.Contains(t, buf.String(), "Success by scene")
	})
}

func TestReportsSkipNonFiniteSamples(t *testing.T) {
	t.Parallel()
	tr := sampleTrace()
	tr.Steps[0].Reward = math.NaN()
	tr.Steps[2].ObjectToGoal = math.Inf(1)

	files, err := SavePlots(t.TempDir(), tr)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	var buf bytes.Buffer
	require.NoError(t, RenderRewardChart(&buf, tr))
	assert.Contains(t, buf.String(), "step reward")

	assert.Empty(t, finite(plotter.XYs{{X: math.NaN(), Y: 1}, {X: 1, Y: math.Inf(-1)}}))
}
