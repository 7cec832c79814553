package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// SceneRate is one row of the per-scene success summary.
type SceneRate struct {
	Scene       string
	Episodes    int
	SuccessRate float64
	PickupRate  float64
	MeanReward  float64
}

// RenderRewardChart writes an HTML page with the reward curve and the
// arm/object distances of one episode.
func RenderRewardChart(w io.Writer, t *Trace) error {
	steps := make([]int, len(t.Steps))
	reward := make([]opts.LineData, len(t.Steps))
	cum := make([]opts.LineData, len(t.Steps))
	armObj := make([]opts.LineData, len(t.Steps))
	objGoal := make([]opts.LineData, len(t.Steps))
	drift := make([]opts.LineData, len(t.Steps))
	c := t.Cumulative()
	d := t.Drift()
	for i, s := range t.Steps {
		steps[i] = s.Index
		reward[i] = opts.LineData{Value: chartValue(s.Reward), Name: s.Action}
		cum[i] = opts.LineData{Value: chartValue(c[i])}
		armObj[i] = opts.LineData{Value: chartValue(s.ArmToObject)}
		objGoal[i] = opts.LineData{Value: chartValue(s.ObjectToGoal)}
		drift[i] = opts.LineData{Value: chartValue(d[i])}
	}

	rewardLine := charts.NewLine()
	rewardLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Episode " + t.EpisodeID, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Reward", Subtitle: fmt.Sprintf("scene=%s steps=%d", t.Scene, len(t.Steps))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
	)
	rewardLine.SetXAxis(steps).
		AddSeries("step reward", reward).
		AddSeries("cumulative", cum)

	distLine := charts.NewLine()
	distLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Distances (m)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
	)
	distLine.SetXAxis(steps).
		AddSeries("arm to object", armObj).
		AddSeries("object to goal", objGoal).
		AddSeries("odometry drift", drift)

	page := components.NewPage()
	page.AddCharts(rewardLine, distLine)
	return page.Render(w)
}

// chartValue maps a non-finite value to "-", which echarts draws as a gap.
func chartValue(v float64) any {
	if !isFinite(v) {
		return "-"
	}
	return v
}

// RenderSummaryChart writes an HTML bar chart of success and pickup rates
// per scene.
func RenderSummaryChart(w io.Writer, rows []SceneRate) error {
	scenes := make([]string, len(rows))
	success := make([]opts.BarData, len(rows))
	pickup := make([]opts.BarData, len(rows))
	for i, r := range rows {
		scenes[i] = r.Scene
		success[i] = opts.BarData{Value: r.SuccessRate, Name: fmt.Sprintf("%d episodes", r.Episodes)}
		pickup[i] = opts.BarData{Value: r.PickupRate}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Bring object summary", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Success by scene"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(scenes).
		AddSeries("success", success).
		AddSeries("pickup", pickup)
	return bar.Render(w)
}
