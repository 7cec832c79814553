package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	trueColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	nominalColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// SavePlots writes <episode>_trajectory.png (top-down true and nominal base
// paths) and <episode>_reward.png (per-step and cumulative reward) into dir
// and returns their paths. Non-finite samples are left out of the lines.
func SavePlots(dir string, t *Trace) ([]string, error) {
	if len(t.Steps) == 0 {
		return nil, errors.New("trace has no steps")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	name := t.EpisodeID
	if name == "" {
		name = "episode"
	}

	traj, err := trajectoryPlot(t)
	if err != nil {
		return nil, err
	}
	rew, err := rewardPlot(t)
	if err != nil {
		return nil, err
	}

	trajFile := filepath.Join(dir, name+"_trajectory.png")
	if err := traj.Save(6*vg.Inch, 6*vg.Inch, trajFile); err != nil {
		return nil, fmt.Errorf("save trajectory plot: %w", err)
	}
	rewFile := filepath.Join(dir, name+"_reward.png")
	if err := rew.Save(10*vg.Inch, 4*vg.Inch, rewFile); err != nil {
		return nil, fmt.Errorf("save reward plot: %w", err)
	}
	return []string{trajFile, rewFile}, nil
}

func trajectoryPlot(t *Trace) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - base trajectory", t.Scene)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"

	truePts := make(plotter.XYs, len(t.Steps))
	nomPts := make(plotter.XYs, len(t.Steps))
	for i, s := range t.Steps {
		truePts[i] = plotter.XY{X: s.True.X, Y: s.True.Z}
		nomPts[i] = plotter.XY{X: s.Nominal.X, Y: s.Nominal.Z}
	}
	truePts, nomPts = finite(truePts), finite(nomPts)

	for _, series := range []struct {
		label string
		pts   plotter.XYs
		c     color.Color
	}{
		{"true", truePts, trueColor},
		{"nominal", nomPts, nominalColor},
	} {
		if len(series.pts) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(series.pts)
		if err != nil {
			return nil, err
		}
		line.Color = series.c
		line.Width = vg.Points(1)
		points.Color = series.c
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		p.Legend.Add(series.label, line)
	}
	p.Legend.Top = true
	return p, nil
}

func rewardPlot(t *Trace) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - reward", t.Scene)
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Reward"

	rewards := t.Rewards()
	cum := t.Cumulative()
	stepPts := make(plotter.XYs, len(rewards))
	cumPts := make(plotter.XYs, len(rewards))
	for i := range rewards {
		stepPts[i] = plotter.XY{X: float64(i + 1), Y: rewards[i]}
		cumPts[i] = plotter.XY{X: float64(i + 1), Y: cum[i]}
	}

	p.Add(plotter.NewGrid())
	for _, series := range []struct {
		label string
		pts   plotter.XYs
		c     color.Color
		width vg.Length
	}{
		{"step", finite(stepPts), nominalColor, vg.Points(1)},
		{"cumulative", finite(cumPts), trueColor, vg.Points(1.5)},
	} {
		if len(series.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(series.pts)
		if err != nil {
			return nil, err
		}
		line.Color = series.c
		line.Width = series.width
		p.Add(line)
		p.Legend.Add(series.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

// finite drops points with a NaN or infinite coordinate, which gonum/plot
// rejects.
func finite(pts plotter.XYs) plotter.XYs {
	out := pts[:0]
	for _, p := range pts {
		if isFinite(p.X) && isFinite(p.Y) {
			out = append(out, p)
		}
	}
	return out
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
