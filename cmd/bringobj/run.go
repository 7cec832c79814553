package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kschmeckpeper/manipulathor/internal/config"
	"github.com/kschmeckpeper/manipulathor/internal/db"
	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/geom"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/report"
	"github.com/kschmeckpeper/manipulathor/internal/sensors"
	"github.com/kschmeckpeper/manipulathor/internal/task"
	"github.com/kschmeckpeper/manipulathor/internal/timeutil"
)

// runner plays episodes on one environment and records their outcome.
type runner struct {
	cfg        *config.TaskConfig
	env        *env.Environment
	policy     policy
	policyName string
	episodes   *db.EpisodeStore // nil disables persistence
	steps      *db.StepStore
	plotDir    string // empty disables plots
	clock      timeutil.Clock
}

// newSuite builds fresh sensors for one episode: source and goal estimates
// relative to the wrist from the body camera, and the pickup latch.
func newSuite() (*sensors.Suite, error) {
	return sensors.NewSuite(
		sensors.NewPointNavEmul(sensors.PointNavConfig{Target: sensors.Source, Camera: sensors.BodyCamera, Frame: sensors.FrameArm}),
		sensors.NewPointNavEmul(sensors.PointNavConfig{Target: sensors.Destination, Camera: sensors.BodyCamera, Frame: sensors.FrameArm}),
		sensors.PickedUp{},
		&sensors.Odometry{},
	)
}

// runAll plays n episodes, cycling through infos.
func (r *runner) runAll(ctx context.Context, infos []task.Info, n int) ([]*db.Episode, error) {
	if len(infos) == 0 {
		return nil, fmt.Errorf("no episodes to run")
	}
	out := make([]*db.Episode, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ep, err := r.runEpisode(ctx, infos[i%len(infos)])
		if err != nil {
			return out, fmt.Errorf("episode %d: %w", i, err)
		}
		out = append(out, ep)
	}
	return out, nil
}

func (r *runner) runEpisode(ctx context.Context, info task.Info) (*db.Episode, error) {
	start := r.clock.Now()
	if _, err := r.env.Reset(ctx, info.SceneName); err != nil {
		return nil, err
	}
	if s := info.AgentStart; s != nil {
		ev, err := r.env.Teleport(ctx, geom.Pose{Position: s.Position.R3(), Yaw: s.Rotation}, s.Horizon)
		if err != nil {
			return nil, err
		}
		if !ev.Success() {
			monitoring.Logf("agent start rejected in %s: %s", info.SceneName, ev.Metadata.ErrorMessage)
		}
	}

	suite, err := newSuite()
	if err != nil {
		return nil, err
	}
	t, err := task.New(r.env, suite, info, r.cfg.Task())
	if err != nil {
		return nil, err
	}
	obs, err := t.Observe()
	if err != nil {
		return nil, err
	}

	r.policy.Reset()
	tr := &report.Trace{EpisodeID: uuid.New().String(), Scene: info.SceneName}
	for !t.IsDone() {
		res, err := t.Step(ctx, r.policy.Act(obs))
		if err != nil {
			return nil, err
		}
		obs = res.Observation
		tr.Record(report.Step{
			Index:        t.NumSteps(),
			Action:       res.Info.Action,
			Success:      res.Info.LastActionSuccess,
			Reward:       res.Reward,
			Nominal:      r.env.NominalPose().Position,
			True:         r.env.AgentPose().Position,
			ArmToObject:  t.ArmToObjectDistance(),
			ObjectToGoal: t.ObjectToGoalDistance(),
		})
	}

	metrics, _ := t.Metrics()
	ep := &db.Episode{
		EpisodeID:      tr.EpisodeID,
		SceneName:      info.SceneName,
		RoomType:       task.RoomType(info.SceneName),
		SourceObjectID: info.SourceObjectID,
		GoalObjectID:   info.GoalObjectID,
		Policy:         r.policyName,
		NumSteps:       t.NumSteps(),
		TotalReward:    t.TotalReward(),
		PickedUp:       t.PickedUp(),
		Success:        t.Success(),
		Metrics:        metrics,
	}
	monitoring.Logf("episode %s in %s: steps=%d reward=%.3f pickup=%t success=%t (%s)",
		ep.EpisodeID, ep.SceneName, ep.NumSteps, ep.TotalReward, ep.PickedUp, ep.Success, r.clock.Since(start))

	if r.episodes != nil {
		if err := r.episodes.Insert(ep); err != nil {
			return nil, fmt.Errorf("store episode: %w", err)
		}
		if err := r.steps.InsertTrace(tr); err != nil {
			return nil, fmt.Errorf("store steps: %w", err)
		}
	}
	if r.plotDir != "" {
		if _, err := report.SavePlots(r.plotDir, tr); err != nil {
			return nil, err
		}
	}
	return ep, nil
}
