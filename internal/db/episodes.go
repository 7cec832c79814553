package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/report"
	"github.com/kschmeckpeper/manipulathor/internal/timeutil"
)

// ErrNotFound is returned when no row matches the requested ID.
var ErrNotFound = errors.New("not found")

// Episode is the stored summary of one finished task.
type Episode struct {
	EpisodeID      string             `json:"episode_id"`
	SceneName      string             `json:"scene_name"`
	RoomType       string             `json:"room_type"`
	SourceObjectID string             `json:"source_object_id"`
	GoalObjectID   string             `json:"goal_object_id"`
	Policy         string             `json:"policy"`
	NumSteps       int                `json:"num_steps"`
	TotalReward    float64            `json:"total_reward"`
	PickedUp       bool               `json:"picked_up"`
	Success        bool               `json:"success"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	CreatedAt      int64              `json:"created_at"`
}

// MarshalJSON writes a non-finite TotalReward as null.
func (ep Episode) MarshalJSON() ([]byte, error) {
	type plain Episode
	out := struct {
		plain
		TotalReward *float64 `json:"total_reward"`
	}{plain: plain(ep)}
	if !math.IsNaN(ep.TotalReward) && !math.IsInf(ep.TotalReward, 0) {
		out.TotalReward = &ep.TotalReward
	}
	return json.Marshal(out)
}

// EpisodeStore persists Episode rows.
type EpisodeStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewEpisodeStore returns a store stamping rows with the wall clock.
func NewEpisodeStore(db *DB) *EpisodeStore {
	return &EpisodeStore{db: db.DB, clock: timeutil.RealClock{}}
}

// WithClock replaces the clock used for CreatedAt and busy backoff.
func (s *EpisodeStore) WithClock(c timeutil.Clock) *EpisodeStore {
	s.clock = c
	return s
}

// Insert stores ep. An empty EpisodeID gets a fresh UUID and a zero
// CreatedAt gets the current time. Non-finite metric values cannot be
// encoded and are dropped; a non-finite TotalReward is stored as NULL and
// reads back as NaN.
func (s *EpisodeStore) Insert(ep *Episode) error {
	if ep.EpisodeID == "" {
		ep.EpisodeID = uuid.New().String()
	}
	if ep.CreatedAt == 0 {
		ep.CreatedAt = s.clock.Now().UnixNano()
	}

	var metricsStr interface{}
	if len(ep.Metrics) > 0 {
		clean := make(map[string]float64, len(ep.Metrics))
		for k, v := range ep.Metrics {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				monitoring.NonFinite("episode metric "+k, v)
				continue
			}
			clean[k] = v
		}
		b, err := json.Marshal(clean)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
		metricsStr = string(b)
	}

	reward := nullable("total reward of episode "+ep.EpisodeID, ep.TotalReward)

	return retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(`
			INSERT INTO episodes (
				episode_id, scene_name, room_type, source_object_id, goal_object_id,
				policy, num_steps, total_reward, picked_up, success, metrics_json, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ep.EpisodeID, ep.SceneName, ep.RoomType, ep.SourceObjectID, ep.GoalObjectID,
			ep.Policy, ep.NumSteps, reward, ep.PickedUp, ep.Success, metricsStr, ep.CreatedAt,
		)
		return err
	})
}

const episodeColumns = `episode_id, scene_name, room_type, source_object_id, goal_object_id,
	policy, num_steps, total_reward, picked_up, success, metrics_json, created_at`

// Get returns one episode or ErrNotFound.
func (s *EpisodeStore) Get(episodeID string) (*Episode, error) {
	rows, err := s.db.Query(`SELECT `+episodeColumns+` FROM episodes WHERE episode_id = ?`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("query episode: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("episode %s: %w", episodeID, ErrNotFound)
	}
	return scanEpisode(rows)
}

// ListByScene returns episodes newest first. An empty scene lists every scene.
// limit <= 0 means no limit.
func (s *EpisodeStore) ListByScene(scene string, limit int) ([]*Episode, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT `+episodeColumns+` FROM episodes
		WHERE ? = '' OR scene_name = ?
		ORDER BY created_at DESC, episode_id
		LIMIT ?`, scene, scene, limit)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// Summary aggregates success and pickup rates per scene, ordered by scene.
// MeanReward averages the finite rewards and is NaN when there are none.
func (s *EpisodeStore) Summary() ([]report.SceneRate, error) {
	rows, err := s.db.Query(`
		SELECT scene_name, COUNT(*), AVG(success), AVG(picked_up), AVG(total_reward)
		FROM episodes
		GROUP BY scene_name
		ORDER BY scene_name`)
	if err != nil {
		return nil, fmt.Errorf("summarise episodes: %w", err)
	}
	defer rows.Close()

	var out []report.SceneRate
	for rows.Next() {
		var r report.SceneRate
		var mean sql.NullFloat64
		if err := rows.Scan(&r.Scene, &r.Episodes, &r.SuccessRate, &r.PickupRate, &mean); err != nil {
			return nil, err
		}
		r.MeanReward = orNaN(mean)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MeanMetrics averages every metric key over the stored episodes of scene
// (all scenes when empty). Keys absent from an episode do not count toward
// its mean.
func (s *EpisodeStore) MeanMetrics(scene string) (map[string]float64, error) {
	eps, err := s.ListByScene(scene, 0)
	if err != nil {
		return nil, err
	}
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, ep := range eps {
		for k, v := range ep.Metrics {
			sums[k] += v
			counts[k]++
		}
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out, nil
}

// Delete removes an episode and its steps.
func (s *EpisodeStore) Delete(episodeID string) error {
	return retryOnBusy(s.clock, func() error {
		res, err := s.db.Exec(`DELETE FROM episodes WHERE episode_id = ?`, episodeID)
		if err != nil {
			return fmt.Errorf("delete episode: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("episode %s: %w", episodeID, ErrNotFound)
		}
		return nil
	})
}

func scanEpisode(rows *sql.Rows) (*Episode, error) {
	var ep Episode
	var metricsStr sql.NullString
	var reward sql.NullFloat64
	if err := rows.Scan(
		&ep.EpisodeID, &ep.SceneName, &ep.RoomType, &ep.SourceObjectID, &ep.GoalObjectID,
		&ep.Policy, &ep.NumSteps, &reward, &ep.PickedUp, &ep.Success, &metricsStr, &ep.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan episode: %w", err)
	}
	ep.TotalReward = orNaN(reward)
	if metricsStr.Valid && metricsStr.String != "" {
		if err := json.Unmarshal([]byte(metricsStr.String), &ep.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics of %s: %w", ep.EpisodeID, err)
		}
	}
	return &ep, nil
}
