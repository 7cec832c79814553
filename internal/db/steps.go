package db

import (
	"database/sql"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/report"
	"github.com/kschmeckpeper/manipulathor/internal/timeutil"
)

// StepStore persists per-step traces.
type StepStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewStepStore returns a StepStore on db.
func NewStepStore(db *DB) *StepStore {
	return &StepStore{db: db.DB, clock: timeutil.RealClock{}}
}

// InsertTrace stores every step of tr under tr.EpisodeID in one transaction.
// The episode row must already exist. Non-finite values are stored as NULL
// and read back as NaN.
func (s *StepStore) InsertTrace(tr *report.Trace) error {
	if tr.EpisodeID == "" {
		return fmt.Errorf("trace has no episode id")
	}
	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO episode_steps (
				episode_id, step_index, action, success, reward,
				nominal_x, nominal_y, nominal_z, true_x, true_y, true_z,
				arm_to_object, object_to_goal
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, st := range tr.Steps {
			where := fmt.Sprintf("step %d of episode %s", st.Index, tr.EpisodeID)
			vals := []float64{
				st.Reward,
				st.Nominal.X, st.Nominal.Y, st.Nominal.Z, st.True.X, st.True.Y, st.True.Z,
				st.ArmToObject, st.ObjectToGoal,
			}
			args := []any{tr.EpisodeID, st.Index, st.Action, st.Success}
			for _, v := range vals {
				args = append(args, nullable(where, v))
			}
			if _, err := stmt.Exec(args...); err != nil {
				return fmt.Errorf("insert step %d: %w", st.Index, err)
			}
		}
		return tx.Commit()
	})
}

// Trace loads the steps of an episode in order. The scene is taken from the
// episode row; ErrNotFound is returned when the episode does not exist.
func (s *StepStore) Trace(episodeID string) (*report.Trace, error) {
	tr := &report.Trace{EpisodeID: episodeID}
	err := s.db.QueryRow(`SELECT scene_name FROM episodes WHERE episode_id = ?`, episodeID).Scan(&tr.Scene)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("episode %s: %w", episodeID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT step_index, action, success, reward,
		       nominal_x, nominal_y, nominal_z, true_x, true_y, true_z,
		       arm_to_object, object_to_goal
		FROM episode_steps
		WHERE episode_id = ?
		ORDER BY step_index`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st report.Step
		var v [9]sql.NullFloat64
		if err := rows.Scan(
			&st.Index, &st.Action, &st.Success,
			&v[0], &v[1], &v[2], &v[3], &v[4], &v[5], &v[6], &v[7], &v[8],
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		st.Reward = orNaN(v[0])
		st.Nominal = r3.Vec{X: orNaN(v[1]), Y: orNaN(v[2]), Z: orNaN(v[3])}
		st.True = r3.Vec{X: orNaN(v[4]), Y: orNaN(v[5]), Z: orNaN(v[6])}
		st.ArmToObject, st.ObjectToGoal = orNaN(v[7]), orNaN(v[8])
		tr.Record(st)
	}
	return tr, rows.Err()
}
