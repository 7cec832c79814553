package db

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/report"
	"github.com/kschmeckpeper/manipulathor/internal/testutil"
	"github.com/kschmeckpeper/manipulathor/internal/timeutil"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(testutil.TempDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *DB) (*EpisodeStore, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	s := NewEpisodeStore(db).WithClock(clock)
	for _, ep := range []*Episode{
		{EpisodeID: "a", SceneName: "FloorPlan1_physics", RoomType: "Kitchen", SourceObjectID: "Apple|1", GoalObjectID: "Pot|2",
			Policy: "scripted", NumSteps: 12, TotalReward: 14.5, PickedUp: true, Success: true,
			Metrics: map[string]float64{"success": 1, "ep_length": 12}},
		{EpisodeID: "b", SceneName: "FloorPlan1_physics", RoomType: "Kitchen", SourceObjectID: "Apple|1", GoalObjectID: "Pot|2",
			Policy: "random", NumSteps: 200, TotalReward: -2, PickedUp: true,
			Metrics: map[string]float64{"success": 0, "ep_length": 200}},
		{EpisodeID: "c", SceneName: "FloorPlan201_physics", RoomType: "LivingRoom", SourceObjectID: "Book|1", GoalObjectID: "Sofa|2",
			Policy: "random", NumSteps: 200, TotalReward: -2,
			Metrics: map[string]float64{"success": 0}},
	} {
		require.NoError(t, s.Insert(ep))
		clock.Advance(time.Second)
	}
	return s, clock
}

func TestNewDBMigratesAndSetsPragmas(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	v, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)
	assert.Equal(t, latest, v)
	assert.False(t, dirty)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))
}

func TestMigrateDownThenUp(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown())
	v, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'episode_steps'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateUp())
	v, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	// Running again is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestEpisodeStore(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	s, clock := seed(t, db)

	t.Run("get", func(t *testing.T) {
		ep, err := s.Get("a")
		require.NoError(t, err)
		assert.Equal(t, "FloorPlan1_physics", ep.SceneName)
		assert.True(t, ep.PickedUp)
		assert.True(t, ep.Success)
		assert.Equal(t, epoch.UnixNano(), ep.CreatedAt)
		assert.Equal(t, map[string]float64{"success": 1, "ep_length": 12}, ep.Metrics)

		_, err = s.Get("missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("generated id and dropped non-finite metrics", func(t *testing.T) {
		ep := &Episode{SceneName: "FloorPlan2_physics", RoomType: "Kitchen", SourceObjectID: "x", GoalObjectID: "y",
			Metrics: map[string]float64{"reward": math.NaN(), "success": 1}}
		require.NoError(t, s.Insert(ep))
		assert.NotEmpty(t, ep.EpisodeID)
		assert.Equal(t, clock.Now().UnixNano(), ep.CreatedAt)

		got, err := s.Get(ep.EpisodeID)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"success": 1}, got.Metrics)
		require.NoError(t, s.Delete(ep.EpisodeID))
	})

	t.Run("list", func(t *testing.T) {
		all, err := s.ListByScene("", 0)
		require.NoError(t, err)
		ids := make([]string, len(all))
		for i, ep := range all {
			ids[i] = ep.EpisodeID
		}
		assert.Equal(t, []string{"c", "b", "a"}, ids)

		kitchen, err := s.ListByScene("FloorPlan1_physics", 1)
		require.NoError(t, err)
		require.Len(t, kitchen, 1)
		assert.Equal(t, "b", kitchen[0].EpisodeID)
	})

	t.Run("summary", func(t *testing.T) {
		rows, err := s.Summary()
		require.NoError(t, err)
		want := []report.SceneRate{
			{Scene: "FloorPlan1_physics", Episodes: 2, SuccessRate: 0.5, PickupRate: 1, MeanReward: 6.25},
			{Scene: "FloorPlan201_physics", Episodes: 1, SuccessRate: 0, PickupRate: 0, MeanReward: -2},
		}
		if diff := cmp.Diff(want, rows); diff != "" {
			t.Errorf("Summary() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("mean metrics", func(t *testing.T) {
		m, err := s.MeanMetrics("FloorPlan1_physics")
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"success": 0.5, "ep_length": 106}, m)

		m, err = s.MeanMetrics("")
		require.NoError(t, err)
		assert.InDelta(t, 1.0/3, m["success"], 1e-12)
		assert.Equal(t, 106.0, m["ep_length"])
	})
}

func sampleTrace(id string) *report.Trace {
	tr := &report.Trace{EpisodeID: id, Scene: "FloorPlan1_physics"}
	tr.Record(report.Step{Index: 1, Action: "MoveAheadContinuous", Success: true, Reward: -0.01,
		Nominal: r3.Vec{Z: 0.2}, True: r3.Vec{X: 0.01, Y: 0.9, Z: 0.19}, ArmToObject: 1.1, ObjectToGoal: 2.5})
	tr.Record(report.Step{Index: 2, Action: "PickUpMidLevel", Success: false, Reward: -0.04,
		Nominal: r3.Vec{Z: 0.2}, True: r3.Vec{X: 0.01, Y: 0.9, Z: 0.19}, ArmToObject: 1.1, ObjectToGoal: 2.5})
	return tr
}

func TestStepStore(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	episodes, _ := seed(t, db)
	steps := NewStepStore(db)

	want := sampleTrace("a")
	require.NoError(t, steps.InsertTrace(want))

	got, err := steps.Trace("a")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Trace() mismatch (-want +got):\n%s", diff)
	}

	_, err = steps.Trace("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Steps need their episode.
	assert.Error(t, steps.InsertTrace(sampleTrace("missing")))
	assert.Error(t, steps.InsertTrace(&report.Trace{}))

	// Deleting the episode cascades.
	require.NoError(t, episodes.Delete("a"))
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM episode_steps`).Scan(&n))
	assert.Zero(t, n)
	assert.True(t, errors.Is(episodes.Delete("a"), ErrNotFound))
}

func TestIsSQLiteBusy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"busy code", errors.New("SQLITE_BUSY"), true},
		{"other", errors.New("no such table"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()
	busy := errors.New("database is locked")

	t.Run("recovers", func(t *testing.T) {
		clock := timeutil.NewMockClock(epoch)
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, clock.Sleeps())
	})

	t.Run("gives up", func(t *testing.T) {
		clock := timeutil.NewMockClock(epoch)
		calls := 0
		err := retryOnBusy(clock, func() error { calls++; return busy })
		assert.ErrorIs(t, err, busy)
		assert.Equal(t, busyRetries, calls)
		assert.Len(t, clock.Sleeps(), busyRetries-1)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		clock := timeutil.NewMockClock(epoch)
		calls := 0
		other := errors.New("constraint failed")
		err := retryOnBusy(clock, func() error { calls++; return other })
		assert.ErrorIs(t, err, other)
		assert.Equal(t, 1, calls)
		assert.Empty(t, clock.Sleeps())
	})
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	seed(t, db)
	require.NoError(t, NewStepStore(db).InsertTrace(sampleTrace("a")))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	t.Run("episodes", func(t *testing.T) {
		w := testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes?scene=FloorPlan201_physics"))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		var eps []Episode
		require.NoError(t, json.NewDecoder(w.Body).Decode(&eps))
		require.Len(t, eps, 1)
		assert.Equal(t, "c", eps[0].EpisodeID)

		w = testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes?limit=x"))
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
		w = testutil.Serve(mux, testutil.LoopbackRequest(http.MethodPost, "/debug/episodes"))
		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	})

	t.Run("mean metrics", func(t *testing.T) {
		w := testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes/metrics?scene=FloorPlan1_physics"))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		var m map[string]float64
		require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
		assert.Equal(t, 0.5, m["success"])
	})

	t.Run("summary chart", func(t *testing.T) {
		w := testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes/summary"))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "FloorPlan201_physics")
	})

	t.Run("trace chart", func(t *testing.T) {
		w := testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes/trace?id=a"))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		assert.Contains(t, w.Body.String(), "cumulative")

		w = testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes/trace"))
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
		w = testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes/trace?id=nope"))
		testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	})

	t.Run("backup", func(t *testing.T) {
		w := testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/backup"))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
		gz, err := gzip.NewReader(w.Body)
		require.NoError(t, err)
		raw, err := io.ReadAll(gz)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(raw, []byte("SQLite format 3\x00")))
	})

	t.Run("tailsql", func(t *testing.T) {
		w := testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/tailsql/"))
		assert.NotEqual(t, http.StatusNotFound, w.Code)
	})
}

func TestRunMigrateCommand(t *testing.T) {
	t.Parallel()
	path := testutil.TempDBPath(t)

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")
	assert.Contains(t, out.String(), "2 migration(s) pending")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")
	assert.NotContains(t, out.String(), "pending")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Rolled back")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
}

func TestNonFiniteValuesAreStoredAsNull(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	episodes := NewEpisodeStore(db).WithClock(timeutil.NewMockClock(epoch))
	steps := NewStepStore(db)
	before := monitoring.NonFiniteCount()

	require.NoError(t, episodes.Insert(&Episode{EpisodeID: "nan", SceneName: "FloorPlan3_physics", RoomType: "Kitchen",
		SourceObjectID: "Egg|1", GoalObjectID: "Pan|2", NumSteps: 2, TotalReward: math.NaN()}))

	tr := sampleTrace("nan")
	tr.Steps[0].Reward = math.NaN()
	tr.Steps[1].ObjectToGoal = math.Inf(1)
	require.NoError(t, steps.InsertTrace(tr))
	assert.GreaterOrEqual(t, monitoring.NonFiniteCount()-before, int64(3))

	ep, err := episodes.Get("nan")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ep.TotalReward))

	rows, err := episodes.Summary()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Episodes)
	assert.True(t, math.IsNaN(rows[0].MeanReward))

	got, err := steps.Trace("nan")
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.True(t, math.IsNaN(got.Steps[0].Reward))
	assert.Equal(t, -0.04, got.Steps[1].Reward)
	assert.True(t, math.IsNaN(got.Steps[1].ObjectToGoal))
	assert.Equal(t, tr.Steps[1].True, got.Steps[1].True)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))
	w := testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), `"total_reward":null`)
	w = testutil.Serve(mux, testutil.LoopbackRequest(http.MethodGet, "/debug/episodes/trace?id=nan"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
}
