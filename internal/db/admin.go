package db

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/kschmeckpeper/manipulathor/internal/httputil"
	"github.com/kschmeckpeper/manipulathor/internal/monitoring"
	"github.com/kschmeckpeper/manipulathor/internal/report"
	"github.com/kschmeckpeper/manipulathor/internal/version"
)

// AttachAdminRoutes mounts the debug index on mux with live SQL, a backup
// download and the episode browsing routes.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	debug.KV("Build", version.String())

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Episode results",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))

	episodes := NewEpisodeStore(db)
	steps := NewStepStore(db)
	debug.Handle("episodes", "Stored episodes (JSON, ?scene=&limit=)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEpisodeList(w, r, episodes)
	}))
	debug.Handle("episodes/metrics", "Mean episode metrics (JSON, ?scene=)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleMeanMetrics(w, r, episodes)
	}))
	debug.Handle("episodes/summary", "Success rate by scene", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSummaryChart(w, r, episodes)
	}))
	debug.Handle("episodes/trace", "Reward and distance chart of one episode (?id=)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleTraceChart(w, r, steps)
	}))
	return nil
}

func handleEpisodeList(w http.ResponseWriter, r *http.Request, s *EpisodeStore) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	eps, err := s.ListByScene(r.URL.Query().Get("scene"), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if eps == nil {
		eps = []*Episode{}
	}
	httputil.WriteJSONOK(w, eps)
}

func handleMeanMetrics(w http.ResponseWriter, r *http.Request, s *EpisodeStore) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	m, err := s.MeanMetrics(r.URL.Query().Get("scene"))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, m)
}

func handleSummaryChart(w http.ResponseWriter, r *http.Request, s *EpisodeStore) {
	rows, err := s.Summary()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeHTML(w, func(buf io.Writer) error { return report.RenderSummaryChart(buf, rows) })
}

func handleTraceChart(w http.ResponseWriter, r *http.Request, s *StepStore) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}
	tr, err := s.Trace(id)
	if errors.Is(err, ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeHTML(w, func(buf io.Writer) error { return report.RenderRewardChart(buf, tr) })
}

func writeHTML(w http.ResponseWriter, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.WriteHTML(w, buf.Bytes())
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("backup-%d.db", time.Now().UnixNano())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("failed to remove backup file: %v", err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("backup stream interrupted: %v", err)
	}
}
