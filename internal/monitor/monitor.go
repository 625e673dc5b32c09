// Package monitor serves a read-only HTTP view of a run: its ledger
// state and the load of the machine executing it. It exists for
// watching long campaigns without poking at the SQLite file.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"

	"github.com/alchemlab/abfe/internal/ctxlog"
	"github.com/alchemlab/abfe/internal/store"
)

// Server exposes the ledger of one run over HTTP.
type Server struct {
	Store *store.Store
	RunID string
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/run", s.handleRun).Methods(http.MethodGet)
	r.HandleFunc("/api/stages", s.handleStages).Methods(http.MethodGet)
	r.HandleFunc("/api/stages/{state}", s.handleStagesByState).Methods(http.MethodGet)
	r.HandleFunc("/api/host", s.handleHost).Methods(http.MethodGet)
	return r
}

// ListenAndServe blocks until ctx is cancelled, then drains with a
// short shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	ctxlog.FromContext(ctx).Info("monitor listening", "addr", addr, "run", s.RunID)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type runView struct {
	ID        string         `json:"id"`
	Campaign  string         `json:"campaign"`
	PlanHash  string         `json:"plan_hash"`
	RootDir   string         `json:"root_dir"`
	CreatedAt time.Time      `json:"created_at"`
	Counts    map[string]int `json:"stage_counts"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), s.RunID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	counts, err := s.Store.StageCounts(r.Context(), s.RunID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, runView{
		ID: run.ID, Campaign: run.Campaign, PlanHash: run.PlanHash,
		RootDir: run.RootDir, CreatedAt: run.CreatedAt, Counts: counts,
	})
}

type stageView struct {
	StageID    string     `json:"stage_id"`
	Kind       string     `json:"kind"`
	State      string     `json:"state"`
	Attempt    int        `json:"attempt"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	s.writeStages(w, r, "")
}

func (s *Server) handleStagesByState(w http.ResponseWriter, r *http.Request) {
	state := mux.Vars(r)["state"]
	switch state {
	case store.StatePending, store.StateRunning, store.StateSucceeded, store.StateFailed, store.StateSkipped:
	default:
		http.Error(w, "unknown state "+state, http.StatusNotFound)
		return
	}
	s.writeStages(w, r, state)
}

func (s *Server) writeStages(w http.ResponseWriter, r *http.Request, state string) {
	states, err := s.Store.StageStates(r.Context(), s.RunID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]stageView, 0, len(states))
	for _, st := range states {
		if state != "" && st.State != state {
			continue
		}
		out = append(out, stageView{
			StageID: st.StageID, Kind: st.Kind, State: st.State, Attempt: st.Attempt,
			ExitCode: st.ExitCode, StartedAt: st.StartedAt, FinishedAt: st.FinishedAt,
		})
	}
	writeJSON(w, r, out)
}

type hostView struct {
	CPUPercent float64 `json:"cpu_percent"`
	Load1      float64 `json:"load1"`
	MemUsedMB  uint64  `json:"mem_used_mb"`
	MemTotalMB uint64  `json:"mem_total_mb"`
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	var v hostView
	if pct, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pct) > 0 {
		v.CPUPercent = pct[0]
	}
	if avg, err := load.AvgWithContext(r.Context()); err == nil {
		v.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		v.MemUsedMB = vm.Used / (1024 * 1024)
		v.MemTotalMB = vm.Total / (1024 * 1024)
	}
	writeJSON(w, r, v)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ctxlog.FromContext(r.Context()).Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctxlog.FromContext(r.Context()).Error("monitor query failed", "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrNoRuns) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}
