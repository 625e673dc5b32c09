package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoRuns is returned by LatestRun when the ledger holds no runs.
var ErrNoRuns = errors.New("no runs recorded")

// StageStatus is a ledger row for one stage of a run.
type StageStatus struct {
	StageID    string
	Kind       string
	State      string
	Attempt    int
	ExitCode   *int
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// StageStates returns every stage row for a run in stage-id order.
func (s *Store) StageStates(ctx context.Context, runID string) ([]StageStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage_id, kind, state, attempt, exit_code, started_at, finished_at
		 FROM stages WHERE run_id = ? ORDER BY stage_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("stage states: %w", err)
	}
	defer rows.Close()

	var out []StageStatus
	for rows.Next() {
		var st StageStatus
		var exitCode sql.NullInt64
		var started, finished sql.NullString
		if err := rows.Scan(&st.StageID, &st.Kind, &st.State, &st.Attempt, &exitCode, &started, &finished); err != nil {
			return nil, fmt.Errorf("stage states: %w", err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			st.ExitCode = &code
		}
		st.StartedAt = parseTime(started)
		st.FinishedAt = parseTime(finished)
		out = append(out, st)
	}
	return out, rows.Err()
}

// StageCounts returns the number of stages per state for a run.
func (s *Store) StageCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM stages WHERE run_id = ? GROUP BY state`, runID)
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("stage counts: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var r Run
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, campaign, plan_hash, root_dir, created_at FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &r.Campaign, &r.PlanHash, &r.RootDir, &created)
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	if t, perr := time.Parse(time.RFC3339, created); perr == nil {
		r.CreatedAt = t
	}
	return r, nil
}

// LatestRun returns the most recently created run. Run ids are xid
// strings, which sort chronologically, so created_at is the tiebreaker
// only for clock skew.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var r Run
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, campaign, plan_hash, root_dir, created_at FROM runs ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&r.ID, &r.Campaign, &r.PlanHash, &r.RootDir, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339, created); perr == nil {
		r.CreatedAt = t
	}
	return r, nil
}

// Results returns every recorded leg result for a run, ordered for
// stable output.
func (s *Store) Results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ligand, replica, system, leg, dg, dg_err FROM results
		 WHERE run_id = ? ORDER BY ligand, replica, system, leg`, runID)
	if err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Ligand, &r.Replica, &r.System, &r.Leg, &r.DG, &r.DGErr); err != nil {
			return nil, fmt.Errorf("results: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
