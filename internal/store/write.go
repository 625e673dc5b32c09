package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is a single execution of a campaign plan.
type Run struct {
	ID        string
	Campaign  string
	PlanHash  string
	RootDir   string
	CreatedAt time.Time
}

// CreateRun records a new run. Creating a run that already exists is an
// error; resuming reuses the existing row.
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, campaign, plan_hash, root_dir, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Campaign, r.PlanHash, r.RootDir, r.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// InitStages seeds one pending row per stage. Rows that already exist
// keep their state, so resuming a run never resets finished work.
func (s *Store) InitStages(ctx context.Context, runID string, stages []StageRef) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init stages: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stages (run_id, stage_id, kind, state) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id, stage_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("init stages: %w", err)
	}
	defer stmt.Close()

	for _, st := range stages {
		if _, err := stmt.ExecContext(ctx, runID, st.ID, st.Kind, StatePending); err != nil {
			return fmt.Errorf("init stage %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// StageRef identifies a stage for ledger seeding.
type StageRef struct {
	ID   string
	Kind string
}

// MarkRunning transitions a stage to running and bumps its attempt
// counter. The token ties log lines and scratch files to this attempt.
func (s *Store) MarkRunning(ctx context.Context, runID, stageID, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stages SET state = ?, attempt = attempt + 1, token = ?, started_at = ?, exit_code = NULL, finished_at = NULL
		 WHERE run_id = ? AND stage_id = ?`,
		StateRunning, token, time.Now().UTC().Format(time.RFC3339), runID, stageID)
	if err != nil {
		return fmt.Errorf("mark running %s: %w", stageID, err)
	}
	return requireOneRow(res, stageID)
}

// MarkFinished records a terminal state and the process exit code.
func (s *Store) MarkFinished(ctx context.Context, runID, stageID, state string, exitCode int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stages SET state = ?, exit_code = ?, finished_at = ? WHERE run_id = ? AND stage_id = ?`,
		state, exitCode, time.Now().UTC().Format(time.RFC3339), runID, stageID)
	if err != nil {
		return fmt.Errorf("mark finished %s: %w", stageID, err)
	}
	return requireOneRow(res, stageID)
}

// MarkSkipped marks a stage skipped because an upstream stage failed.
func (s *Store) MarkSkipped(ctx context.Context, runID, stageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stages SET state = ?, finished_at = ? WHERE run_id = ? AND stage_id = ?`,
		StateSkipped, time.Now().UTC().Format(time.RFC3339), runID, stageID)
	if err != nil {
		return fmt.Errorf("mark skipped %s: %w", stageID, err)
	}
	return requireOneRow(res, stageID)
}

// Result is one per-leg free-energy difference in kcal/mol.
type Result struct {
	Ligand  string
	Replica int
	System  string
	Leg     string
	DG      float64
	DGErr   float64
}

// WriteResult upserts a leg result. Re-running an analysis stage
// overwrites its previous numbers.
func (s *Store) WriteResult(ctx context.Context, runID string, r Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (run_id, ligand, replica, system, leg, dg, dg_err) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, ligand, replica, system, leg) DO UPDATE SET dg = excluded.dg, dg_err = excluded.dg_err`,
		runID, r.Ligand, r.Replica, r.System, r.Leg, r.DG, r.DGErr)
	if err != nil {
		return fmt.Errorf("write result %s/%d/%s/%s: %w", r.Ligand, r.Replica, r.System, r.Leg, err)
	}
	return nil
}

func requireOneRow(res sql.Result, stageID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("stage %s not found in ledger", stageID)
	}
	return nil
}
