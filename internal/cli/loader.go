package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alchemlab/abfe/internal/builder"
	"github.com/alchemlab/abfe/internal/config"
	"github.com/alchemlab/abfe/internal/plan"
	"github.com/alchemlab/abfe/internal/rules"
	"github.com/alchemlab/abfe/internal/store"
)

// loadCampaign loads and validates the campaign file, mapping missing
// files to command errors.
func loadCampaign(opts *RootOptions) (*config.Campaign, error) {
	c, err := config.Load(opts.Config)
	if err != nil {
		var serr *config.SchemaError
		if errors.As(err, &serr) && serr.Code == config.ErrCodeNotFound {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("campaign file %s not found", opts.Config), err)
		}
		return nil, WrapExitError(ExitFailure, "invalid campaign", err)
	}
	return c, nil
}

// buildPlan discovers ligands, builds the stage DAG, and expands any
// hook rules.
func buildPlan(c *config.Campaign) (*plan.Plan, error) {
	ligands, err := builder.DiscoverLigands(c.Inputs.LigandDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "ligand discovery failed", err)
	}
	p, err := plan.Build(c, ligands)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "planning failed", err)
	}
	if c.HooksDir != "" {
		hooks, err := rules.LoadDir(c.HooksDir)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "hook rules failed", err)
		}
		if err := rules.Expand(p, hooks); err != nil {
			return nil, WrapExitError(ExitFailure, "hook expansion failed", err)
		}
	}
	return p, nil
}

// openLedger opens the campaign's SQLite ledger.
func openLedger(c *config.Campaign) (*store.Store, error) {
	path := c.Ledger
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "ledger directory", err)
		}
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "ledger open failed", err)
	}
	return s, nil
}

// resolveRun picks an explicit run ID or falls back to the latest.
func resolveRun(ctx context.Context, s *store.Store, runID string) (store.Run, error) {
	if runID != "" {
		run, err := s.GetRun(ctx, runID)
		if err != nil {
			return store.Run{}, WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", runID), err)
		}
		return run, nil
	}
	run, err := s.LatestRun(ctx)
	if errors.Is(err, store.ErrNoRuns) {
		return store.Run{}, NewExitError(ExitCommandError, "ledger holds no runs")
	}
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "ledger query failed", err)
	}
	return run, nil
}

// defaultRoot is where a campaign's run tree lives unless overridden.
func defaultRoot(c *config.Campaign) string {
	return filepath.Join("runs", c.Name)
}
