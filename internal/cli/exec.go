package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/alchemlab/abfe/internal/gmx"
	"github.com/alchemlab/abfe/internal/ids"
	"github.com/alchemlab/abfe/internal/runner"
	"github.com/alchemlab/abfe/internal/store"
)

// NewExecCommand creates the exec command, the per-stage entry point
// cluster jobs invoke.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "exec <stage-id>",
		Short: "Execute a single stage of an existing run",
		Long: `Execute one stage of a run and record its outcome in the ledger.
This is what the exported SLURM jobs call; dependency ordering comes
from the scheduler, not from this command.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(rootOpts, cmd, runID, args[0])
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run ID (default latest)")
	return cmd
}

func runExec(opts *RootOptions, cmd *cobra.Command, runID, stageID string) error {
	c, err := loadCampaign(opts)
	if err != nil {
		return err
	}
	p, err := buildPlan(c)
	if err != nil {
		return err
	}
	st := p.Stage(stageID)
	if st == nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("stage %s not in this campaign's plan", stageID))
	}

	s, err := openLedger(c)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	run, err := resolveRun(ctx, s, runID)
	if err != nil {
		return err
	}
	hash, err := p.Hash()
	if err != nil {
		return WrapExitError(ExitFailure, "plan hash failed", err)
	}
	if run.PlanHash != hash {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("plan drifted since run %s: ledger has %s, campaign now plans %s", run.ID, run.PlanHash, hash))
	}

	if st.MD() {
		if _, err := gmx.New(c.Engine.Binary).Version(ctx); err != nil {
			return WrapExitError(ExitCommandError, "engine probe failed", err)
		}
	}

	r := runner.New(ctx, c, p, s, run.ID, run.RootDir)
	if wait := latencyWait(); wait > 0 {
		if err := r.WaitInputs(ctx, st, wait); err != nil {
			return WrapExitError(ExitFailure, "inputs not ready", err)
		}
	}

	if err := s.MarkRunning(ctx, run.ID, stageID, ids.UUIDv7Generator{}.Generate()); err != nil {
		return WrapExitError(ExitCommandError, "ledger write failed", err)
	}
	code, execErr := r.RunStage(ctx, st)
	state := store.StateSucceeded
	if execErr != nil {
		state = store.StateFailed
	}
	if err := s.MarkFinished(ctx, run.ID, stageID, state, code); err != nil {
		return WrapExitError(ExitCommandError, "ledger write failed", err)
	}
	if execErr != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("stage %s failed", stageID), execErr)
	}
	return nil
}

// latencyWait reads the shared-filesystem grace period the exported
// job script sets.
func latencyWait() time.Duration {
	raw := os.Getenv("ABFE_LATENCY_WAIT")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
