package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alchemlab/abfe/internal/store"
)

// StatusResult is the status command's output payload.
type StatusResult struct {
	RunID    string              `json:"run_id"`
	Campaign string              `json:"campaign"`
	PlanHash string              `json:"plan_hash"`
	Counts   map[string]int      `json:"counts"`
	Failed   []store.StageStatus `json:"failed,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show the ledger state of a run",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd, runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run ID (default latest)")
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command, runID string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	c, err := loadCampaign(opts)
	if err != nil {
		return err
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
	counts, err := s.StageCounts(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "ledger query failed", err)
	}
	states, err := s.StageStates(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "ledger query failed", err)
	}

	result := StatusResult{RunID: run.ID, Campaign: run.Campaign, PlanHash: run.PlanHash, Counts: counts}
	for _, st := range states {
		if st.State == store.StateFailed {
			result.Failed = append(result.Failed, st)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "run %s (%s)\n", run.ID, run.Campaign)
	for _, state := range []string{store.StatePending, store.StateRunning, store.StateSucceeded, store.StateFailed, store.StateSkipped} {
		if n := counts[state]; n > 0 {
			fmt.Fprintf(formatter.Writer, "  %-10s %d\n", state, n)
		}
	}
	for _, st := range result.Failed {
		code := "?"
		if st.ExitCode != nil {
			code = fmt.Sprintf("%d", *st.ExitCode)
		}
		fmt.Fprintf(formatter.Writer, "  failed: %s (attempt %d, exit %s)\n", st.StageID, st.Attempt, code)
	}
	return nil
}
