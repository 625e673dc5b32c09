package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alchemlab/abfe/internal/analysis"
)

// ResultsOutput is the results command's output payload.
type ResultsOutput struct {
	RunID    string                   `json:"run_id"`
	Ligands  []analysis.LigandSummary `json:"ligands"`
	Replicas []analysis.Binding       `json:"replicas,omitempty"`
}

// NewResultsCommand creates the results command.
func NewResultsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		runID      string
		perReplica bool
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Report binding free energies for a run",
		Long: `Combine the recorded leg free energies over the thermodynamic cycle
and report one binding free energy per ligand, averaged over replicas.
Fails when any ligand's cycle is incomplete.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(rootOpts, cmd, runID, perReplica)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run ID (default latest)")
	cmd.Flags().BoolVar(&perReplica, "replicas", false, "include per-replica values")
	return cmd
}

func runResults(opts *RootOptions, cmd *cobra.Command, runID string, perReplica bool) error {
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
	results, err := s.Results(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "ledger query failed", err)
	}
	if len(results) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("run %s has no recorded leg results yet", run.ID))
	}

	summaries, bindings, err := analysis.Summarize(results)
	if err != nil {
		return WrapExitError(ExitFailure, "cycle incomplete", err)
	}

	out := ResultsOutput{RunID: run.ID, Ligands: summaries}
	if perReplica {
		out.Replicas = bindings
	}
	if opts.Format == "json" {
		return formatter.Success(out)
	}

	fmt.Fprintf(formatter.Writer, "run %s\n", run.ID)
	fmt.Fprintf(formatter.Writer, "%-16s %10s %10s %9s\n", "ligand", "dG", "+/-", "replicas")
	for _, lig := range summaries {
		fmt.Fprintf(formatter.Writer, "%-16s %10.2f %10.2f %9d\n", lig.Ligand, lig.Mean, lig.SEM, lig.Replicas)
	}
	if perReplica {
		for _, b := range bindings {
			formatter.VerboseLog("  %s replica %d: %.2f +/- %.2f", b.Ligand, b.Replica, b.DG, b.DGErr)
		}
	}
	return nil
}
