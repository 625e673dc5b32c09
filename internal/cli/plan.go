package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PlanSummary is the plan command's output payload.
type PlanSummary struct {
	Campaign string         `json:"campaign"`
	Hash     string         `json:"hash"`
	Stages   int            `json:"stages"`
	ByKind   map[string]int `json:"by_kind"`
	StageIDs []string       `json:"stage_ids,omitempty"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var showStages bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build and print the stage DAG without running it",
		Long: `Build the full stage DAG of the campaign and print its canonical hash
and stage counts. The hash is stable across machines, so two sites can
confirm they would run the same campaign.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, cmd, showStages)
		},
	}
	cmd.Flags().BoolVar(&showStages, "stages", false, "list every stage ID")
	return cmd
}

func runPlan(opts *RootOptions, cmd *cobra.Command, showStages bool) error {
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
	p, err := buildPlan(c)
	if err != nil {
		return err
	}
	hash, err := p.Hash()
	if err != nil {
		return WrapExitError(ExitFailure, "plan hash failed", err)
	}

	summary := PlanSummary{
		Campaign: c.Name,
		Hash:     hash,
		Stages:   len(p.Stages),
		ByKind:   make(map[string]int),
	}
	for _, st := range p.Stages {
		summary.ByKind[string(st.Kind)]++
		if showStages {
			summary.StageIDs = append(summary.StageIDs, st.ID)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	fmt.Fprintf(formatter.Writer, "campaign: %s\n", summary.Campaign)
	fmt.Fprintf(formatter.Writer, "hash:     %s\n", summary.Hash)
	fmt.Fprintf(formatter.Writer, "stages:   %d\n", summary.Stages)
	for kind, n := range summary.ByKind {
		formatter.VerboseLog("  %-10s %d", kind, n)
	}
	if showStages {
		for _, id := range summary.StageIDs {
			fmt.Fprintln(formatter.Writer, id)
		}
	}
	return nil
}
