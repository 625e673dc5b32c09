package cli

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/alchemlab/abfe/internal/ids"
	"github.com/alchemlab/abfe/internal/scheduler"
	"github.com/alchemlab/abfe/internal/store"
)

// SubmitResult is the submit command's output payload. JobIDs maps
// stage IDs to the SLURM job IDs scheduler.sh reported.
type SubmitResult struct {
	RunID     string         `json:"run_id"`
	Root      string         `json:"root"`
	Stages    int            `json:"stages"`
	Submitted bool           `json:"submitted"`
	JobIDs    map[string]int `json:"job_ids,omitempty"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		root     string
		doSubmit bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Export the campaign to SLURM",
		Long: `Plan the campaign, register the run in the ledger, and write job.sh
and scheduler.sh into the run directory. With --submit the scheduler
script runs immediately; otherwise inspect it and run it by hand.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(rootOpts, cmd, root, doSubmit)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "run directory (default runs/<campaign>)")
	cmd.Flags().BoolVar(&doSubmit, "submit", false, "run scheduler.sh after export")
	return cmd
}

func runSubmit(opts *RootOptions, cmd *cobra.Command, root string, doSubmit bool) error {
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

	s, err := openLedger(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if root == "" {
		root = defaultRoot(c)
	}
	ctx := cmd.Context()
	runID := ids.NewRunID()
	if err := s.CreateRun(ctx, store.Run{
		ID: runID, Campaign: c.Name, PlanHash: hash, RootDir: root, CreatedAt: time.Now(),
	}); err != nil {
		return WrapExitError(ExitCommandError, "run creation failed", err)
	}
	refs := make([]store.StageRef, 0, len(p.Stages))
	for _, st := range p.Stages {
		refs = append(refs, store.StageRef{ID: st.ID, Kind: string(st.Kind)})
	}
	if err := s.InitStages(ctx, runID, refs); err != nil {
		return WrapExitError(ExitCommandError, "ledger seeding failed", err)
	}

	configPath, err := filepath.Abs(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "campaign path", err)
	}
	if err := scheduler.Export(p, c, runID, configPath, root); err != nil {
		return WrapExitError(ExitCommandError, "export failed", err)
	}
	formatter.VerboseLog("wrote %s and %s under %s", "job.sh", "scheduler.sh", root)

	var jobs map[string]int
	if doSubmit {
		sub := exec.CommandContext(ctx, "bash", "scheduler.sh")
		sub.Dir = root
		var out bytes.Buffer
		sub.Stdout = &out
		sub.Stderr = &out
		if err := sub.Run(); err != nil {
			fmt.Fprint(formatter.GetErrWriter(), out.String())
			return WrapExitError(ExitFailure, "submission failed", err)
		}
		if opts.Format != "json" {
			fmt.Fprint(formatter.Writer, out.String())
		}
		jobs = scheduler.ParseSubmissions(out.String())
		if len(jobs) < len(p.Stages) {
			formatter.VerboseLog("scheduler reported %d of %d job IDs", len(jobs), len(p.Stages))
		}
	}

	result := SubmitResult{RunID: runID, Root: root, Stages: len(p.Stages), Submitted: doSubmit, JobIDs: jobs}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "run %s: %d stages exported to %s\n", runID, len(p.Stages), root)
	if doSubmit {
		fmt.Fprintf(formatter.Writer, "submitted %d jobs\n", len(jobs))
	}
	if !doSubmit {
		fmt.Fprintf(formatter.Writer, "submit with: bash %s\n", filepath.Join(root, "scheduler.sh"))
	}
	return nil
}
