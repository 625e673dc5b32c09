package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alchemlab/abfe/internal/ctxlog"
	"github.com/alchemlab/abfe/internal/executor"
	"github.com/alchemlab/abfe/internal/gmx"
	"github.com/alchemlab/abfe/internal/ids"
	"github.com/alchemlab/abfe/internal/monitor"
	"github.com/alchemlab/abfe/internal/runner"
	"github.com/alchemlab/abfe/internal/store"
)

// RunResult is the run command's output payload.
type RunResult struct {
	RunID     string `json:"run_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		workers     int
		root        string
		resume      string
		monitorAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the campaign locally",
		Long: `Plan the campaign and execute every stage on this machine with a
bounded worker pool. Progress is recorded in the ledger; a crashed or
cancelled run resumes with --resume and repeats nothing that succeeded.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, cmd, workers, root, resume, monitorAddr)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent stages (0 = cluster jobs setting, min 1)")
	cmd.Flags().StringVar(&root, "root", "", "run directory (default runs/<campaign>)")
	cmd.Flags().StringVar(&resume, "resume", "", "resume an existing run ID")
	cmd.Flags().StringVar(&monitorAddr, "monitor", "", "serve the status API on this address while running")
	return cmd
}

func runRun(opts *RootOptions, cmd *cobra.Command, workers int, root, resume, monitorAddr string) error {
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

	version, err := gmx.New(c.Engine.Binary).Version(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "engine probe failed", err)
	}
	formatter.VerboseLog("engine: %s", version)

	s, err := openLedger(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if root == "" {
		root = defaultRoot(c)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := resume
	if resume != "" {
		prev, err := s.GetRun(ctx, resume)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("run %s not found", resume), err)
		}
		if prev.PlanHash != hash {
			return NewExitError(ExitCommandError,
				fmt.Sprintf("plan drifted since run %s: ledger has %s, campaign now plans %s", resume, prev.PlanHash, hash))
		}
		root = prev.RootDir
	} else {
		runID = ids.NewRunID()
		if err := s.CreateRun(ctx, store.Run{
			ID: runID, Campaign: c.Name, PlanHash: hash, RootDir: root, CreatedAt: time.Now(),
		}); err != nil {
			return WrapExitError(ExitCommandError, "run creation failed", err)
		}
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "run directory", err)
	}

	refs := make([]store.StageRef, 0, len(p.Stages))
	for _, st := range p.Stages {
		refs = append(refs, store.StageRef{ID: st.ID, Kind: string(st.Kind)})
	}
	if err := s.InitStages(ctx, runID, refs); err != nil {
		return WrapExitError(ExitCommandError, "ledger seeding failed", err)
	}

	if workers == 0 {
		workers = c.Cluster.Jobs
	}
	if workers < 1 {
		workers = 1
	}

	if monitorAddr != "" {
		srv := &monitor.Server{Store: s, RunID: runID}
		go func() {
			if err := srv.ListenAndServe(ctx, monitorAddr); err != nil {
				ctxlog.FromContext(ctx).Error("monitor stopped", "error", err)
			}
		}()
	}

	exe := &executor.Executor{
		Store:   s,
		Runner:  runner.New(ctx, c, p, s, runID, root),
		Tokens:  ids.UUIDv7Generator{},
		Workers: workers,
	}
	sum, execErr := exe.Execute(ctx, runID, p)

	result := RunResult{RunID: runID, Succeeded: sum.Succeeded, Failed: sum.Failed, Skipped: sum.Skipped}
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "run %s: %d succeeded, %d failed, %d skipped\n",
			runID, sum.Succeeded, sum.Failed, sum.Skipped)
	}
	if execErr != nil {
		return WrapExitError(ExitFailure, "run incomplete", execErr)
	}
	return nil
}
