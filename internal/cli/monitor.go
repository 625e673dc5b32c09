package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alchemlab/abfe/internal/monitor"
)

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		runID string
		addr  string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve a read-only HTTP view of a run",
		Long: `Serve the ledger state of a run over HTTP for watching long
campaigns: /api/run, /api/stages, /api/stages/{state}, and /api/host.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(rootOpts, cmd, runID, addr)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run ID (default latest)")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8642", "listen address")
	return cmd
}

func runMonitor(opts *RootOptions, cmd *cobra.Command, runID, addr string) error {
	c, err := loadCampaign(opts)
	if err != nil {
		return err
	}
	s, err := openLedger(c)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := resolveRun(ctx, s, runID)
	if err != nil {
		return err
	}

	srv := &monitor.Server{Store: s, RunID: run.ID}
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return WrapExitError(ExitFailure, "monitor stopped", err)
	}
	return nil
}
