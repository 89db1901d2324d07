package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nhle/quickans/internal/metrics"
	"github.com/nhle/quickans/internal/source"
)

var (
	daemonSchedule string
	daemonDryRun   bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run passes on a schedule until interrupted",
	Long: `Run a pass immediately and then on a cron schedule. A pass that is
still running when the next one is due delays it instead of overlapping.

Examples:
  # Every ten minutes
  quickans daemon --schedule "@every 10m"

  # At minute 0 and 30 of every hour
  quickans daemon --schedule "0,30 * * * *"`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "@every 10m", "cron spec or @every duration")
	daemonCmd.Flags().BoolVar(&daemonDryRun, "dry-run", false, "generate replies without sending or recording")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mailbox, err := a.newMailbox(ctx)
	if err != nil {
		return err
	}
	gen, err := a.newGenerator(ctx)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := runOptions{dryRun: daemonDryRun}
	pass := func() {
		report, err := a.runPass(ctx, mailbox, gen, m, opts)
		switch {
		case err != nil && source.IsAuthError(err):
			a.log.Error().Err(err).Msg("mailbox rejected credentials, run quickans setup")
		case err != nil:
			a.log.Error().Err(err).Msg("pass failed")
		case report != nil:
			a.log.Info().
				Str("run_id", report.RunID).
				Int("answered", len(report.Answered)).
				Msg("pass complete")
		}
	}

	logger := cron.PrintfLogger(&a.log)
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := c.AddFunc(daemonSchedule, pass); err != nil {
		return fmt.Errorf("parsing schedule %q: %w", daemonSchedule, err)
	}

	a.log.Info().Str("schedule", daemonSchedule).Msg("daemon started")
	pass()
	c.Start()

	<-ctx.Done()
	a.log.Info().Msg("shutting down, waiting for the running pass")
	<-c.Stop().Done()
	return nil
}
