package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/quickans/internal/metrics"
)

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer new questions once and exit",
	Long: `Fetch the latest notifications, answer every question that is not in
the ledger yet, and exit.

Examples:
  # Answer everything pending
  quickans run

  # Answer only the newest pending question
  quickans run --once

  # Show the replies without sending or recording them
  quickans run --dry-run`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.once, "once", false, "stop after the first answered question")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "generate and print replies without sending or recording")
	runCmd.Flags().BoolVar(&runFlags.noWait, "no-wait", false, "fail instead of waiting when another run holds the ledger")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
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

	report, err := a.runPass(ctx, mailbox, gen, metrics.New(), runFlags)
	if report != nil {
		fmt.Fprintln(cmd.OutOrStdout(), renderSummary(report, err))
	}
	return err
}

// contextOrBackground lets RunE handlers work when cobra was executed
// without a context.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
