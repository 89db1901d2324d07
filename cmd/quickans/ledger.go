package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/quickans/internal/theme"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the completion ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List answered questions",
	Args:  cobra.NoArgs,
	RunE:  runLedgerList,
}

func init() {
	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerList(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx := contextOrBackground(cmd)
	l, err := a.openLedger(ctx, true)
	if err != nil {
		return err
	}
	defer l.Close()

	records, err := l.Entries(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, theme.HelpStyle.Render("Ledger is empty."))
		return nil
	}

	for _, r := range records {
		at := "-"
		if !r.AnsweredAt.IsZero() {
			at = r.AnsweredAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(out, "%-19s  %-30s  %s\n", at, r.RecipientID, r.QuestionID)
	}
	fmt.Fprintln(out, theme.HelpStyle.Render(fmt.Sprintf("%d answered", len(records))))
	return nil
}
