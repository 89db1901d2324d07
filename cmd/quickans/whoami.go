package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in mailbox account",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx := contextOrBackground(cmd)
	mailbox, err := a.newMailbox(ctx)
	if err != nil {
		return err
	}

	user, err := mailbox.CurrentUser(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Hello,", user.DisplayName)
	fmt.Fprintln(out, "Email:", user.Address)
	return nil
}
