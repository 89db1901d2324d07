package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "quickans",
	Short: "QuickAns - answer CampusWire questions from your inbox",
	Long: `QuickAns reads CampusWire notification emails, asks a language model
for a baseline answer to every new question, and mails the answer to you.

Answered questions are kept in a completion ledger so a question is
never answered twice for the same recipient.

Secrets are read from the environment (QUICKANS_MAILBOX_PASSWORD,
QUICKANS_OPENAI_API_KEY, ...), a .env file, or the system keyring
populated by "quickans setup".`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.config/quickans/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"override log.format (console, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
