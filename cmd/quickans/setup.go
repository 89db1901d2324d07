package main

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/quickans/internal/credential"
	"github.com/nhle/quickans/internal/model"
	"github.com/nhle/quickans/internal/theme"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively write the config file and store secrets",
	Long: `Ask for mailbox and model settings, write them to the config file,
and store the mailbox password and API key in the system keyring.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

// setupForm holds the values bound to the form fields.
type setupForm struct {
	cfg      *model.AppConfig
	password string
	apiKey   string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}

	cfg, err := model.LoadConfig(path)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), theme.HelpStyle.Render(
			fmt.Sprintf("Existing config ignored: %v", err)))
		cfg = model.DefaultAppConfig()
	}

	f := &setupForm{cfg: cfg}
	if err := f.mailboxForm().Run(); err != nil {
		return err
	}
	if cfg.Mailbox.Provider == model.MailboxProviderIMAP {
		if err := f.imapForm().Run(); err != nil {
			return err
		}
	} else {
		if err := f.gmailForm().Run(); err != nil {
			return err
		}
	}
	if err := f.llmForm().Run(); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}

	creds := credential.Open()
	if f.password != "" {
		if err := creds.Set(credential.KeyMailboxPassword, f.password); err != nil {
			return err
		}
	}
	if f.apiKey != "" {
		if err := creds.Set(credential.LLMKey(cfg.LLM.Provider), f.apiKey); err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), theme.HeaderStyle.Render("Saved "+path))
	return nil
}

func (f *setupForm) mailboxForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Mailbox").
				Description("Where CampusWire notifications arrive").
				Options(
					huh.NewOption("IMAP/SMTP - any mail server", model.MailboxProviderIMAP),
					huh.NewOption("Gmail - OAuth via the Gmail API", model.MailboxProviderGmail),
				).
				Value(&f.cfg.Mailbox.Provider),
			huh.NewInput().
				Title("Recipient").
				Description("Address that receives the answers; empty uses the mailbox account").
				Placeholder("ta@illinois.edu").
				Value(&f.cfg.Pipeline.Recipient).
				Validate(validateOptionalAddress),
		),
	)
}

func (f *setupForm) imapForm() *huh.Form {
	mc := &f.cfg.Mailbox
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Placeholder("imap.example.com").
				Value(&mc.IMAPHost).
				Validate(validateRequired("IMAP host")),
			huh.NewInput().
				Title("IMAP Port").
				Value(&mc.IMAPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("SMTP Host").
				Placeholder("smtp.example.com").
				Value(&mc.SMTPHost).
				Validate(validateRequired("SMTP host")),
			huh.NewInput().
				Title("SMTP Port").
				Value(&mc.SMTPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Value(&mc.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&f.password),
			huh.NewConfirm().
				Title("Use TLS").
				Value(&mc.TLS),
		),
	)
}

func (f *setupForm) gmailForm() *huh.Form {
	mc := &f.cfg.Mailbox
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("OAuth client secret").
				Description("Path to credentials.json from the Google Cloud console").
				Value(&mc.GmailCredentials).
				Validate(validateRequired("Client secret path")),
			huh.NewInput().
				Title("Token cache").
				Description("Where the authorized token is stored").
				Value(&mc.GmailToken).
				Validate(validateRequired("Token path")),
		),
	)
}

func (f *setupForm) llmForm() *huh.Form {
	lc := &f.cfg.LLM
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model provider").
				Options(
					huh.NewOption("OpenAI", model.LLMProviderOpenAI),
					huh.NewOption("Anthropic", model.LLMProviderAnthropic),
					huh.NewOption("Gemini", model.LLMProviderGemini),
				).
				Value(&lc.Provider),
			huh.NewInput().
				Title("Model").
				Description("Empty picks the provider default").
				Value(&lc.Model),
			huh.NewInput().
				Title("API key").
				Description("Stored in the system keyring; leave empty to keep the current one").
				EchoMode(huh.EchoModePassword).
				Value(&f.apiKey),
		),
	)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("port is required")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("port must be a number")
		}
	}
	return nil
}

func validateOptionalAddress(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}
