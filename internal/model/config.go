package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default values applied when a key is absent from the config file.
const (
	DefaultMarker         = "asked a question in Advanced Information Retrieval"
	DefaultQuestionClass  = "markdown_tester"
	DefaultFromSender     = "team@campuswiremail.com"
	DefaultPageSize       = 15
	DefaultPacingSec      = 20
	DefaultMaxFailures    = 3
	DefaultLLMProvider    = LLMProviderOpenAI
	DefaultLLMMaxTokens   = 1024
	DefaultMailboxFolder  = "INBOX"
	DefaultLedgerFileName = "question_id_to_emails_completed.txt"
)

// Pipeline modes.
const (
	ModeBatch = "batch"
	ModeOnce  = "once"
)

// Ledger backends.
const (
	LedgerBackendFile     = "file"
	LedgerBackendSQLite   = "sqlite"
	LedgerBackendPostgres = "postgres"
)

// Mailbox providers.
const (
	MailboxProviderIMAP  = "imap"
	MailboxProviderGmail = "gmail"
)

// LLM providers.
const (
	LLMProviderAnthropic = "anthropic"
	LLMProviderOpenAI    = "openai"
	LLMProviderGemini    = "gemini"
)

// MailboxConfig holds the settings for the mailbox collaborator.
// Passwords are never read from the config file; see internal/credential.
type MailboxConfig struct {
	// Provider selects the mailbox adapter ("imap" or "gmail").
	Provider string `mapstructure:"provider" yaml:"provider"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`

	// Folder is the mailbox folder polled for notifications.
	Folder string `mapstructure:"folder" yaml:"folder"`

	// GmailCredentials is the path to the OAuth client secret JSON.
	GmailCredentials string `mapstructure:"gmail_credentials" yaml:"gmail_credentials"`

	// GmailToken is the path where the OAuth token is cached.
	GmailToken string `mapstructure:"gmail_token" yaml:"gmail_token"`
}

// LLMConfig holds settings for the answer backend.
type LLMConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`

	// Model defaults per provider when empty.
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Preface overrides the instruction placed before each question.
	Preface string `mapstructure:"preface" yaml:"preface"`
}

// PipelineConfig holds the options the pipeline driver reads at start.
type PipelineConfig struct {
	// Recipient receives every reply and scopes ledger entries.
	Recipient string `mapstructure:"recipient" yaml:"recipient"`

	// Marker is the heading phrase that identifies a relevant notification.
	Marker string `mapstructure:"marker" yaml:"marker"`

	// QuestionClass is the CSS class of the paragraph that opens a question.
	QuestionClass string `mapstructure:"question_class" yaml:"question_class"`

	// FromSender restricts the inbox fetch to one sender address.
	FromSender string `mapstructure:"from_sender" yaml:"from_sender"`

	PageSize  int    `mapstructure:"page_size" yaml:"page_size"`
	PacingSec int    `mapstructure:"pacing_sec" yaml:"pacing_sec"`
	Mode      string `mapstructure:"mode" yaml:"mode"`

	// FailFastParse aborts the run on the first malformed relevant message.
	FailFastParse bool `mapstructure:"fail_fast_parse" yaml:"fail_fast_parse"`

	// MaxConsecutiveFailures aborts the run after this many service errors
	// in a row. Zero disables the limit.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
}

// LedgerConfig selects and locates the completion ledger.
type LedgerConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Ledger   LedgerConfig   `mapstructure:"ledger" yaml:"ledger"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/quickans/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "quickans", "config.yaml")
}

// DefaultLedgerPath returns ~/.local/share/quickans/<ledger file>,
// honouring XDG_DATA_HOME.
func DefaultLedgerPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultLedgerFileName
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "quickans", DefaultLedgerFileName)
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Mailbox: MailboxConfig{
			Provider: MailboxProviderIMAP,
			IMAPPort: "993",
			SMTPPort: "587",
			TLS:      true,
			Folder:   DefaultMailboxFolder,
		},
		LLM: LLMConfig{
			Provider:  DefaultLLMProvider,
			MaxTokens: DefaultLLMMaxTokens,
		},
		Pipeline: PipelineConfig{
			Marker:                 DefaultMarker,
			QuestionClass:          DefaultQuestionClass,
			FromSender:             DefaultFromSender,
			PageSize:               DefaultPageSize,
			PacingSec:              DefaultPacingSec,
			Mode:                   ModeBatch,
			MaxConsecutiveFailures: DefaultMaxFailures,
		},
		Ledger: LedgerConfig{
			Backend: LedgerBackendFile,
			Path:    DefaultLedgerPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// setDefaults registers every default with v so that environment
// overrides resolve even when the key is missing from the file.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("mailbox.provider", d.Mailbox.Provider)
	v.SetDefault("mailbox.imap_port", d.Mailbox.IMAPPort)
	v.SetDefault("mailbox.smtp_port", d.Mailbox.SMTPPort)
	v.SetDefault("mailbox.tls", d.Mailbox.TLS)
	v.SetDefault("mailbox.folder", d.Mailbox.Folder)
	v.SetDefault("mailbox.imap_host", "")
	v.SetDefault("mailbox.smtp_host", "")
	v.SetDefault("mailbox.username", "")
	v.SetDefault("mailbox.gmail_credentials", "credentials.json")
	v.SetDefault("mailbox.gmail_token", "token.json")
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.preface", "")
	v.SetDefault("pipeline.recipient", "")
	v.SetDefault("pipeline.marker", d.Pipeline.Marker)
	v.SetDefault("pipeline.question_class", d.Pipeline.QuestionClass)
	v.SetDefault("pipeline.from_sender", d.Pipeline.FromSender)
	v.SetDefault("pipeline.page_size", d.Pipeline.PageSize)
	v.SetDefault("pipeline.pacing_sec", d.Pipeline.PacingSec)
	v.SetDefault("pipeline.mode", d.Pipeline.Mode)
	v.SetDefault("pipeline.fail_fast_parse", false)
	v.SetDefault("pipeline.max_consecutive_failures", d.Pipeline.MaxConsecutiveFailures)
	v.SetDefault("ledger.backend", d.Ledger.Backend)
	v.SetDefault("ledger.path", d.Ledger.Path)
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// QUICKANS_* environment variables override file values
// (e.g. QUICKANS_PIPELINE_RECIPIENT). A missing file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("quickans")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks enumerated options and required fields.
func (c *AppConfig) Validate() error {
	switch c.Pipeline.Mode {
	case ModeBatch, ModeOnce:
	default:
		return fmt.Errorf("pipeline.mode must be %q or %q, got %q",
			ModeBatch, ModeOnce, c.Pipeline.Mode)
	}

	switch c.Ledger.Backend {
	case LedgerBackendFile:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the file backend")
		}
	case LedgerBackendSQLite:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the sqlite backend")
		}
	case LedgerBackendPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}

	switch c.Mailbox.Provider {
	case MailboxProviderIMAP, MailboxProviderGmail:
	default:
		return fmt.Errorf("unknown mailbox.provider %q", c.Mailbox.Provider)
	}

	switch c.LLM.Provider {
	case LLMProviderAnthropic, LLMProviderOpenAI, LLMProviderGemini:
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}

	if c.Pipeline.PageSize < 1 {
		return fmt.Errorf("pipeline.page_size must be positive, got %d", c.Pipeline.PageSize)
	}
	if c.Pipeline.PacingSec < 0 {
		return fmt.Errorf("pipeline.pacing_sec must not be negative")
	}

	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mailbox", cfg.Mailbox)
	v.Set("llm", cfg.LLM)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("ledger", cfg.Ledger)
	v.Set("metrics", cfg.Metrics)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
