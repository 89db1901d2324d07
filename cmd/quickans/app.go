package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/nhle/quickans/internal/answer"
	"github.com/nhle/quickans/internal/credential"
	"github.com/nhle/quickans/internal/ledger"
	"github.com/nhle/quickans/internal/llm"
	"github.com/nhle/quickans/internal/logging"
	"github.com/nhle/quickans/internal/metrics"
	"github.com/nhle/quickans/internal/model"
	"github.com/nhle/quickans/internal/parser"
	"github.com/nhle/quickans/internal/pipeline"
	"github.com/nhle/quickans/internal/source"
	"github.com/nhle/quickans/internal/source/email"
	"github.com/nhle/quickans/internal/source/gmail"
)

// app carries what every command needs after startup.
type app struct {
	cfgPath string
	cfg     *model.AppConfig
	log     zerolog.Logger
	creds   *credential.Store
}

// loadApp reads .env, the config file, and builds the logger.
func loadApp() (*app, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	path := configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}

	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	logger, err := logging.Stderr(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	return &app{
		cfgPath: path,
		cfg:     cfg,
		log:     logger,
		creds:   credential.Open(),
	}, nil
}

// newMailbox builds the adapter selected by mailbox.provider.
func (a *app) newMailbox(ctx context.Context) (source.Mailbox, error) {
	mc := a.cfg.Mailbox

	switch mc.Provider {
	case model.MailboxProviderGmail:
		c, err := gmail.NewClient(ctx, gmail.Config{
			CredentialsFile: mc.GmailCredentials,
			TokenFile:       mc.GmailToken,
			Prompt:          os.Stderr,
			In:              os.Stdin,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		password, err := a.creds.Get(credential.KeyMailboxPassword)
		if err != nil {
			return nil, err
		}
		return email.NewAdapter(email.Config{
			IMAPHost: mc.IMAPHost,
			IMAPPort: mc.IMAPPort,
			SMTPHost: mc.SMTPHost,
			SMTPPort: mc.SMTPPort,
			Username: mc.Username,
			Password: password,
			TLS:      mc.TLS,
			Folder:   mc.Folder,
			Logger:   a.log,
		}), nil
	}
}

// newGenerator builds the answer generator for llm.provider.
func (a *app) newGenerator(ctx context.Context) (*answer.Generator, error) {
	key, err := a.creds.Get(credential.LLMKey(a.cfg.LLM.Provider))
	if err != nil {
		return nil, err
	}
	completer, err := llm.New(ctx, a.cfg.LLM, key)
	if err != nil {
		return nil, err
	}
	return answer.New(completer, a.cfg.LLM.Preface), nil
}

// openLedger opens the configured ledger backend.
func (a *app) openLedger(ctx context.Context, noWait bool) (ledger.Ledger, error) {
	l, err := ledger.Open(ctx, a.cfg.Ledger, ledger.Options{NoWait: noWait})
	if err != nil {
		if errors.Is(err, ledger.ErrLocked) {
			return nil, fmt.Errorf("another quickans run holds the ledger: %w", err)
		}
		return nil, err
	}
	return l, nil
}

// runOptions are the command-line overrides for one pass.
type runOptions struct {
	once   bool
	dryRun bool
	noWait bool
}

// runPass opens the ledger, runs the pipeline once, and closes the
// ledger so the lock is only held while a pass is in flight.
func (a *app) runPass(
	ctx context.Context,
	mailbox source.Mailbox,
	gen *answer.Generator,
	m *metrics.Metrics,
	opts runOptions,
) (*pipeline.Report, error) {
	l, err := a.openLedger(ctx, opts.noWait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := l.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing ledger")
		}
	}()

	cfg := pipeline.ConfigFrom(a.cfg.Pipeline)
	if opts.once {
		cfg.Mode = model.ModeOnce
	}
	cfg.DryRun = opts.dryRun

	driver := pipeline.New(cfg, pipeline.Deps{
		Mailbox:   mailbox,
		Ledger:    l,
		Parser:    parser.New(a.cfg.Pipeline.Marker, a.cfg.Pipeline.QuestionClass),
		Generator: gen,
		Pacer:     pipeline.FixedPacer{Delay: time.Duration(a.cfg.Pipeline.PacingSec) * time.Second},
		Metrics:   m,
		Logger:    a.log,
	})

	report, err := driver.Run(ctx)
	if werr := m.WriteTextfile(a.cfg.Metrics.Textfile); werr != nil {
		a.log.Warn().Err(werr).Msg("exporting metrics")
	}
	return report, err
}
