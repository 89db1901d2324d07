// Package pipeline runs one pass of the QuickAns loop: fetch the inbox,
// parse question notifications, drop answered ones, then answer, reply and
// record each remaining question in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/quickans/internal/dedup"
	"github.com/nhle/quickans/internal/ledger"
	"github.com/nhle/quickans/internal/metrics"
	"github.com/nhle/quickans/internal/model"
	"github.com/nhle/quickans/internal/reply"
	"github.com/nhle/quickans/internal/source"
)

// ErrTooManyFailures aborts a run after too many consecutive service
// errors.
var ErrTooManyFailures = errors.New("too many consecutive service failures")

// RecordError means a reply was delivered but could not be written to the
// ledger. The question will be answered again on the next run.
type RecordError struct {
	QuestionID model.QuestionID
	Err        error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("reply for %s was sent but not recorded, it may be sent again: %v", e.QuestionID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// QuestionParser extracts a question from a message. A nil question with
// a nil error means the message is irrelevant.
type QuestionParser interface {
	Parse(msg source.RawMessage) (*model.ParsedQuestion, error)
}

// AnswerGenerator drafts an answer for a question body.
type AnswerGenerator interface {
	Generate(ctx context.Context, body string) (string, error)
}

// Config holds the per-run options.
type Config struct {
	// Recipient receives replies and scopes ledger entries. When empty
	// the mailbox's signed-in address is used.
	Recipient model.RecipientID

	FromSender string
	PageSize   int
	Order      source.Order

	// Mode is model.ModeBatch or model.ModeOnce.
	Mode string

	// DryRun generates and composes replies without sending or recording.
	DryRun bool

	FailFastParse          bool
	MaxConsecutiveFailures int
}

// ConfigFrom maps the file configuration onto a driver Config.
func ConfigFrom(p model.PipelineConfig) Config {
	return Config{
		Recipient:              model.RecipientID(p.Recipient),
		FromSender:             p.FromSender,
		PageSize:               p.PageSize,
		Order:                  source.OrderNewestFirst,
		Mode:                   p.Mode,
		FailFastParse:          p.FailFastParse,
		MaxConsecutiveFailures: p.MaxConsecutiveFailures,
	}
}

// Deps are the collaborators a Driver works with.
type Deps struct {
	Mailbox   source.Mailbox
	Ledger    ledger.Ledger
	Parser    QuestionParser
	Generator AnswerGenerator

	// Template defaults to reply.DefaultTemplate.
	Template *reply.Template

	// Pacer defaults to NoPacer.
	Pacer Pacer

	// Metrics may be nil.
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Driver executes pipeline runs. Runs on one Driver must not overlap.
type Driver struct {
	cfg       Config
	mailbox   source.Mailbox
	ledger    ledger.Ledger
	parser    QuestionParser
	generator AnswerGenerator
	template  reply.Template
	pacer     Pacer
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu    sync.Mutex
	state State
}

// New creates a Driver.
func New(cfg Config, deps Deps) *Driver {
	tmpl := reply.DefaultTemplate
	if deps.Template != nil {
		tmpl = *deps.Template
	}
	pacer := deps.Pacer
	if pacer == nil {
		pacer = NoPacer{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = model.DefaultPageSize
	}
	if cfg.Mode == "" {
		cfg.Mode = model.ModeBatch
	}

	return &Driver{
		cfg:       cfg,
		mailbox:   deps.Mailbox,
		ledger:    deps.Ledger,
		parser:    deps.Parser,
		generator: deps.Generator,
		template:  tmpl,
		pacer:     pacer,
		metrics:   deps.Metrics,
		log:       deps.Logger,
	}
}

// State returns the driver's current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(log zerolog.Logger, s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	log.Debug().Str("state", s.String()).Msg("state transition")
}

func (d *Driver) observe(fn func(m *metrics.Metrics)) {
	if d.metrics != nil {
		fn(d.metrics)
	}
}

// Run performs one pass. The returned report is never nil and describes
// everything the pass did, including on error.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		DryRun:    d.cfg.DryRun,
		StartedAt: time.Now(),
	}
	log := d.log.With().Str("run_id", report.RunID).Logger()
	log.Info().Str("mode", d.cfg.Mode).Bool("dry_run", d.cfg.DryRun).Msg("run started")

	err := d.run(ctx, log, report)

	report.FinishedAt = time.Now()
	outcome := "ok"
	if err != nil {
		outcome = "error"
		d.setState(log, StateFailed)
		log.Error().Err(err).Msg("run failed")
	} else {
		d.setState(log, StateDone)
	}
	d.observe(func(m *metrics.Metrics) {
		m.RunsTotal.WithLabelValues(outcome).Inc()
		m.RunDuration.Observe(report.Duration().Seconds())
		if err == nil {
			m.LastSuccessfulTS.SetToCurrentTime()
		}
	})

	log.Info().
		Int("answered", len(report.Answered)).
		Int("drafted", len(report.Drafted)).
		Int("deferred", len(report.Deferred)).
		Int("skipped", len(report.Skipped)).
		Int("already_answered", report.AlreadyAnswered).
		Int("irrelevant", report.Irrelevant).
		Dur("duration", report.Duration()).
		Msg("run finished")

	return report, err
}

func (d *Driver) run(ctx context.Context, log zerolog.Logger, report *Report) error {
	recipient, err := d.resolveRecipient(ctx)
	if err != nil {
		return err
	}
	report.Recipient = recipient
	log = log.With().Str("recipient", string(recipient)).Logger()

	if _, err := d.ledger.Load(ctx); err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}

	d.setState(log, StateFetchInbox)
	msgs, err := d.mailbox.FetchInbox(ctx, source.FetchOptions{
		PageSize:   d.cfg.PageSize,
		FromSender: d.cfg.FromSender,
		OrderBy:    d.cfg.Order,
	})
	if err != nil {
		return fmt.Errorf("fetching inbox: %w", err)
	}
	report.Fetched = len(msgs)
	d.observe(func(m *metrics.Metrics) { m.MessagesFetched.Add(float64(len(msgs))) })
	log.Info().Int("messages", len(msgs)).Msg("fetched inbox")

	d.setState(log, StateParseAll)
	parsed, err := d.parseAll(log, msgs, report)
	if err != nil {
		return err
	}

	d.setState(log, StateDedup)
	pending := dedup.Filter(parsed, recipient, d.ledger)
	report.AlreadyAnswered = pending.Answered
	report.Duplicates = pending.Duplicates
	d.observe(func(m *metrics.Metrics) { m.AlreadyAnswered.Add(float64(pending.Answered)) })
	if pending.Duplicates > 0 {
		log.Warn().Int("duplicates", pending.Duplicates).Msg("inbox page repeated message ids")
	}
	log.Info().
		Int("pending", pending.Len()).
		Int("already_answered", pending.Answered).
		Msg("deduplicated questions")

	return d.answerAll(ctx, log, recipient, pending.Questions(), report)
}

func (d *Driver) resolveRecipient(ctx context.Context) (model.RecipientID, error) {
	if d.cfg.Recipient != "" {
		return d.cfg.Recipient, nil
	}
	user, err := d.mailbox.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving recipient: %w", err)
	}
	if user.Address == "" {
		return "", errors.New("resolving recipient: mailbox account has no address")
	}
	return model.RecipientID(user.Address), nil
}

func (d *Driver) parseAll(log zerolog.Logger, msgs []source.RawMessage, report *Report) ([]model.ParsedQuestion, error) {
	var parsed []model.ParsedQuestion
	for _, msg := range msgs {
		q, err := d.parser.Parse(msg)
		if err != nil {
			if d.cfg.FailFastParse {
				return nil, err
			}
			report.Skipped = append(report.Skipped, Skipped{
				ID:     model.QuestionID(msg.ID()),
				Reason: err.Error(),
			})
			d.observe(func(m *metrics.Metrics) { m.Skipped.Inc() })
			log.Warn().Err(err).Str("message_id", msg.ID()).Msg("skipping malformed notification")
			continue
		}
		if q == nil {
			report.Irrelevant++
			d.observe(func(m *metrics.Metrics) { m.Irrelevant.Inc() })
			continue
		}
		parsed = append(parsed, *q)
		d.observe(func(m *metrics.Metrics) { m.QuestionsParsed.Inc() })
	}
	return parsed, nil
}

func (d *Driver) answerAll(
	ctx context.Context,
	log zerolog.Logger,
	recipient model.RecipientID,
	questions []model.ParsedQuestion,
	report *Report,
) error {
	failures := 0
	sent := false

	for i, q := range questions {
		qlog := log.With().Str("question_id", string(q.ID)).Logger()

		if sent {
			if err := d.pacer.Wait(ctx); err != nil {
				d.deferRest(questions[i:], report, err)
				return err
			}
		}

		r, err := d.answerOne(ctx, qlog, recipient, q)
		if err != nil {
			var recErr *RecordError
			if errors.As(err, &recErr) {
				report.Unrecorded = append(report.Unrecorded, Answered{
					ID: q.ID, Heading: q.Heading, Subject: r.Subject,
				})
				qlog.Error().Err(err).Msg("reply sent but not recorded, a rerun may send it again")
				d.deferRest(questions[i+1:], report, err)
				return err
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				d.deferRest(questions[i:], report, ctxErr)
				return ctxErr
			}

			kind := DeferLLM
			var svcErr *source.ServiceError
			if errors.As(err, &svcErr) && svcErr.Kind == source.KindMailbox {
				kind = DeferMailbox
			}
			report.Deferred = append(report.Deferred, Deferred{
				ID: q.ID, Heading: q.Heading, Kind: kind, Reason: err.Error(),
			})
			d.observe(func(m *metrics.Metrics) { m.Deferred.WithLabelValues(kind).Inc() })
			qlog.Warn().Err(err).Str("kind", kind).Msg("deferring question")

			failures++
			if d.cfg.MaxConsecutiveFailures > 0 && failures >= d.cfg.MaxConsecutiveFailures {
				abort := fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, failures, err)
				d.deferRest(questions[i+1:], report, abort)
				return abort
			}
			continue
		}

		failures = 0
		if d.cfg.DryRun {
			report.Drafted = append(report.Drafted, r)
		} else {
			sent = true
			report.Answered = append(report.Answered, Answered{
				ID: q.ID, Heading: q.Heading, Subject: r.Subject,
			})
		}

		if d.cfg.Mode == model.ModeOnce {
			report.Remaining = len(questions) - i - 1
			break
		}
	}

	return nil
}

// answerOne runs generate, compose, send and record for q. Any error
// before send leaves the ledger untouched.
func (d *Driver) answerOne(
	ctx context.Context,
	log zerolog.Logger,
	recipient model.RecipientID,
	q model.ParsedQuestion,
) (model.Reply, error) {
	d.setState(log, StateGenerate)
	answer, err := d.generator.Generate(ctx, q.Body)
	if err != nil {
		return model.Reply{}, err
	}

	d.setState(log, StateCompose)
	r := d.template.Compose(q, answer, string(recipient))

	if d.cfg.DryRun {
		log.Info().
			Str("subject", r.Subject).
			Str("to", r.Recipient).
			Str("body", r.Body).
			Msg("dry run, reply not sent")
		return r, nil
	}

	d.setState(log, StateSend)
	if err := d.mailbox.Send(ctx, r); err != nil {
		return model.Reply{}, source.NewServiceError(source.KindMailbox, "send", err)
	}
	log.Info().Str("subject", r.Subject).Msg("reply sent")

	// Once sent, the entry is recorded even if ctx is cancelled.
	d.setState(log, StateRecord)
	entry := model.LedgerEntry{QuestionID: q.ID, RecipientID: recipient}
	if err := d.ledger.Record(context.WithoutCancel(ctx), entry); err != nil {
		return r, &RecordError{QuestionID: q.ID, Err: err}
	}
	d.observe(func(m *metrics.Metrics) { m.RepliesSent.Inc() })

	if ack, ok := d.mailbox.(source.Acknowledger); ok {
		if err := ack.MarkAnswered(ctx, string(q.ID)); err != nil {
			log.Warn().Err(err).Msg("marking notification answered")
		}
	}

	return r, nil
}

func (d *Driver) deferRest(rest []model.ParsedQuestion, report *Report, cause error) {
	for _, q := range rest {
		report.Deferred = append(report.Deferred, Deferred{
			ID: q.ID, Heading: q.Heading, Kind: DeferAborted, Reason: cause.Error(),
		})
	}
	if len(rest) > 0 {
		d.observe(func(m *metrics.Metrics) { m.Deferred.WithLabelValues(DeferAborted).Add(float64(len(rest))) })
	}
}
