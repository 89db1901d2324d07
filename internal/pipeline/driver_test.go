package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/quickans/internal/ledger"
	"github.com/nhle/quickans/internal/metrics"
	"github.com/nhle/quickans/internal/model"
	"github.com/nhle/quickans/internal/parser"
	"github.com/nhle/quickans/internal/pipeline"
	"github.com/nhle/quickans/internal/source"
	testledger "github.com/nhle/quickans/tests/testutil"
)

const recipient = "ta@example.edu"

func notification(id string) source.RawMessage {
	return &source.Message{
		MessageID: id,
		HTML: fmt.Sprintf(`<h1>Student %s asked a question in Advanced Information Retrieval</h1>
			<p class="markdown_tester">Question %s?</p>`, id, id),
	}
}

func irrelevant(id string) source.RawMessage {
	return &source.Message{MessageID: id, HTML: `<h1>Alice commented on a post</h1>`}
}

func malformed(id string) source.RawMessage {
	return &source.Message{
		MessageID: id,
		HTML:      `<h1>Bob asked a question in Advanced Information Retrieval</h1><p>no marker</p>`,
	}
}

type fakeMailbox struct {
	messages []source.RawMessage
	fetchErr error
	// failSend fails delivery of replies whose body contains the key.
	failSend map[string]error
	sent     []model.Reply
	acked    []string
	user     source.User
}

func (f *fakeMailbox) FetchInbox(_ context.Context, _ source.FetchOptions) ([]source.RawMessage, error) {
	return f.messages, f.fetchErr
}

func (f *fakeMailbox) Send(_ context.Context, r model.Reply) error {
	for key, err := range f.failSend {
		if strings.Contains(r.Body, key) {
			return source.NewServiceError(source.KindMailbox, "send", err)
		}
	}
	f.sent = append(f.sent, r)
	return nil
}

func (f *fakeMailbox) CurrentUser(_ context.Context) (source.User, error) {
	return f.user, nil
}

func (f *fakeMailbox) MarkAnswered(_ context.Context, id string) error {
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeMailbox) sentSubjects() []string {
	var out []string
	for _, r := range f.sent {
		out = append(out, r.Subject)
	}
	return out
}

type fakeGenerator struct {
	// fail returns an error for bodies containing the key.
	fail  map[string]error
	calls []string
	hook  func()
}

func (g *fakeGenerator) Generate(_ context.Context, body string) (string, error) {
	g.calls = append(g.calls, body)
	if g.hook != nil {
		g.hook()
	}
	for key, err := range g.fail {
		if strings.Contains(body, key) {
			return "", source.NewServiceError(source.KindLLM, "complete", err)
		}
	}
	return "answer to " + strings.TrimSpace(body), nil
}

type countingPacer struct {
	waits int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits++
	return ctx.Err()
}

type failingRecordLedger struct {
	ledger.Ledger
	err error
}

func (l *failingRecordLedger) Record(context.Context, model.LedgerEntry) error {
	return l.err
}

func subject(id string) string {
	return fmt.Sprintf("QuickAns Assistant replies to 'Student %s asked a question in Advanced Information Retrieval'", id)
}

func entry(id string) model.LedgerEntry {
	return model.LedgerEntry{QuestionID: model.QuestionID(id), RecipientID: recipient}
}

type harness struct {
	cfg     pipeline.Config
	mailbox *fakeMailbox
	gen     *fakeGenerator
	ledger  ledger.Ledger
	pacer   pipeline.Pacer
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, msgs ...source.RawMessage) *harness {
	t.Helper()
	return &harness{
		cfg:     pipeline.Config{Recipient: recipient, Mode: model.ModeBatch},
		mailbox: &fakeMailbox{messages: msgs},
		gen:     &fakeGenerator{},
		ledger:  testledger.NewTestLedger(t),
	}
}

func (h *harness) run(t *testing.T) (*pipeline.Report, error) {
	t.Helper()
	return h.runCtx(t.Context())
}

func (h *harness) runCtx(ctx context.Context) (*pipeline.Report, error) {
	d := pipeline.New(h.cfg, pipeline.Deps{
		Mailbox:   h.mailbox,
		Ledger:    h.ledger,
		Parser:    parser.New("", ""),
		Generator: h.gen,
		Pacer:     h.pacer,
		Metrics:   h.metrics,
		Logger:    zerolog.Nop(),
	})
	return d.Run(ctx)
}

func TestRunAnswersNewQuestionsInOrder(t *testing.T) {
	h := newHarness(t, notification("q1"), irrelevant("m2"), notification("q3"))
	h.metrics = metrics.New()

	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{subject("q1"), subject("q3")}, h.mailbox.sentSubjects())
	assert.Equal(t, recipient, h.mailbox.sent[0].Recipient)
	assert.Contains(t, h.mailbox.sent[0].Body, "answer to Question q1?")

	assert.True(t, h.ledger.Contains(entry("q1")))
	assert.True(t, h.ledger.Contains(entry("q3")))
	assert.False(t, h.ledger.Contains(entry("m2")))

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 1, report.Irrelevant)
	require.Len(t, report.Answered, 2)
	assert.Equal(t, model.QuestionID("q1"), report.Answered[0].ID)
	assert.Empty(t, report.Deferred)
	assert.Equal(t, []string{"q1", "q3"}, h.mailbox.acked)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RepliesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("ok")))
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"))

	_, err := h.run(t)
	require.NoError(t, err)
	require.Len(t, h.mailbox.sent, 2)

	report, err := h.run(t)
	require.NoError(t, err)

	assert.Len(t, h.mailbox.sent, 2)
	assert.Len(t, h.gen.calls, 2)
	assert.Equal(t, 2, report.AlreadyAnswered)
	assert.Empty(t, report.Answered)
}

func TestRunSkipsQuestionsAlreadyInLedger(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"))
	require.NoError(t, h.ledger.Record(t.Context(), entry("q1")))

	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{subject("q2")}, h.mailbox.sentSubjects())
	assert.Equal(t, 1, report.AlreadyAnswered)
}

func TestRunSendFailureIsNotRecorded(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"), notification("q3"))
	h.mailbox.failSend = map[string]error{"Question q2?": errors.New("smtp 451")}

	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{subject("q1"), subject("q3")}, h.mailbox.sentSubjects())
	assert.True(t, h.ledger.Contains(entry("q1")))
	assert.False(t, h.ledger.Contains(entry("q2")))
	assert.True(t, h.ledger.Contains(entry("q3")))

	require.Len(t, report.Deferred, 1)
	assert.Equal(t, model.QuestionID("q2"), report.Deferred[0].ID)
	assert.Equal(t, pipeline.DeferMailbox, report.Deferred[0].Kind)

	// A later run retries only the deferred question.
	h.mailbox.failSend = nil
	report, err = h.run(t)
	require.NoError(t, err)
	assert.Equal(t, []string{subject("q1"), subject("q3"), subject("q2")}, h.mailbox.sentSubjects())
	assert.Equal(t, 2, report.AlreadyAnswered)
}

func TestRunGenerateFailureDefers(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"))
	h.gen.fail = map[string]error{"Question q1?": errors.New("rate limited")}

	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{subject("q2")}, h.mailbox.sentSubjects())
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, pipeline.DeferLLM, report.Deferred[0].Kind)
	assert.Contains(t, report.Deferred[0].Reason, "rate limited")
	assert.False(t, h.ledger.Contains(entry("q1")))
}

func TestRunAbortsAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"), notification("q3"), notification("q4"))
	h.cfg.MaxConsecutiveFailures = 2
	h.gen.fail = map[string]error{"Question": errors.New("service unavailable")}

	report, err := h.run(t)
	require.ErrorIs(t, err, pipeline.ErrTooManyFailures)

	assert.Len(t, h.gen.calls, 2)
	assert.Empty(t, h.mailbox.sent)
	require.Len(t, report.Deferred, 4)
	assert.Equal(t, pipeline.DeferLLM, report.Deferred[1].Kind)
	assert.Equal(t, pipeline.DeferAborted, report.Deferred[2].Kind)

	set, err := h.ledger.Load(t.Context())
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestRunFailureStreakResetsOnSuccess(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"), notification("q3"))
	h.cfg.MaxConsecutiveFailures = 2
	h.gen.fail = map[string]error{
		"Question q1?": errors.New("timeout"),
		"Question q3?": errors.New("timeout"),
	}

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Len(t, report.Deferred, 2)
	assert.Len(t, report.Answered, 1)
}

func TestRunOnceModeStopsAfterFirstAnswer(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"), notification("q3"))
	h.cfg.Mode = model.ModeOnce
	h.gen.fail = map[string]error{"Question q1?": errors.New("timeout")}

	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{subject("q2")}, h.mailbox.sentSubjects())
	assert.Equal(t, 1, report.Remaining)
	assert.Len(t, report.Deferred, 1)
}

func TestRunSkipsMalformedNotifications(t *testing.T) {
	h := newHarness(t, malformed("bad"), notification("q1"))

	report, err := h.run(t)
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, model.QuestionID("bad"), report.Skipped[0].ID)
	assert.Equal(t, []string{subject("q1")}, h.mailbox.sentSubjects())
}

func TestRunFailFastParse(t *testing.T) {
	h := newHarness(t, malformed("bad"), notification("q1"))
	h.cfg.FailFastParse = true

	_, err := h.run(t)
	require.Error(t, err)
	assert.True(t, parser.IsParseError(err))
	assert.Empty(t, h.mailbox.sent)
}

func TestRunRecordFailureAborts(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"))
	h.ledger = &failingRecordLedger{Ledger: h.ledger, err: errors.New("disk full")}

	report, err := h.run(t)
	require.Error(t, err)

	var recErr *pipeline.RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, model.QuestionID("q1"), recErr.QuestionID)

	assert.Equal(t, []string{subject("q1")}, h.mailbox.sentSubjects())
	assert.Empty(t, report.Answered)
	require.Len(t, report.Unrecorded, 1)
	assert.Equal(t, model.QuestionID("q1"), report.Unrecorded[0].ID)
	assert.Equal(t, subject("q1"), report.Unrecorded[0].Subject)
	require.Len(t, report.Deferred, 1)
	assert.Equal(t, model.QuestionID("q2"), report.Deferred[0].ID)
	assert.Equal(t, pipeline.DeferAborted, report.Deferred[0].Kind)
	assert.Empty(t, h.mailbox.acked)
}

func TestRunDryRun(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"))
	h.cfg.DryRun = true

	report, err := h.run(t)
	require.NoError(t, err)

	assert.Empty(t, h.mailbox.sent)
	assert.False(t, h.ledger.Contains(entry("q1")))
	require.Len(t, report.Drafted, 2)
	assert.Equal(t, subject("q1"), report.Drafted[0].Subject)
	assert.True(t, report.DryRun)
}

func TestRunResolvesRecipientFromMailbox(t *testing.T) {
	h := newHarness(t, notification("q1"))
	h.cfg.Recipient = ""
	h.mailbox.user = source.User{DisplayName: "TA", Address: "owner@example.edu"}

	report, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, model.RecipientID("owner@example.edu"), report.Recipient)
	require.Len(t, h.mailbox.sent, 1)
	assert.Equal(t, "owner@example.edu", h.mailbox.sent[0].Recipient)
	assert.True(t, h.ledger.Contains(model.LedgerEntry{QuestionID: "q1", RecipientID: "owner@example.edu"}))
}

func TestRunCorruptLedgerFailsBeforeFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answered.txt")
	require.NoError(t, os.WriteFile(path, []byte("q1,r1\nbroken\n"), 0o600))

	l, err := ledger.OpenFile(path, ledger.Options{NoWait: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	h := newHarness(t, notification("q2"))
	h.ledger = l

	report, err := h.run(t)
	require.Error(t, err)
	assert.True(t, ledger.IsCorruption(err))
	assert.Zero(t, report.Fetched)
	assert.Empty(t, h.mailbox.sent)
}

func TestRunFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.mailbox.fetchErr = source.NewServiceError(source.KindMailbox, "fetch", errors.New("connection refused"))

	_, err := h.run(t)
	require.Error(t, err)
	assert.True(t, source.IsServiceError(err))
}

func TestRunEmptyInbox(t *testing.T) {
	h := newHarness(t)

	report, err := h.run(t)
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
	assert.Empty(t, report.Answered)
}

func TestRunPacesBetweenSends(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"), notification("q3"))
	pacer := &countingPacer{}
	h.pacer = pacer

	_, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, pacer.waits)
}

func TestRunCancelledBeforeSendIsNotRecorded(t *testing.T) {
	h := newHarness(t, notification("q1"), notification("q2"))
	ctx, cancel := context.WithCancel(t.Context())
	h.gen.hook = cancel
	h.gen.fail = map[string]error{"Question": context.Canceled}

	report, err := h.runCtx(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, h.mailbox.sent)
	assert.False(t, h.ledger.Contains(entry("q1")))
	assert.Len(t, report.Deferred, 2)
}
