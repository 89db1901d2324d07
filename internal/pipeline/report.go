package pipeline

import (
	"time"

	"github.com/nhle/quickans/internal/model"
)

// Deferral kinds recorded in Report.Deferred.
const (
	DeferLLM     = "llm"
	DeferMailbox = "mailbox"
	DeferAborted = "aborted"
)

// Answered is a question whose reply was sent and recorded.
type Answered struct {
	ID      model.QuestionID
	Heading string
	Subject string
}

// Deferred is a question left unrecorded for a later run.
type Deferred struct {
	ID      model.QuestionID
	Heading string
	Kind    string
	Reason  string
}

// Skipped is a relevant notification that could not be parsed.
type Skipped struct {
	ID     model.QuestionID
	Reason string
}

// Report summarizes one run.
type Report struct {
	RunID      string
	Recipient  model.RecipientID
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched         int
	Irrelevant      int
	AlreadyAnswered int
	Duplicates      int

	Answered []Answered
	Drafted  []model.Reply
	Deferred []Deferred
	Skipped  []Skipped

	// Unrecorded holds replies that were sent but could not be written to
	// the ledger. A later run may answer them again.
	Unrecorded []Answered

	// Remaining counts pending questions left untouched because the run
	// was in once mode.
	Remaining int
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
