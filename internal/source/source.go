package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/quickans/internal/model"
)

// Kind identifies which collaborator produced a ServiceError.
type Kind string

const (
	KindMailbox Kind = "mailbox"
	KindLLM     Kind = "llm"
)

// ServiceError is a transient network, auth, or rate-limit failure in a
// mailbox or LLM collaborator. The pipeline defers the current question
// when it sees one and never records it as answered.
type ServiceError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err as a ServiceError unless it already is one.
func NewServiceError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return &ServiceError{Kind: kind, Op: op, Err: err}
}

// IsServiceError reports whether err (or any error in its chain) is a
// ServiceError.
func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}

// AuthError indicates that mailbox authentication has failed or expired.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RawMessage is one inbound message as seen by the notification parser.
// Provider adapters implement it over their own message types.
type RawMessage interface {
	// ID is the provider-stable unique message id.
	ID() string
	HTMLBody() string
	Subject() string
	Sender() string
	IsRead() bool
	ReceivedAt() time.Time
}

// Order controls the order of fetched messages.
type Order int

const (
	// OrderNewestFirst sorts by received time, newest first.
	OrderNewestFirst Order = iota
	OrderOldestFirst
)

// FetchOptions bounds and filters an inbox fetch.
type FetchOptions struct {
	// PageSize is the maximum number of messages returned.
	PageSize int

	// FromSender, when non-empty, restricts results to that address.
	FromSender string

	OrderBy Order
}

// User describes the signed-in mailbox account.
type User struct {
	DisplayName string

	// Address is the primary mail address, falling back to the
	// account's principal name when the provider has no mail attribute.
	Address string
}

// Mailbox is the contract the pipeline uses to read notifications and send
// replies. Adapters live in subpackages (email, gmail).
type Mailbox interface {
	// FetchInbox returns the latest page of messages. A nil slice with a
	// nil error means the inbox is empty.
	FetchInbox(ctx context.Context, opts FetchOptions) ([]RawMessage, error)

	// Send delivers a reply. Failures are returned as *ServiceError.
	Send(ctx context.Context, reply model.Reply) error

	// CurrentUser returns the signed-in account.
	CurrentUser(ctx context.Context) (User, error)
}

// Acknowledger is implemented by mailboxes that can mark the source
// notification once its reply has been recorded (IMAP \Answered,
// Gmail mark-read). Failures are logged, never fatal.
type Acknowledger interface {
	MarkAnswered(ctx context.Context, messageID string) error
}

// Message is a plain RawMessage implementation used by adapters that
// materialize messages eagerly.
type Message struct {
	MessageID string
	HTML      string
	Subj      string
	From      string
	Read      bool
	Received  time.Time
}

func (m *Message) ID() string            { return m.MessageID }
func (m *Message) HTMLBody() string      { return m.HTML }
func (m *Message) Subject() string       { return m.Subj }
func (m *Message) Sender() string        { return m.From }
func (m *Message) IsRead() bool          { return m.Read }
func (m *Message) ReceivedAt() time.Time { return m.Received }
