package model

import "time"

// QuestionID identifies a source notification. It is taken verbatim from
// the mailbox provider's message id and never changes once assigned.
type QuestionID string

// RecipientID identifies the answering account a ledger entry is scoped to.
type RecipientID string

// LedgerEntry records that a question has been answered for a recipient.
// It is comparable and is used directly as a set key.
type LedgerEntry struct {
	QuestionID  QuestionID
	RecipientID RecipientID
}

// ParsedQuestion is the question extracted from one relevant notification.
type ParsedQuestion struct {
	// ID is the originating message id.
	ID QuestionID

	// Heading is the notification's primary heading text,
	// e.g. "Alice asked a question in Advanced Information Retrieval".
	Heading string

	// Body is the question text followed by any image URLs, one per line.
	Body string
}

// Reply is an outbound answer message.
type Reply struct {
	Subject   string
	Body      string
	Recipient string
}

// AnsweredRecord is a ledger entry with the time it was recorded. File
// ledgers carry no timestamps and leave AnsweredAt zero.
type AnsweredRecord struct {
	LedgerEntry
	AnsweredAt time.Time
}
