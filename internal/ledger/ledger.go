// Package ledger persists the set of (question, recipient) pairs that have
// already been answered. Every backend makes Record durable before it
// returns, so a restart never re-sends a recorded answer.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/quickans/internal/model"
)

// ErrLocked is returned when another process holds the ledger.
var ErrLocked = errors.New("ledger is locked by another process")

// CorruptionError reports a persisted entry that cannot be parsed. A
// corrupt ledger fails the whole run: guessing that a question is
// unanswered could send a duplicate reply.
type CorruptionError struct {
	Path string
	Line int
	Text string
	Err  error
}

func (e *CorruptionError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("corrupt ledger %s line %d (%q): %v", e.Path, e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("corrupt ledger %s line %d: %v", e.Path, e.Line, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IsCorruption reports whether err (or any error in its chain) is a
// CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// Set is an in-memory set of ledger entries.
type Set map[model.LedgerEntry]struct{}

// Contains reports whether e is in the set.
func (s Set) Contains(e model.LedgerEntry) bool {
	_, ok := s[e]
	return ok
}

func (s Set) clone() Set {
	out := make(Set, len(s))
	for e := range s {
		out[e] = struct{}{}
	}
	return out
}

// Checker is the read side of a ledger.
type Checker interface {
	Contains(entry model.LedgerEntry) bool
}

// Ledger is the completion ledger contract.
type Ledger interface {
	Checker

	// Load reads every persisted entry, replaces the in-memory set with
	// them, and returns a copy. No prior state yields an empty set.
	Load(ctx context.Context) (Set, error)

	// Record durably appends entry. Recording an entry that is already
	// present is a no-op.
	Record(ctx context.Context, entry model.LedgerEntry) error

	// Entries lists persisted entries in insertion order.
	Entries(ctx context.Context) ([]model.AnsweredRecord, error)

	// Close releases storage handles and inter-process locks.
	Close() error
}

// Options tunes Open.
type Options struct {
	// NoWait makes Open fail with ErrLocked instead of blocking when
	// another process holds the ledger.
	NoWait bool
}

// Open returns the backend selected by cfg.Backend. The returned ledger
// holds an inter-process lock until Close.
func Open(ctx context.Context, cfg model.LedgerConfig, opts Options) (Ledger, error) {
	var (
		l   Ledger
		err error
	)
	switch cfg.Backend {
	case model.LedgerBackendFile, "":
		l, err = OpenFile(cfg.Path, opts)
	case model.LedgerBackendSQLite:
		l, err = OpenSQLite(cfg.Path, opts)
	case model.LedgerBackendPostgres:
		l, err = OpenPostgres(ctx, cfg.DSN, opts)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func validateEntry(e model.LedgerEntry) error {
	if e.QuestionID == "" || e.RecipientID == "" {
		return fmt.Errorf("ledger entry needs both ids, got (%q, %q)", e.QuestionID, e.RecipientID)
	}
	return nil
}
