package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nhle/quickans/internal/model"
)

// FileLedger stores one "questionId,recipientId" record per line. Fields
// containing commas or quotes are CSV-quoted, so plain ids keep the
// historical two-column format byte for byte.
type FileLedger struct {
	path   string
	set    Set
	order  []model.LedgerEntry
	unlock func()
}

// OpenFile creates the parent directory, takes the sidecar lock
// (<path>.lock) and returns an unloaded ledger.
func OpenFile(path string, opts Options) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	unlock, err := acquireLock(path+".lock", !opts.NoWait)
	if err != nil {
		return nil, err
	}

	return &FileLedger{path: path, set: make(Set), unlock: unlock}, nil
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string {
	return l.path
}

// Load parses the file. Any record that is not exactly two non-empty
// fields is a CorruptionError; blank lines are ignored.
func (l *FileLedger) Load(_ context.Context) (Set, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.set = make(Set)
			l.order = nil
			return make(Set), nil
		}
		return nil, fmt.Errorf("opening ledger %s: %w", l.path, err)
	}
	defer f.Close()

	set, order, err := parseRecords(l.path, f)
	if err != nil {
		return nil, err
	}

	l.set = set
	l.order = order
	return set.clone(), nil
}

func parseRecords(path string, r io.Reader) (Set, []model.LedgerEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.ReuseRecord = true

	set := make(Set)
	var order []model.LedgerEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, nil, &CorruptionError{Path: path, Line: parseErr.Line, Err: parseErr.Err}
			}
			return nil, nil, fmt.Errorf("reading ledger %s: %w", path, err)
		}

		line, _ := reader.FieldPos(0)
		entry := model.LedgerEntry{
			QuestionID:  model.QuestionID(record[0]),
			RecipientID: model.RecipientID(record[1]),
		}
		if err := validateEntry(entry); err != nil {
			return nil, nil, &CorruptionError{Path: path, Line: line, Err: err}
		}

		if _, dup := set[entry]; !dup {
			order = append(order, entry)
		}
		set[entry] = struct{}{}
	}

	return set, order, nil
}

// Contains reports whether entry was loaded or recorded.
func (l *FileLedger) Contains(entry model.LedgerEntry) bool {
	return l.set.Contains(entry)
}

// Record appends entry and fsyncs before adding it to the in-memory set.
func (l *FileLedger) Record(_ context.Context, entry model.LedgerEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if l.set.Contains(entry) {
		return nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{string(entry.QuestionID), string(entry.RecipientID)}); err != nil {
		return fmt.Errorf("encoding ledger entry: %w", err)
	}
	w.Flush()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening ledger %s: %w", l.path, err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("appending to ledger %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing ledger %s: %w", l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing ledger %s: %w", l.path, err)
	}

	l.set[entry] = struct{}{}
	l.order = append(l.order, entry)
	return nil
}

// Entries returns entries in file order. The file format carries no
// timestamps, so AnsweredAt is zero.
func (l *FileLedger) Entries(ctx context.Context) ([]model.AnsweredRecord, error) {
	if _, err := l.Load(ctx); err != nil {
		return nil, err
	}

	records := make([]model.AnsweredRecord, 0, len(l.order))
	for _, e := range l.order {
		records = append(records, model.AnsweredRecord{LedgerEntry: e})
	}
	return records, nil
}

// Close releases the sidecar lock.
func (l *FileLedger) Close() error {
	if l.unlock != nil {
		l.unlock()
		l.unlock = nil
	}
	return nil
}
