package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/quickans/internal/model"
)

// SQLiteLedger stores entries in a local SQLite database.
type SQLiteLedger struct {
	db     *sqlx.DB
	set    Set
	unlock func()
}

// answeredRow is one row of the answered table.
type answeredRow struct {
	QuestionID  string    `db:"question_id"`
	RecipientID string    `db:"recipient_id"`
	AnsweredAt  time.Time `db:"answered_at"`
}

// OpenSQLite opens (or creates) a SQLite database at dbPath, enables WAL
// mode, and runs any pending schema migrations. File databases are
// guarded by a sidecar flock like the file ledger; ":memory:" is not.
func OpenSQLite(dbPath string, opts Options) (*SQLiteLedger, error) {
	var unlock func()
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
		var err error
		unlock, err = acquireLock(dbPath+".lock", !opts.NoWait)
		if err != nil {
			return nil, err
		}
	}

	l, err := newSQLiteLedger(dbPath)
	if err != nil {
		if unlock != nil {
			unlock()
		}
		return nil, err
	}
	l.unlock = unlock
	return l, nil
}

func newSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and
	// serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Commits must reach disk before Record returns.
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	l := &SQLiteLedger{db: db, set: make(Set)}
	if err := l.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return l, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (l *SQLiteLedger) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := l.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = l.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := l.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Load reads every row into the in-memory set.
func (l *SQLiteLedger) Load(ctx context.Context) (Set, error) {
	var rows []answeredRow
	err := l.db.SelectContext(ctx, &rows,
		"SELECT question_id, recipient_id, answered_at FROM answered")
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	set := make(Set, len(rows))
	for i, r := range rows {
		entry := rowEntry(r)
		if err := validateEntry(entry); err != nil {
			return nil, &CorruptionError{Path: "answered", Line: i + 1, Err: err}
		}
		set[entry] = struct{}{}
	}

	l.set = set
	return set.clone(), nil
}

// Contains reports whether entry was loaded or recorded.
func (l *SQLiteLedger) Contains(entry model.LedgerEntry) bool {
	return l.set.Contains(entry)
}

// Record inserts entry; an existing row is left untouched.
func (l *SQLiteLedger) Record(ctx context.Context, entry model.LedgerEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO answered (question_id, recipient_id, answered_at)
		VALUES (?, ?, ?)`,
		string(entry.QuestionID), string(entry.RecipientID), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording %s for %s: %w", entry.QuestionID, entry.RecipientID, err)
	}

	l.set[entry] = struct{}{}
	return nil
}

// Entries lists rows ordered by answer time.
func (l *SQLiteLedger) Entries(ctx context.Context) ([]model.AnsweredRecord, error) {
	var rows []answeredRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT question_id, recipient_id, answered_at
		FROM answered ORDER BY answered_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}

	records := make([]model.AnsweredRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, model.AnsweredRecord{
			LedgerEntry: rowEntry(r),
			AnsweredAt:  r.AnsweredAt,
		})
	}
	return records, nil
}

// Close closes the database and releases the sidecar lock.
func (l *SQLiteLedger) Close() error {
	err := l.db.Close()
	if l.unlock != nil {
		l.unlock()
		l.unlock = nil
	}
	return err
}

func rowEntry(r answeredRow) model.LedgerEntry {
	return model.LedgerEntry{
		QuestionID:  model.QuestionID(r.QuestionID),
		RecipientID: model.RecipientID(r.RecipientID),
	}
}
