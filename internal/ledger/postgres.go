package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nhle/quickans/internal/model"
)

// advisoryLockName is hashed into the pg_advisory_lock key shared by
// every QuickAns process pointed at the same database.
const advisoryLockName = "quickans.ledger"

// PostgresLedger stores entries in PostgreSQL so several hosts can share
// one ledger. A session advisory lock, held on a dedicated connection
// for the ledger's lifetime, serializes runs.
type PostgresLedger struct {
	pool     *pgxpool.Pool
	lockConn *pgxpool.Conn
	set      Set
}

// OpenPostgres connects, takes the advisory lock, and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("acquiring lock connection: %w", err)
	}

	if err := takeAdvisoryLock(ctx, conn, !opts.NoWait); err != nil {
		conn.Release()
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryKey())
		conn.Release()
		pool.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	return &PostgresLedger{pool: pool, lockConn: conn, set: make(Set)}, nil
}

func advisoryKey() int64 {
	h := fnv.New64a()
	h.Write([]byte(advisoryLockName))
	return int64(h.Sum64())
}

func takeAdvisoryLock(ctx context.Context, conn *pgxpool.Conn, wait bool) error {
	if wait {
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryKey()); err != nil {
			return fmt.Errorf("taking advisory lock: %w", err)
		}
		return nil
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryKey()).Scan(&ok); err != nil {
		return fmt.Errorf("taking advisory lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Load reads every row into the in-memory set.
func (l *PostgresLedger) Load(ctx context.Context) (Set, error) {
	rows, err := l.pool.Query(ctx, "SELECT question_id, recipient_id FROM answered")
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	defer rows.Close()

	set := make(Set)
	line := 0
	for rows.Next() {
		line++
		var q, r string
		if err := rows.Scan(&q, &r); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		entry := model.LedgerEntry{QuestionID: model.QuestionID(q), RecipientID: model.RecipientID(r)}
		if err := validateEntry(entry); err != nil {
			return nil, &CorruptionError{Path: "answered", Line: line, Err: err}
		}
		set[entry] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}

	l.set = set
	return set.clone(), nil
}

// Contains reports whether entry was loaded or recorded.
func (l *PostgresLedger) Contains(entry model.LedgerEntry) bool {
	return l.set.Contains(entry)
}

// Record inserts entry; an existing row is left untouched.
func (l *PostgresLedger) Record(ctx context.Context, entry model.LedgerEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO answered (question_id, recipient_id, answered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (question_id, recipient_id) DO NOTHING
	`, string(entry.QuestionID), string(entry.RecipientID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording %s for %s: %w", entry.QuestionID, entry.RecipientID, err)
	}

	l.set[entry] = struct{}{}
	return nil
}

// Entries lists rows ordered by answer time.
func (l *PostgresLedger) Entries(ctx context.Context) ([]model.AnsweredRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT question_id, recipient_id, answered_at
		FROM answered ORDER BY answered_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AnsweredRecord, error) {
		var (
			q, r string
			at   time.Time
		)
		if err := row.Scan(&q, &r, &at); err != nil {
			return model.AnsweredRecord{}, err
		}
		return model.AnsweredRecord{
			LedgerEntry: model.LedgerEntry{QuestionID: model.QuestionID(q), RecipientID: model.RecipientID(r)},
			AnsweredAt:  at,
		}, nil
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	return records, nil
}

// Close releases the advisory lock and the pool.
func (l *PostgresLedger) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.lockConn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryKey())
	l.lockConn.Release()
	l.pool.Close()
	return err
}
