package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (betsweb.user_sessions,
// one row per uid, sessions map as jsonb).
//
// Mutate runs under SERIALIZABLE isolation with bounded retry on
// serialization failures, which models the document store's retryable
// transactions: the mutation body re-executes against a fresh snapshot
// until it commits cleanly or the attempt budget is spent.
type PostgresStore struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, txAttempts int) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil db pool")
	}
	if txAttempts <= 0 {
		txAttempts = DefaultConfig().TxAttempts
	}
	return &PostgresStore{pool: pool, attempts: txAttempts}, nil
}

// Get loads the committed record for uid.
func (s *PostgresStore) Get(ctx context.Context, uid string) (Record, error) {
	return getRecord(ctx, s.pool, uid, false)
}

// Mutate applies fn inside a serializable transaction, retrying on
// serialization conflicts.
func (s *PostgresStore) Mutate(ctx context.Context, uid string, fn func(rec *Record) error) (Record, error) {
	var lastErr error

	for attempt := 0; attempt < s.attempts; attempt++ {
		rec, err := s.mutateOnce(ctx, uid, fn)
		if err == nil {
			return rec, nil
		}
		if !isSerializationFailure(err) {
			return Record{}, err
		}
		lastErr = err
	}

	return Record{}, fmt.Errorf("%w: transaction retries exhausted: %v", ErrInternal, lastErr)
}

func (s *PostgresStore) mutateOnce(ctx context.Context, uid string, fn func(rec *Record) error) (Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := getRecordTx(ctx, tx, uid)
	if errors.Is(err, ErrRecordNotFound) {
		// First sign-in: the mutation body sees a zeroed record.
		rec = Record{UID: uid}
	} else if err != nil {
		return Record{}, err
	}

	if err := fn(&rec); err != nil {
		// Abort with no write; the rollback in the defer handles the tx.
		return Record{}, err
	}

	if err := upsertRecordTx(ctx, tx, rec); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}

	return rec, nil
}

// StaleUIDs lists users holding at least one session whose last
// heartbeat is older than olderThan. Superadmin records are excluded,
// matching the reconcile policy.
func (s *PostgresStore) StaleUIDs(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT r.uid
		FROM betsweb.user_sessions r, jsonb_each(r.sessions) AS s(id, entry)
		WHERE r.role <> 'superadmin'
		  AND (s.entry->>'last_heartbeat')::timestamptz < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// Heartbeat merge-writes both heartbeat stamps in a single UPDATE guarded
// by the session entry still existing, so reaped sessions stay dead.
func (s *PostgresStore) Heartbeat(ctx context.Context, uid, sessionID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE betsweb.user_sessions
		SET last_heartbeat = $3,
		    sessions = jsonb_set(sessions, ARRAY[$2::text, 'last_heartbeat'], to_jsonb($3::timestamptz))
		WHERE uid = $1 AND sessions ? $2
	`, uid, sessionID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a vanished record from a vanished session entry.
	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM betsweb.user_sessions WHERE uid = $1`, uid).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	return ErrSessionNotFound
}
