package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRecord(ctx context.Context, q rowQuerier, uid string, forUpdate bool) (Record, error) {
	sql := `
		SELECT uid, role, max_sessions, active_sessions_count, has_active_session, last_heartbeat, sessions
		FROM betsweb.user_sessions
		WHERE uid = $1
	`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var (
		rec         Record
		lastHB      *time.Time
		sessionsRaw []byte
	)

	err := q.QueryRow(ctx, sql, uid).Scan(
		&rec.UID,
		&rec.Role,
		&rec.MaxSessions,
		&rec.ActiveSessionsCount,
		&rec.HasActiveSession,
		&lastHB,
		&sessionsRaw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}

	if lastHB != nil {
		rec.LastHeartbeat = *lastHB
	}
	rec.Sessions = make(map[string]Entry)
	if len(sessionsRaw) > 0 {
		if err := json.Unmarshal(sessionsRaw, &rec.Sessions); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

func getRecordTx(ctx context.Context, tx pgx.Tx, uid string) (Record, error) {
	return getRecord(ctx, tx, uid, true)
}

func upsertRecordTx(ctx context.Context, tx pgx.Tx, rec Record) error {
	sessionsRaw, err := json.Marshal(rec.Sessions)
	if err != nil {
		return err
	}

	var lastHB *time.Time
	if !rec.LastHeartbeat.IsZero() {
		lastHB = &rec.LastHeartbeat
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO betsweb.user_sessions (
			uid, role, max_sessions, active_sessions_count, has_active_session, last_heartbeat, sessions
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uid) DO UPDATE SET
			role = EXCLUDED.role,
			max_sessions = EXCLUDED.max_sessions,
			active_sessions_count = EXCLUDED.active_sessions_count,
			has_active_session = EXCLUDED.has_active_session,
			last_heartbeat = EXCLUDED.last_heartbeat,
			sessions = EXCLUDED.sessions
	`, rec.UID, string(rec.Role), rec.MaxSessions, rec.ActiveSessionsCount, rec.HasActiveSession, lastHB, sessionsRaw)
	return err
}

// isSerializationFailure reports whether err is a retryable concurrency
// conflict (serialization_failure or deadlock_detected).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
