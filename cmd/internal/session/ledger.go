package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"betsweb/cmd/identity/ids"
)

// CredentialRevoker is the identity-provider boundary the ledger needs.
//
// SignOut tears down the caller's own provider session after a rejected
// login; RevokeAll invalidates every outstanding credential for a user
// (forced logout).
type CredentialRevoker interface {
	SignOut(ctx context.Context, uid string) error
	RevokeAll(ctx context.Context, uid string) error
}

// Caller identifies the authenticated principal invoking an
// administrative operation.
type Caller struct {
	UID  string
	Role Role
}

// Ledger owns the invariant "active session count per user <= maxSessions
// (unless role == superadmin)".
//
// All mutations run inside Store.Mutate; no unguarded read-modify-write
// exists anywhere in this type.
type Ledger struct {
	log   *slog.Logger
	cfg   Config
	store Store
	idp   CredentialRevoker
}

// NewLedger constructs a Ledger.
func NewLedger(log *slog.Logger, cfg Config, store Store, idp CredentialRevoker) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{log: log, cfg: cfg, store: store, idp: idp}
}

// Acquire claims one session slot for uid and returns the new session id.
//
// The check and the increment commit atomically: when two devices race
// for the last free slot, exactly one wins. On ErrSessionLimitExceeded
// the remote record is unchanged and the partially-established
// identity-provider session is signed out.
func (l *Ledger) Acquire(ctx context.Context, uid string, role Role) (string, error) {
	if strings.TrimSpace(uid) == "" {
		return "", fmt.Errorf("%w: empty uid", ErrInvalidArgument)
	}

	now := time.Now().UTC()

	// Generated outside the transaction body: the body must stay a pure
	// function of the snapshot so the store can re-invoke it on conflict.
	sessionID, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	rec, err := l.store.Mutate(ctx, uid, func(rec *Record) error {
		if rec.MaxSessions <= 0 {
			rec.MaxSessions = l.cfg.DefaultMaxSessions
		}
		rec.Role = role

		if !role.CapExempt() && rec.ActiveSessionsCount >= rec.MaxSessions {
			return ErrSessionLimitExceeded
		}

		if rec.Sessions == nil {
			rec.Sessions = make(map[string]Entry, 1)
		}
		rec.Sessions[sessionID] = Entry{CreatedAt: now, LastHeartbeat: now, Role: role}
		rec.ActiveSessionsCount++
		rec.HasActiveSession = true
		rec.LastHeartbeat = now
		return nil
	})
	if errors.Is(err, ErrSessionLimitExceeded) {
		// The provider login preceded the slot claim; undo it so the user
		// is not left half signed in on a rejected device.
		if serr := l.idp.SignOut(ctx, uid); serr != nil {
			l.log.Warn("session.acquire.signout.fail", "uid", uid, "err", serr)
		}
		metricRejected.Inc()
		l.log.Info("session.acquire.rejected", "uid", uid, "role", string(role))
		return "", err
	}
	if err != nil {
		return "", err
	}

	metricAcquired.Inc()
	l.log.Info("session.acquire", "uid", uid, "session_id", sessionID, "active", rec.ActiveSessionsCount, "max", rec.MaxSessions)
	return sessionID, nil
}

// Release returns uid's slot for sessionID (clean logout).
//
// The decrement is clamped at zero and re-reads inside the transaction,
// so concurrent mutations and repeated releases are safe.
func (l *Ledger) Release(ctx context.Context, uid, sessionID string) error {
	if strings.TrimSpace(uid) == "" {
		return fmt.Errorf("%w: empty uid", ErrInvalidArgument)
	}

	rec, err := l.store.Mutate(ctx, uid, func(rec *Record) error {
		delete(rec.Sessions, sessionID)
		if rec.ActiveSessionsCount > 0 {
			rec.ActiveSessionsCount--
		}
		rec.HasActiveSession = rec.ActiveSessionsCount > 0
		return nil
	})
	if err != nil {
		l.log.Warn("session.release.fail", "uid", uid, "session_id", sessionID, "err", err)
		return err
	}

	l.log.Info("session.release", "uid", uid, "session_id", sessionID, "active", rec.ActiveSessionsCount)
	return nil
}

// ReleaseOldest drops uid's session with the oldest heartbeat.
//
// This backs the browser-unload beacon, which only knows the uid. It is
// advisory: reconciliation remains the authoritative cleanup.
func (l *Ledger) ReleaseOldest(ctx context.Context, uid string) error {
	if strings.TrimSpace(uid) == "" {
		return fmt.Errorf("%w: empty uid", ErrInvalidArgument)
	}

	_, err := l.store.Mutate(ctx, uid, func(rec *Record) error {
		oldest := ""
		for id, e := range rec.Sessions {
			if oldest == "" || e.LastHeartbeat.Before(rec.Sessions[oldest].LastHeartbeat) {
				oldest = id
			}
		}
		if oldest != "" {
			delete(rec.Sessions, oldest)
		}
		if rec.ActiveSessionsCount > 0 {
			rec.ActiveSessionsCount--
		}
		rec.HasActiveSession = rec.ActiveSessionsCount > 0
		return nil
	})
	if err != nil {
		l.log.Warn("session.release_oldest.fail", "uid", uid, "err", err)
		return err
	}

	l.log.Info("session.release_oldest", "uid", uid)
	return nil
}

// ForceReleaseAll zeroes uid's session state and revokes every credential
// at the identity-provider boundary. Admin/superadmin callers only.
func (l *Ledger) ForceReleaseAll(ctx context.Context, caller Caller, uid string) error {
	if strings.TrimSpace(caller.UID) == "" {
		return ErrUnauthenticated
	}
	if !caller.Role.CanForceLogout() {
		return ErrPermissionDenied
	}
	if strings.TrimSpace(uid) == "" {
		return fmt.Errorf("%w: empty uid", ErrInvalidArgument)
	}

	// Credentials first: once revoked, the user's clients cannot race new
	// sessions in while the counters are being zeroed.
	if err := l.idp.RevokeAll(ctx, uid); err != nil {
		return fmt.Errorf("%w: revoke credentials: %v", ErrInternal, err)
	}

	_, err := l.store.Mutate(ctx, uid, func(rec *Record) error {
		rec.ActiveSessionsCount = 0
		rec.HasActiveSession = false
		rec.Sessions = make(map[string]Entry)
		return nil
	})
	if err != nil {
		return err
	}

	metricForcedLogouts.Inc()
	l.log.Info("session.force_release_all", "uid", uid, "caller_uid", caller.UID)
	return nil
}

// ReconcileStale removes uid's sessions whose last heartbeat is older
// than olderThan and decrements the counter by exactly that many, inside
// one transaction. Superadmin accounts are skipped entirely. An
// olderThan <= 0 falls back to the configured StaleTimeout.
//
// Returns the number of sessions removed.
func (l *Ledger) ReconcileStale(ctx context.Context, uid string, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = l.cfg.StaleTimeout
	}

	rec, err := l.store.Get(ctx, uid)
	if errors.Is(err, ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if rec.Role.CapExempt() {
		return 0, nil
	}

	now := time.Now().UTC()
	removed := 0

	_, err = l.store.Mutate(ctx, uid, func(rec *Record) error {
		// Re-check on the transactional snapshot; the role may have
		// changed since the unguarded read above.
		if rec.Role.CapExempt() {
			removed = 0
			return nil
		}

		removed = 0
		for id, e := range rec.Sessions {
			if now.Sub(e.LastHeartbeat) > olderThan {
				delete(rec.Sessions, id)
				removed++
			}
		}

		rec.ActiveSessionsCount -= removed
		if rec.ActiveSessionsCount < 0 {
			rec.ActiveSessionsCount = 0
		}
		rec.HasActiveSession = rec.ActiveSessionsCount > 0
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		metricReconciled.Add(float64(removed))
		l.log.Info("session.reconcile", "uid", uid, "removed", removed, "older_than", olderThan.String())
	}
	return removed, nil
}
