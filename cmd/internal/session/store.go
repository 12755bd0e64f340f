package session

import (
	"context"
	"time"
)

// Role is the user role snapshot carried by records and session entries.
type Role string

const (
	// RoleSuperadmin is exempt from the session cap and from reconciliation.
	RoleSuperadmin Role = "superadmin"
	// RoleAdmin may invoke administrative operations (force logout).
	RoleAdmin Role = "admin"
	// RoleMember is a regular paying user.
	RoleMember Role = "member"
	// RoleViewer has read-only access.
	RoleViewer Role = "viewer"
	// RoleGuest is the default role assigned at first sign-in.
	RoleGuest Role = "guest"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperadmin, RoleAdmin, RoleMember, RoleViewer, RoleGuest:
		return true
	}
	return false
}

// CapExempt reports whether the session cap does not apply to r.
func (r Role) CapExempt() bool { return r == RoleSuperadmin }

// CanForceLogout reports whether r may force-logout other users.
func (r Role) CanForceLogout() bool { return r == RoleAdmin || r == RoleSuperadmin }

// Entry is one device session inside a record's sessions map.
type Entry struct {
	CreatedAt     time.Time `json:"created_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Role          Role      `json:"role"`
}

// Record is the per-user session document.
//
// Committed-state invariants:
//   - 0 <= ActiveSessionsCount
//   - ActiveSessionsCount <= MaxSessions for non-superadmin roles
//   - HasActiveSession == (ActiveSessionsCount > 0)
type Record struct {
	UID                 string           `json:"uid"`
	Role                Role             `json:"role"`
	MaxSessions         int              `json:"max_sessions"`
	ActiveSessionsCount int              `json:"active_sessions_count"`
	HasActiveSession    bool             `json:"has_active_session"`
	LastHeartbeat       time.Time        `json:"last_heartbeat"`
	Sessions            map[string]Entry `json:"sessions"`
}

// Clone returns a deep copy (the sessions map is not shared).
func (r Record) Clone() Record {
	out := r
	out.Sessions = make(map[string]Entry, len(r.Sessions))
	for id, e := range r.Sessions {
		out.Sessions[id] = e
	}
	return out
}

// Store abstracts the remote document store holding one record per uid.
//
// Implementations must serialize concurrent mutations of the same uid:
// two devices racing for the last free slot must never both observe room
// under the cap.
type Store interface {
	// Get loads the committed record. Returns ErrRecordNotFound when the
	// user has never signed in.
	Get(ctx context.Context, uid string) (Record, error)

	// Mutate runs fn against the latest committed snapshot under a
	// retryable serializable transaction and commits the result.
	//
	// Contract:
	//   - fn may be invoked multiple times on conflict; it must be a pure
	//     function of the snapshot with no external side effects.
	//   - when no record exists, fn receives a zeroed Record for the uid
	//     (first sign-in creates it).
	//   - an error from fn aborts the transaction with no write and is
	//     returned verbatim.
	Mutate(ctx context.Context, uid string, fn func(rec *Record) error) (Record, error)

	// Heartbeat merge-writes the record-level and per-session heartbeat
	// stamps in one write. Returns ErrRecordNotFound / ErrSessionNotFound
	// when the target no longer exists; it never resurrects entries.
	Heartbeat(ctx context.Context, uid, sessionID string, now time.Time) error
}
