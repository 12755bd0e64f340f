package identity

import (
	"context"
	"time"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UID  string
	Role string
}

// Credential is the result of a successful sign-in. Token is shown to the
// client exactly once and never stored server-side.
type Credential struct {
	UID       string
	Role      string
	Token     string
	ExpiresAt time.Time
}

// Provider is the identity-provider boundary.
//
// Tokens are stateless and carry the credential version current at issue
// time. RevokeAll bumps that version, which invalidates every token
// issued before the bump on the next Authenticate. SignOut is advisory:
// it cannot invalidate a single stateless token, only record the intent;
// the client is expected to discard its copy.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (Credential, error)
	Authenticate(ctx context.Context, token string) (Principal, error)
	SignOut(ctx context.Context, uid string) error
	RevokeAll(ctx context.Context, uid string) error
}
