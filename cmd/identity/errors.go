package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	// ErrInvalidCredentials covers unknown email and wrong password alike,
	// so sign-in failures do not leak which one it was.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrInvalidToken is returned for malformed, expired, or revoked tokens.
	ErrInvalidToken = errors.New("invalid_token")

	// ErrUserNotFound is returned by operations that target a specific uid.
	ErrUserNotFound = errors.New("user_not_found")

	// ErrUserDisabled is returned when the account exists but is locked out.
	ErrUserDisabled = errors.New("user_disabled")

	// ErrConfig indicates invalid identity configuration.
	ErrConfig = errors.New("identity: invalid config")
)
