package realtime

import "errors"

var (
	// ErrNotConnected is returned by Send when the channel is not open.
	ErrNotConnected = errors.New("realtime: channel not open")

	// ErrUnauthenticated is returned by Connect without an identity.
	ErrUnauthenticated = errors.New("realtime: no authenticated user")

	// ErrConfig indicates invalid realtime configuration.
	ErrConfig = errors.New("realtime: invalid config")
)
