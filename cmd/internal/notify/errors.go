package notify

import "errors"

var (
	// ErrRecipientOffline is returned when relaying to a uid with no
	// registered connection.
	ErrRecipientOffline = errors.New("notify: recipient offline")

	// ErrBackpressure is returned when a client's send queue is full.
	ErrBackpressure = errors.New("notify: send queue full")
)
