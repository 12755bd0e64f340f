package notify

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max chat message length (runes).
	maxMessageChars = 4000
)

const (
	// Ping defaults (can be overridden by env in gateway.go).
	pingInterval = 25 * time.Second
	pingTimeout  = 5 * time.Second

	// Per-connection rate limits (frames per window).
	rateLimitFrames = 120
	rateLimitWindow = 10 * time.Second
)
