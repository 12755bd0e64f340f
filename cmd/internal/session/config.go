package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// DefaultMaxSessions is applied to records that carry no explicit cap.
	DefaultMaxSessions int

	// HeartbeatInterval is the liveness ping period for an active session.
	HeartbeatInterval time.Duration

	// StaleTimeout is how long a session may miss heartbeats before a
	// reconciliation sweep treats it as abandoned.
	StaleTimeout time.Duration

	// TxAttempts bounds serializable-transaction retries in the Postgres
	// store before the operation surfaces ErrInternal.
	TxAttempts int
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		DefaultMaxSessions: 1,
		HeartbeatInterval:  30 * time.Second,
		StaleTimeout:       5 * time.Minute,
		TxAttempts:         5,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - BETSWEB_SESSION_DEFAULT_MAX
//   - BETSWEB_SESSION_HEARTBEAT_INTERVAL
//   - BETSWEB_SESSION_STALE_TIMEOUT
//   - BETSWEB_SESSION_TX_ATTEMPTS
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("BETSWEB_SESSION_DEFAULT_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.DefaultMaxSessions = n
	}

	if v := os.Getenv("BETSWEB_SESSION_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.HeartbeatInterval = d
	}

	if v := os.Getenv("BETSWEB_SESSION_STALE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StaleTimeout = d
	}

	if v := os.Getenv("BETSWEB_SESSION_TX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 20 {
			return Config{}, ErrConfig
		}
		cfg.TxAttempts = n
	}

	// Invariant: a stale sweep shorter than one heartbeat period would
	// reap live sessions.
	if cfg.StaleTimeout <= cfg.HeartbeatInterval {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
