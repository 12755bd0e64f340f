package identity

import (
	"os"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config defines runtime configuration for the identity provider.
type Config struct {
	// Issuer is the "iss" claim stamped into and required from tokens.
	Issuer string

	// AccessTokenTTL bounds the lifetime of issued access tokens.
	AccessTokenTTL time.Duration

	// ClockSkew is the verification tolerance for clock drift.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-exported Ed25519 secret key.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns defaults suitable for development. The secret key
// is left empty; LoadConfigFromEnv generates an ephemeral one when the
// environment does not provide it.
func DefaultConfig() Config {
	return Config{
		Issuer:         "betsweb",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads identity configuration from environment
// variables.
//
// Optional:
//   - BETSWEB_IDENTITY_ISSUER
//   - BETSWEB_IDENTITY_ACCESS_TTL (Go duration)
//   - BETSWEB_IDENTITY_CLOCK_SKEW (Go duration)
//   - BETSWEB_IDENTITY_PASETO_SECRET_HEX
//
// When the secret key is absent an ephemeral keypair is generated, which
// is fine for development and tests but means tokens do not survive a
// process restart.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("BETSWEB_IDENTITY_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("BETSWEB_IDENTITY_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("BETSWEB_IDENTITY_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("BETSWEB_IDENTITY_PASETO_SECRET_HEX"); v != "" {
		if _, err := paseto.NewV4AsymmetricSecretKeyFromHex(v); err != nil {
			return Config{}, ErrConfig
		}
		cfg.PasetoV4SecretKeyHex = v
	} else {
		cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	}

	return cfg, nil
}
