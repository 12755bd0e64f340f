package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless a database is configured and
	// reachable.
	ReadinessRequireDB bool

	// CORS policy for the admin/beacon HTTP surface. The WS gateway runs
	// its own origin allowlist independently of this.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Period of the server-side stale-session sweep. Zero disables the
	// sweep; the per-login reconcile still runs client-side.
	ReconcileInterval time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  envString("BETSWEB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  envString("BETSWEB_LOG_LEVEL", "info"),
		LogPretty: envBool("BETSWEB_LOG_PRETTY", false),

		ReadHeaderTimeout: envDuration("BETSWEB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       envDuration("BETSWEB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      envDuration("BETSWEB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       envDuration("BETSWEB_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    envInt("BETSWEB_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: envString("BETSWEB_DATABASE_URL", ""),
		DBMaxConns:  envInt32("BETSWEB_DB_MAX_CONNS", 10),
		DBMinConns:  envInt32("BETSWEB_DB_MIN_CONNS", 0),

		ReadinessRequireDB: envBool("BETSWEB_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   envCSV("BETSWEB_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: envBool("BETSWEB_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    envInt("BETSWEB_CORS_MAX_AGE_SECONDS", 600),

		ReconcileInterval: envDuration("BETSWEB_RECONCILE_INTERVAL", time.Minute),
	}
}
