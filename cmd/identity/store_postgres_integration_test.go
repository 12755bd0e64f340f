package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when BETSWEB_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresProvider_SignInAuthenticateRevoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbURL := os.Getenv("BETSWEB_DATABASE_URL")
	if dbURL == "" {
		t.Skip("BETSWEB_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool := mustPool(ctx, t, dbURL)
	defer pool.Close()

	tokens, err := NewPasetoV4PublicManager(testConfig(t))
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	provider, err := NewPostgresProvider(slog.Default(), pool, tokens)
	if err != nil {
		t.Fatalf("NewPostgresProvider: %v", err)
	}

	uid := mustNewULID(t)
	email := strings.ToLower(uid) + "@test.invalid"
	mustCreateUser(ctx, t, pool, uid, email, "correct horse battery")
	t.Cleanup(func() { cleanupUser(ctx, t, pool, uid) })

	cred, err := provider.SignIn(ctx, email, "correct horse battery")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if cred.UID != uid {
		t.Fatalf("credential uid=%q, want %q", cred.UID, uid)
	}

	if _, err := provider.SignIn(ctx, email, "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}

	principal, err := provider.Authenticate(ctx, cred.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.UID != uid {
		t.Fatalf("principal uid=%q, want %q", principal.UID, uid)
	}

	if err := provider.RevokeAll(ctx, uid); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if _, err := provider.Authenticate(ctx, cred.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token after revoke: got %v", err)
	}
}

func mustPool(ctx context.Context, t *testing.T, dbURL string) *pgxpool.Pool {
	t.Helper()

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if skipOnUnreachable(err) {
			t.Skipf("integration test skipped: Postgres unreachable (BETSWEB_DATABASE_URL set): %v", err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}
	return pool
}

func skipOnUnreachable(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host")
}

func mustNewULID(t *testing.T) string {
	t.Helper()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

func mustCreateUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, uid, email, password string) {
	t.Helper()

	hash, err := HashPassword(password, DefaultArgon2idParams())
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO betsweb.users (uid, email, password_hash, role, credential_version, disabled, created_at)
		VALUES ($1, $2, $3, 'member', 1, false, now())
	`, uid, email, hash)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func cleanupUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, uid string) {
	t.Helper()
	_, _ = pool.Exec(ctx, `DELETE FROM betsweb.users WHERE uid = $1`, uid)
}
