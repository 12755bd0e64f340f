package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresProvider implements Provider against betsweb.users.
//
// Revocation is version-based: every issued token pins the row's
// credential_version, and RevokeAll bumps it, so all earlier tokens fail
// Authenticate without any token blacklist.
type PostgresProvider struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	tokens TokenManager
}

// NewPostgresProvider creates a Postgres-backed identity provider.
func NewPostgresProvider(log *slog.Logger, pool *pgxpool.Pool, tokens TokenManager) (*PostgresProvider, error) {
	if pool == nil {
		return nil, errors.New("identity: nil db pool")
	}
	if tokens == nil {
		return nil, errors.New("identity: nil token manager")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresProvider{log: log, pool: pool, tokens: tokens}, nil
}

// SignIn verifies email+password and issues an access token.
// Unknown email and wrong password both map to ErrInvalidCredentials.
func (p *PostgresProvider) SignIn(ctx context.Context, email, password string) (Credential, error) {
	var (
		uid, hash, role string
		version         int64
		disabled        bool
	)
	err := p.pool.QueryRow(ctx, `
		SELECT uid, password_hash, role, credential_version, disabled
		FROM betsweb.users
		WHERE email = $1
	`, normalizeEmail(email)).Scan(&uid, &hash, &role, &version, &disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrInvalidCredentials
	}
	if err != nil {
		return Credential{}, fmt.Errorf("identity: sign in: %w", err)
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil || !ok {
		p.log.Info("identity.signin.rejected", "uid", uid)
		return Credential{}, ErrInvalidCredentials
	}
	if disabled {
		return Credential{}, ErrUserDisabled
	}

	now := time.Now().UTC()
	token, exp, err := p.tokens.Issue(uid, role, version, now)
	if err != nil {
		return Credential{}, fmt.Errorf("identity: issue token: %w", err)
	}

	p.log.Info("identity.signin", "uid", uid, "role", role)
	return Credential{UID: uid, Role: role, Token: token, ExpiresAt: exp}, nil
}

// Authenticate verifies the token signature and expiry, then checks the
// pinned credential version against the current row.
func (p *PostgresProvider) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := p.tokens.Verify(token, time.Now().UTC())
	if err != nil {
		return Principal{}, err
	}

	var (
		version  int64
		disabled bool
	)
	err = p.pool.QueryRow(ctx, `
		SELECT credential_version, disabled FROM betsweb.users WHERE uid = $1
	`, claims.UID).Scan(&version, &disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, fmt.Errorf("identity: authenticate: %w", err)
	}

	if claims.Version != version {
		// Issued before the last RevokeAll bump.
		return Principal{}, ErrInvalidToken
	}
	if disabled {
		return Principal{}, ErrUserDisabled
	}

	return Principal{UID: claims.UID, Role: claims.Role}, nil
}

// SignOut records the sign-out intent. Stateless tokens cannot be
// individually invalidated, so this only confirms the user exists; the
// client discards its token.
func (p *PostgresProvider) SignOut(ctx context.Context, uid string) error {
	var one int
	err := p.pool.QueryRow(ctx, `SELECT 1 FROM betsweb.users WHERE uid = $1`, uid).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("identity: sign out: %w", err)
	}

	p.log.Info("identity.signout", "uid", uid)
	return nil
}

// RevokeAll invalidates every outstanding token for uid by bumping the
// credential version.
func (p *PostgresProvider) RevokeAll(ctx context.Context, uid string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE betsweb.users
		SET credential_version = credential_version + 1
		WHERE uid = $1
	`, uid)
	if err != nil {
		return fmt.Errorf("identity: revoke all: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	p.log.Info("identity.revoke_all", "uid", uid)
	return nil
}

// normalizeEmail performs case-insensitive canonicalization.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
