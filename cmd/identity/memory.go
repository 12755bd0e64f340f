package identity

import (
	"context"
	"sync"
	"time"
)

// memoryUser is a MemoryProvider account.
type memoryUser struct {
	uid      string
	email    string
	hash     string
	role     string
	version  int64
	disabled bool
}

// MemoryProvider is the in-memory Provider used in tests and DB-less dev
// mode. It implements the same version-based revocation as the Postgres
// provider and records SignOut calls for assertions.
type MemoryProvider struct {
	tokens TokenManager

	mu       sync.Mutex
	users    map[string]*memoryUser // keyed by uid
	byEmail  map[string]string      // normalized email -> uid
	signOuts []string
}

// NewMemoryProvider constructs an empty MemoryProvider.
func NewMemoryProvider(tokens TokenManager) *MemoryProvider {
	return &MemoryProvider{
		tokens:  tokens,
		users:   make(map[string]*memoryUser),
		byEmail: make(map[string]string),
	}
}

// AddUser registers an account. The password is hashed with default
// parameters.
func (p *MemoryProvider) AddUser(uid, email, password, role string) error {
	hash, err := HashPassword(password, DefaultArgon2idParams())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[uid] = &memoryUser{uid: uid, email: normalizeEmail(email), hash: hash, role: role, version: 1}
	p.byEmail[normalizeEmail(email)] = uid
	return nil
}

// Disable locks the account out.
func (p *MemoryProvider) Disable(uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.users[uid]; ok {
		u.disabled = true
	}
}

// SignOuts returns the uids passed to SignOut, in order.
func (p *MemoryProvider) SignOuts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.signOuts))
	copy(out, p.signOuts)
	return out
}

func (p *MemoryProvider) SignIn(ctx context.Context, email, password string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	p.mu.Lock()
	uid, ok := p.byEmail[normalizeEmail(email)]
	var u memoryUser
	if ok {
		u = *p.users[uid]
	}
	p.mu.Unlock()

	if !ok {
		return Credential{}, ErrInvalidCredentials
	}
	match, err := VerifyPassword(password, u.hash)
	if err != nil || !match {
		return Credential{}, ErrInvalidCredentials
	}
	if u.disabled {
		return Credential{}, ErrUserDisabled
	}

	now := time.Now().UTC()
	token, exp, err := p.tokens.Issue(u.uid, u.role, u.version, now)
	if err != nil {
		return Credential{}, err
	}
	return Credential{UID: u.uid, Role: u.role, Token: token, ExpiresAt: exp}, nil
}

func (p *MemoryProvider) Authenticate(ctx context.Context, token string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	claims, err := p.tokens.Verify(token, time.Now().UTC())
	if err != nil {
		return Principal{}, err
	}

	p.mu.Lock()
	u, ok := p.users[claims.UID]
	var version int64
	var disabled bool
	if ok {
		version, disabled = u.version, u.disabled
	}
	p.mu.Unlock()

	if !ok || claims.Version != version {
		return Principal{}, ErrInvalidToken
	}
	if disabled {
		return Principal{}, ErrUserDisabled
	}
	return Principal{UID: claims.UID, Role: claims.Role}, nil
}

func (p *MemoryProvider) SignOut(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[uid]; !ok {
		return ErrUserNotFound
	}
	p.signOuts = append(p.signOuts, uid)
	return nil
}

func (p *MemoryProvider) RevokeAll(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[uid]
	if !ok {
		return ErrUserNotFound
	}
	u.version++
	return nil
}
