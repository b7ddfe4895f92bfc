package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/haloedesk/authcore/password"
)

type stubUserProvider struct {
	mu      sync.RWMutex
	byID    map[string]UserRecord
	byIdent map[string]string
	mfa     map[string]MFARecord

	failLookups bool
}

func newStubUserProvider() *stubUserProvider {
	return &stubUserProvider{
		byID:    make(map[string]UserRecord),
		byIdent: make(map[string]string),
		mfa:     make(map[string]MFARecord),
	}
}

func (p *stubUserProvider) putUser(user UserRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[user.UserID] = user
	p.byIdent[user.Identifier] = user.UserID
}

func (p *stubUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.failLookups {
		return UserRecord{}, ErrUserNotFound
	}
	id, ok := p.byIdent[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return p.byID[id], nil
}

func (p *stubUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	user, ok := p.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}

func (p *stubUserProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = newHash
	p.byID[userID] = user
	return nil
}

func (p *stubUserProvider) IncrementTokenVersion(_ context.Context, userID string) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.byID[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	user.TokenVersion++
	p.byID[userID] = user
	return user.TokenVersion, nil
}

func (p *stubUserProvider) GetMFASecret(_ context.Context, userID string) (*MFARecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	record, ok := p.mfa[userID]
	if !ok {
		return &MFARecord{}, nil
	}
	return &record, nil
}

func (p *stubUserProvider) EnableMFA(_ context.Context, userID string, secret []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mfa[userID] = MFARecord{Secret: secret, Enabled: true, LastUsedCounter: -1}
	user, ok := p.byID[userID]
	if ok {
		user.MFAEnabled = true
		p.byID[userID] = user
	}
	return nil
}

func (p *stubUserProvider) DisableMFA(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.mfa, userID)
	user, ok := p.byID[userID]
	if ok {
		user.MFAEnabled = false
		p.byID[userID] = user
	}
	return nil
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("test-secret-key-0123456789abcdef")
	cfg.Timing.Enabled = false
	cfg.Audit.Enabled = false
	cfg.Session.SweepInterval = time.Hour
	return cfg
}

// newTestEngine wires an engine against miniredis with a seeded user
// "alice@example.com" / "correct-horse-battery".
func newTestEngine(t *testing.T, cfg Config) (*Engine, *stubUserProvider, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	provider := newStubUserProvider()
	seedUser(t, cfg, provider, "user-1", "alice@example.com", "correct-horse-battery")

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, provider, mr
}

func seedUser(t *testing.T, cfg Config, provider *stubUserProvider, userID, identifier, plaintext string) {
	t.Helper()

	hasher := mustHasher(t, cfg)
	hash, err := hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("seed hash failed: %v", err)
	}
	provider.putUser(UserRecord{
		UserID:       userID,
		Identifier:   identifier,
		PasswordHash: hash,
		Role:         "user",
		TokenVersion: 1,
	})
}

func mustHasher(t *testing.T, cfg Config) *password.Argon2 {
	t.Helper()
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("argon2 init failed: %v", err)
	}
	return hasher
}

func mustLogin(t *testing.T, engine *Engine, req LoginRequest) *LoginResult {
	t.Helper()
	result, err := engine.Login(context.Background(), req)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.RequiresTwoFactor {
		t.Fatal("unexpected two-factor challenge")
	}
	return result
}

func defaultLoginRequest() LoginRequest {
	return LoginRequest{
		Identifier:  "alice@example.com",
		Password:    "correct-horse-battery",
		Fingerprint: "fp-laptop",
		DeviceName:  "Laptop",
		TabID:       "tab-1",
	}
}
