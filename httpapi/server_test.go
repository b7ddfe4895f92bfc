package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authcore "github.com/haloedesk/authcore"
	"github.com/haloedesk/authcore/middleware"
	"github.com/haloedesk/authcore/password"
)

type fixedUserProvider struct {
	user authcore.UserRecord
}

func (p *fixedUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	if identifier != p.user.Identifier {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return p.user, nil
}

func (p *fixedUserProvider) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	if userID != p.user.UserID {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return p.user, nil
}

func (p *fixedUserProvider) UpdatePasswordHash(_ context.Context, _, newHash string) error {
	p.user.PasswordHash = newHash
	return nil
}

func (p *fixedUserProvider) IncrementTokenVersion(_ context.Context, _ string) (uint32, error) {
	p.user.TokenVersion++
	return p.user.TokenVersion, nil
}

func (p *fixedUserProvider) GetMFASecret(context.Context, string) (*authcore.MFARecord, error) {
	return &authcore.MFARecord{}, nil
}

func (p *fixedUserProvider) EnableMFA(context.Context, string, []byte) error { return nil }
func (p *fixedUserProvider) DisableMFA(context.Context, string) error        { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("test-secret-key-0123456789abcdef")
	cfg.Timing.Enabled = false
	cfg.Audit.Enabled = false
	cfg.Session.SweepInterval = time.Hour

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
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	provider := &fixedUserProvider{user: authcore.UserRecord{
		UserID:       "user-1",
		Identifier:   "alice@example.com",
		PasswordHash: hash,
		Role:         "user",
		TokenVersion: 1,
	}}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(provider).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ts := httptest.NewServer(NewServer(engine, nil, Options{}).Router())
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("jar failed: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func login(t *testing.T, ts *httptest.Server, client *http.Client) loginResponse {
	t.Helper()

	body, _ := json.Marshal(map[string]interface{}{
		"identifier":  "alice@example.com",
		"password":    "correct-horse-battery",
		"fingerprint": "fp-laptop",
		"device_name": "Laptop",
		"tab_id":      "tab-1",
	})
	resp, err := client.Post(ts.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return result
}

func TestLoginSetsCookies(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)

	body, _ := json.Marshal(map[string]string{
		"identifier": "alice@example.com",
		"password":   "correct-horse-battery",
	})
	resp, err := client.Post(ts.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cookies := map[string]*http.Cookie{}
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c
	}

	for _, name := range []string{"access_token", "refresh_token"} {
		c, ok := cookies[name]
		if !ok {
			t.Fatalf("missing %s cookie", name)
		}
		if !c.HttpOnly {
			t.Errorf("%s must be HttpOnly", name)
		}
		if c.SameSite != http.SameSiteStrictMode {
			t.Errorf("%s SameSite = %v", name, c.SameSite)
		}
	}

	csrf, ok := cookies["csrf_token"]
	if !ok {
		t.Fatal("missing csrf cookie")
	}
	if csrf.HttpOnly {
		t.Error("csrf cookie must stay readable for the double-submit mirror")
	}
}

func TestLoginBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)

	body, _ := json.Marshal(map[string]string{
		"identifier": "alice@example.com",
		"password":   "wrong-password-here",
	})
	resp, err := client.Post(ts.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRefreshRotatesCookiePair(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)

	first := login(t, ts, client)

	resp, err := client.Post(ts.URL+"/auth/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var second loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&second); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if second.AccessToken == first.AccessToken {
		t.Error("access token did not rotate")
	}
	if second.SessionID != first.SessionID {
		t.Errorf("session changed across refresh: %s vs %s", second.SessionID, first.SessionID)
	}
}

func TestSessionsEndpointRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)

	resp, err := client.Get(ts.URL + "/auth/sessions")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	login(t, ts, client)

	resp, err = client.Get(ts.URL + "/auth/sessions")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var sessions []authcore.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1", len(sessions))
	}
}

func TestStateChangingRequestNeedsCSRFHeader(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)

	result := login(t, ts, client)

	// Cookie-only request: blocked before the engine is consulted.
	resp, err := client.Post(ts.URL+"/auth/revoke-all", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	// A forged header value is rejected by the double-submit check.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/auth/revoke-all", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(middleware.CSRFHeader, "forged-value")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/auth/revoke-all", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(middleware.CSRFHeader, result.CSRFToken)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCSRFReissueMatchesSessionToken(t *testing.T) {
	ts := newTestServer(t)
	client := newClient(t)

	result := login(t, ts, client)

	resp, err := client.Get(ts.URL + "/auth/csrf")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["csrf_token"] != result.CSRFToken {
		t.Error("re-issued token differs from the session's token")
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "csrf_token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("missing csrf cookie on re-issue")
	}
	if cookie.Value != result.CSRFToken || cookie.HttpOnly {
		t.Error("csrf cookie must carry the session token and stay readable")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
