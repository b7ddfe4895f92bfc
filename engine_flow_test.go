package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haloedesk/authcore/token"
)

func TestLoginIssuesWorkingSession(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	result := mustLogin(t, engine, defaultLoginRequest())
	if result.AccessToken == "" || result.RefreshToken == "" || result.CSRFToken == "" {
		t.Fatal("missing token material")
	}
	if result.SessionID == "" || result.DeviceID == "" {
		t.Fatal("missing session or device ID")
	}

	auth, err := engine.Validate(ctx, result.AccessToken, result.CSRFToken)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if auth.UserID != "user-1" || auth.SessionID != result.SessionID {
		t.Errorf("unexpected auth result: %+v", auth)
	}
	if auth.Role != "user" {
		t.Errorf("role = %q, want user", auth.Role)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	req := defaultLoginRequest()
	req.Password = "wrong"
	if _, err := engine.Login(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("got %v, want ErrInvalidCredentials", err)
	}
	if got := engine.Metrics().Value(MetricLoginFailure); got != 1 {
		t.Errorf("failure counter = %d, want 1", got)
	}
}

func TestLoginUnknownUserSameError(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	req := defaultLoginRequest()
	req.Identifier = "nobody@example.com"
	// Unknown accounts and wrong passwords are indistinguishable.
	if _, err := engine.Login(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginEmptyCredentials(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, err := engine.Login(ctx, LoginRequest{Identifier: "a"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("got %v, want ErrInvalidCredentials", err)
	}
	if _, err := engine.Login(ctx, LoginRequest{Password: "b"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("got %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxLoginAttempts = 3
	engine, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	req := defaultLoginRequest()
	req.Password = "wrong"
	for i := 0; i < 3; i++ {
		if _, err := engine.Login(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}

	// The lockout also blocks the correct password.
	if _, err := engine.Login(ctx, defaultLoginRequest()); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("got %v, want ErrAccountLocked", err)
	}
}

func TestLoginResetsLimiterOnSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxLoginAttempts = 3
	engine, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	wrong := defaultLoginRequest()
	wrong.Password = "wrong"
	for i := 0; i < 2; i++ {
		_, _ = engine.Login(ctx, wrong)
	}

	mustLogin(t, engine, defaultLoginRequest())

	// The slate is clean; two more misses do not lock the account.
	for i := 0; i < 2; i++ {
		if _, err := engine.Login(ctx, wrong); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d after reset: got %v", i, err)
		}
	}
}

func TestValidateCSRFMismatch(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	result := mustLogin(t, engine, defaultLoginRequest())

	if _, err := engine.Validate(ctx, result.AccessToken, "forged"); !errors.Is(err, ErrCSRFMismatch) {
		t.Errorf("got %v, want ErrCSRFMismatch", err)
	}
	// Safe requests skip the CSRF comparison entirely.
	if _, err := engine.Validate(ctx, result.AccessToken, ""); err != nil {
		t.Errorf("validate without csrf failed: %v", err)
	}
}

func TestValidateGarbageToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())

	if _, err := engine.Validate(context.Background(), "not-a-jwt", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("got %v, want ErrTokenInvalid", err)
	}
}

func TestValidateSlidesSessionExpiry(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	result := mustLogin(t, engine, defaultLoginRequest())

	sessions, err := engine.ListSessions(ctx, "user-1")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list failed: %v (%d sessions)", err, len(sessions))
	}
	before := sessions[0].ExpiresAt

	time.Sleep(5 * time.Millisecond)
	if _, err := engine.Validate(ctx, result.AccessToken, ""); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	sessions, _ = engine.ListSessions(ctx, "user-1")
	if !sessions[0].ExpiresAt.After(before) {
		t.Error("validation did not slide the session expiry")
	}
}

func TestRefreshRotatesPair(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	login := mustLogin(t, engine, defaultLoginRequest())

	rotated, err := engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rotated.RefreshToken == login.RefreshToken {
		t.Error("refresh token not rotated")
	}
	if rotated.SessionID != login.SessionID {
		t.Error("rotation changed the session")
	}
	if rotated.CSRFToken != login.CSRFToken {
		t.Error("csrf token must survive rotation")
	}

	// The new pair works.
	if _, err := engine.Validate(ctx, rotated.AccessToken, rotated.CSRFToken); err != nil {
		t.Errorf("validate of rotated access failed: %v", err)
	}
	if _, err := engine.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Errorf("second rotation failed: %v", err)
	}
}

func TestRefreshReplayCaughtByDenylist(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	login := mustLogin(t, engine, defaultLoginRequest())

	if _, err := engine.Refresh(ctx, login.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	// The retired jti was pinned on rotation; the cheap check fires first
	// and escalates exactly like the store backstop would.
	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshReplay) {
		t.Fatalf("got %v, want ErrRefreshReplay", err)
	}
	if got := engine.Metrics().Value(MetricRefreshReplayDetected); got != 1 {
		t.Errorf("replay counter = %d, want 1", got)
	}
	sessions, _ := engine.ListSessions(ctx, "user-1")
	if len(sessions) != 0 {
		t.Errorf("%d live sessions after replay, want 0", len(sessions))
	}
}

func TestRefreshReplayEscalation(t *testing.T) {
	engine, _, mr := newTestEngine(t, testConfig())
	ctx := context.Background()

	login := mustLogin(t, engine, defaultLoginRequest())

	oldClaims, err := engine.tokens.Parse(login.RefreshToken, token.TypeRefresh)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rotated, err := engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	// Drop the denylist entry to simulate the replay arriving where the
	// rotation was never observed; the session-store CAS is the backstop.
	mr.Del("adl:" + oldClaims.ID)

	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshReplay) {
		t.Fatalf("got %v, want ErrRefreshReplay", err)
	}
	if got := engine.Metrics().Value(MetricRefreshReplayDetected); got != 1 {
		t.Errorf("replay counter = %d, want 1", got)
	}

	// Both branches of the fork are dead, including the legitimate one.
	if _, err := engine.Refresh(ctx, rotated.RefreshToken); err == nil {
		t.Error("rotation after replay escalation should fail")
	}
	sessions, _ := engine.ListSessions(ctx, "user-1")
	if len(sessions) != 0 {
		t.Errorf("%d sessions survived replay escalation", len(sessions))
	}
}

func TestRefreshWithAccessToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	login := mustLogin(t, engine, defaultLoginRequest())

	if _, err := engine.Refresh(ctx, login.AccessToken); !errors.Is(err, ErrTokenWrongType) {
		t.Errorf("got %v, want ErrTokenWrongType", err)
	}
}

func TestRefreshAfterRevokeAll(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	login := mustLogin(t, engine, defaultLoginRequest())

	if _, err := engine.RevokeAll(ctx, "user-1", ""); err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}

	// The version bump invalidates the refresh token even before the
	// terminated session is consulted.
	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrTokenVersionMismatch) {
		t.Errorf("got %v, want ErrTokenVersionMismatch", err)
	}
}

func TestLogoutKillsAccessToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	login := mustLogin(t, engine, defaultLoginRequest())

	if err := engine.Logout(ctx, login.AccessToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	// The jti is denylisted; the not-yet-expired token dies immediately.
	if _, err := engine.Validate(ctx, login.AccessToken, ""); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("got %v, want ErrTokenRevoked", err)
	}

	sessions, err := engine.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("%d sessions survived logout", len(sessions))
	}
}

func TestTerminateSessionOwnershipCheck(t *testing.T) {
	cfg := testConfig()
	engine, provider, _ := newTestEngine(t, cfg)
	seedUser(t, cfg, provider, "user-2", "bob@example.com", "hunter2-hunter2")
	ctx := context.Background()

	login := mustLogin(t, engine, defaultLoginRequest())

	// Another user cannot reach into the session.
	if err := engine.TerminateSession(ctx, "user-2", login.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}

	if err := engine.TerminateSession(ctx, "user-1", login.SessionID); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if _, err := engine.Validate(ctx, login.AccessToken, ""); !errors.Is(err, ErrSessionTerminated) {
		t.Errorf("got %v, want ErrSessionTerminated", err)
	}
}

func TestRevokeAllSparesCurrentSession(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	req := defaultLoginRequest()
	first := mustLogin(t, engine, req)
	req.TabID = "tab-2"
	second := mustLogin(t, engine, req)

	count, err := engine.RevokeAll(ctx, "user-1", second.SessionID)
	if err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}
	if count != 1 {
		t.Errorf("terminated = %d, want 1", count)
	}

	sessions, err := engine.ListSessions(ctx, "user-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != second.SessionID {
		t.Errorf("unexpected survivors: %+v", sessions)
	}

	// Spared session record lives, but the version bump still retired the
	// old tokens everywhere.
	if _, err := engine.Validate(ctx, first.AccessToken, ""); !errors.Is(err, ErrTokenVersionMismatch) {
		t.Errorf("got %v, want ErrTokenVersionMismatch", err)
	}
}

func TestRememberMeFlagPersists(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	req := defaultLoginRequest()
	req.RememberMe = true
	mustLogin(t, engine, req)

	sessions, err := engine.ListSessions(ctx, "user-1")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list failed: %v", err)
	}
	if !sessions[0].RememberMe {
		t.Error("remember flag not persisted to the session record")
	}
}

func TestTimingDefensePadsFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Timing.Enabled = true
	cfg.Timing.MinLatency = 30 * time.Millisecond
	cfg.Timing.MaxLatency = 60 * time.Millisecond
	engine, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	req := defaultLoginRequest()
	req.Password = "wrong"

	start := time.Now()
	_, err := engine.Login(ctx, req)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
	if elapsed < cfg.Timing.MinLatency {
		t.Errorf("failure returned in %v, below the %v floor", elapsed, cfg.Timing.MinLatency)
	}
}

func TestEngineNilSafe(t *testing.T) {
	var engine *Engine

	if _, err := engine.Login(context.Background(), defaultLoginRequest()); !errors.Is(err, ErrEngineNotReady) {
		t.Errorf("got %v, want ErrEngineNotReady", err)
	}
	if _, err := engine.Validate(context.Background(), "x", ""); !errors.Is(err, ErrEngineNotReady) {
		t.Errorf("got %v, want ErrEngineNotReady", err)
	}
	engine.Close()
}
