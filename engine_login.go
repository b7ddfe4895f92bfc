package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/haloedesk/authcore/internal"
	"github.com/haloedesk/authcore/internal/rate"
	"github.com/haloedesk/authcore/internal/stores"
	"github.com/haloedesk/authcore/realtime"
	"github.com/haloedesk/authcore/session"
)

// Login authenticates the request's credentials and either starts a session
// or, for accounts with two-factor enabled, hands back a temp token to be
// confirmed via [Engine.ConfirmTwoFactor].
//
// Every outcome is padded to the configured uniform latency window, so the
// response time does not reveal whether the account exists, the password was
// wrong, or a limit fired.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.withUniformLatency(ctx, func() (*LoginResult, error) {
		return e.login(ctx, req)
	})
}

func (e *Engine) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if req.Identifier == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	ip := clientIPFromContext(ctx)

	if e.config.RateLimit.Enabled {
		if err := e.limiter.CheckLogin(ctx, req.Identifier, ip); err != nil {
			switch {
			case errors.Is(err, rate.ErrLockedOut):
				e.metricInc(MetricLoginLockedOut)
				e.emitAudit(ctx, auditEventLoginLockedOut, false, "", "", "", req.TabID, ErrAccountLocked, nil)
				return nil, ErrAccountLocked
			case errors.Is(err, rate.ErrRateLimited):
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", "", req.TabID, ErrLoginRateLimited, nil)
				return nil, ErrLoginRateLimited
			default:
				return nil, err
			}
		}
	}

	user, err := e.userProvider.GetUserByIdentifier(ctx, req.Identifier)
	if err != nil {
		return nil, e.failLogin(ctx, req, "", ErrInvalidCredentials)
	}

	ok, err := e.passwords.Verify(req.Password, user.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, req, user.UserID, ErrInvalidCredentials)
	}

	if e.config.RateLimit.Enabled {
		if err := e.limiter.ResetLogin(ctx, req.Identifier, ip); err != nil {
			e.logger.Warn("login limiter reset failed", "error", err)
		}
	}
	e.maybeUpgradeHash(ctx, user, req.Password)

	deviceID := ""
	if e.config.Device.Enabled && req.Fingerprint != "" {
		record, created, err := e.devices.Ensure(ctx, user.UserID, req.Fingerprint, req.DeviceName)
		if err != nil {
			return nil, ErrDeviceUnavailable
		}
		deviceID = record.DeviceID
		if created {
			e.metricInc(MetricDeviceRegistered)
			e.emitAudit(ctx, auditEventDeviceRegistered, true, user.UserID, "", deviceID, req.TabID, nil, func() map[string]string {
				return map[string]string{"device_name": record.Name}
			})
		}
		if e.config.Device.RequireTrusted && !record.Trusted {
			return nil, e.failLogin(ctx, req, user.UserID, ErrDeviceNotTrusted)
		}
		if err := e.devices.TouchLastUsed(ctx, deviceID); err != nil {
			e.logger.Warn("device last-used update failed", "device_id", deviceID, "error", err)
		}
	}

	if e.config.TwoFactor.Enabled && user.MFAEnabled {
		return e.beginTwoFactor(ctx, user, req, deviceID)
	}

	return e.establishSession(ctx, user, deviceID, req.TabID, req.RememberMe)
}

// failLogin burns a rate-limit attempt and records the failure. The returned
// error is always cause; callers return it directly.
func (e *Engine) failLogin(ctx context.Context, req LoginRequest, userID string, cause error) error {
	if e.config.RateLimit.Enabled {
		if err := e.limiter.IncrementLogin(ctx, req.Identifier, clientIPFromContext(ctx)); err != nil &&
			!errors.Is(err, rate.ErrRateLimited) {
			e.logger.Warn("login limiter increment failed", "error", err)
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", "", req.TabID, cause, nil)
	return cause
}

// maybeUpgradeHash transparently rehashes the password when the stored hash
// was produced under weaker parameters. Best effort.
func (e *Engine) maybeUpgradeHash(ctx context.Context, user UserRecord, plaintext string) {
	needs, err := e.passwords.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	rehashed, err := e.passwords.Hash(plaintext)
	if err != nil {
		return
	}
	if err := e.userProvider.UpdatePasswordHash(ctx, user.UserID, rehashed); err != nil {
		e.logger.Warn("password hash upgrade failed", "user_id", user.UserID, "error", err)
	}
}

func (e *Engine) beginTwoFactor(ctx context.Context, user UserRecord, req LoginRequest, deviceID string) (*LoginResult, error) {
	challengeID, err := internal.NewOpaqueID()
	if err != nil {
		return nil, err
	}

	challenge := &stores.TwoFactorChallenge{
		UserID:      user.UserID,
		Fingerprint: req.Fingerprint,
		DeviceName:  req.DeviceName,
		TabID:       req.TabID,
		RememberMe:  req.RememberMe,
		TrustDevice: req.TrustDevice,
		ExpiresAt:   time.Now().Add(e.config.TwoFactor.ChallengeTTL).Unix(),
	}
	if err := e.challenges.Save(ctx, challengeID, challenge, e.config.TwoFactor.ChallengeTTL); err != nil {
		return nil, ErrTwoFactorUnavailable
	}

	temp, err := e.tokens.IssueTemp(user.UserID, challengeID, user.TokenVersion)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, true, user.UserID, "", deviceID, req.TabID, nil, nil)

	return &LoginResult{
		DeviceID:          deviceID,
		RequiresTwoFactor: true,
		TempToken:         temp.Token,
		ExpiresAt:         temp.ExpiresAt,
	}, nil
}

// establishSession mints the session record, the token pair, and the CSRF
// token. Shared by password-only logins and two-factor confirmations.
func (e *Engine) establishSession(ctx context.Context, user UserRecord, deviceID, tabID string, rememberMe bool) (*LoginResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()

	csrfToken, err := internal.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	refreshTTL := e.config.Token.RefreshTTL
	if rememberMe {
		refreshTTL *= time.Duration(e.config.Token.RememberMeMultiplier)
	}

	refresh, err := e.tokens.IssueRefresh(user.UserID, sessionID, deviceID, user.TokenVersion, refreshTTL)
	if err != nil {
		return nil, err
	}
	access, err := e.tokens.IssueAccess(user.UserID, sessionID, deviceID, user.Role, user.TokenVersion)
	if err != nil {
		return nil, err
	}

	sess := &session.Session{
		SessionID:  sessionID,
		UserID:     user.UserID,
		DeviceID:   deviceID,
		TabID:      tabID,
		Role:       user.Role,
		RememberMe: rememberMe,
		RefreshJTI: refresh.JTI,
		CSRFToken:  csrfToken,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, sessionID, deviceID, tabID, nil, func() map[string]string {
		return map[string]string{
			"remember_me": strconv.FormatBool(rememberMe),
			"user_agent":  userAgentFromContext(ctx),
		}
	})

	event := realtime.NewEvent(realtime.EventSessionCreated, realtime.DirectionUp,
		user.UserID, deviceID, sessionID, tabID)
	e.publishEvent(ctx, event)

	return &LoginResult{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		CSRFToken:    csrfToken,
		SessionID:    sessionID,
		DeviceID:     deviceID,
		ExpiresAt:    access.ExpiresAt,
	}, nil
}
