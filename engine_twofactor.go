package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haloedesk/authcore/internal/stores"
	"github.com/haloedesk/authcore/realtime"
	"github.com/haloedesk/authcore/token"
)

// CAS on the last accepted time-step counter. A code for a counter at or
// below the recorded one is a replay.
const totpCounterScript = `
local counter = tonumber(ARGV[1])
local cur = tonumber(redis.call("GET", KEYS[1])) or -1
if counter <= cur then
  return 0
end
redis.call("SET", KEYS[1], counter, "PX", tonumber(ARGV[2]))
return 1
`

var totpCounterLua = redis.NewScript(totpCounterScript)

// ConfirmTwoFactor completes a login that [Engine.Login] answered with a
// temp token. A valid code consumes the challenge and establishes the
// session exactly as the original login request asked. Responses are padded
// like login responses.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.withUniformLatency(ctx, func() (*LoginResult, error) {
		return e.confirmTwoFactor(ctx, tempToken, code)
	})
}

func (e *Engine) confirmTwoFactor(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	claims, err := e.tokens.Parse(tempToken, token.TypeTemp)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.ChallengeID == "" {
		return nil, ErrTokenInvalid
	}

	challenge, err := e.challenges.Get(ctx, claims.ChallengeID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
			return nil, ErrTwoFactorExpired
		default:
			return nil, ErrTwoFactorUnavailable
		}
	}
	if challenge.UserID != claims.UID {
		return nil, ErrTokenInvalid
	}

	user, err := e.userProvider.GetUserByID(ctx, claims.UID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, ErrTokenVersionMismatch
	}

	mfa, err := e.userProvider.GetMFASecret(ctx, user.UserID)
	if err != nil || mfa == nil || !mfa.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	valid, counter, err := e.totp.VerifyCode(mfa.Secret, code, time.Now())
	if err != nil {
		return nil, ErrTwoFactorUnavailable
	}
	if valid {
		fresh, err := e.markCounterUsed(ctx, user.UserID, counter)
		if err != nil {
			return nil, ErrTwoFactorUnavailable
		}
		valid = fresh && counter > mfa.LastUsedCounter
	}
	if !valid {
		return nil, e.failTwoFactor(ctx, claims.ChallengeID, user.UserID, challenge)
	}

	if _, err := e.challenges.Delete(ctx, claims.ChallengeID); err != nil {
		e.logger.Warn("two-factor challenge cleanup failed", "error", err)
	}

	deviceID := ""
	if e.config.Device.Enabled && challenge.Fingerprint != "" {
		record, _, err := e.devices.Ensure(ctx, user.UserID, challenge.Fingerprint, challenge.DeviceName)
		if err != nil {
			return nil, ErrDeviceUnavailable
		}
		deviceID = record.DeviceID

		// The login asked to trust this device; the confirmed code is the
		// proof of possession.
		if challenge.TrustDevice && !record.Trusted {
			if err := e.devices.MarkTrusted(ctx, user.UserID, deviceID); err != nil {
				return nil, mapDeviceErr(err)
			}
			e.metricInc(MetricDeviceVerified)
			e.emitAudit(ctx, auditEventDeviceVerified, true, user.UserID, "", deviceID, challenge.TabID, nil, nil)
			e.publishEvent(ctx, realtime.NewEvent(realtime.EventDeviceVerified, realtime.DirectionDown,
				user.UserID, deviceID, "", ""))
		}
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, user.UserID, "", deviceID, challenge.TabID, nil, nil)

	return e.establishSession(ctx, user, deviceID, challenge.TabID, challenge.RememberMe)
}

// markCounterUsed reserves the TOTP time-step counter so the same code
// cannot be accepted twice inside its validity window.
func (e *Engine) markCounterUsed(ctx context.Context, userID string, counter int64) (bool, error) {
	window := time.Duration(e.config.TwoFactor.Period*(2*e.config.TwoFactor.Skew+2)) * time.Second
	result, err := totpCounterLua.Run(
		ctx,
		e.redis,
		[]string{e.config.KeyPrefix + ":totp:" + userID},
		counter,
		window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (e *Engine) failTwoFactor(ctx context.Context, challengeID, userID string, challenge *stores.TwoFactorChallenge) error {
	exceeded, err := e.challenges.RecordFailure(ctx, challengeID, e.config.TwoFactor.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
			return ErrTwoFactorExpired
		default:
			return ErrTwoFactorUnavailable
		}
	}

	e.metricInc(MetricTwoFactorFailure)
	if exceeded {
		e.emitAudit(ctx, auditEventTwoFactorExceeded, false, userID, "", "", challenge.TabID, ErrTwoFactorAttempts, nil)
		return ErrTwoFactorAttempts
	}
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, "", "", challenge.TabID, ErrTwoFactorInvalid, nil)
	return ErrTwoFactorInvalid
}

// ProvisionMFA generates a fresh TOTP secret and the otpauth:// URI to show
// as a QR code. The secret is not active until [Engine.EnableMFA] confirms
// the first code.
func (e *Engine) ProvisionMFA(ctx context.Context, userID string) (*MFAProvision, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactorProvision, true, userID, "", "", "", nil, nil)
	return &MFAProvision{
		Secret:       secret,
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, user.Identifier),
	}, nil
}

// EnableMFA activates two-factor for the user after verifying one code
// against the provisioned secret.
func (e *Engine) EnableMFA(ctx context.Context, userID string, secret []byte, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	valid, _, err := e.totp.VerifyCode(secret, code, time.Now())
	if err != nil {
		return ErrTwoFactorUnavailable
	}
	if !valid {
		return ErrTwoFactorInvalid
	}

	if err := e.userProvider.EnableMFA(ctx, userID, secret); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", "", "", nil, nil)
	return nil
}

// DisableMFA deactivates two-factor. The caller must present a currently
// valid code; losing the authenticator goes through account recovery, not
// this path.
func (e *Engine) DisableMFA(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	mfa, err := e.userProvider.GetMFASecret(ctx, userID)
	if err != nil || mfa == nil || !mfa.Enabled {
		return ErrTwoFactorNotEnabled
	}

	valid, _, err := e.totp.VerifyCode(mfa.Secret, code, time.Now())
	if err != nil {
		return ErrTwoFactorUnavailable
	}
	if !valid {
		return ErrTwoFactorInvalid
	}

	if err := e.userProvider.DisableMFA(ctx, userID); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, userID, "", "", "", nil, nil)
	return nil
}
