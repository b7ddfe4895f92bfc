package authcore

import (
	"context"
	"errors"
	"time"

	internalaudit "github.com/haloedesk/authcore/internal/audit"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginRateLimited    = "login_rate_limited"
	auditEventLoginLockedOut      = "login_locked_out"
	auditEventTwoFactorRequired   = "two_factor_required"
	auditEventTwoFactorSuccess    = "two_factor_success"
	auditEventTwoFactorFailure    = "two_factor_failure"
	auditEventTwoFactorExceeded   = "two_factor_attempts_exceeded"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventRefreshRateLimited  = "refresh_rate_limited"
	auditEventRefreshReplay       = "refresh_replay_detected"
	auditEventValidateFailure     = "validate_failure"
	auditEventCSRFMismatch        = "csrf_mismatch"
	auditEventLogoutSession       = "logout_session"
	auditEventRevokeAll           = "revoke_all"
	auditEventSessionTerminated   = "session_terminated"
	auditEventDeviceRegistered    = "device_registered"
	auditEventDeviceCodeIssued    = "device_code_issued"
	auditEventDeviceVerified      = "device_verified"
	auditEventDeviceVerifyFailed  = "device_verify_failed"
	auditEventDeviceRevoked       = "device_revoked"
	auditEventPasswordChanged     = "password_changed"
	auditEventLeaderElected       = "leader_elected"
	auditEventLeaderResigned      = "leader_resigned"
	auditEventStatePublished      = "state_published"
	auditEventTwoFactorEnabled    = "two_factor_enabled"
	auditEventTwoFactorDisabled   = "two_factor_disabled"
	auditEventTwoFactorProvision  = "two_factor_setup_requested"
)

// AuditErrorCode is the stable error identifier recorded on failed audit
// events instead of raw error strings.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrLockedOut          AuditErrorCode = "locked_out"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrVersionMismatch    AuditErrorCode = "token_version_mismatch"
	auditErrRefreshReplay      AuditErrorCode = "refresh_replay"
	auditErrCSRFMismatch       AuditErrorCode = "csrf_mismatch"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionTerminated  AuditErrorCode = "session_terminated"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrDeviceNotFound     AuditErrorCode = "device_not_found"
	auditErrDeviceNotTrusted   AuditErrorCode = "device_not_trusted"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrCodeExpired        AuditErrorCode = "code_expired"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrTwoFactorRequired  AuditErrorCode = "two_factor_required"
	auditErrTwoFactorInvalid   AuditErrorCode = "two_factor_invalid"
	auditErrNotLeader          AuditErrorCode = "not_leader"
	auditErrStaleWrite         AuditErrorCode = "stale_write"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *internalaudit.Dispatcher {
	return internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID, sessionID, deviceID, tabID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		DeviceID:  deviceID,
		TabID:     tabID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountLocked):
		return auditErrLockedOut
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrRefreshReplay):
		return auditErrRefreshReplay
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenVersionMismatch):
		return auditErrVersionMismatch
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenWrongType),
		errors.Is(err, ErrRefreshInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrCSRFMismatch):
		return auditErrCSRFMismatch
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionTerminated):
		return auditErrSessionTerminated
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrDeviceNotFound):
		return auditErrDeviceNotFound
	case errors.Is(err, ErrDeviceNotTrusted):
		return auditErrDeviceNotTrusted
	case errors.Is(err, ErrDeviceCodeInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrDeviceCodeExpired),
		errors.Is(err, ErrTwoFactorExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrDeviceMaxAttempts),
		errors.Is(err, ErrTwoFactorAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrTwoFactorInvalid),
		errors.Is(err, ErrTwoFactorNotEnabled):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrNotLeader):
		return auditErrNotLeader
	case errors.Is(err, ErrStaleWrite):
		return auditErrStaleWrite
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrDeviceUnavailable),
		errors.Is(err, ErrTwoFactorUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
