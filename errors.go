package authcore

import "errors"

// Authentication errors: credential checks and account gating.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountLocked      = errors.New("account locked")
)

// Token errors: verification and rotation of issued tokens.
var (
	ErrTokenInvalid         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenWrongType       = errors.New("token type mismatch")
	ErrTokenVersionMismatch = errors.New("token version mismatch")
	ErrTokenRevoked         = errors.New("token revoked")
	ErrRefreshInvalid       = errors.New("invalid refresh token")
	ErrRefreshReplay        = errors.New("refresh token replay detected")
	ErrCSRFMismatch         = errors.New("csrf token mismatch")
)

// Session errors.
var (
	ErrSessionNotFound           = errors.New("session not found")
	ErrSessionTerminated         = errors.New("session terminated")
	ErrSessionExpired            = errors.New("session expired")
	ErrSessionCreationFailed     = errors.New("session creation failed")
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
)

// Device trust errors.
var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceNotTrusted    = errors.New("device not trusted")
	ErrDeviceCodeInvalid   = errors.New("invalid device verification code")
	ErrDeviceCodeExpired   = errors.New("device verification code expired")
	ErrDeviceMaxAttempts   = errors.New("device verification attempts exceeded")
	ErrDeviceRevokeCurrent = errors.New("cannot revoke the device of the current session")
	ErrDeviceUnavailable   = errors.New("device backend unavailable")
)

// Coordination errors: cross-tab leadership and shared state.
var (
	ErrNotLeader  = errors.New("caller is not the current leader tab")
	ErrStaleWrite = errors.New("shared state version is stale")
)

// Two-factor errors.
var (
	ErrTwoFactorRequired    = errors.New("two-factor verification required")
	ErrTwoFactorInvalid     = errors.New("two-factor code invalid")
	ErrTwoFactorExpired     = errors.New("two-factor challenge expired")
	ErrTwoFactorAttempts    = errors.New("two-factor attempts exceeded")
	ErrTwoFactorNotEnabled  = errors.New("two-factor not enabled for user")
	ErrTwoFactorUnavailable = errors.New("two-factor backend unavailable")
)

// Rate limiting errors.
var (
	ErrLoginRateLimited   = errors.New("login rate limited")
	ErrRefreshRateLimited = errors.New("refresh rate limited")
)

// Engine and policy errors.
var (
	ErrEngineNotReady = errors.New("engine not initialized")
	ErrPasswordPolicy = errors.New("password policy violation")
	ErrPasswordReuse  = errors.New("new password must be different from current password")
)
