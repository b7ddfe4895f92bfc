package authcore

import (
	"context"
	"errors"

	"github.com/haloedesk/authcore/password"
	"github.com/haloedesk/authcore/realtime"
	"github.com/haloedesk/authcore/session"
)

// ChangePassword verifies the current password, stores a hash of the new
// one, and revokes every other session and outstanding token of the user.
// The session the change was made from survives; its tokens do not, so the
// caller should re-issue via the returned flow of its transport.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, currentSessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	ok, err := e.passwords.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChanged, false, userID, currentSessionID, "", "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if currentPassword == newPassword {
		return ErrPasswordReuse
	}

	newHash, err := e.passwords.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrPolicy) {
			return ErrPasswordPolicy
		}
		return err
	}

	if err := e.userProvider.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		return err
	}

	if _, err := e.userProvider.IncrementTokenVersion(ctx, userID); err != nil {
		return err
	}

	terminated, err := e.sessions.TerminateAllForUser(ctx, userID, session.EndReasonPasswordReset, currentSessionID)
	if len(terminated) > 0 {
		e.hub.CloseSessions(terminated...)
	}
	if err != nil {
		e.logger.Warn("password change session cleanup incomplete", "user_id", userID, "error", err)
	}

	if e.config.RateLimit.Enabled {
		if err := e.limiter.ResetLogin(ctx, user.Identifier, clientIPFromContext(ctx)); err != nil {
			e.logger.Warn("login limiter reset failed", "error", err)
		}
	}

	e.emitAudit(ctx, auditEventPasswordChanged, true, userID, currentSessionID, "", "", nil, nil)

	event := realtime.NewEvent(realtime.EventPasswordChanged, realtime.DirectionDown,
		userID, "", "", "")
	e.publishEvent(ctx, event)

	return nil
}
