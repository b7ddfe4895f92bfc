package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/haloedesk/authcore/realtime"
	"github.com/haloedesk/authcore/session"
	"github.com/haloedesk/authcore/token"
)

// Logout ends the session behind the presented access token. The token's
// jti is denylisted for its remaining lifetime so it cannot be used even
// before its expiry.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(accessToken, token.TypeAccess)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return ErrTokenExpired
		default:
			return ErrTokenInvalid
		}
	}
	if claims.SID == "" {
		return ErrTokenInvalid
	}

	if claims.ExpiresAt != nil {
		if err := e.denylist.Deny(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			e.logger.Warn("logout denylist write failed", "error", err)
		}
	}

	if err := e.sessions.Terminate(ctx, claims.SID, claims.UID, claims.DID, session.EndReasonLogout); err != nil {
		return err
	}

	e.hub.CloseSessions(claims.SID)
	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionTerminated)
	e.emitAudit(ctx, auditEventLogoutSession, true, claims.UID, claims.SID, claims.DID, "", nil, nil)

	event := realtime.NewEvent(realtime.EventSessionTerminated, realtime.DirectionDown,
		claims.UID, "", "", "")
	event.Payload = map[string]string{
		"session_id": claims.SID,
		"reason":     session.EndReasonLogout,
	}
	e.publishEvent(ctx, event)

	return nil
}

// ListSessions returns every live session of the user.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sessionInfo(sess))
	}
	return infos, nil
}

// CSRFToken returns the CSRF token bound to one of the user's live
// sessions, for clients that lost the cookie mid-session. The token never
// rotates within a session, so re-issuing it is a read.
func (e *Engine) CSRFToken(ctx context.Context, userID, sessionID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", mapSessionErr(err)
	}
	if sess.UserID != userID {
		return "", ErrSessionNotFound
	}
	return sess.CSRFToken, nil
}

// TerminateSession ends one session of the user, typically from a "your
// devices" management view. The session must belong to the user.
func (e *Engine) TerminateSession(ctx context.Context, userID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrExpired) {
		return mapSessionErr(err)
	}
	if sess.UserID != userID {
		return ErrSessionNotFound
	}

	if err := e.sessions.Terminate(ctx, sessionID, userID, sess.DeviceID, session.EndReasonRevoked); err != nil {
		return err
	}

	e.hub.CloseSessions(sessionID)
	e.metricInc(MetricSessionTerminated)
	e.emitAudit(ctx, auditEventSessionTerminated, true, userID, sessionID, sess.DeviceID, "", nil, nil)

	event := realtime.NewEvent(realtime.EventSessionTerminated, realtime.DirectionDown,
		userID, "", "", "")
	event.Payload = map[string]string{
		"session_id": sessionID,
		"reason":     session.EndReasonRevoked,
	}
	e.publishEvent(ctx, event)

	return nil
}

// RevokeAll invalidates every outstanding token of the user by bumping the
// token version, then terminates every session, optionally sparing the one
// the user acted from. Returns the number of terminated sessions.
func (e *Engine) RevokeAll(ctx context.Context, userID, exceptSessionID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	// Version bump first: even if session cleanup below partially fails,
	// no old token verifies anymore.
	if _, err := e.userProvider.IncrementTokenVersion(ctx, userID); err != nil {
		return 0, err
	}

	terminated, err := e.sessions.TerminateAllForUser(ctx, userID, session.EndReasonRevoked, exceptSessionID)
	if len(terminated) > 0 {
		e.hub.CloseSessions(terminated...)
	}
	if err != nil {
		return len(terminated), fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, userID, exceptSessionID, "", "", nil, func() map[string]string {
		return map[string]string{"terminated": strconv.Itoa(len(terminated))}
	})

	event := realtime.NewEvent(realtime.EventSessionsRevoked, realtime.DirectionDown,
		userID, "", "", "")
	event.Payload = map[string]string{
		"kept_session_id": exceptSessionID,
		"terminated":      strconv.Itoa(len(terminated)),
	}
	e.publishEvent(ctx, event)

	return len(terminated), nil
}

func sessionInfo(sess *session.Session) SessionInfo {
	return SessionInfo{
		SessionID:      sess.SessionID,
		UserID:         sess.UserID,
		DeviceID:       sess.DeviceID,
		TabID:          sess.TabID,
		RememberMe:     sess.RememberMe,
		IsActive:       sess.Active,
		EndReason:      sess.EndReason,
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
		ExpiresAt:      sess.ExpiresAt,
		EndedAt:        sess.EndedAt,
	}
}
