package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/haloedesk/authcore/internal/rate"
	"github.com/haloedesk/authcore/realtime"
	"github.com/haloedesk/authcore/session"
	"github.com/haloedesk/authcore/token"
)

// Refresh rotates a refresh token: the presented token is retired and a new
// access/refresh pair is issued. Each refresh token is single-use. A token
// that was already rotated is treated as a replay: the whole session is
// terminated, every live connection of it is closed, and the user's other
// tabs are notified.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	result, err := e.refresh(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	return result, nil
}

func (e *Engine) refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := e.tokens.Parse(refreshToken, token.TypeRefresh)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, token.ErrWrongType):
			return nil, ErrTokenWrongType
		default:
			return nil, ErrRefreshInvalid
		}
	}
	if claims.SID == "" {
		return nil, ErrRefreshInvalid
	}

	// A refresh jti only lands on the denylist when the token was already
	// rotated, so a denylisted presentation is a replay, not a routine
	// revocation.
	denied, err := e.denylist.IsDenied(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if denied {
		return nil, e.escalateReplay(ctx, claims)
	}

	if e.config.RateLimit.Enabled {
		if err := e.limiter.CheckRefresh(ctx, claims.SID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricRefreshRateLimited)
				e.emitAudit(ctx, auditEventRefreshRateLimited, false, claims.UID, claims.SID, claims.DID, "", ErrRefreshRateLimited, nil)
				return nil, ErrRefreshRateLimited
			}
			return nil, err
		}
	}

	user, err := e.userProvider.GetUserByID(ctx, claims.UID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, ErrTokenVersionMismatch
	}

	// Read the record before the CAS for the remember flag and CSRF token.
	// The rotation itself stays atomic; this read only shapes the new pair.
	sess, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		return nil, mapSessionErr(err)
	}

	refreshTTL := e.config.Token.RefreshTTL
	if sess.RememberMe {
		refreshTTL *= time.Duration(e.config.Token.RememberMeMultiplier)
	}

	next, err := e.tokens.IssueRefresh(claims.UID, claims.SID, claims.DID, user.TokenVersion, refreshTTL)
	if err != nil {
		return nil, err
	}

	if _, err := e.sessions.Rotate(ctx, claims.SID, claims.ID, next.JTI); err != nil {
		if errors.Is(err, session.ErrRotateMismatch) {
			return nil, e.escalateReplay(ctx, claims)
		}
		return nil, mapSessionErr(err)
	}

	// The old token stays formally valid until its exp; pin it dead.
	if claims.ExpiresAt != nil {
		if err := e.denylist.Deny(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			e.logger.Warn("refresh denylist write failed", "error", err)
		}
	}

	access, err := e.tokens.IssueAccess(claims.UID, claims.SID, claims.DID, user.Role, user.TokenVersion)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventRefreshSuccess, true, claims.UID, claims.SID, claims.DID, "", nil, nil)

	return &LoginResult{
		AccessToken:  access.Token,
		RefreshToken: next.Token,
		CSRFToken:    sess.CSRFToken,
		SessionID:    claims.SID,
		DeviceID:     claims.DID,
		ExpiresAt:    access.ExpiresAt,
	}, nil
}

// escalateReplay handles a refresh token presented after it was rotated.
// The store has already terminated the session by the time the mismatch is
// reported; this side pins the replayed jti, cuts live connections of the
// session, and alerts the user's remaining tabs.
func (e *Engine) escalateReplay(ctx context.Context, claims *token.Claims) error {
	e.metricInc(MetricRefreshReplayDetected)
	e.metricInc(MetricSessionTerminated)

	if claims.ExpiresAt != nil {
		if err := e.denylist.Deny(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			e.logger.Warn("replay denylist write failed", "error", err)
		}
	}

	// The CAS already flipped the record; this pass only unlinks it from the
	// user and device indexes.
	if err := e.sessions.Terminate(ctx, claims.SID, claims.UID, claims.DID, session.EndReasonRefreshReplay); err != nil {
		e.logger.Warn("replay index cleanup failed", "session_id", claims.SID, "error", err)
	}

	e.hub.CloseSessions(claims.SID)

	event := realtime.NewEvent(realtime.EventRefreshReplay, realtime.DirectionDown,
		claims.UID, "", "", "")
	event.Payload = map[string]string{
		"session_id": claims.SID,
		"device_id":  claims.DID,
	}
	e.publishEvent(ctx, event)

	e.emitAudit(ctx, auditEventRefreshReplay, false, claims.UID, claims.SID, claims.DID, "", ErrRefreshReplay, nil)
	e.logger.Warn("refresh replay detected, session terminated",
		"user_id", claims.UID, "session_id", claims.SID)

	return ErrRefreshReplay
}
