package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/haloedesk/authcore/session"
	"github.com/haloedesk/authcore/token"
)

// Validate verifies an access token end to end: signature, type, denylist,
// token version, and the liveness of the backing session. A successful
// validation counts as activity and slides the session's expiry forward.
//
// csrfToken is compared against the session's stored CSRF token when
// non-empty; callers pass it for state-changing requests and leave it empty
// for safe ones.
func (e *Engine) Validate(ctx context.Context, accessToken, csrfToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()

	result, err := e.validate(ctx, accessToken, csrfToken)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}

	e.metricInc(MetricValidateSuccess)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	return result, nil
}

func (e *Engine) validate(ctx context.Context, accessToken, csrfToken string) (*AuthResult, error) {
	claims, err := e.tokens.Parse(accessToken, token.TypeAccess)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, token.ErrWrongType):
			return nil, ErrTokenWrongType
		default:
			return nil, ErrTokenInvalid
		}
	}
	if claims.SID == "" {
		return nil, ErrTokenInvalid
	}

	denied, err := e.denylist.IsDenied(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if denied {
		return nil, ErrTokenRevoked
	}

	user, err := e.userProvider.GetUserByID(ctx, claims.UID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, ErrTokenVersionMismatch
	}

	if csrfToken != "" {
		sess, err := e.sessions.Get(ctx, claims.SID)
		if err != nil {
			return nil, mapSessionErr(err)
		}
		if subtle.ConstantTimeCompare([]byte(sess.CSRFToken), []byte(csrfToken)) != 1 {
			e.metricInc(MetricCSRFMismatch)
			e.emitAudit(ctx, auditEventCSRFMismatch, false, claims.UID, claims.SID, claims.DID, "", ErrCSRFMismatch, nil)
			return nil, ErrCSRFMismatch
		}
	}

	if _, err := e.sessions.Touch(ctx, claims.SID); err != nil {
		return nil, mapSessionErr(err)
	}

	return &AuthResult{
		UserID:    claims.UID,
		SessionID: claims.SID,
		DeviceID:  claims.DID,
		Role:      user.Role,
	}, nil
}

func mapSessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrTerminated):
		return ErrSessionTerminated
	case errors.Is(err, session.ErrExpired):
		return ErrSessionExpired
	default:
		return err
	}
}
