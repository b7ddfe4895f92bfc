package session

import (
	"strconv"
	"time"
)

// End reasons recorded when a session stops being active.
const (
	EndReasonLogout        = "logout"
	EndReasonExpired       = "expired"
	EndReasonRevoked       = "revoked"
	EndReasonRefreshReplay = "refresh_replay"
	EndReasonDeviceRevoked = "device_revoked"
	EndReasonPasswordReset = "password_reset"
)

// Session is one authenticated session record. Stored as a Redis hash;
// RefreshJTI always holds the jti of the one currently valid refresh token.
type Session struct {
	SessionID  string
	UserID     string
	DeviceID   string
	TabID      string
	Role       string
	RememberMe bool

	RefreshJTI string
	CSRFToken  string

	Active    bool
	EndReason string

	CreatedAt        time.Time
	LastActivityAt   time.Time
	ExpiresAt        time.Time
	AbsoluteDeadline time.Time
	EndedAt          time.Time
}

// Expired reports whether the session's sliding expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

func (s *Session) toFields() map[string]interface{} {
	fields := map[string]interface{}{
		"uid":      s.UserID,
		"did":      s.DeviceID,
		"tab":      s.TabID,
		"role":     s.Role,
		"remember": boolField(s.RememberMe),
		"rjti":     s.RefreshJTI,
		"csrf":     s.CSRFToken,
		"active":   boolField(s.Active),
		"reason":   s.EndReason,
		"created":  s.CreatedAt.UnixMilli(),
		"activity": s.LastActivityAt.UnixMilli(),
		"expires":  s.ExpiresAt.UnixMilli(),
		"deadline": s.AbsoluteDeadline.UnixMilli(),
	}
	if !s.EndedAt.IsZero() {
		fields["ended"] = s.EndedAt.UnixMilli()
	}
	return fields
}

func sessionFromFields(sessionID string, fields map[string]string) (*Session, error) {
	if len(fields) == 0 || fields["uid"] == "" {
		return nil, ErrCorruptRecord
	}

	sess := &Session{
		SessionID:  sessionID,
		UserID:     fields["uid"],
		DeviceID:   fields["did"],
		TabID:      fields["tab"],
		Role:       fields["role"],
		RememberMe: fields["remember"] == "1",
		RefreshJTI: fields["rjti"],
		CSRFToken:  fields["csrf"],
		Active:     fields["active"] == "1",
		EndReason:  fields["reason"],
	}

	var err error
	if sess.CreatedAt, err = parseMillis(fields["created"]); err != nil {
		return nil, ErrCorruptRecord
	}
	if sess.LastActivityAt, err = parseMillis(fields["activity"]); err != nil {
		return nil, ErrCorruptRecord
	}
	if sess.ExpiresAt, err = parseMillis(fields["expires"]); err != nil {
		return nil, ErrCorruptRecord
	}
	if sess.AbsoluteDeadline, err = parseMillis(fields["deadline"]); err != nil {
		return nil, ErrCorruptRecord
	}
	if raw := fields["ended"]; raw != "" {
		if sess.EndedAt, err = parseMillis(raw); err != nil {
			return nil, ErrCorruptRecord
		}
	}

	return sess, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
