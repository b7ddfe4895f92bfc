package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	authcore "github.com/haloedesk/authcore"
)

func (s *Server) requestContext(r *http.Request) context.Context {
	ctx := authcore.WithClientIP(r.Context(), remoteIP(r))
	return authcore.WithUserAgent(ctx, r.UserAgent())
}

func (s *Server) writeLoginResult(w http.ResponseWriter, result *authcore.LoginResult) {
	if result.RequiresTwoFactor {
		s.writeJSON(w, http.StatusOK, loginResponse{
			DeviceID:          result.DeviceID,
			ExpiresAt:         result.ExpiresAt,
			RequiresTwoFactor: true,
			TempToken:         result.TempToken,
		})
		return
	}

	names := s.engine.Config().CookieName
	s.setCookie(w, names.Access, result.AccessToken, result.ExpiresAt, true)
	s.setCookie(w, names.Refresh, result.RefreshToken, time.Time{}, true)
	// Readable by the frontend so it can mirror the value into the CSRF
	// header; that mirroring is the double-submit check.
	s.setCookie(w, names.CSRF, result.CSRFToken, time.Time{}, false)

	s.writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: result.AccessToken,
		CSRFToken:   result.CSRFToken,
		SessionID:   result.SessionID,
		DeviceID:    result.DeviceID,
		ExpiresAt:   result.ExpiresAt,
	})
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, expires time.Time, httpOnly bool) {
	if name == "" {
		return
	}
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: httpOnly,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
	if !expires.IsZero() {
		cookie.Expires = expires
	}
	http.SetCookie(w, cookie)
}

func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	names := s.engine.Config().CookieName
	for _, name := range []string{names.Access, names.Refresh, names.CSRF} {
		if name == "" {
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func (s *Server) cookieValue(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeAuthError maps engine sentinels to HTTP statuses without leaking
// which internal check failed beyond what the status itself implies.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrUserNotFound),
		errors.Is(err, authcore.ErrTokenInvalid),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrTokenWrongType),
		errors.Is(err, authcore.ErrTokenRevoked),
		errors.Is(err, authcore.ErrTokenVersionMismatch),
		errors.Is(err, authcore.ErrRefreshInvalid),
		errors.Is(err, authcore.ErrRefreshReplay),
		errors.Is(err, authcore.ErrSessionNotFound),
		errors.Is(err, authcore.ErrSessionTerminated),
		errors.Is(err, authcore.ErrSessionExpired):
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, authcore.ErrCSRFMismatch),
		errors.Is(err, authcore.ErrNotLeader),
		errors.Is(err, authcore.ErrDeviceNotTrusted),
		errors.Is(err, authcore.ErrDeviceRevokeCurrent):
		s.writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, authcore.ErrStaleWrite):
		s.writeError(w, http.StatusConflict, "stale version")
	case errors.Is(err, authcore.ErrAccountLocked),
		errors.Is(err, authcore.ErrLoginRateLimited),
		errors.Is(err, authcore.ErrRefreshRateLimited):
		s.writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, authcore.ErrTwoFactorInvalid),
		errors.Is(err, authcore.ErrTwoFactorExpired),
		errors.Is(err, authcore.ErrTwoFactorAttempts),
		errors.Is(err, authcore.ErrTwoFactorNotEnabled),
		errors.Is(err, authcore.ErrDeviceCodeInvalid),
		errors.Is(err, authcore.ErrDeviceCodeExpired),
		errors.Is(err, authcore.ErrDeviceMaxAttempts),
		errors.Is(err, authcore.ErrPasswordPolicy),
		errors.Is(err, authcore.ErrPasswordReuse):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, authcore.ErrDeviceNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("internal error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) string {
	const bearer = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, bearer) {
		return ""
	}
	return value[len(bearer):]
}

func remoteIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For.
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host
}
