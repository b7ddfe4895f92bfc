package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	authcore "github.com/haloedesk/authcore"
)

// CSRFHeader is the request header carrying the CSRF token on state-changing
// requests. The value must match the token issued at login.
const CSRFHeader = "X-CSRF-Token"

type authResultContextKey struct{}

// AuthResultFromContext returns the identity attached by [Guard].
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// Guard authenticates every request through [authcore.Engine.Validate] and
// attaches the resolved identity to the request context. The access token is
// read from the Authorization bearer header, falling back to the configured
// access cookie. State-changing methods additionally require the CSRF header
// to match the session's token.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := accessToken(engine, r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			csrf := ""
			if !safeMethod(r.Method) {
				csrf = r.Header.Get(CSRFHeader)
				if csrf == "" {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}

			ctx := authcore.WithClientIP(r.Context(), clientIP(r))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())

			res, err := engine.Validate(ctx, token, csrf)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, authcore.ErrCSRFMismatch) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				return
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessToken(engine *authcore.Engine, r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	cookieName := engine.Config().CookieName.Access
	if cookieName == "" {
		return "", false
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host
}
