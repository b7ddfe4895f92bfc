package token

import "errors"

var (
	// ErrInvalid reports a token that fails signature or claim validation.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired reports a token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrWrongType reports a token presented for an operation that requires a
	// different token kind.
	ErrWrongType = errors.New("token type mismatch")
	// ErrRevoked reports a token whose jti is on the denylist.
	ErrRevoked = errors.New("token revoked")
	// ErrRedisUnavailable wraps denylist backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
