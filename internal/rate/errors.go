package rate

import "errors"

var (
	// ErrRateLimited reports that the attempt budget for the window is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrLockedOut reports that a lockout is in force for the identifier.
	ErrLockedOut = errors.New("locked out")
	// ErrRedisUnavailable wraps backend failures of the limiter itself.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
