// Package rate provides Redis-backed rate limit primitives for login and
// refresh operations.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al:  — login per-identifier
//   - ali: — login per-IP
//   - alk: — login lockout marker
//   - ar:  — refresh per-session
//
// # What this package must NOT do
//
//   - Decide which operations are limited (the Engine owns that).
//   - Be imported outside the authcore module.
package rate
