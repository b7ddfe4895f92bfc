// Package authcore implements the credential and session lifecycle core of a
// multi-device web application: JWT access tokens, rotating refresh tokens with
// replay detection, per-device trust, two-factor login challenges, cross-tab
// leader election, and hierarchical security-event broadcast.
//
// The package is designed for concurrent server workloads: Engine methods are safe
// to call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (LoginResult, SessionInfo, LeaderState, etc.). All internal
// coordination — challenge stores, rate limiting, leader CAS scripts, audit
// dispatch — lives under internal/ and is never exported. Realtime delivery lives
// in the realtime package; the thin REST/websocket surface lives in httpapi.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Store user credentials; those stay behind the caller's [UserProvider].
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//
// # Consistency contract
//
// Refresh rotation and session termination are compare-and-swap atomic in Redis:
// of two concurrent rotations of one refresh token, exactly one succeeds and the
// other is escalated as a replay, terminating the owning session. Session
// creation, token issuance, and CSRF binding either all complete or leave no
// session record behind.
package authcore
