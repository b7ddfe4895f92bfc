// Package token signs, verifies, and revokes the three JWT kinds used by
// authcore: access, refresh, and the temporary two-factor token.
//
// # Claim layout
//
//   - uid — user ID
//   - sid — session ID (absent on temp tokens)
//   - did — device ID (absent on temp tokens)
//   - role — role string, access tokens only
//   - tv — user token version at issuance
//   - typ — token kind discriminator
//   - cid — two-factor challenge ID, temp tokens only
//   - jti — unique token ID, denylist handle
//
// # What this package must NOT do
//
//   - Consult session or user state; version and revocation checks against
//     live state belong to the Engine.
//   - Store tokens. Only denied jtis touch Redis, with self-expiring TTLs.
package token
