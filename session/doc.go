// Package session implements the Redis-backed session registry: hash
// records, sliding expiry with an absolute ceiling, atomic refresh jti
// rotation, and indexed termination by user or device.
//
// # Key layout
//
//   - <prefix>:s:<sid> — session hash
//   - <prefix>:u:<uid> — SET of the user's session IDs
//   - <prefix>:d:<did> — SET of the device's session IDs
//
// Ended records stay readable for the configured retention so callers can
// inspect the end reason; key TTLs clean them up afterwards.
//
// # Concurrency
//
// Touch, Rotate, and Terminate run as Lua scripts. Of two concurrent
// rotations with the same jti exactly one wins; the loser finds the session
// already terminated with reason refresh_replay.
package session
