// Package internal contains helper utilities that are intentionally private
// to authcore, including secure random generation.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - coordinate — cross-tab leader election and shared state CAS scripts
//   - metrics — lock-free counters and latency histograms
//   - rate — Redis-backed rate limit primitives
//   - stores — device trust, verification code, and two-factor challenge stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
