// Package coordinate arbitrates cross-tab leadership and the shared state
// leaders publish.
//
// # Key layout
//
//   - alp:<uid>:<did>  — leader hash (tab, prio, hb)
//   - ass:<uid>:<scope> — shared-state hash (ver, payload, by, updated)
//
// # Semantics
//
// At most one leader exists per (user, device) pair. A leader whose
// heartbeat is older than the timeout is treated as gone and any candidate
// may take over; a higher-priority candidate preempts a live leader.
// Shared-state versions only move forward; equal or lower versions are
// rejected as stale.
package coordinate
