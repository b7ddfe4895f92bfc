// Package stores contains the Redis-backed record stores that back the
// engine's device trust and two-factor flows.
//
// # Components
//
//   - [DeviceStore] — known devices, fingerprint lookup, trust bit
//   - [DeviceCodeStore] — pending verification codes with attempt budgets
//   - [TwoFactorChallengeStore] — pending login challenges between password
//     check and code confirmation
//
// All attempt counters mutate under WATCH transactions so concurrent
// submissions cannot double-spend the budget.
package stores
