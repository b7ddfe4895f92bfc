// Package password hashes and verifies user passwords with argon2id.
// Hashes are emitted in PHC string format so parameters travel with the
// hash and can be upgraded transparently on the next successful login.
package password
