// Package session implements hub sessions: multi-device login with
// refresh-token rotation, reuse detection, and per-session or per-user
// revocation.
//
// Access tokens are PASETO v4.public and short-lived. Refresh tokens are
// opaque random strings stored hashed (HMAC-SHA256 when HUB_TOKEN_HMAC_KEY
// is set, SHA-256 otherwise). Every change is published as an events.Event
// so mounted session gates learn about logouts and rotations as they happen.
package session
