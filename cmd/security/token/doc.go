// Package token hashes opaque secrets (refresh tokens, invite tokens) for storage.
//
// Two modes:
//   - SHA-256(token) when no key is configured (development).
//   - HMAC-SHA256(token, key) when HUB_TOKEN_HMAC_KEY is set.
//
// Output is always 64 lowercase hex characters, so stored hashes can be
// compared with a plain equality lookup.
package token
