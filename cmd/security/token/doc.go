// Package token hashes opaque refresh tokens for server-side storage.
//
// Two modes exist:
//   - HMAC-SHA256(token, key) when RELAY_TOKEN_HMAC_KEY is configured.
//   - Plain SHA-256(token) for local development.
//
// Both produce a 64-char lowercase hex digest, so storage and lookups are
// identical regardless of mode.
package token
