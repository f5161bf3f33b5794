// Package session owns the refresh-token lifecycle for relay.
//
// A login starts a token family. Every refresh rotates the presented record
// into a successor of the same family; presenting a rotated record again is
// treated as theft and closes the whole family. Access tokens are stateless
// (PASETO v4.public by default, HS256 JWT as an alternative) and only their
// signature and expiry are checked.
//
// Refresh tokens are opaque random strings. Only their hash is persisted
// (HMAC-SHA256 when RELAY_TOKEN_HMAC_KEY is set, SHA-256 otherwise).
package session
