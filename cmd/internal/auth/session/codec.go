package session

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"relay/cmd/security/token"
)

// AccessClaims is the identity envelope carried by an access token.
type AccessClaims struct {
	UserID string
	// SessionID is the refresh family the token was minted for.
	SessionID string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// TokenCodec issues and verifies short-lived access tokens.
// Verify never consults storage and returns ErrUnauthorized on any failure.
type TokenCodec interface {
	Issue(userID, sessionID string, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

// NewTokenCodec builds the codec selected by cfg.TokenFormat.
func NewTokenCodec(cfg Config) (TokenCodec, error) {
	switch cfg.TokenFormat {
	case FormatPaseto, "":
		return NewPasetoV4PublicCodec(cfg)
	case FormatJWT:
		return NewJWTCodec(cfg)
	default:
		return nil, ErrConfig
	}
}

// newOpaqueRefreshToken mints a URL-safe refresh token and its storage hash.
func newOpaqueRefreshToken(nBytes int, h token.Hasher) (plain string, hash string, err error) {
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, h.Hash(plain), nil
}
