package session

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// TokenFormat selects the access-token codec.
type TokenFormat string

const (
	FormatPaseto TokenFormat = "paseto"
	FormatJWT    TokenFormat = "jwt"
)

// ReuseScope selects what a detected refresh-token reuse revokes.
type ReuseScope string

const (
	// ScopeFamily revokes every active record descending from the same login.
	ScopeFamily ReuseScope = "family"
	// ScopeUser revokes every active record of the user.
	ScopeUser ReuseScope = "user"
)

const minJWTSecretBytes = 32

// Config defines all runtime configuration for the session subsystem.
type Config struct {
	// Issuer is set as "iss" on access tokens.
	Issuer string

	AccessTokenTTL time.Duration

	// Refresh token TTL per platform.
	RefreshTTLWeb         time.Duration
	RefreshTTLNative      time.Duration
	RefreshTTLNativeShort time.Duration

	// ClockSkew is tolerated during access-token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	TokenFormat TokenFormat
	ReuseScope  ReuseScope

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key for v4.public.
	PasetoV4SecretKeyHex string

	// JWTSecret is the HS256 key used when TokenFormat is FormatJWT.
	JWTSecret []byte

	// EphemeralKey is set when the signing key was generated at startup.
	EphemeralKey bool
}

// DefaultConfig returns the development defaults. Signing keys are empty.
func DefaultConfig() Config {
	return Config{
		Issuer:                "relay",
		AccessTokenTTL:        15 * time.Minute,
		RefreshTTLWeb:         7 * 24 * time.Hour,
		RefreshTTLNative:      60 * 24 * time.Hour,
		RefreshTTLNativeShort: 14 * 24 * time.Hour,
		ClockSkew:             30 * time.Second,
		RefreshTokenBytes:     32,
		TokenFormat:           FormatPaseto,
		ReuseScope:            ScopeFamily,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Signing keys:
//   - RELAY_AUTH_TOKEN_FORMAT (paseto|jwt, default paseto)
//   - RELAY_PASETO_V4_SECRET_KEY_HEX (paseto)
//   - RELAY_AUTH_JWT_SECRET (jwt, at least 32 bytes)
//   - RELAY_DEV_EPHEMERAL_KEYS=true generates a missing key instead of failing
//
// Optional (Go duration strings):
//   - RELAY_AUTH_ISSUER
//   - RELAY_AUTH_ACCESS_TTL
//   - RELAY_AUTH_REFRESH_TTL_WEB
//   - RELAY_AUTH_REFRESH_TTL_NATIVE
//   - RELAY_AUTH_REFRESH_TTL_NATIVE_SHORT
//   - RELAY_AUTH_CLOCK_SKEW
//   - RELAY_AUTH_REFRESH_TOKEN_BYTES (32..64)
//   - RELAY_AUTH_REUSE_SCOPE (family|user)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("RELAY_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"RELAY_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"RELAY_AUTH_REFRESH_TTL_WEB", &cfg.RefreshTTLWeb, false},
		{"RELAY_AUTH_REFRESH_TTL_NATIVE", &cfg.RefreshTTLNative, false},
		{"RELAY_AUTH_REFRESH_TTL_NATIVE_SHORT", &cfg.RefreshTTLNativeShort, false},
		{"RELAY_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("RELAY_AUTH_REFRESH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("RELAY_AUTH_TOKEN_FORMAT"))); v != "" {
		switch TokenFormat(v) {
		case FormatPaseto, FormatJWT:
			cfg.TokenFormat = TokenFormat(v)
		default:
			return Config{}, ErrConfig
		}
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("RELAY_AUTH_REUSE_SCOPE"))); v != "" {
		switch ReuseScope(v) {
		case ScopeFamily, ScopeUser:
			cfg.ReuseScope = ReuseScope(v)
		default:
			return Config{}, ErrConfig
		}
	}

	// Native "short" must not exceed native "long".
	if cfg.RefreshTTLNative < cfg.RefreshTTLNativeShort {
		return Config{}, ErrConfig
	}

	ephemeral := envBool("RELAY_DEV_EPHEMERAL_KEYS")

	switch cfg.TokenFormat {
	case FormatPaseto:
		cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("RELAY_PASETO_V4_SECRET_KEY_HEX"))
		if cfg.PasetoV4SecretKeyHex == "" {
			if !ephemeral {
				return Config{}, ErrConfig
			}
			cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
			cfg.EphemeralKey = true
		}
	case FormatJWT:
		secret := os.Getenv("RELAY_AUTH_JWT_SECRET")
		switch {
		case secret != "":
			if len(secret) < minJWTSecretBytes {
				return Config{}, ErrConfig
			}
			cfg.JWTSecret = []byte(secret)
		case ephemeral:
			b := make([]byte, minJWTSecretBytes)
			if _, err := rand.Read(b); err != nil {
				return Config{}, err
			}
			cfg.JWTSecret = []byte(hex.EncodeToString(b))
			cfg.EphemeralKey = true
		default:
			return Config{}, ErrConfig
		}
	}

	return cfg, nil
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}
