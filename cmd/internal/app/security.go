package app

import (
	"errors"
	"fmt"

	"relay/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy and returns the
// refresh-token hasher the session authority must use.
//
// With RequireTokenHMAC a missing or short key fails startup instead of
// falling back to plain SHA-256.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, fmt.Errorf("security policy: RELAY_REQUIRE_TOKEN_HMAC=true but %s is missing: %w", token.HMACEnvKey, err)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, fmt.Errorf("security policy: RELAY_REQUIRE_TOKEN_HMAC=true but %s is shorter than %d bytes: %w", token.HMACEnvKey, token.MinHMACKeyBytes, err)
		default:
			return token.Hasher{}, err
		}
	}

	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: RELAY_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
