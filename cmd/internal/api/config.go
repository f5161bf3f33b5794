package api

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned by LoadConfigFromEnv for invalid values.
var ErrConfig = errors.New("invalid api config")

// Config controls HTTP API behavior.
type Config struct {
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool
	MaxBodyBytes int64

	// Login attempts per client IP: LoginIPBurst are allowed at once, then
	// one more every LoginIPWindow/LoginIPBurst.
	LoginIPBurst  int
	LoginIPWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:  1 << 20,
		LoginIPBurst:  10,
		LoginIPWindow: time.Minute,
	}
}

// LoadConfigFromEnv reads RELAY_API_TRUST_PROXY, RELAY_API_MAX_BODY_BYTES,
// RELAY_API_LOGIN_IP_BURST and RELAY_API_LOGIN_IP_WINDOW.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := env("RELAY_API_TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.TrustProxy = b
	}
	if v := env("RELAY_API_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1024 {
			return Config{}, ErrConfig
		}
		cfg.MaxBodyBytes = n
	}
	if v := env("RELAY_API_LOGIN_IP_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, ErrConfig
		}
		cfg.LoginIPBurst = n
	}
	if v := env("RELAY_API_LOGIN_IP_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.LoginIPWindow = d
	}
	return cfg, nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }
