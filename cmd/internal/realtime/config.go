package realtime

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned by LoadConfigFromEnv for invalid values.
var ErrConfig = errors.New("invalid realtime config")

const (
	// MinSendQueue is the smallest accepted per-connection send queue.
	MinSendQueue = 8

	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
	closeGrace            = time.Second
	commandQueue          = 16
)

// Config tunes the websocket gateway.
type Config struct {
	// AllowedOrigins is the browser origin allowlist. "*" allows any origin.
	AllowedOrigins []string
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	// DevInsecure disables the websocket library's origin verification.
	DevInsecure bool

	SendQueue     int
	MaxFrameBytes int64

	WriteTimeout time.Duration
	ReadIdle     time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxPingFailures   int

	// RateEvents client frames are allowed per RateWindow, with the same burst.
	RateEvents int
	RateWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:    splitCSV(defaultAllowedOrigins),
		SendQueue:         256,
		MaxFrameBytes:     64 << 10,
		WriteTimeout:      5 * time.Second,
		ReadIdle:          2 * time.Minute,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		MaxPingFailures:   3,
		RateEvents:        120,
		RateWindow:        10 * time.Second,
	}
}

// LoadConfigFromEnv reads the RELAY_WS_* variables on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup("RELAY_WS_ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitCSV(v)
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"RELAY_WS_ORIGIN_REQUIRED", &cfg.OriginRequired},
		{"RELAY_WS_DEV_INSECURE", &cfg.DevInsecure},
	}
	for _, b := range bools {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		*b.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{"RELAY_WS_SEND_QUEUE", &cfg.SendQueue, MinSendQueue},
		{"RELAY_WS_MAX_PING_FAILURES", &cfg.MaxPingFailures, 1},
		{"RELAY_WS_RATE_EVENTS", &cfg.RateEvents, 1},
	}
	for _, it := range ints {
		v, ok := lookup(it.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < it.min {
			return Config{}, ErrConfig
		}
		*it.dst = n
	}

	if v, ok := lookup("RELAY_WS_MAX_FRAME_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1024 {
			return Config{}, ErrConfig
		}
		cfg.MaxFrameBytes = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RELAY_WS_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"RELAY_WS_READ_IDLE_TIMEOUT", &cfg.ReadIdle},
		{"RELAY_WS_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"RELAY_WS_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout},
		{"RELAY_WS_RATE_WINDOW", &cfg.RateWindow},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if cfg.OriginRequired && len(cfg.AllowedOrigins) == 0 {
		return Config{}, ErrConfig
	}
	return cfg, nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
