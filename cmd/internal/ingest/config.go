package ingest

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	MaxContentRunes     = 8000
	MaxDedupKeyLen      = 128
)

// Config tunes ingestion.
type Config struct {
	// HistoryWindow is the number of prior messages handed to the engine.
	HistoryWindow int

	// GenerationTimeout bounds a single generation run.
	GenerationTimeout time.Duration

	// CommitTimeout bounds the reply-commit transaction.
	CommitTimeout time.Duration

	// MaxAttempts bounds retries of transient write conflicts.
	MaxAttempts int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:     20,
		GenerationTimeout: 60 * time.Second,
		CommitTimeout:     5 * time.Second,
		MaxAttempts:       3,
	}
}

// LoadConfigFromEnv reads RELAY_INGEST_HISTORY_WINDOW,
// RELAY_INGEST_GENERATION_TIMEOUT, RELAY_INGEST_COMMIT_TIMEOUT and
// RELAY_INGEST_MAX_ATTEMPTS on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		dst      *int
		min, max int
	}{
		{"RELAY_INGEST_HISTORY_WINDOW", &cfg.HistoryWindow, 0, MaxHistoryLimit},
		{"RELAY_INGEST_MAX_ATTEMPTS", &cfg.MaxAttempts, 1, 10},
	}
	for _, it := range ints {
		v := strings.TrimSpace(os.Getenv(it.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < it.min || n > it.max {
			return Config{}, ErrConfig
		}
		*it.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RELAY_INGEST_GENERATION_TIMEOUT", &cfg.GenerationTimeout},
		{"RELAY_INGEST_COMMIT_TIMEOUT", &cfg.CommitTimeout},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}
	return cfg, nil
}
