package generation

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("generation: invalid config")

const (
	EngineEcho   = "echo"
	EngineOpenAI = "openai"
)

// Config selects and tunes the response engine.
type Config struct {
	Engine string

	// OpenAI-compatible settings.
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32

	// EchoDelay paces the echo engine.
	EchoDelay time.Duration
}

// DefaultConfig returns the echo engine with OpenAI defaults pre-filled.
func DefaultConfig() Config {
	return Config{
		Engine:      EngineEcho,
		Model:       openai.GPT3Dot5Turbo,
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}

// LoadConfigFromEnv reads:
//   - RELAY_GEN_ENGINE (echo|openai)
//   - RELAY_GEN_API_KEY, RELAY_GEN_BASE_URL, RELAY_GEN_MODEL
//   - RELAY_GEN_SYSTEM_PROMPT, RELAY_GEN_MAX_TOKENS, RELAY_GEN_TEMPERATURE
//   - RELAY_GEN_ECHO_DELAY
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("RELAY_GEN_ENGINE"))); v != "" {
		cfg.Engine = v
	}
	cfg.APIKey = strings.TrimSpace(os.Getenv("RELAY_GEN_API_KEY"))
	cfg.BaseURL = strings.TrimSpace(os.Getenv("RELAY_GEN_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("RELAY_GEN_MODEL")); v != "" {
		cfg.Model = v
	}
	cfg.SystemPrompt = os.Getenv("RELAY_GEN_SYSTEM_PROMPT")

	if v := strings.TrimSpace(os.Getenv("RELAY_GEN_MAX_TOKENS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("RELAY_GEN_MAX_TOKENS: %w", ErrConfig)
		}
		cfg.MaxTokens = n
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_GEN_TEMPERATURE")); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 || f > 2 {
			return Config{}, fmt.Errorf("RELAY_GEN_TEMPERATURE: %w", ErrConfig)
		}
		cfg.Temperature = float32(f)
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_GEN_ECHO_DELAY")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("RELAY_GEN_ECHO_DELAY: %w", ErrConfig)
		}
		cfg.EchoDelay = d
	}

	switch cfg.Engine {
	case EngineEcho:
	case EngineOpenAI:
		if cfg.APIKey == "" {
			return Config{}, fmt.Errorf("RELAY_GEN_API_KEY is required for the openai engine: %w", ErrConfig)
		}
	default:
		return Config{}, fmt.Errorf("RELAY_GEN_ENGINE %q: %w", cfg.Engine, ErrConfig)
	}
	return cfg, nil
}

// New builds the engine selected by cfg.
func New(cfg Config) (Engine, error) {
	switch cfg.Engine {
	case EngineEcho, "":
		return EchoEngine{Delay: cfg.EchoDelay}, nil
	case EngineOpenAI:
		return NewOpenAIEngine(cfg)
	default:
		return nil, ErrConfig
	}
}
