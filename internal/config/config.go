// Package config loads runtime configuration and resolves per-agent settings
// for a conversation. Config is an immutable value passed explicitly to each
// component; nothing in the runtime reads configuration through a singleton.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"pidgin/internal/ratelimit"
)

// ProviderKeys holds vendor credentials and endpoint overrides.
type ProviderKeys struct {
	Anthropic     string
	OpenAI        string
	Google        string
	XAI           string
	OllamaBaseURL string
}

// ContextManagement controls the pre-call context manager.
type ContextManagement struct {
	AllowTruncation bool `yaml:"allow_truncation"`
}

// RateLimiting is the master rate-limit switch plus per-provider overrides.
type RateLimiting struct {
	Enabled   bool                        `yaml:"enabled"`
	Overrides map[string]ratelimit.Config `yaml:"overrides,omitempty"`
}

// Defaults are fallbacks applied when an experiment spec leaves them unset.
type Defaults struct {
	MaxTurns    int `yaml:"max_turns"`
	MaxParallel int `yaml:"max_parallel"`
}

// Convergence selects the scoring profile and the early-stop policy.
type Convergence struct {
	Profile       string             `yaml:"profile"`
	Threshold     float64            `yaml:"threshold"`
	Action        string             `yaml:"action"`
	CustomWeights map[string]float64 `yaml:"custom_weights,omitempty"`
}

// Config is the process-wide runtime configuration.
type Config struct {
	OutputDir         string
	LogLevel          string
	LogPath           string
	Keys              ProviderKeys
	RateLimiting      RateLimiting
	ContextManagement ContextManagement
	Defaults          Defaults
	Convergence       Convergence
}

// Load reads configuration from the environment, honoring a .env file when
// present. It does not validate provider keys; RequireKeys does that once the
// experiment's models are known.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		OutputDir: strings.TrimSpace(os.Getenv("OUTPUT_DIR")),
		LogLevel:  strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		LogPath:   strings.TrimSpace(os.Getenv("LOG_PATH")),
		Keys: ProviderKeys{
			Anthropic:     strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
			OpenAI:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Google:        firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY")),
			XAI:           strings.TrimSpace(os.Getenv("XAI_API_KEY")),
			OllamaBaseURL: strings.TrimSpace(os.Getenv("OLLAMA_HOST")),
		},
		RateLimiting:      RateLimiting{Enabled: true},
		ContextManagement: ContextManagement{AllowTruncation: false},
		Defaults:          Defaults{MaxTurns: 20, MaxParallel: 1},
		Convergence:       Convergence{Profile: "balanced", Threshold: 0.85, Action: "stop"},
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMITING_ENABLED")); v != "" {
		cfg.RateLimiting.Enabled = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv("ALLOW_TRUNCATION")); v != "" {
		cfg.ContextManagement.AllowTruncation = parseBool(v)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./pidgin_output"
	}
	return cfg
}

// Key returns the credential for one provider name; ok is false when the
// provider needs a key and none is configured. Local and test providers never
// need one.
func (c Config) Key(provider string) (key string, ok bool) {
	switch provider {
	case "anthropic":
		return c.Keys.Anthropic, c.Keys.Anthropic != ""
	case "openai":
		return c.Keys.OpenAI, c.Keys.OpenAI != ""
	case "google":
		return c.Keys.Google, c.Keys.Google != ""
	case "xai":
		return c.Keys.XAI, c.Keys.XAI != ""
	case "ollama", "test", "silent":
		return "", true
	}
	return "", false
}

// RequireKeys fails fast when any of the given providers lacks a credential.
// Called at startup, before any conversation begins.
func (c Config) RequireKeys(providers ...string) error {
	var missing []string
	for _, p := range providers {
		if _, ok := c.Key(p); !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing API keys for provider(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
	return err == nil && b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
