// Package providers maps model names onto concrete provider clients.
package providers

import (
	"fmt"
	"strings"

	"pidgin/internal/config"
	"pidgin/internal/llm"
	"pidgin/internal/llm/anthropic"
	"pidgin/internal/llm/google"
	"pidgin/internal/llm/openai"
	"pidgin/internal/llm/testprovider"
)

// Detect returns the vendor key for a model name. Unrecognized models are
// routed to the local Ollama endpoint.
func Detect(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "test":
		return "test"
	case m == "silent":
		return "silent"
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"), strings.HasPrefix(m, "chatgpt"):
		return "openai"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	case strings.HasPrefix(m, "grok"):
		return "xai"
	default:
		return "ollama"
	}
}

// Build constructs the provider client for a model using the credentials in
// cfg. The caller is responsible for wrapping it in llm.Wrap.
func Build(cfg config.Config, model string) (llm.Provider, error) {
	vendor := Detect(model)
	key, ok := cfg.Key(vendor)
	if !ok {
		return nil, fmt.Errorf("provider %s for model %s: missing API key", vendor, model)
	}
	switch vendor {
	case "test":
		return testprovider.New(testprovider.Config{}), nil
	case "silent":
		return testprovider.NewSilent(), nil
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: key, Model: model}, nil), nil
	case "openai":
		return openai.New(openai.Config{Provider: "openai", APIKey: key, Model: model}, nil), nil
	case "xai":
		return openai.New(openai.Config{Provider: "xai", APIKey: key, Model: model, BaseURL: openai.XAIBaseURL}, nil), nil
	case "google":
		return google.New(google.Config{APIKey: key, Model: model}, nil)
	case "ollama":
		base := cfg.Keys.OllamaBaseURL
		if base == "" {
			base = openai.DefaultOllamaBaseURL
		}
		return openai.New(openai.Config{Provider: "ollama", APIKey: "ollama", Model: model, BaseURL: base}, nil), nil
	}
	return nil, fmt.Errorf("unknown provider %s for model %s", vendor, model)
}
