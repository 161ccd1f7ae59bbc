// Package openai streams responses through the OpenAI chat-completions API.
// The same client backs the xAI and Ollama variants, which expose
// OpenAI-compatible endpoints behind different base URLs.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"pidgin/internal/llm"
	"pidgin/internal/observability"
)

// Config configures the client. Provider distinguishes the OpenAI-compatible
// variants for rate limiting and event attribution.
type Config struct {
	Provider string // "openai", "xai", or "ollama"
	APIKey   string
	Model    string
	BaseURL  string
}

type Client struct {
	sdk      sdk.Client
	provider string
	model    string
	baseURL  string
}

// XAIBaseURL is the OpenAI-compatible endpoint for xAI Grok models.
const XAIBaseURL = "https://api.x.ai/v1"

// DefaultOllamaBaseURL serves a local Ollama daemon.
const DefaultOllamaBaseURL = "http://localhost:11434/v1"

// New builds a client bound to one model.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = observability.NewStreamingHTTPClient()
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &Client{
		sdk:      sdk.NewClient(opts...),
		provider: provider,
		model:    strings.TrimSpace(cfg.Model),
		baseURL:  strings.TrimSpace(cfg.BaseURL),
	}
}

func (c *Client) Name() string  { return c.provider }
func (c *Client) Model() string { return c.model }

// StreamResponse streams one completion. Reasoning deltas are surfaced by
// some compatible backends in the reasoning_content extension field; when
// present they are delivered as thinking chunks.
func (c *Client) StreamResponse(ctx context.Context, msgs []llm.Message, opts llm.Options, h llm.StreamHandler) (llm.Usage, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: adaptMessages(msgs),
	}
	if opts.Temperature != nil {
		params.Temperature = sdk.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(opts.MaxTokens))
	}
	// Ask for a final usage chunk so token counts come from the vendor. Local
	// backends may not support the flag, so only cloud endpoints request it.
	if !c.isLocal() {
		params.StreamOptions.IncludeUsage = sdk.Bool(true)
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI StreamResponse", c.model, len(msgs))
	defer span.End()
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	log.Debug().Str("provider", c.provider).Str("model", c.model).Int("msgs", len(msgs)).Msg("openai_stream_start")

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var promptTokens, completionTokens int
	for stream.Next() {
		chunk := stream.Current()
		if chunk.JSON.Usage.Valid() && chunk.JSON.Usage.Raw() != "null" {
			promptTokens = int(chunk.Usage.PromptTokens)
			completionTokens = int(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}
		// reasoning_content is a compatible-backend extension (DeepSeek-style
		// reasoning via Ollama, xAI reasoning models).
		if raw := delta.JSON.ExtraFields["reasoning_content"]; raw.Valid() {
			if text, err := strconv.Unquote(raw.Raw()); err == nil && text != "" {
				h.OnThinking(text)
			}
		}
	}

	dur := time.Since(start)
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("provider", c.provider).Str("model", c.model).Dur("duration", dur).Msg("openai_stream_error")
		return llm.Usage{}, classifyError(c.provider, err)
	}

	usage := llm.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Reported:         promptTokens > 0 || completionTokens > 0,
	}
	llm.RecordTokenAttributes(span, usage.PromptTokens, usage.CompletionTokens, usage.PromptTokens+usage.CompletionTokens)
	log.Debug().
		Str("provider", c.provider).
		Str("model", c.model).
		Dur("duration", dur).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Msg("openai_stream_ok")
	return usage, nil
}

func (c *Client) isLocal() bool {
	return c.provider == "ollama" ||
		strings.Contains(c.baseURL, "localhost") ||
		strings.Contains(c.baseURL, "127.0.0.1")
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if content == "" {
			// Some compatible backends reject empty content strings.
			content = " "
		}
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, sdk.SystemMessage(content))
		case llm.RoleAssistant:
			out = append(out, sdk.AssistantMessage(content))
		default:
			out = append(out, sdk.UserMessage(content))
		}
	}
	return out
}

func classifyError(provider string, err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		ae := llm.ClassifyStatus(provider, apierr.StatusCode, apierr.Error(), err)
		if ae.Kind == llm.ErrRateLimit && apierr.Response != nil {
			if v := apierr.Response.Header.Get("Retry-After"); v != "" {
				if secs, perr := strconv.Atoi(v); perr == nil && secs > 0 {
					ae.RetryAfter = time.Duration(secs) * time.Second
				}
			}
		}
		return ae
	}
	return llm.ClassifyTransport(provider, err)
}
