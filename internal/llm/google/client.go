// Package google streams responses from the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"pidgin/internal/llm"
	"pidgin/internal/observability"
)

const providerName = "google"

// Config configures the Gemini client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Client struct {
	client      *genai.Client
	model       string
	httpOptions genai.HTTPOptions
}

// New builds a client bound to one model.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = observability.NewStreamingHTTPClient()
	}
	httpOpts := genai.HTTPOptions{}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}
	return &Client{client: client, model: strings.TrimSpace(cfg.Model), httpOptions: httpOpts}, nil
}

func (c *Client) Name() string  { return providerName }
func (c *Client) Model() string { return c.model }

// StreamResponse streams one completion. Thought parts are delivered as
// thinking chunks when the model exposes them.
func (c *Client) StreamResponse(ctx context.Context, msgs []llm.Message, opts llm.Options, h llm.StreamHandler) (llm.Usage, error) {
	contents, system, err := toContents(msgs)
	if err != nil {
		return llm.Usage{}, err
	}
	cfg := &genai.GenerateContentConfig{HTTPOptions: &c.httpOptions}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.ThinkingEnabled {
		tc := &genai.ThinkingConfig{IncludeThoughts: true}
		if opts.ThinkingBudget > 0 {
			tc.ThinkingBudget = genai.Ptr(int32(opts.ThinkingBudget))
		}
		cfg.ThinkingConfig = tc
	}

	ctx, span := llm.StartRequestSpan(ctx, "Google StreamResponse", c.model, len(msgs))
	defer span.End()
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	log.Debug().Str("model", c.model).Int("msgs", len(msgs)).Msg("google_stream_start")

	var usage llm.Usage
	stream := c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg)
	for resp, err := range stream {
		if err != nil {
			dur := time.Since(start)
			span.RecordError(err)
			log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("google_stream_error")
			return llm.Usage{}, classifyError(err)
		}
		if resp.UsageMetadata != nil {
			usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			usage.ThinkingTokens = int(resp.UsageMetadata.ThoughtsTokenCount)
			usage.Reported = true
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				if part.Thought {
					h.OnThinking(part.Text)
				} else {
					h.OnDelta(part.Text)
				}
			}
		}
	}

	dur := time.Since(start)
	llm.RecordTokenAttributes(span, usage.PromptTokens, usage.CompletionTokens, usage.PromptTokens+usage.CompletionTokens)
	log.Debug().
		Str("model", c.model).
		Dur("duration", dur).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Msg("google_stream_ok")
	return usage, nil
}

// toContents converts the provider-facing history. Gemini takes system text
// as a separate instruction rather than an in-band message.
func toContents(msgs []llm.Message) ([]*genai.Content, string, error) {
	if len(msgs) == 0 {
		return nil, "", errors.New("google provider: messages required")
	}
	var system strings.Builder
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				if system.Len() > 0 {
					system.WriteString("\n\n")
				}
				system.WriteString(m.Content)
			}
		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			return nil, "", errors.New("google provider: unsupported role " + m.Role)
		}
	}
	return contents, system.String(), nil
}

func classifyError(err error) error {
	var gae genai.APIError
	if errors.As(err, &gae) {
		return llm.ClassifyStatus(providerName, gae.Code, gae.Message, err)
	}
	return llm.ClassifyTransport(providerName, err)
}
