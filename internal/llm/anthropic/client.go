// Package anthropic streams responses from the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"pidgin/internal/llm"
	"pidgin/internal/observability"
)

const (
	providerName             = "anthropic"
	defaultMaxTokens   int64 = 4096
	minThinkingBudget  int64 = 1024
)

// Config configures the Anthropic client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Client struct {
	sdk   anthropic.Client
	model string
}

// New builds a client bound to one model. httpClient nil uses an instrumented
// default.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = observability.NewStreamingHTTPClient()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &Client{
		sdk:   anthropic.NewClient(opts...),
		model: strings.TrimSpace(cfg.Model),
	}
}

func (c *Client) Name() string  { return providerName }
func (c *Client) Model() string { return c.model }

// StreamResponse streams one completion, delivering text deltas and thinking
// deltas to h in arrival order.
func (c *Client) StreamResponse(ctx context.Context, msgs []llm.Message, opts llm.Options, h llm.StreamHandler) (llm.Usage, error) {
	system, converted, err := adaptMessages(msgs)
	if err != nil {
		return llm.Usage{}, err
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		System:    system,
		MaxTokens: maxTokens,
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if opts.ThinkingEnabled {
		// Anthropic enforces budget_tokens >= 1024 and max_tokens > budget.
		budget := int64(opts.ThinkingBudget)
		if budget < minThinkingBudget {
			budget = minThinkingBudget
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
		if params.MaxTokens <= budget {
			params.MaxTokens = budget + defaultMaxTokens
		}
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic StreamResponse", c.model, len(msgs))
	defer span.End()
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	log.Debug().Str("model", c.model).Int("msgs", len(msgs)).Msg("anthropic_stream_start")

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var inputTokens, outputTokens, cacheCreation, cacheRead int64
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			inputTokens = ev.Message.Usage.InputTokens
			cacheCreation = ev.Message.Usage.CacheCreationInputTokens
			cacheRead = ev.Message.Usage.CacheReadInputTokens
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ThinkingBlock); ok && block.Thinking != "" {
				h.OnThinking(block.Thinking)
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					h.OnDelta(delta.Text)
				}
			case anthropic.ThinkingDelta:
				if delta.Thinking != "" {
					h.OnThinking(delta.Thinking)
				}
			}
		case anthropic.MessageDeltaEvent:
			outputTokens = ev.Usage.OutputTokens
		}
	}

	dur := time.Since(start)
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", c.model).Dur("duration", dur).Msg("anthropic_stream_error")
		return llm.Usage{}, classifyError(err)
	}

	usage := llm.Usage{
		PromptTokens:     int(inputTokens + cacheCreation + cacheRead),
		CompletionTokens: int(outputTokens),
		Reported:         inputTokens > 0 || outputTokens > 0,
	}
	llm.RecordTokenAttributes(span, usage.PromptTokens, usage.CompletionTokens, usage.PromptTokens+usage.CompletionTokens)
	log.Debug().
		Str("model", c.model).
		Dur("duration", dur).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Msg("anthropic_stream_ok")
	return usage, nil
}

func adaptMessages(msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, nil, errors.New("anthropic provider: messages required")
	}
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case llm.RoleUser:
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case llm.RoleAssistant:
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		default:
			return nil, nil, errors.New("anthropic provider: unsupported role " + m.Role)
		}
	}
	return system, out, nil
}

// classifyError maps SDK failures into the shared taxonomy. Anthropic signals
// overload with 529 and surfaces Retry-After on 429s.
func classifyError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		ae := llm.ClassifyStatus(providerName, apierr.StatusCode, apierr.Error(), err)
		if ae.Kind == llm.ErrRateLimit && apierr.Response != nil {
			if v := apierr.Response.Header.Get("Retry-After"); v != "" {
				if secs, perr := strconv.Atoi(v); perr == nil && secs > 0 {
					ae.RetryAfter = time.Duration(secs) * time.Second
				}
			}
		}
		return ae
	}
	return llm.ClassifyTransport(providerName, err)
}
