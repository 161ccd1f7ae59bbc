package llm

import (
	"context"
	"strings"
	"time"

	"pidgin/internal/events"
	"pidgin/internal/ratelimit"
	"pidgin/internal/retry"
)

// DefaultCallTimeout bounds one provider call including streaming.
const DefaultCallTimeout = 10 * time.Minute

// EventAwareConfig binds a wrapped provider to its conversation.
type EventAwareConfig struct {
	Bus            *events.Bus
	Limiter        *ratelimit.Limiter
	Context        ContextManager
	AgentID        string
	ConversationID string
	ExperimentID   string
	// Timeout is the per-call deadline; zero means DefaultCallTimeout.
	Timeout time.Duration
	// Retry overrides the provider retry policy; zero value means
	// retry.ProviderDefaults.
	Retry retry.Config
}

// EventAware decorates a Provider with event emission, rate limiting, context
// management, and retry. It emits MessageRequest before the call, chunk
// events while streaming, then ThinkingComplete (when reasoning chunks
// arrived) and MessageComplete.
type EventAware struct {
	inner Provider
	cfg   EventAwareConfig
}

// Wrap decorates p. The limiter may be nil (no pacing), as may the bus in
// tests that only exercise the retry path.
func Wrap(p Provider, cfg EventAwareConfig) *EventAware {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.ProviderDefaults()
	}
	return &EventAware{inner: p, cfg: cfg}
}

// Name returns the wrapped vendor key.
func (p *EventAware) Name() string { return p.inner.Name() }

// Model returns the wrapped model identifier.
func (p *EventAware) Model() string { return p.inner.Model() }

// Result is the assembled outcome of one generation.
type Result struct {
	Message  Message
	Thinking string
	Usage    Usage
	Duration time.Duration
}

// Generate runs one provider call for the given turn: context preparation,
// rate-limit admission, the streaming call with retry, and event emission.
// The returned error, when non-nil, wraps an *APIError already announced on
// the bus, except when ctx is canceled (including while waiting for
// rate-limit admission): then it carries the context's error.
func (p *EventAware) Generate(ctx context.Context, turn int, history []Message, opts Options) (Result, error) {
	prepared := p.cfg.Context.Prepare(p.inner.Model(), history)
	if prepared.Truncated {
		p.emit(&events.ContextTruncation{
			Meta:            p.meta(),
			AgentID:         p.cfg.AgentID,
			TurnNumber:      turn,
			DroppedMessages: prepared.Dropped,
			EstimatedTokens: prepared.EstimatedTokens,
			BudgetTokens:    prepared.BudgetTokens,
		})
	}

	p.emit(&events.MessageRequest{
		Meta:        p.meta(),
		TurnNumber:  turn,
		AgentID:     p.cfg.AgentID,
		Model:       p.inner.Model(),
		Provider:    p.inner.Name(),
		Temperature: opts.Temperature,
	})

	estimate := prepared.EstimatedTokens + opts.MaxTokens
	if p.cfg.Limiter != nil {
		err := p.cfg.Limiter.Acquire(ctx, estimate, func(wait time.Duration, reason string) {
			p.emit(&events.RateLimitPace{
				Meta:     p.meta(),
				Provider: p.inner.Name(),
				WaitMS:   wait.Milliseconds(),
				Reason:   reason,
			})
		})
		if err != nil {
			return Result{}, err
		}
	}

	var (
		response strings.Builder
		thinking strings.Builder
		usage    Usage
		attempt  int
	)
	start := time.Now()

	retryCfg := p.cfg.Retry
	retryCfg.OnBackoff = func(failed int, delay time.Duration) {
		p.emit(&events.RateLimitPace{
			Meta:     p.meta(),
			Provider: p.inner.Name(),
			WaitMS:   delay.Milliseconds(),
			Reason:   "retry_backoff",
		})
	}
	retryCfg.DelayHint = func(err error) time.Duration {
		if ae, ok := AsAPIError(err); ok {
			return ae.RetryAfter
		}
		return 0
	}

	res := retry.Do(ctx, retryCfg, func() error {
		attempt++
		response.Reset()
		thinking.Reset()
		responseIdx, thinkingIdx := 0, 0

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		u, err := p.inner.StreamResponse(callCtx, prepared.Messages, opts, HandlerFuncs{
			Delta: func(text string) {
				response.WriteString(text)
				p.emit(&events.MessageChunk{
					Meta:       p.meta(),
					TurnNumber: turn,
					AgentID:    p.cfg.AgentID,
					ChunkIndex: responseIdx,
					Content:    text,
				})
				responseIdx++
			},
			Thinking: func(text string) {
				thinking.WriteString(text)
				p.emit(&events.ThinkingChunk{
					Meta:       p.meta(),
					TurnNumber: turn,
					AgentID:    p.cfg.AgentID,
					ChunkIndex: thinkingIdx,
					Content:    text,
				})
				thinkingIdx++
			},
		})
		if err != nil {
			// Cancellation is not a provider fault; surface it quietly so the
			// conductor can end the conversation as interrupted.
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			ae := ClassifyTransport(p.inner.Name(), err)
			if ae.Kind == ErrTimeout {
				p.emit(&events.ProviderTimeout{
					Meta:       p.meta(),
					AgentID:    p.cfg.AgentID,
					TurnNumber: turn,
					Provider:   p.inner.Name(),
					TimeoutMS:  p.cfg.Timeout.Milliseconds(),
				})
			}
			p.emit(&events.APIError{
				Meta:       p.meta(),
				AgentID:    p.cfg.AgentID,
				TurnNumber: turn,
				Provider:   p.inner.Name(),
				ErrorKind:  string(ae.Kind),
				Message:    ae.Message,
				Retryable:  ae.Retryable(),
				Attempt:    attempt,
			})
			if !ae.Retryable() {
				return retry.Permanent(ae)
			}
			return ae
		}
		usage = u
		return nil
	})
	duration := time.Since(start)

	if res.Err != nil {
		err := res.Err
		if pe, ok := err.(*retry.PermanentError); ok {
			err = pe.Err
		}
		return Result{Duration: duration}, err
	}

	if !usage.Reported {
		usage.PromptTokens = prepared.EstimatedTokens
		usage.CompletionTokens = EstimateTokens(response.String())
		if thinking.Len() > 0 {
			usage.ThinkingTokens = EstimateTokens(thinking.String())
		}
	}
	if p.cfg.Limiter != nil {
		p.cfg.Limiter.Record(estimate, usage.PromptTokens+usage.CompletionTokens+usage.ThinkingTokens)
	}
	RecordTokenMetrics(p.inner.Model(), usage.PromptTokens, usage.CompletionTokens+usage.ThinkingTokens)

	if thinking.Len() > 0 {
		p.emit(&events.ThinkingComplete{
			Meta:           p.meta(),
			TurnNumber:     turn,
			AgentID:        p.cfg.AgentID,
			Content:        thinking.String(),
			ThinkingTokens: usage.ThinkingTokens,
			DurationMS:     duration.Milliseconds(),
		})
	}
	p.emit(&events.MessageComplete{
		Meta:             p.meta(),
		TurnNumber:       turn,
		AgentID:          p.cfg.AgentID,
		Content:          response.String(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TokensEstimated:  !usage.Reported,
		DurationMS:       duration.Milliseconds(),
	})

	msg := Message{
		Role:      RoleAssistant,
		AgentID:   p.cfg.AgentID,
		Content:   response.String(),
		Timestamp: time.Now().UTC(),
	}
	return Result{Message: msg, Thinking: thinking.String(), Usage: usage, Duration: duration}, nil
}

func (p *EventAware) meta() events.Meta {
	return events.Meta{ConversationID: p.cfg.ConversationID, ExperimentID: p.cfg.ExperimentID}
}

func (p *EventAware) emit(ev events.Event) {
	if p.cfg.Bus != nil {
		_ = p.cfg.Bus.Emit(ev)
	}
}
