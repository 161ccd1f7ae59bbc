// Package testprovider implements the deterministic "test" and "silent"
// provider variants used by self-contained tests and dry runs. Neither
// touches the network.
package testprovider

import (
	"context"
	"strings"
	"sync"
	"time"

	"pidgin/internal/llm"
)

// Silent yields no chunks and reports empty usage.
type Silent struct{}

func NewSilent() *Silent { return &Silent{} }

func (*Silent) Name() string  { return "silent" }
func (*Silent) Model() string { return "silent" }

func (*Silent) StreamResponse(ctx context.Context, msgs []llm.Message, opts llm.Options, h llm.StreamHandler) (llm.Usage, error) {
	if err := ctx.Err(); err != nil {
		return llm.Usage{}, err
	}
	return llm.Usage{}, nil
}

// Config shapes a deterministic Provider.
type Config struct {
	// Script cycles through fixed responses; empty Script parrots the last
	// message in the history instead.
	Script []string
	// Thinking, when non-empty, is emitted as thinking chunks before the
	// response whenever the call asks for thinking.
	Thinking string
	// ChunkWords sets how many words go into each streamed chunk (default 3).
	ChunkWords int
	// Delay is slept once per call, observing cancellation.
	Delay time.Duration
	// FailFirst makes the first N calls fail with a retryable rate-limit
	// error before succeeding.
	FailFirst int
	// FailOnCall makes call number N (1-based) fail permanently with an
	// invalid-request error. Zero disables.
	FailOnCall int
}

// Provider is the deterministic "test" variant.
type Provider struct {
	cfg Config

	mu    sync.Mutex
	calls int
}

func New(cfg Config) *Provider {
	if cfg.ChunkWords <= 0 {
		cfg.ChunkWords = 3
	}
	return &Provider{cfg: cfg}
}

func (*Provider) Name() string  { return "test" }
func (*Provider) Model() string { return "test" }

// Calls reports how many StreamResponse invocations have been made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) StreamResponse(ctx context.Context, msgs []llm.Message, opts llm.Options, h llm.StreamHandler) (llm.Usage, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()

	if p.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return llm.Usage{}, ctx.Err()
		case <-time.After(p.cfg.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return llm.Usage{}, err
	}

	if p.cfg.FailOnCall > 0 && call == p.cfg.FailOnCall {
		return llm.Usage{}, &llm.APIError{
			Kind:     llm.ErrInvalidRequest,
			Provider: "test",
			Message:  "simulated permanent failure",
		}
	}
	if call <= p.cfg.FailFirst {
		return llm.Usage{}, &llm.APIError{
			Kind:     llm.ErrRateLimit,
			Provider: "test",
			Message:  "simulated 429",
		}
	}

	if opts.ThinkingEnabled && p.cfg.Thinking != "" {
		h.OnThinking(p.cfg.Thinking)
	}

	text := p.response(msgs)
	for _, chunk := range chunkWords(text, p.cfg.ChunkWords) {
		if err := ctx.Err(); err != nil {
			return llm.Usage{}, err
		}
		h.OnDelta(chunk)
	}
	return llm.Usage{}, nil
}

func (p *Provider) response(msgs []llm.Message) string {
	if len(p.cfg.Script) > 0 {
		p.mu.Lock()
		idx := (p.calls - 1) % len(p.cfg.Script)
		p.mu.Unlock()
		return p.cfg.Script[idx]
	}
	// Parrot: repeat the most recent non-system message.
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != llm.RoleSystem && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return "hello"
}

func chunkWords(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	var out []string
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		out = append(out, chunk)
	}
	return out
}
