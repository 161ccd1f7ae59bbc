// Package llm defines the message model and the provider abstraction: a
// vendor-neutral streaming interface plus the event-aware decorator that
// turns provider calls into bus events.
package llm

import (
	"context"
	"time"
)

// Canonical agent identities. Role and agent id are distinct: role is
// provider-facing, agent id is source of truth.
const (
	AgentA      = "agent_a"
	AgentB      = "agent_b"
	AgentSystem = "system"
	AgentHuman  = "human"
)

// Provider-facing roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a conversation history.
type Message struct {
	Role      string    `json:"role"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChunkKind distinguishes reasoning output from the response proper.
type ChunkKind string

const (
	KindThinking ChunkKind = "thinking"
	KindResponse ChunkKind = "response"
)

// Chunk is one streamed fragment in arrival order. Chunk boundaries are not
// part of any contract; only the order and concatenation are.
type Chunk struct {
	Kind ChunkKind
	Text string
}

// StreamHandler receives chunks as the vendor stream yields them.
type StreamHandler interface {
	OnDelta(text string)
	OnThinking(text string)
}

// Options are per-call generation parameters resolved by the config layer.
type Options struct {
	Temperature     *float64
	MaxTokens       int
	ThinkingEnabled bool
	ThinkingBudget  int
}

// Usage reports token consumption for one call. Reported is false when the
// vendor returned no usage and the counts are local estimates.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	ThinkingTokens   int
	Reported         bool
}

// Provider streams one response for a prepared, provider-facing history. The
// stream is finite and not restartable; implementations deliver chunks to h
// in arrival order and return once the vendor stream is drained.
type Provider interface {
	// Name is the vendor key ("anthropic", "openai", ...) used for rate
	// limiting and event attribution.
	Name() string
	// Model is the concrete model identifier this provider is bound to.
	Model() string
	StreamResponse(ctx context.Context, msgs []Message, opts Options, h StreamHandler) (Usage, error)
}

// HandlerFuncs adapts two closures to StreamHandler.
type HandlerFuncs struct {
	Delta    func(text string)
	Thinking func(text string)
}

func (h HandlerFuncs) OnDelta(text string) {
	if h.Delta != nil {
		h.Delta(text)
	}
}

func (h HandlerFuncs) OnThinking(text string) {
	if h.Thinking != nil {
		h.Thinking(text)
	}
}
