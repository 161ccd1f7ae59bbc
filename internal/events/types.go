// Package events defines the typed event vocabulary of the runtime and the
// process-local bus that fans events out to in-memory subscribers and to
// per-conversation append-only JSONL sinks.
package events

import "time"

// Type discriminates event variants in the JSONL stream.
type Type string

const (
	TypeConversationStart  Type = "conversation_start"
	TypeConversationEnd    Type = "conversation_end"
	TypeTurnStart          Type = "turn_start"
	TypeTurnComplete       Type = "turn_complete"
	TypeMessageRequest     Type = "message_request"
	TypeMessageChunk       Type = "message_chunk"
	TypeMessageComplete    Type = "message_complete"
	TypeThinkingChunk      Type = "thinking_chunk"
	TypeThinkingComplete   Type = "thinking_complete"
	TypeSystemPrompt       Type = "system_prompt"
	TypeContextTruncation  Type = "context_truncation"
	TypeAPIError           Type = "api_error"
	TypeProviderTimeout    Type = "provider_timeout"
	TypeRateLimitPace      Type = "rate_limit_pace"
	TypeInterruptRequest   Type = "interrupt_request"
	TypeConversationPaused Type = "conversation_paused"
	TypeConversationResume Type = "conversation_resumed"
	TypeExperimentStart    Type = "experiment_start"
	TypeExperimentEnd      Type = "experiment_end"
	TypeError              Type = "error"

	// Wildcard subscribes a handler to every event type.
	Wildcard Type = "*"
)

// Meta carries the fields present on every event. The bus stamps Type,
// Sequence, and Timestamp at emission; callers fill ConversationID and
// ExperimentID before emitting.
type Meta struct {
	Type           Type      `json:"type"`
	Sequence       int64     `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ExperimentID   string    `json:"experiment_id,omitempty"`
}

func (m *Meta) meta() *Meta { return m }

// Event is the closed sum of all variants in this package.
type Event interface {
	EventType() Type
	meta() *Meta
}

// MetaOf returns the common fields of any event.
func MetaOf(ev Event) Meta { return *ev.meta() }
