package events

import "encoding/json"

// AgentInfo is the per-agent configuration snapshot recorded on
// ConversationStart.
type AgentInfo struct {
	ID              string   `json:"id"`
	Model           string   `json:"model"`
	Provider        string   `json:"provider"`
	DisplayName     string   `json:"display_name"`
	Temperature     *float64 `json:"temperature,omitempty"`
	AwarenessLevel  string   `json:"awareness_level,omitempty"`
	ThinkingEnabled bool     `json:"thinking_enabled,omitempty"`
	ThinkingBudget  int      `json:"thinking_budget,omitempty"`
}

type ConversationStart struct {
	Meta
	AgentA        AgentInfo `json:"agent_a"`
	AgentB        AgentInfo `json:"agent_b"`
	InitialPrompt string    `json:"initial_prompt,omitempty"`
	MaxTurns      int       `json:"max_turns"`
	FirstSpeaker  string    `json:"first_speaker"`
	BranchedFrom  string    `json:"branched_from,omitempty"`
	BranchTurn    int       `json:"branch_turn,omitempty"`
}

func (*ConversationStart) EventType() Type { return TypeConversationStart }

type ConversationEnd struct {
	Meta
	EndedReason      string  `json:"ended_reason"`
	FinalConvergence float64 `json:"final_convergence"`
	TotalTurns       int     `json:"total_turns"`
	DurationMS       int64   `json:"duration_ms"`
	Error            string  `json:"error,omitempty"`
}

func (*ConversationEnd) EventType() Type { return TypeConversationEnd }

type TurnStart struct {
	Meta
	TurnNumber int `json:"turn_number"`
}

func (*TurnStart) EventType() Type { return TypeTurnStart }

type TurnComplete struct {
	Meta
	TurnNumber       int                `json:"turn_number"`
	ConvergenceScore float64            `json:"convergence_score"`
	Components       map[string]float64 `json:"convergence_components,omitempty"`
}

func (*TurnComplete) EventType() Type { return TypeTurnComplete }

type MessageRequest struct {
	Meta
	TurnNumber  int      `json:"turn_number"`
	AgentID     string   `json:"agent_id"`
	Model       string   `json:"model"`
	Provider    string   `json:"provider"`
	Temperature *float64 `json:"temperature,omitempty"`
}

func (*MessageRequest) EventType() Type { return TypeMessageRequest }

type MessageChunk struct {
	Meta
	TurnNumber int    `json:"turn_number"`
	AgentID    string `json:"agent_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

func (*MessageChunk) EventType() Type { return TypeMessageChunk }

type MessageComplete struct {
	Meta
	TurnNumber       int    `json:"turn_number"`
	AgentID          string `json:"agent_id"`
	Content          string `json:"content"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TokensEstimated  bool   `json:"tokens_estimated,omitempty"`
	DurationMS       int64  `json:"duration_ms"`
}

func (*MessageComplete) EventType() Type { return TypeMessageComplete }

type ThinkingChunk struct {
	Meta
	TurnNumber int    `json:"turn_number"`
	AgentID    string `json:"agent_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

func (*ThinkingChunk) EventType() Type { return TypeThinkingChunk }

type ThinkingComplete struct {
	Meta
	TurnNumber     int    `json:"turn_number"`
	AgentID        string `json:"agent_id"`
	Content        string `json:"content"`
	ThinkingTokens int    `json:"thinking_tokens,omitempty"`
	DurationMS     int64  `json:"duration_ms,omitempty"`
}

func (*ThinkingComplete) EventType() Type { return TypeThinkingComplete }

type SystemPrompt struct {
	Meta
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
	Purpose string `json:"purpose,omitempty"`
}

func (*SystemPrompt) EventType() Type { return TypeSystemPrompt }

type ContextTruncation struct {
	Meta
	AgentID         string `json:"agent_id"`
	TurnNumber      int    `json:"turn_number"`
	DroppedMessages int    `json:"dropped_messages"`
	EstimatedTokens int    `json:"estimated_tokens"`
	BudgetTokens    int    `json:"budget_tokens"`
}

func (*ContextTruncation) EventType() Type { return TypeContextTruncation }

type APIError struct {
	Meta
	AgentID   string `json:"agent_id,omitempty"`
	TurnNumber int   `json:"turn_number,omitempty"`
	Provider  string `json:"provider"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Attempt   int    `json:"attempt,omitempty"`
}

func (*APIError) EventType() Type { return TypeAPIError }

type ProviderTimeout struct {
	Meta
	AgentID    string `json:"agent_id,omitempty"`
	TurnNumber int    `json:"turn_number,omitempty"`
	Provider   string `json:"provider"`
	TimeoutMS  int64  `json:"timeout_ms"`
}

func (*ProviderTimeout) EventType() Type { return TypeProviderTimeout }

type RateLimitPace struct {
	Meta
	Provider string `json:"provider"`
	WaitMS   int64  `json:"wait_ms"`
	Reason   string `json:"reason,omitempty"`
}

func (*RateLimitPace) EventType() Type { return TypeRateLimitPace }

type InterruptRequest struct {
	Meta
	Source string `json:"source,omitempty"`
}

func (*InterruptRequest) EventType() Type { return TypeInterruptRequest }

type ConversationPaused struct {
	Meta
	TurnNumber int `json:"turn_number,omitempty"`
}

func (*ConversationPaused) EventType() Type { return TypeConversationPaused }

type ConversationResumed struct {
	Meta
	TurnNumber int `json:"turn_number,omitempty"`
}

func (*ConversationResumed) EventType() Type { return TypeConversationResume }

type ExperimentStart struct {
	Meta
	Name               string `json:"name"`
	TotalConversations int    `json:"total_conversations"`
	MaxParallel        int    `json:"max_parallel"`
}

func (*ExperimentStart) EventType() Type { return TypeExperimentStart }

type ExperimentEnd struct {
	Meta
	Status                 string `json:"status"`
	CompletedConversations int    `json:"completed_conversations"`
	FailedConversations    int    `json:"failed_conversations"`
}

func (*ExperimentEnd) EventType() Type { return TypeExperimentEnd }

// Error reports a runtime fault that is not attributable to a provider call,
// such as a sink write failure. It is delivered to subscribers but never
// written back to the failing file.
type Error struct {
	Meta
	Scope   string `json:"scope,omitempty"`
	Message string `json:"message"`
}

func (*Error) EventType() Type { return TypeError }

// Unknown preserves events whose type this build does not recognize. Raw holds
// the original line so readers and the importer never drop fields.
type Unknown struct {
	Meta
	Raw json.RawMessage `json:"-"`
}

func (*Unknown) EventType() Type { return Type("unknown") }
