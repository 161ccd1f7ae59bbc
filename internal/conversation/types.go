// Package conversation drives a single two-agent conversation end to end:
// role routing, name coordination, the turn loop, and teardown.
package conversation

import (
	"time"

	"pidgin/internal/config"
	"pidgin/internal/llm"
)

// Status values of a conversation.
type Status string

const (
	StatusCreated      Status = "created"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusInterrupted  Status = "interrupted"
	StatusContextLimit Status = "context_limit_reached"
)

// Terminal reasons recorded on ConversationEnd.
const (
	ReasonMaxTurns        = "max_turns"
	ReasonHighConvergence = "high_convergence"
	ReasonInterrupted     = "interrupted"
	ReasonError           = "error"
	ReasonContextLimit    = "context_limit_reached"
)

// Agent is one side of a conversation. Immutable after start except
// ChosenName, which is set at most once from the agent's first message.
type Agent struct {
	ID          string
	Model       string
	Provider    string
	DisplayName string
	ChosenName  string
	Settings    config.AgentSettings
}

// Name returns the chosen name when the agent picked one, otherwise the
// display name.
func (a *Agent) Name() string {
	if a.ChosenName != "" {
		return a.ChosenName
	}
	return a.DisplayName
}

// Options returns the generation options for this agent's provider calls.
func (a *Agent) Options() llm.Options {
	return llm.Options{
		Temperature:     a.Settings.Temperature,
		ThinkingEnabled: a.Settings.ThinkingEnabled,
		ThinkingBudget:  a.Settings.ThinkingBudget,
	}
}

// Conversation is the canonical state owned by one Conductor.
type Conversation struct {
	ID           string
	ExperimentID string
	AgentA       *Agent
	AgentB       *Agent

	InitialPrompt string
	MaxTurns      int
	FirstSpeaker  string

	// BranchedFrom and BranchTurn are set when this conversation was seeded
	// from another's prefix.
	BranchedFrom string
	BranchTurn   int

	Messages []llm.Message

	Status            Status
	ConvergenceReason string
	FinalConvergence  float64
	StartedAt         time.Time
	EndedAt           time.Time
	Error             string
}

// Agent returns the agent with the given id, or nil.
func (c *Conversation) Agent(id string) *Agent {
	switch id {
	case c.AgentA.ID:
		return c.AgentA
	case c.AgentB.ID:
		return c.AgentB
	}
	return nil
}

// Partner returns the other agent.
func (c *Conversation) Partner(id string) *Agent {
	if id == c.AgentA.ID {
		return c.AgentB
	}
	return c.AgentA
}
