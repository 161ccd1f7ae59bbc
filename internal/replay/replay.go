// Package replay reconstructs conversation state by folding JSONL event
// files. Monitoring and branching read state this way; they never touch the
// relational store.
package replay

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"pidgin/internal/conversation"
	"pidgin/internal/events"
	"pidgin/internal/llm"
)

// maxLineBytes accommodates single events carrying full message contents.
const maxLineBytes = 16 * 1024 * 1024

// Fold streams the events of one JSONL file in order. Blank lines are
// skipped; fn returning an error stops the fold and surfaces that error,
// except ErrStop which stops it silently.
func Fold(path string, fn func(events.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		ev, err := events.Decode(raw)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := fn(ev); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event log %s: %w", path, err)
	}
	return nil
}

// ErrStop tells Fold to stop without error.
var ErrStop = fmt.Errorf("replay: stop")

// ThinkingTrace is one agent's reasoning for one turn.
type ThinkingTrace struct {
	Turn    int
	AgentID string
	Content string
	Tokens  int
}

// ConversationState is the accumulator a fold produces.
type ConversationState struct {
	ID           string
	ExperimentID string
	AgentA       events.AgentInfo
	AgentB       events.AgentInfo
	MaxTurns     int
	FirstSpeaker string
	BranchedFrom string
	BranchTurn   int

	Messages       []llm.Message
	ThinkingTraces []ThinkingTrace
	ChosenNames    map[string]string

	CurrentTurn      int
	LastConvergence  float64
	Status           conversation.Status
	EndedReason      string
	FinalConvergence float64
	Error            string

	PromptTokens     int
	CompletionTokens int
	Truncations      int

	StartedAt time.Time
	EndedAt   time.Time
}

// StateBuilder folds a conversation's log into state.
type StateBuilder struct {
	// StopAtTurn, when > 0, stops folding once the first StopAtTurn turns
	// are complete — the state at a branch point. Zero or negative builds
	// full state.
	StopAtTurn int
}

// Build replays the file at path. Folding any prefix first and then the full
// file yields the same final state: the fold is a pure function of the event
// sequence.
func (b StateBuilder) Build(path string) (*ConversationState, error) {
	state := &ConversationState{
		Status:      conversation.StatusCreated,
		ChosenNames: map[string]string{},
	}
	firstMessageSeen := map[string]bool{}

	err := Fold(path, func(ev events.Event) error {
		switch e := ev.(type) {
		case *events.ConversationStart:
			state.ID = e.ConversationID
			state.ExperimentID = e.ExperimentID
			state.AgentA = e.AgentA
			state.AgentB = e.AgentB
			state.MaxTurns = e.MaxTurns
			state.FirstSpeaker = e.FirstSpeaker
			state.BranchedFrom = e.BranchedFrom
			state.BranchTurn = e.BranchTurn
			state.Status = conversation.StatusRunning
			state.StartedAt = e.Timestamp
			if e.InitialPrompt != "" {
				state.Messages = append(state.Messages, llm.Message{
					Role: llm.RoleUser, AgentID: llm.AgentHuman, Content: e.InitialPrompt, Timestamp: e.Timestamp,
				})
			}
		case *events.SystemPrompt:
			state.Messages = append(state.Messages, llm.Message{
				Role: llm.RoleSystem, AgentID: e.AgentID, Content: e.Content, Timestamp: e.Timestamp,
			})
		case *events.MessageComplete:
			if b.stopBefore(e.TurnNumber) {
				return ErrStop
			}
			state.Messages = append(state.Messages, llm.Message{
				Role: llm.RoleAssistant, AgentID: e.AgentID, Content: e.Content, Timestamp: e.Timestamp,
			})
			state.PromptTokens += e.PromptTokens
			state.CompletionTokens += e.CompletionTokens
			if !firstMessageSeen[e.AgentID] {
				firstMessageSeen[e.AgentID] = true
				if name := conversation.ExtractChosenName(e.Content); name != "" {
					state.ChosenNames[e.AgentID] = name
				}
			}
		case *events.ThinkingComplete:
			if b.stopBefore(e.TurnNumber) {
				return ErrStop
			}
			state.ThinkingTraces = append(state.ThinkingTraces, ThinkingTrace{
				Turn: e.TurnNumber, AgentID: e.AgentID, Content: e.Content, Tokens: e.ThinkingTokens,
			})
		case *events.TurnComplete:
			if b.stopBefore(e.TurnNumber) {
				return ErrStop
			}
			state.CurrentTurn = e.TurnNumber + 1
			state.LastConvergence = e.ConvergenceScore
		case *events.ContextTruncation:
			state.Truncations++
		case *events.ConversationEnd:
			state.EndedReason = e.EndedReason
			state.FinalConvergence = e.FinalConvergence
			state.Error = e.Error
			state.EndedAt = e.Timestamp
			state.Status = statusFor(e.EndedReason)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// stopBefore reports whether an event for turn lies beyond the branch point.
func (b StateBuilder) stopBefore(turn int) bool {
	return b.StopAtTurn > 0 && turn >= b.StopAtTurn
}

func statusFor(reason string) conversation.Status {
	switch reason {
	case conversation.ReasonError:
		return conversation.StatusFailed
	case conversation.ReasonInterrupted:
		return conversation.StatusInterrupted
	case conversation.ReasonContextLimit:
		return conversation.StatusContextLimit
	default:
		return conversation.StatusCompleted
	}
}
