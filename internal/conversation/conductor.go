package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pidgin/internal/config"
	"pidgin/internal/convergence"
	"pidgin/internal/events"
	"pidgin/internal/llm"
)

// ConductorConfig wires one conversation's collaborators together.
type ConductorConfig struct {
	Conversation *Conversation
	Bus          *events.Bus
	ProviderA    *llm.EventAware
	ProviderB    *llm.EventAware
	Calc         *convergence.Calculator

	ConvergenceThreshold float64
	ConvergenceAction    string
	ChooseNames          bool

	// BranchMessages seed the history when branching from another
	// conversation; StartTurn is the turn index the loop resumes at.
	BranchMessages []llm.Message
	StartTurn      int

	// TranscriptDir, when non-empty, receives a markdown transcript on
	// teardown.
	TranscriptDir string
}

// Conductor owns one conversation: its state, its bus handle, and its two
// providers, for the conversation's whole lifetime.
type Conductor struct {
	cfg      ConductorConfig
	conv     *Conversation
	executor *TurnExecutor

	// seedAssistant counts assistant messages in the branch seed so turn
	// accounting only covers turns this conductor actually ran.
	seedAssistant int

	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// NewConductor builds a conductor. The providers must already be bound to
// the conversation's bus and rate limiters.
func NewConductor(cfg ConductorConfig) *Conductor {
	return &Conductor{
		cfg:  cfg,
		conv: cfg.Conversation,
		executor: &TurnExecutor{
			Bus:  cfg.Bus,
			Calc: cfg.Calc,
			Router: Router{
				AgentAModel: cfg.Conversation.AgentA.Model,
				AgentBModel: cfg.Conversation.AgentB.Model,
			},
		},
	}
}

// Run drives the conversation to a terminal state. The returned error is nil
// for every orderly ending, including failed conversations: the outcome is
// read from the conversation's Status and ConvergenceReason.
func (c *Conductor) Run(ctx context.Context) error {
	conv := c.conv
	conv.Status = StatusRunning
	conv.StartedAt = time.Now().UTC()

	c.setup()

	reason := c.turnLoop(ctx)

	conv.EndedAt = time.Now().UTC()
	conv.ConvergenceReason = reason
	conv.Status = statusFor(reason)

	_ = c.cfg.Bus.Emit(&events.ConversationEnd{
		Meta:             c.meta(),
		EndedReason:      reason,
		FinalConvergence: conv.FinalConvergence,
		TotalTurns:       c.completedTurns(),
		DurationMS:       conv.EndedAt.Sub(conv.StartedAt).Milliseconds(),
		Error:            conv.Error,
	})
	if err := c.cfg.Bus.CloseConversationLog(conv.ID); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("close_conversation_log_failed")
	}
	if c.cfg.TranscriptDir != "" {
		if err := WriteTranscript(c.cfg.TranscriptDir, conv); err != nil {
			log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("transcript_write_failed")
		}
	}
	return nil
}

// Pause suspends the turn loop before the next turn; Resume releases it.
func (c *Conductor) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.resume = make(chan struct{})
	_ = c.cfg.Bus.Emit(&events.ConversationPaused{Meta: c.meta(), TurnNumber: c.completedTurns()})
}

// Resume releases a paused conductor.
func (c *Conductor) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resume)
	_ = c.cfg.Bus.Emit(&events.ConversationResumed{Meta: c.meta(), TurnNumber: c.completedTurns()})
}

func (c *Conductor) setup() {
	conv := c.conv

	_ = c.cfg.Bus.Emit(&events.ConversationStart{
		Meta:          c.meta(),
		AgentA:        agentInfo(conv.AgentA),
		AgentB:        agentInfo(conv.AgentB),
		InitialPrompt: conv.InitialPrompt,
		MaxTurns:      conv.MaxTurns,
		FirstSpeaker:  conv.FirstSpeaker,
		BranchedFrom:  conv.BranchedFrom,
		BranchTurn:    conv.BranchTurn,
	})

	now := time.Now().UTC()
	for _, agent := range []*Agent{conv.AgentA, conv.AgentB} {
		prompt, err := config.AwarenessPrompt(agent.Settings.Awareness, agent.Model, conv.Partner(agent.ID).Model)
		if err != nil {
			log.Warn().Err(err).Str("agent_id", agent.ID).Msg("awareness_prompt_failed")
			continue
		}
		if prompt == "" {
			continue
		}
		conv.Messages = append(conv.Messages, llm.Message{
			Role: llm.RoleSystem, AgentID: agent.ID, Content: prompt, Timestamp: now,
		})
		_ = c.cfg.Bus.Emit(&events.SystemPrompt{
			Meta:    c.meta(),
			AgentID: agent.ID,
			Content: prompt,
			Purpose: "awareness",
		})
	}

	if c.cfg.ChooseNames {
		conv.Messages = append(conv.Messages, llm.Message{
			Role: llm.RoleSystem, AgentID: llm.AgentSystem, Content: ChooseNamesPrompt, Timestamp: now,
		})
		_ = c.cfg.Bus.Emit(&events.SystemPrompt{
			Meta:    c.meta(),
			AgentID: llm.AgentSystem,
			Content: ChooseNamesPrompt,
			Purpose: "choose_names",
		})
	}

	if len(c.cfg.BranchMessages) > 0 {
		conv.Messages = append(conv.Messages, c.cfg.BranchMessages...)
		for _, m := range c.cfg.BranchMessages {
			if m.Role == llm.RoleAssistant {
				c.seedAssistant++
			}
		}
	}

	if conv.InitialPrompt != "" && len(c.cfg.BranchMessages) == 0 {
		conv.Messages = append(conv.Messages, llm.Message{
			Role: llm.RoleUser, AgentID: llm.AgentHuman, Content: conv.InitialPrompt, Timestamp: now,
		})
	}
}

func (c *Conductor) turnLoop(ctx context.Context) string {
	conv := c.conv
	first, second := c.speakerOrder()

	for turn := c.cfg.StartTurn; turn < conv.MaxTurns; turn++ {
		if err := c.waitIfPaused(ctx); err != nil {
			return ReasonInterrupted
		}
		if ctx.Err() != nil {
			return ReasonInterrupted
		}

		result := c.executor.Execute(ctx, conv, turn, first, second)
		if result.Err != nil {
			if ctx.Err() != nil {
				return ReasonInterrupted
			}
			if ae, ok := llm.AsAPIError(result.Err); ok && ae.Kind == llm.ErrContextLength {
				// A terminal state, not a failure: the model ran out of room.
				return ReasonContextLimit
			}
			conv.Error = result.Err.Error()
			return ReasonError
		}

		if c.cfg.ChooseNames && turn == c.cfg.StartTurn {
			c.extractNames(result)
		}

		conv.FinalConvergence = result.Convergence
		if result.Convergence >= c.cfg.ConvergenceThreshold {
			switch c.cfg.ConvergenceAction {
			case config.ActionStop:
				return ReasonHighConvergence
			case config.ActionNotify:
				log.Info().
					Str("conversation_id", conv.ID).
					Int("turn", turn).
					Float64("convergence", result.Convergence).
					Msg("convergence_threshold_reached")
			}
		}
	}
	return ReasonMaxTurns
}

// extractNames runs once after the first turn, when each agent has produced
// its first message. A recognized name is recorded exactly once and announced
// to the partner.
func (c *Conductor) extractNames(result TurnResult) {
	conv := c.conv
	for _, msg := range []llm.Message{result.First, result.Second} {
		agent := conv.Agent(msg.AgentID)
		if agent == nil || agent.ChosenName != "" {
			continue
		}
		name := ExtractChosenName(msg.Content)
		if name == "" {
			continue
		}
		agent.ChosenName = name
		notice := agent.DisplayName + " will go by " + name + "."
		conv.Messages = append(conv.Messages, llm.Message{
			Role:      llm.RoleSystem,
			AgentID:   conv.Partner(agent.ID).ID,
			Content:   notice,
			Timestamp: time.Now().UTC(),
		})
		_ = c.cfg.Bus.Emit(&events.SystemPrompt{
			Meta:    c.meta(),
			AgentID: agent.ID,
			Content: notice,
			Purpose: "name_notification",
		})
	}
}

func (c *Conductor) speakerOrder() (Bound, Bound) {
	a := Bound{Agent: c.conv.AgentA, Provider: c.cfg.ProviderA}
	b := Bound{Agent: c.conv.AgentB, Provider: c.cfg.ProviderB}
	if c.conv.FirstSpeaker == llm.AgentB {
		return b, a
	}
	return a, b
}

func (c *Conductor) waitIfPaused(ctx context.Context) error {
	c.mu.Lock()
	paused := c.paused
	resume := c.resume
	c.mu.Unlock()
	if !paused {
		return nil
	}
	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// completedTurns counts assistant message pairs produced by this conductor,
// offset by the branch point.
func (c *Conductor) completedTurns() int {
	n := 0
	for _, m := range c.conv.Messages {
		if m.Role == llm.RoleAssistant {
			n++
		}
	}
	return c.cfg.StartTurn + (n-c.seedAssistant)/2
}

func (c *Conductor) meta() events.Meta {
	return events.Meta{ConversationID: c.conv.ID, ExperimentID: c.conv.ExperimentID}
}

func statusFor(reason string) Status {
	switch reason {
	case ReasonError:
		return StatusFailed
	case ReasonInterrupted:
		return StatusInterrupted
	case ReasonContextLimit:
		return StatusContextLimit
	default:
		return StatusCompleted
	}
}

func agentInfo(a *Agent) events.AgentInfo {
	return events.AgentInfo{
		ID:              a.ID,
		Model:           a.Model,
		Provider:        a.Provider,
		DisplayName:     a.DisplayName,
		Temperature:     a.Settings.Temperature,
		AwarenessLevel:  a.Settings.Awareness,
		ThinkingEnabled: a.Settings.ThinkingEnabled,
		ThinkingBudget:  a.Settings.ThinkingBudget,
	}
}
