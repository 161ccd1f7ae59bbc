package conversation

import (
	"context"

	"pidgin/internal/convergence"
	"pidgin/internal/events"
	"pidgin/internal/llm"
)

// Bound pairs an agent with its event-aware provider for the lifetime of one
// conversation.
type Bound struct {
	Agent    *Agent
	Provider *llm.EventAware
}

// TurnResult is the outcome of one turn. Err is non-nil when a provider call
// failed after retries; the Conductor decides what that means for the
// conversation.
type TurnResult struct {
	TurnNumber  int
	First       llm.Message
	Second      llm.Message
	Convergence float64
	Components  map[string]float64
	Err         error
}

// TurnExecutor runs single turns: one request per agent in the configured
// order, then a convergence pass over the updated history.
type TurnExecutor struct {
	Bus    *events.Bus
	Calc   *convergence.Calculator
	Router Router
}

// Execute runs turn number turn for conv. The first speaker sees the history
// as-is; the second speaker sees it with the first speaker's new message
// appended. Messages are appended to conv.Messages as they complete.
func (e *TurnExecutor) Execute(ctx context.Context, conv *Conversation, turn int, first, second Bound) TurnResult {
	res := TurnResult{TurnNumber: turn}
	meta := events.Meta{ConversationID: conv.ID, ExperimentID: conv.ExperimentID}

	_ = e.Bus.Emit(&events.TurnStart{Meta: meta, TurnNumber: turn})

	msg, err := e.speak(ctx, conv, turn, first)
	if err != nil {
		res.Err = err
		return res
	}
	res.First = msg

	msg, err = e.speak(ctx, conv, turn, second)
	if err != nil {
		res.Err = err
		return res
	}
	res.Second = msg

	res.Convergence = e.Calc.Calculate(conv.Messages)
	res.Components = e.Calc.Components(conv.Messages)

	_ = e.Bus.Emit(&events.TurnComplete{
		Meta:             meta,
		TurnNumber:       turn,
		ConvergenceScore: res.Convergence,
		Components:       res.Components,
	})
	return res
}

func (e *TurnExecutor) speak(ctx context.Context, conv *Conversation, turn int, speaker Bound) (llm.Message, error) {
	routed := e.Router.Route(conv.Messages, speaker.Agent.ID)
	result, err := speaker.Provider.Generate(ctx, turn, routed, speaker.Agent.Options())
	if err != nil {
		return llm.Message{}, err
	}
	conv.Messages = append(conv.Messages, result.Message)
	return result.Message, nil
}
