package conversation

import (
	"strings"

	"pidgin/internal/llm"
)

// Router turns the canonical history into the provider-facing message list
// for one agent. The canonical history stores who said what (agent_id); the
// provider needs roles relative to the target: its own messages as assistant,
// the partner's as user.
type Router struct {
	AgentAModel string
	AgentBModel string
}

// Route produces the provider-facing history for target ("agent_a" or
// "agent_b"). Ordering is preserved.
//
//   - System messages addressed to a specific agent (agent_id set to that
//     agent) are included only for that agent.
//   - System messages from "system" go to both agents; identity markers are
//     rewritten so the target's own model appears first.
//   - Messages from "human" pass through as user messages.
func (r Router) Route(history []llm.Message, target string) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		switch {
		case m.Role == llm.RoleSystem:
			switch m.AgentID {
			case target:
				out = append(out, llm.Message{Role: llm.RoleSystem, AgentID: m.AgentID, Content: m.Content, Timestamp: m.Timestamp})
			case llm.AgentSystem:
				out = append(out, llm.Message{Role: llm.RoleSystem, AgentID: m.AgentID, Content: r.rewriteIdentity(m.Content, target), Timestamp: m.Timestamp})
			}
		case m.AgentID == target:
			out = append(out, llm.Message{Role: llm.RoleAssistant, AgentID: m.AgentID, Content: m.Content, Timestamp: m.Timestamp})
		default:
			// Partner and human messages both arrive as user input.
			out = append(out, llm.Message{Role: llm.RoleUser, AgentID: m.AgentID, Content: m.Content, Timestamp: m.Timestamp})
		}
	}
	return out
}

// rewriteIdentity swaps the two model names in a shared system prompt so the
// target's identity appears first ("You are <self>" rather than the partner).
func (r Router) rewriteIdentity(content, target string) string {
	if target != llm.AgentB {
		return content
	}
	if r.AgentAModel == "" || r.AgentBModel == "" || r.AgentAModel == r.AgentBModel {
		return content
	}
	if !strings.Contains(content, r.AgentAModel) || !strings.Contains(content, r.AgentBModel) {
		return content
	}
	const placeholder = "\x00model\x00"
	out := strings.ReplaceAll(content, r.AgentAModel, placeholder)
	out = strings.ReplaceAll(out, r.AgentBModel, r.AgentAModel)
	return strings.ReplaceAll(out, placeholder, r.AgentBModel)
}
