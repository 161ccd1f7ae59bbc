package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pidgin/internal/llm"
)

// WriteTranscript renders a human-readable markdown transcript next to the
// conversation's event log. Structure only; analysis lives in the relational
// store.
func WriteTranscript(dir string, conv *Conversation) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %s\n\n", conv.ID)
	fmt.Fprintf(&b, "- **%s**: %s (%s)\n", conv.AgentA.ID, conv.AgentA.Name(), conv.AgentA.Model)
	fmt.Fprintf(&b, "- **%s**: %s (%s)\n", conv.AgentB.ID, conv.AgentB.Name(), conv.AgentB.Model)
	fmt.Fprintf(&b, "- **status**: %s\n", conv.Status)
	if conv.ConvergenceReason != "" {
		fmt.Fprintf(&b, "- **ended**: %s\n", conv.ConvergenceReason)
	}
	if conv.BranchedFrom != "" {
		fmt.Fprintf(&b, "- **branched from**: %s at turn %d\n", conv.BranchedFrom, conv.BranchTurn)
	}
	b.WriteString("\n")

	if conv.InitialPrompt != "" {
		fmt.Fprintf(&b, "## Initial prompt\n\n%s\n\n", conv.InitialPrompt)
	}

	turn := 0
	assistantSeen := 0
	for _, m := range conv.Messages {
		if m.Role != llm.RoleAssistant {
			continue
		}
		if assistantSeen%2 == 0 {
			fmt.Fprintf(&b, "## Turn %d\n\n", turn)
			turn++
		}
		assistantSeen++
		agent := conv.Agent(m.AgentID)
		name := m.AgentID
		if agent != nil {
			name = agent.Name()
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", name, m.Content)
	}

	fmt.Fprintf(&b, "---\n\nfinal convergence: %.3f\n", conv.FinalConvergence)

	path := filepath.Join(dir, "transcript_"+conv.ID+".md")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
