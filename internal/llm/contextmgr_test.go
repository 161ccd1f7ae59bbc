package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func history(contents ...string) []Message {
	var out []Message
	for i, c := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: c})
	}
	return out
}

func TestPrepareUnderBudgetReturnsFullHistory(t *testing.T) {
	cm := ContextManager{MaxContextTokens: 10_000, AllowTruncation: true}
	msgs := history("hello", "world")
	p := cm.Prepare("test-model", msgs)
	assert.Equal(t, msgs, p.Messages)
	assert.False(t, p.Truncated)
	assert.False(t, p.OverBudget)
}

func TestPrepareTruncatesOldestNonSystemFirst(t *testing.T) {
	big := strings.Repeat("word ", 2000) // ~2500 estimated tokens
	msgs := []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: big},
		{Role: RoleAssistant, Content: big},
		{Role: RoleUser, Content: "latest"},
	}
	cm := ContextManager{MaxContextTokens: 3_000, AllowTruncation: true, ReserveTokens: 100}
	p := cm.Prepare("test-model", msgs)

	assert.True(t, p.Truncated)
	assert.Equal(t, 1, p.Dropped)
	assert.Equal(t, RoleSystem, p.Messages[0].Role, "system prompt survives truncation")
	assert.Equal(t, "latest", p.Messages[len(p.Messages)-1].Content)
}

func TestPrepareWithTruncationDisabledFlagsOverBudget(t *testing.T) {
	big := strings.Repeat("word ", 5000)
	msgs := history(big, big)
	cm := ContextManager{MaxContextTokens: 1_000, AllowTruncation: false}
	p := cm.Prepare("test-model", msgs)

	assert.True(t, p.OverBudget)
	assert.False(t, p.Truncated)
	assert.Equal(t, msgs, p.Messages, "history passes through untouched")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}

func TestContextSizeKnownAndUnknown(t *testing.T) {
	n, known := ContextSize("claude-sonnet-4-20250514")
	assert.True(t, known)
	assert.Equal(t, 200_000, n)

	n, known = ContextSize("mystery-model-9000")
	assert.False(t, known)
	assert.Equal(t, 32_000, n)
}
