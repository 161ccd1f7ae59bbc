package convergence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidgin/internal/llm"
)

func msg(agent, content string) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, AgentID: agent, Content: content, Timestamp: time.Now()}
}

func newBalanced(t *testing.T) *Calculator {
	t.Helper()
	c, err := New(nil, 0)
	require.NoError(t, err)
	return c
}

func TestWeightsMustSumToOne(t *testing.T) {
	_, err := New(Weights{ComponentContent: 0.5, ComponentLength: 0.3}, 0)
	assert.Error(t, err)

	_, err = New(Weights{ComponentContent: 0.998, ComponentLength: 0.0001}, 0)
	assert.Error(t, err)

	_, err = New(Weights{"sparkle": 1.0}, 0)
	assert.Error(t, err)

	_, err = New(Weights{ComponentContent: 0.6, ComponentLength: 0.4}, 0)
	assert.NoError(t, err)
}

func TestIdenticalMessagesConvergeToOne(t *testing.T) {
	c := newBalanced(t)
	var history []llm.Message
	for i := 0; i < 4; i++ {
		history = append(history,
			msg(llm.AgentA, "we are the same. we are the same."),
			msg(llm.AgentB, "we are the same. we are the same."),
		)
	}
	assert.InDelta(t, 1.0, c.Calculate(history), 1e-9)
}

func TestDisjointVocabulariesScoreLow(t *testing.T) {
	c := newBalanced(t)
	history := []llm.Message{
		msg(llm.AgentA, "Quantum entanglement, decoherence, and superposition! Do eigenstates collapse under observation? The wavefunction says plenty.\n\nAmplitude matters here."),
		msg(llm.AgentB, "sourdough"),
	}
	score := c.Calculate(history)
	assert.Less(t, score, 0.4)
}

func TestScoreAlwaysInUnitInterval(t *testing.T) {
	c := newBalanced(t)
	histories := [][]llm.Message{
		nil,
		{msg(llm.AgentA, "")},
		{msg(llm.AgentA, ""), msg(llm.AgentB, "")},
		{msg(llm.AgentA, "a!!!"), msg(llm.AgentB, "???")},
		{msg(llm.AgentA, "one two three"), msg(llm.AgentB, "one two three four")},
	}
	for i, h := range histories {
		score := c.Calculate(h)
		assert.GreaterOrEqual(t, score, 0.0, "history %d", i)
		assert.LessOrEqual(t, score, 1.0, "history %d", i)
	}
}

func TestEmptyMessagesAreIdentical(t *testing.T) {
	// Two silent agents emit empty content; byte-identical means full
	// convergence.
	c := newBalanced(t)
	history := []llm.Message{msg(llm.AgentA, ""), msg(llm.AgentB, "")}
	assert.InDelta(t, 1.0, c.Calculate(history), 1e-9)
}

func TestDeterministicGivenWindow(t *testing.T) {
	history := []llm.Message{
		msg(llm.AgentA, "alpha beta gamma"),
		msg(llm.AgentB, "alpha beta delta"),
	}
	a := newBalanced(t)
	b := newBalanced(t)
	assert.Equal(t, a.Calculate(history), b.Calculate(history))
}

func TestWindowBalancesAgents(t *testing.T) {
	c := newBalanced(t)
	// Agent A spoke far more; only the balanced tail should be compared and
	// the score must still be well-defined.
	var history []llm.Message
	for i := 0; i < 9; i++ {
		history = append(history, msg(llm.AgentA, fmt.Sprintf("a says thing %d", i)))
	}
	history = append(history, msg(llm.AgentB, "a says thing 8"))
	score := c.Calculate(history)
	assert.Greater(t, score, 0.5)
}

func TestTrend(t *testing.T) {
	c := newBalanced(t)
	push := func(vals ...float64) {
		c.mu.Lock()
		c.history = append(c.history[:0], vals...)
		c.mu.Unlock()
	}

	assert.Equal(t, "stable", c.Trend())

	push(0.1, 0.3, 0.5)
	assert.Equal(t, "increasing", c.Trend())

	push(0.9, 0.6, 0.4)
	assert.Equal(t, "decreasing", c.Trend())

	push(0.50, 0.505, 0.51)
	assert.Equal(t, "stable", c.Trend())

	push(0.2, 0.8, 0.3)
	assert.Equal(t, "fluctuating", c.Trend())
}

func TestProfileWeightsAreValid(t *testing.T) {
	for _, profile := range []string{"balanced", "structural", "content"} {
		w, ok := ProfileWeights(profile)
		require.True(t, ok, profile)
		_, err := New(w, 0)
		assert.NoError(t, err, profile)
	}
	_, ok := ProfileWeights("nope")
	assert.False(t, ok)
}
