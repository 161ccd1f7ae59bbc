package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidgin/internal/events"
	"pidgin/internal/retry"
)

// scriptedProvider is a minimal in-package fake; the full deterministic
// variant lives in llm/testprovider.
type scriptedProvider struct {
	text      string
	thinking  string
	failFirst int
	calls     int
}

func (p *scriptedProvider) Name() string  { return "test" }
func (p *scriptedProvider) Model() string { return "test" }

func (p *scriptedProvider) StreamResponse(ctx context.Context, msgs []Message, opts Options, h StreamHandler) (Usage, error) {
	p.calls++
	if p.calls <= p.failFirst {
		return Usage{}, &APIError{Kind: ErrRateLimit, Provider: "test", Message: "simulated 429"}
	}
	if p.thinking != "" {
		h.OnThinking(p.thinking)
	}
	h.OnDelta(p.text[:len(p.text)/2])
	h.OnDelta(p.text[len(p.text)/2:])
	return Usage{}, nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2}
}

func collect(t *testing.T) (*events.Bus, *[]events.Event) {
	t.Helper()
	bus := events.NewBus(t.TempDir())
	bus.Start()
	t.Cleanup(bus.Stop)
	var got []events.Event
	bus.Subscribe(events.Wildcard, func(ev events.Event) { got = append(got, ev) })
	return bus, &got
}

func wrapFor(t *testing.T, p Provider, bus *events.Bus) *EventAware {
	t.Helper()
	return Wrap(p, EventAwareConfig{
		Bus:            bus,
		AgentID:        AgentA,
		ConversationID: "conv_t",
		ExperimentID:   "exp_t",
		Retry:          fastRetry(),
	})
}

func TestGenerateEmitsRequestChunksAndComplete(t *testing.T) {
	bus, got := collect(t)
	p := wrapFor(t, &scriptedProvider{text: "hello world", thinking: "mull it over"}, bus)

	res, err := p.Generate(context.Background(), 0, []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Message.Content)
	assert.Equal(t, RoleAssistant, res.Message.Role)
	assert.Equal(t, AgentA, res.Message.AgentID)
	assert.Equal(t, "mull it over", res.Thinking)

	var types []events.Type
	for _, ev := range *got {
		types = append(types, ev.EventType())
	}
	assert.Equal(t, []events.Type{
		events.TypeMessageRequest,
		events.TypeThinkingChunk,
		events.TypeMessageChunk,
		events.TypeMessageChunk,
		events.TypeThinkingComplete,
		events.TypeMessageComplete,
	}, types)

	last := (*got)[len(*got)-1].(*events.MessageComplete)
	assert.Equal(t, "hello world", last.Content)
	assert.True(t, last.TokensEstimated)
	assert.Greater(t, last.CompletionTokens, 0)
}

func TestGenerateRetriesRateLimitsThenSucceeds(t *testing.T) {
	bus, got := collect(t)
	inner := &scriptedProvider{text: "eventually", failFirst: 2}
	p := wrapFor(t, inner, bus)

	res, err := p.Generate(context.Background(), 0, []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "eventually", res.Message.Content)
	assert.Equal(t, 3, inner.calls)

	var apiErrors, paces int
	var completeIdx, lastPaceIdx int
	for i, ev := range *got {
		switch e := ev.(type) {
		case *events.APIError:
			apiErrors++
			assert.True(t, e.Retryable)
			assert.Equal(t, "rate_limit", e.ErrorKind)
		case *events.RateLimitPace:
			paces++
			lastPaceIdx = i
			assert.Equal(t, "retry_backoff", e.Reason)
		case *events.MessageComplete:
			completeIdx = i
		}
	}
	assert.Equal(t, 2, apiErrors)
	assert.Equal(t, 2, paces)
	assert.Greater(t, completeIdx, lastPaceIdx, "pacing precedes the eventual completion")
}

func TestGenerateSurfacesPermanentErrorWithoutRetry(t *testing.T) {
	bus, got := collect(t)
	inner := &failingProvider{kind: ErrAuthentication}
	p := wrapFor(t, inner, bus)

	_, err := p.Generate(context.Background(), 0, []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.Error(t, err)
	ae, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, ErrAuthentication, ae.Kind)
	assert.Equal(t, 1, inner.calls)

	var sawComplete bool
	var errEvents int
	for _, ev := range *got {
		switch ev.(type) {
		case *events.MessageComplete:
			sawComplete = true
		case *events.APIError:
			errEvents++
		}
	}
	assert.False(t, sawComplete)
	assert.Equal(t, 1, errEvents)
}

func TestGenerateEmitsContextTruncation(t *testing.T) {
	bus, got := collect(t)
	inner := &scriptedProvider{text: "ok"}
	p := Wrap(inner, EventAwareConfig{
		Bus:            bus,
		Context:        ContextManager{MaxContextTokens: 120, AllowTruncation: true, ReserveTokens: 10},
		AgentID:        AgentB,
		ConversationID: "conv_t",
		Retry:          fastRetry(),
	})

	long := Message{Role: RoleUser, Content: string(make([]byte, 800))}
	_, err := p.Generate(context.Background(), 1, []Message{long, {Role: RoleUser, Content: "tail"}}, Options{})
	require.NoError(t, err)

	var truncations []*events.ContextTruncation
	for _, ev := range *got {
		if tr, ok := ev.(*events.ContextTruncation); ok {
			truncations = append(truncations, tr)
		}
	}
	require.Len(t, truncations, 1)
	assert.Equal(t, 1, truncations[0].DroppedMessages)
	assert.Equal(t, AgentB, truncations[0].AgentID)
}

type failingProvider struct {
	kind  ErrorKind
	calls int
}

func (p *failingProvider) Name() string  { return "test" }
func (p *failingProvider) Model() string { return "test" }

func (p *failingProvider) StreamResponse(context.Context, []Message, Options, StreamHandler) (Usage, error) {
	p.calls++
	return Usage{}, &APIError{Kind: p.kind, Provider: "test", Message: "permanent"}
}
