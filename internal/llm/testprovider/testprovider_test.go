package testprovider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidgin/internal/llm"
)

type recorder struct {
	deltas   []string
	thinking []string
}

func (r *recorder) OnDelta(text string)    { r.deltas = append(r.deltas, text) }
func (r *recorder) OnThinking(text string) { r.thinking = append(r.thinking, text) }

func TestSilentYieldsNothing(t *testing.T) {
	rec := &recorder{}
	usage, err := NewSilent().StreamResponse(context.Background(), nil, llm.Options{}, rec)
	require.NoError(t, err)
	assert.Empty(t, rec.deltas)
	assert.False(t, usage.Reported)
}

func TestParrotEchoesLastMessage(t *testing.T) {
	rec := &recorder{}
	p := New(Config{})
	_, err := p.StreamResponse(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be yourself"},
		{Role: llm.RoleUser, Content: "repeat after me exactly please"},
	}, llm.Options{}, rec)
	require.NoError(t, err)
	assert.Equal(t, "repeat after me exactly please", strings.Join(rec.deltas, ""))
	assert.Greater(t, len(rec.deltas), 1, "responses stream in word chunks")
}

func TestScriptCyclesResponses(t *testing.T) {
	p := New(Config{Script: []string{"first", "second"}})
	for _, want := range []string{"first", "second", "first"} {
		rec := &recorder{}
		_, err := p.StreamResponse(context.Background(), nil, llm.Options{}, rec)
		require.NoError(t, err)
		assert.Equal(t, want, strings.Join(rec.deltas, ""))
	}
}

func TestFailFirstThenRecovers(t *testing.T) {
	p := New(Config{FailFirst: 2, Script: []string{"ok"}})
	for i := 0; i < 2; i++ {
		_, err := p.StreamResponse(context.Background(), nil, llm.Options{}, &recorder{})
		require.Error(t, err)
		ae, ok := llm.AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, llm.ErrRateLimit, ae.Kind)
	}
	_, err := p.StreamResponse(context.Background(), nil, llm.Options{}, &recorder{})
	assert.NoError(t, err)
}

func TestThinkingEmittedOnlyWhenRequested(t *testing.T) {
	p := New(Config{Script: []string{"answer"}, Thinking: "pondering"})

	rec := &recorder{}
	_, err := p.StreamResponse(context.Background(), nil, llm.Options{}, rec)
	require.NoError(t, err)
	assert.Empty(t, rec.thinking)

	rec = &recorder{}
	_, err = p.StreamResponse(context.Background(), nil, llm.Options{ThinkingEnabled: true}, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"pondering"}, rec.thinking)
}
