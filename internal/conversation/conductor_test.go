package conversation_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidgin/internal/config"
	"pidgin/internal/convergence"
	. "pidgin/internal/conversation"
	"pidgin/internal/events"
	"pidgin/internal/llm"
	"pidgin/internal/llm/testprovider"
	"pidgin/internal/replay"
)

type fixture struct {
	dir  string
	bus  *events.Bus
	conv *Conversation
}

func newFixture(t *testing.T, maxTurns int, provA, provB llm.Provider, opts func(*ConductorConfig)) (*Conductor, *fixture) {
	t.Helper()
	dir := t.TempDir()
	bus := events.NewBus(dir)
	bus.Start()
	t.Cleanup(bus.Stop)

	settings := func(id, model string) config.AgentSettings {
		return config.AgentSettings{ID: id, Model: model, Awareness: config.AwarenessNone}
	}
	conv := &Conversation{
		ID:           "conv_test",
		ExperimentID: "exp_test",
		AgentA:       &Agent{ID: llm.AgentA, Model: provA.Model(), Provider: provA.Name(), DisplayName: "a", Settings: settings(llm.AgentA, provA.Model())},
		AgentB:       &Agent{ID: llm.AgentB, Model: provB.Model(), Provider: provB.Name(), DisplayName: "b", Settings: settings(llm.AgentB, provB.Model())},
		InitialPrompt: "Begin.",
		MaxTurns:      maxTurns,
		FirstSpeaker:  llm.AgentA,
		Status:        StatusCreated,
	}

	calc, err := convergence.New(nil, 0)
	require.NoError(t, err)

	wrap := func(p llm.Provider, agentID string) *llm.EventAware {
		return llm.Wrap(p, llm.EventAwareConfig{
			Bus:            bus,
			AgentID:        agentID,
			ConversationID: conv.ID,
			ExperimentID:   conv.ExperimentID,
		})
	}
	cfg := ConductorConfig{
		Conversation:         conv,
		Bus:                  bus,
		ProviderA:            wrap(provA, llm.AgentA),
		ProviderB:            wrap(provB, llm.AgentB),
		Calc:                 calc,
		ConvergenceThreshold: 0.95,
		ConvergenceAction:    config.ActionContinue,
		TranscriptDir:        dir,
	}
	if opts != nil {
		opts(&cfg)
	}
	return NewConductor(cfg), &fixture{dir: dir, bus: bus, conv: conv}
}

func readEvents(t *testing.T, fix *fixture) []events.Event {
	t.Helper()
	var got []events.Event
	path := filepath.Join(fix.dir, events.ConversationLogName(fix.conv.ID))
	require.NoError(t, replay.Fold(path, func(ev events.Event) error {
		got = append(got, ev)
		return nil
	}))
	return got
}

func TestSilentConversationRunsToMaxTurns(t *testing.T) {
	cond, fix := newFixture(t, 3, testprovider.NewSilent(), testprovider.NewSilent(), nil)
	require.NoError(t, cond.Run(context.Background()))

	conv := fix.conv
	assert.Equal(t, StatusCompleted, conv.Status)
	assert.Equal(t, ReasonMaxTurns, conv.ConvergenceReason)
	assert.InDelta(t, 1.0, conv.FinalConvergence, 1e-9)

	got := readEvents(t, fix)
	require.NotEmpty(t, got)
	assert.IsType(t, &events.ConversationStart{}, got[0])
	assert.IsType(t, &events.ConversationEnd{}, got[len(got)-1])

	var turnCompletes, messageCompletes int
	var lastSeq int64
	for _, ev := range got {
		switch e := ev.(type) {
		case *events.TurnComplete:
			turnCompletes++
		case *events.MessageComplete:
			messageCompletes++
			assert.Empty(t, e.Content)
		}
	}
	assert.Equal(t, 3, turnCompletes)
	assert.Equal(t, 6, messageCompletes)

	// Sequence numbers are strictly monotonic within the log.
	for _, ev := range got {
		seq := seqOf(ev)
		assert.Greater(t, seq, lastSeq)
		lastSeq = seq
	}

	end := got[len(got)-1].(*events.ConversationEnd)
	assert.Equal(t, ReasonMaxTurns, end.EndedReason)
	assert.Equal(t, 3, end.TotalTurns)
	assert.InDelta(t, 1.0, end.FinalConvergence, 1e-9)
}

func TestZeroMaxTurnsEndsImmediately(t *testing.T) {
	cond, fix := newFixture(t, 0, testprovider.NewSilent(), testprovider.NewSilent(), nil)
	require.NoError(t, cond.Run(context.Background()))

	assert.Equal(t, ReasonMaxTurns, fix.conv.ConvergenceReason)
	got := readEvents(t, fix)
	for _, ev := range got {
		assert.NotEqual(t, events.TypeTurnStart, ev.EventType())
		assert.NotEqual(t, events.TypeTurnComplete, ev.EventType())
	}
}

func TestParrotingAgentsStopOnHighConvergence(t *testing.T) {
	parrotA := testprovider.New(testprovider.Config{})
	parrotB := testprovider.New(testprovider.Config{})
	cond, fix := newFixture(t, 20, parrotA, parrotB, func(cfg *ConductorConfig) {
		cfg.ConvergenceThreshold = 0.9
		cfg.ConvergenceAction = config.ActionStop
	})
	require.NoError(t, cond.Run(context.Background()))

	conv := fix.conv
	assert.Equal(t, ReasonHighConvergence, conv.ConvergenceReason)
	assert.Equal(t, StatusCompleted, conv.Status)
	assert.GreaterOrEqual(t, conv.FinalConvergence, 0.9)

	got := readEvents(t, fix)
	var lastTurnScore float64
	for _, ev := range got {
		if tc, ok := ev.(*events.TurnComplete); ok {
			lastTurnScore = tc.ConvergenceScore
		}
	}
	assert.GreaterOrEqual(t, lastTurnScore, 0.9, "the stopping turn's score is in the log")
}

func TestProviderFailureEndsConversationFailed(t *testing.T) {
	// Agent B's provider fails permanently on its first call.
	failing := testprovider.New(testprovider.Config{FailOnCall: 1})
	cond, fix := newFixture(t, 5, testprovider.NewSilent(), failing, nil)
	require.NoError(t, cond.Run(context.Background()))

	conv := fix.conv
	assert.Equal(t, StatusFailed, conv.Status)
	assert.Equal(t, ReasonError, conv.ConvergenceReason)
	assert.NotEmpty(t, conv.Error)

	got := readEvents(t, fix)
	end := got[len(got)-1].(*events.ConversationEnd)
	assert.Equal(t, ReasonError, end.EndedReason)
	assert.NotEmpty(t, end.Error)

	var sawAPIError bool
	for _, ev := range got {
		if _, ok := ev.(*events.APIError); ok {
			sawAPIError = true
		}
	}
	assert.True(t, sawAPIError)
}

func TestCancelledContextInterruptsConversation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cond, fix := newFixture(t, 5, testprovider.NewSilent(), testprovider.NewSilent(), nil)
	require.NoError(t, cond.Run(ctx))

	assert.Equal(t, StatusInterrupted, fix.conv.Status)
	assert.Equal(t, ReasonInterrupted, fix.conv.ConvergenceReason)

	got := readEvents(t, fix)
	end := got[len(got)-1].(*events.ConversationEnd)
	assert.Equal(t, ReasonInterrupted, end.EndedReason)
}

func TestChooseNamesRecordsChosenName(t *testing.T) {
	namer := testprovider.New(testprovider.Config{Script: []string{"Hello! I'll go by Sage today.", "More from Sage."}})
	quiet := testprovider.New(testprovider.Config{Script: []string{"Nice to meet you.", "Indeed."}})
	cond, fix := newFixture(t, 2, namer, quiet, func(cfg *ConductorConfig) {
		cfg.ChooseNames = true
	})
	require.NoError(t, cond.Run(context.Background()))

	assert.Equal(t, "Sage", fix.conv.AgentA.ChosenName)
	assert.Equal(t, "Sage", fix.conv.AgentA.Name())

	var sawNotice bool
	for _, ev := range readEvents(t, fix) {
		if sp, ok := ev.(*events.SystemPrompt); ok && sp.Purpose == "name_notification" {
			sawNotice = true
			assert.Equal(t, llm.AgentA, sp.AgentID)
		}
	}
	assert.True(t, sawNotice)
}

func TestTranscriptWritten(t *testing.T) {
	scriptA := testprovider.New(testprovider.Config{Script: []string{"one small step"}})
	scriptB := testprovider.New(testprovider.Config{Script: []string{"one giant leap"}})
	cond, fix := newFixture(t, 1, scriptA, scriptB, nil)
	require.NoError(t, cond.Run(context.Background()))

	data, err := os.ReadFile(filepath.Join(fix.dir, "transcript_"+fix.conv.ID+".md"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "## Turn 0")
	assert.Contains(t, text, "one small step")
	assert.Contains(t, text, "one giant leap")
}

func seqOf(ev events.Event) int64 {
	return events.MetaOf(ev).Sequence
}

func TestPauseAndResume(t *testing.T) {
	slow := testprovider.New(testprovider.Config{Delay: 5 * time.Millisecond})
	cond, fix := newFixture(t, 4, slow, slow, nil)
	cond.Pause()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cond.Run(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("paused conversation must not finish")
	case <-time.After(50 * time.Millisecond):
	}

	cond.Resume()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resumed conversation did not finish")
	}
	assert.Equal(t, StatusCompleted, fix.conv.Status)

	var paused, resumed bool
	for _, ev := range readEvents(t, fix) {
		switch ev.EventType() {
		case events.TypeConversationPaused:
			paused = true
		case events.TypeConversationResume:
			resumed = true
		}
	}
	assert.True(t, paused)
	assert.True(t, resumed)
}
