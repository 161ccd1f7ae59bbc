package experiment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidgin/internal/config"
	"pidgin/internal/conversation"
	"pidgin/internal/events"
	"pidgin/internal/llm"
	"pidgin/internal/llm/testprovider"
	"pidgin/internal/replay"
)

func testRuntime(t *testing.T) config.Config {
	t.Helper()
	rc := config.Load()
	rc.OutputDir = t.TempDir()
	rc.RateLimiting.Enabled = false
	return rc
}

func silentExperiment(reps, maxTurns, maxParallel int) *config.ExperimentConfig {
	return &config.ExperimentConfig{
		Name:        "silent-batch",
		AgentAModel: "silent",
		AgentBModel: "silent",
		Repetitions: reps,
		MaxTurns:    &maxTurns,
		MaxParallel: maxParallel,
		// Silent agents converge instantly; run every turn anyway.
		ConvergenceAction: config.ActionContinue,
		InitialPrompt:     "Begin.",
	}
}

func TestSchedulerRunsAllConversations(t *testing.T) {
	rc := testRuntime(t)
	sched := NewScheduler(rc, silentExperiment(3, 2, 2), nil)

	m, err := sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, m.Status)
	assert.Equal(t, 3, m.TotalConversations)
	assert.Equal(t, 3, m.CompletedConversations)
	assert.Equal(t, 0, m.FailedConversations)
	require.NotNil(t, m.CompletedAt)

	logs, err := filepath.Glob(filepath.Join(sched.Dir(), "*_events.jsonl"))
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	// Every log starts with ConversationStart and ends with ConversationEnd.
	for _, path := range logs {
		var got []events.Event
		require.NoError(t, replay.Fold(path, func(ev events.Event) error {
			got = append(got, ev)
			return nil
		}))
		require.NotEmpty(t, got, path)
		assert.IsType(t, &events.ConversationStart{}, got[0])
		assert.IsType(t, &events.ConversationEnd{}, got[len(got)-1])
	}

	onDisk, err := ReadManifest(sched.Dir())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, onDisk.Status)
}

func TestSchedulerSequentialWhenMaxParallelOne(t *testing.T) {
	rc := testRuntime(t)
	sched := NewScheduler(rc, silentExperiment(2, 1, 1), nil)

	_, err := sched.Run(context.Background())
	require.NoError(t, err)

	logs, err := filepath.Glob(filepath.Join(sched.Dir(), "*_events.jsonl"))
	require.NoError(t, err)
	require.Len(t, logs, 2)

	type span struct{ start, end time.Time }
	var spans []span
	for _, path := range logs {
		var s span
		require.NoError(t, replay.Fold(path, func(ev events.Event) error {
			switch ev.(type) {
			case *events.ConversationStart:
				s.start = events.MetaOf(ev).Timestamp
			case *events.ConversationEnd:
				s.end = events.MetaOf(ev).Timestamp
			}
			return nil
		}))
		spans = append(spans, s)
	}
	// Strictly sequential: one conversation's end precedes the other's start.
	disjoint := !spans[0].end.After(spans[1].start) || !spans[1].end.After(spans[0].start)
	assert.True(t, disjoint, "conversations overlapped: %+v", spans)
}

func TestSchedulerCountsFailedConversations(t *testing.T) {
	rc := testRuntime(t)
	exp := &config.ExperimentConfig{
		Name:        "failing",
		AgentAModel: "test",
		AgentBModel: "test",
		Repetitions: 3,
		MaxTurns:    intPtr(5),
		MaxParallel: 2,
		// Parrot agents converge instantly; keep going until a call fails.
		ConvergenceAction: config.ActionContinue,
	}
	sched := NewScheduler(rc, exp, nil)
	// Every conversation gets fresh providers, each failing its second call,
	// so agent A's call in turn 1 ends every conversation with an error.
	sched.BuildProvider = func(_ config.Config, model string) (llm.Provider, error) {
		return testprovider.New(testprovider.Config{FailOnCall: 2}), nil
	}

	m, err := sched.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)
	assert.Equal(t, 0, m.CompletedConversations)
	assert.Equal(t, 3, m.FailedConversations)

	logs, err := filepath.Glob(filepath.Join(sched.Dir(), "*_events.jsonl"))
	require.NoError(t, err)
	for _, path := range logs {
		var last events.Event
		require.NoError(t, replay.Fold(path, func(ev events.Event) error {
			last = ev
			return nil
		}))
		end := last.(*events.ConversationEnd)
		assert.Equal(t, conversation.ReasonError, end.EndedReason)
	}
}

func TestSchedulerInterruptStopsNewLaunches(t *testing.T) {
	rc := testRuntime(t)
	exp := silentExperiment(10, 50, 1)
	sched := NewScheduler(rc, exp, nil)
	// Slow conversations so the interrupt lands mid-run.
	sched.BuildProvider = func(_ config.Config, model string) (llm.Provider, error) {
		return testprovider.New(testprovider.Config{Delay: 20 * time.Millisecond}), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	m, err := sched.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, m.Status)
	assert.Less(t, m.CompletedConversations+m.FailedConversations, 10)

	logs, err := filepath.Glob(filepath.Join(sched.Dir(), "*_events.jsonl"))
	require.NoError(t, err)
	assert.Less(t, len(logs), 10, "conversations never launched must not open logs")
}

func TestSchedulerMissingKeyFailsFast(t *testing.T) {
	rc := testRuntime(t)
	rc.Keys = config.ProviderKeys{}
	exp := &config.ExperimentConfig{
		Name:        "needs-key",
		AgentAModel: "claude-sonnet-4",
		AgentBModel: "silent",
		Repetitions: 1,
		MaxTurns:    intPtr(1),
	}
	_, err := NewScheduler(rc, exp, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic")
}

func TestSchedulerTriggersImporter(t *testing.T) {
	rc := testRuntime(t)
	var importedDir string
	sched := NewScheduler(rc, silentExperiment(1, 1, 1), func(_ context.Context, dir string) error {
		importedDir = dir
		return nil
	})
	_, err := sched.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sched.Dir(), importedDir)
}

func intPtr(v int) *int { return &v }
