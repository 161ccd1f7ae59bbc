package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidgin/internal/config"
	"pidgin/internal/experiment"
)

// runSilentExperiment produces a real experiment directory via the scheduler
// so the import sees production-shaped files.
func runSilentExperiment(t *testing.T, reps, turns int) string {
	t.Helper()
	rc := config.Load()
	rc.OutputDir = t.TempDir()
	rc.RateLimiting.Enabled = false
	exp := &config.ExperimentConfig{
		Name:        "import-me",
		AgentAModel: "silent",
		AgentBModel: "silent",
		Repetitions: reps,
		MaxTurns:    &turns,
		MaxParallel: 2,
		// Silent agents converge instantly; run every turn anyway.
		ConvergenceAction: config.ActionContinue,
		InitialPrompt:     "Say nothing.",
	}
	sched := experiment.NewScheduler(rc, exp, nil)
	_, err := sched.Run(context.Background())
	require.NoError(t, err)
	return sched.Dir()
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestImportLoadsAllTables(t *testing.T) {
	dir := runSilentExperiment(t, 2, 3)

	res, err := ImportExperiment(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Conversations)
	assert.Greater(t, res.Events, 0)

	st, err := Open(dir)
	require.NoError(t, err)
	defer st.Close()
	db := st.DB()

	assert.Equal(t, 1, countRows(t, db, "experiments"))
	assert.Equal(t, 2, countRows(t, db, "conversations"))
	assert.Equal(t, 12, countRows(t, db, "messages"), "2 conversations x 3 turns x 2 agents")
	assert.Equal(t, 6, countRows(t, db, "turn_metrics"))
	assert.Equal(t, 12, countRows(t, db, "token_usage"))

	var status string
	var finalConvergence float64
	require.NoError(t, db.QueryRow(
		"SELECT status, final_convergence FROM conversations LIMIT 1",
	).Scan(&status, &finalConvergence))
	assert.Equal(t, "completed", status)
	assert.InDelta(t, 1.0, finalConvergence, 1e-9)
}

func TestImportIsIdempotent(t *testing.T) {
	dir := runSilentExperiment(t, 1, 2)

	_, err := ImportExperiment(context.Background(), dir)
	require.NoError(t, err)

	st, err := Open(dir)
	require.NoError(t, err)
	before := map[string]int{}
	for _, table := range []string{"experiments", "conversations", "events", "messages", "turn_metrics", "token_usage"} {
		before[table] = countRows(t, st.DB(), table)
	}
	require.NoError(t, st.Close())

	_, err = ImportExperiment(context.Background(), dir)
	require.NoError(t, err)

	st, err = Open(dir)
	require.NoError(t, err)
	defer st.Close()
	for table, n := range before {
		assert.Equal(t, n, countRows(t, st.DB(), table), table)
	}
}

func TestImportComputesLinguisticMetrics(t *testing.T) {
	m := computeMessageMetrics("We agree! We truly agree, don't we?\n\n- yes\n- always")

	assert.Equal(t, 9, m.WordCount)
	assert.Equal(t, 2, m.ParagraphCount)
	assert.Equal(t, 1, m.QuestionCount)
	assert.Equal(t, 1, m.ExclamationCount)
	assert.Equal(t, 2, m.ListItemCount)
	assert.Greater(t, m.WordEntropy, 0.0)
	assert.Greater(t, m.CharEntropy, 0.0)
	assert.Greater(t, m.TypeTokenRatio, 0.0)
	assert.LessOrEqual(t, m.TypeTokenRatio, 1.0)
	assert.Equal(t, 3, m.FirstPlural)
}

func TestMetricsOnEmptyMessage(t *testing.T) {
	m := computeMessageMetrics("")
	assert.Zero(t, m.WordCount)
	assert.Zero(t, m.WordEntropy)
	assert.Zero(t, m.TypeTokenRatio)
}
