package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidgin/internal/experiment"
)

func TestPIDFileRoundTrip(t *testing.T) {
	out := t.TempDir()
	path, err := writePIDFile(out, "exp_pidtest")
	require.NoError(t, err)
	assert.Equal(t, PIDFilePath(out, "exp_pidtest"), path)

	pid, startedAt, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.WithinDuration(t, time.Now(), startedAt, time.Minute)
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))
	_, _, err := ReadPIDFile(path)
	assert.Error(t, err)
}

func TestStopFallsBackToSentinel(t *testing.T) {
	out := t.TempDir()
	dir := filepath.Join(out, "experiments", "exp_stopme")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, experiment.WriteManifest(dir, &experiment.Manifest{
		ExperimentID: "exp_stopme", Name: "stoppable", Status: experiment.StatusRunning,
	}))

	// No PID file exists, so Stop must write the sentinel.
	require.NoError(t, Stop(out, "exp_stopme"))
	_, err := os.Stat(filepath.Join(dir, StopSentinel))
	assert.NoError(t, err)
}

func TestShortExpID(t *testing.T) {
	assert.Equal(t, "abcdefgh", shortExpID("exp_abcdefgh1234"))
	assert.Equal(t, "ab", shortExpID("exp_ab"))
}
