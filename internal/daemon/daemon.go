// Package daemon runs an experiment scheduler detached from the controlling
// terminal: PID file publication, signal handling, and the STOP-sentinel
// watcher for environments without signal delivery.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"pidgin/internal/experiment"
	"pidgin/internal/observability"
)

// StopSentinel is the file name that requests shutdown when written into an
// experiment directory.
const StopSentinel = "STOP"

// Daemon owns one experiment for the lifetime of the process.
type Daemon struct {
	OutputDir string
	Scheduler *experiment.Scheduler
	// LogLevel re-initializes logging into the experiment directory's
	// experiment.log once the directory exists.
	LogLevel string
}

// Run prepares the experiment, publishes the PID file, installs the stop
// paths (SIGINT/SIGTERM and the STOP sentinel), and drives the scheduler to
// completion. The PID file is removed on exit.
func (d *Daemon) Run(ctx context.Context) (*experiment.Manifest, error) {
	m, err := d.Scheduler.Prepare()
	if err != nil {
		return nil, err
	}
	dir := d.Scheduler.Dir()

	// Startup chatter went to startup.log via the detach redirect; from here
	// on the experiment log carries the run.
	observability.InitLogger(filepath.Join(dir, "experiment.log"), d.LogLevel)
	setProcessName("pidgin-" + shortExpID(m.ExperimentID))

	pidPath, err := writePIDFile(d.OutputDir, m.ExperimentID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("pid_file", pidPath).Msg("pid_file_remove_failed")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			log.Info().Str("signal", sig.String()).Msg("stop_signal_received")
			d.Scheduler.Interrupt("signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	stopWatch, err := watchStopSentinel(ctx, dir, func() {
		log.Info().Str("experiment_dir", dir).Msg("stop_sentinel_received")
		d.Scheduler.Interrupt("stop_file")
		cancel()
	})
	if err != nil {
		log.Warn().Err(err).Msg("stop_sentinel_watch_unavailable")
	} else {
		defer stopWatch.Close()
	}

	return d.Scheduler.Run(ctx)
}

// PIDFilePath returns the published path for an experiment id.
func PIDFilePath(outputDir, expID string) string {
	return filepath.Join(outputDir, "experiments", "active", expID+".pid")
}

// writePIDFile publishes "<pid>\n<started_at>\n".
func writePIDFile(outputDir, expID string) (string, error) {
	dir := filepath.Join(outputDir, "experiments", "active")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create active dir: %w", err)
	}
	path := PIDFilePath(outputDir, expID)
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write pid file: %w", err)
	}
	return path, nil
}

// ReadPIDFile parses a published PID file.
func ReadPIDFile(path string) (pid int, startedAt time.Time, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	if len(lines) > 1 {
		startedAt, _ = time.Parse(time.RFC3339, strings.TrimSpace(lines[1]))
	}
	return pid, startedAt, nil
}

// Stop signals a running experiment found by id or name: first SIGTERM to
// the published PID, falling back to the STOP sentinel when the process is
// not signalable from here.
func Stop(outputDir, idOrName string) error {
	dir, err := experiment.FindExperimentDir(outputDir, idOrName)
	if err != nil {
		return err
	}
	expID := filepath.Base(dir)
	if pid, _, err := ReadPIDFile(PIDFilePath(outputDir, expID)); err == nil {
		if proc, err := os.FindProcess(pid); err == nil {
			if err := proc.Signal(syscall.SIGTERM); err == nil {
				return nil
			}
		}
	}
	return os.WriteFile(filepath.Join(dir, StopSentinel), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

// watchStopSentinel fires onStop when <dir>/STOP appears. A pre-existing
// sentinel fires immediately.
func watchStopSentinel(ctx context.Context, dir string, onStop func()) (*fsnotify.Watcher, error) {
	if _, err := os.Stat(filepath.Join(dir, StopSentinel)); err == nil {
		onStop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) && filepath.Base(ev.Name) == StopSentinel {
					onStop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("stop_sentinel_watch_error")
			}
		}
	}()
	return w, nil
}

func shortExpID(expID string) string {
	id := strings.TrimPrefix(expID, "exp_")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
