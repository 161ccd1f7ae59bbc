package events

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExperimentLogName is the sink for events that carry no conversation id.
const ExperimentLogName = "experiment.jsonl"

// ConversationLogName returns the JSONL file name for a conversation within
// an experiment directory.
func ConversationLogName(conversationID string) string {
	return conversationID + "_events.jsonl"
}

// sink is a single-writer append-only JSONL file. Writes go straight to the
// fd with no userspace buffering, so every line is durable once Write returns.
type sink struct {
	path string
	f    *os.File
}

func openSink(dir, name string) (*sink, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return &sink{path: path, f: f}, nil
}

func (s *sink) writeLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := s.f.Write(buf); err != nil {
		return fmt.Errorf("append event log %s: %w", s.path, err)
	}
	return nil
}

func (s *sink) close() error {
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("sync event log %s: %w", s.path, err)
	}
	return s.f.Close()
}
