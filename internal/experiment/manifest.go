// Package experiment schedules batches of conversations with bounded
// parallelism and owns the manifest file.
package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pidgin/internal/config"
)

// Experiment statuses.
const (
	StatusCreated     = "created"
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// ManifestName is the manifest file inside an experiment directory.
const ManifestName = "manifest.json"

// Manifest is the experiment's externally visible state. It is rewritten
// atomically after every conversation completion, so readers never observe a
// torn file.
type Manifest struct {
	ExperimentID           string                   `json:"experiment_id"`
	Name                   string                   `json:"name"`
	Status                 string                   `json:"status"`
	TotalConversations     int                      `json:"total_conversations"`
	CompletedConversations int                      `json:"completed_conversations"`
	FailedConversations    int                      `json:"failed_conversations"`
	CreatedAt              time.Time                `json:"created_at"`
	StartedAt              *time.Time               `json:"started_at,omitempty"`
	CompletedAt            *time.Time               `json:"completed_at,omitempty"`
	Config                 *config.ExperimentConfig `json:"config"`
}

// WriteManifest writes the manifest with write-to-temp plus rename.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, ManifestName)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from an experiment directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest in %s: %w", dir, err)
	}
	return &m, nil
}

// FindExperimentDir locates an experiment under base by id or by name. The
// id match is a directory name prefix so short ids work.
func FindExperimentDir(base, idOrName string) (string, error) {
	root := filepath.Join(base, "experiments")
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list experiments: %w", err)
	}
	var byName string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == idOrName || (len(idOrName) >= 8 && len(e.Name()) > len(idOrName) && e.Name()[:len(idOrName)] == idOrName) {
			return filepath.Join(root, e.Name()), nil
		}
		if byName == "" {
			if m, err := ReadManifest(filepath.Join(root, e.Name())); err == nil && m.Name == idOrName {
				byName = filepath.Join(root, e.Name())
			}
		}
	}
	if byName != "" {
		return byName, nil
	}
	return "", fmt.Errorf("experiment %q not found under %s", idOrName, root)
}

// FindConversationLog locates a conversation's event log anywhere under the
// experiments tree. Used by the branching command.
func FindConversationLog(base, conversationID string) (string, error) {
	root := filepath.Join(base, "experiments")
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list experiments: %w", err)
	}
	name := conversationID + "_events.jsonl"
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(root, e.Name(), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("conversation %q not found under %s", conversationID, root)
}
