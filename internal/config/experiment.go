package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Convergence actions.
const (
	ActionStop     = "stop"
	ActionContinue = "continue"
	ActionNotify   = "notify"
)

// AgentOverrides carries optional per-agent settings that shadow the
// experiment-level values.
type AgentOverrides struct {
	Temperature     *float64 `yaml:"temperature,omitempty"`
	Awareness       string   `yaml:"awareness,omitempty"`
	ThinkingEnabled *bool    `yaml:"thinking_enabled,omitempty"`
	ThinkingBudget  *int     `yaml:"thinking_budget,omitempty"`
}

// ExperimentConfig describes a batch of N independent conversations between
// two models with a fixed prompt and turn cap.
type ExperimentConfig struct {
	Name        string `yaml:"name"`
	AgentAModel string `yaml:"agent_a_model"`
	AgentBModel string `yaml:"agent_b_model"`
	Repetitions int    `yaml:"repetitions"`
	// MaxTurns distinguishes unset (nil, falls back to defaults) from an
	// explicit 0, which ends every conversation before its first turn.
	MaxTurns *int `yaml:"max_turns"`

	InitialPrompt string `yaml:"initial_prompt,omitempty"`
	FirstSpeaker  string `yaml:"first_speaker,omitempty"`
	MaxParallel   int    `yaml:"max_parallel,omitempty"`
	ChooseNames   bool   `yaml:"choose_names,omitempty"`

	Temperature     *float64       `yaml:"temperature,omitempty"`
	Awareness       string         `yaml:"awareness,omitempty"`
	ThinkingEnabled bool           `yaml:"thinking_enabled,omitempty"`
	ThinkingBudget  int            `yaml:"thinking_budget,omitempty"`
	AgentA          AgentOverrides `yaml:"agent_a,omitempty"`
	AgentB          AgentOverrides `yaml:"agent_b,omitempty"`

	ConvergenceProfile   string             `yaml:"convergence_profile,omitempty"`
	ConvergenceThreshold *float64           `yaml:"convergence_threshold,omitempty"`
	ConvergenceAction    string             `yaml:"convergence_action,omitempty"`
	CustomWeights        map[string]float64 `yaml:"custom_weights,omitempty"`

	AllowTruncation *bool `yaml:"allow_truncation,omitempty"`

	BranchFrom     string `yaml:"branch_from,omitempty"`
	BranchFromTurn int    `yaml:"branch_from_turn,omitempty"`
}

// Validate checks the required fields and ranges. A config that passes is
// safe to hand to the scheduler.
func (c *ExperimentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("experiment config: name required")
	}
	if c.AgentAModel == "" || c.AgentBModel == "" {
		return fmt.Errorf("experiment config: agent_a_model and agent_b_model required")
	}
	if c.Repetitions < 1 {
		return fmt.Errorf("experiment config: repetitions must be >= 1, got %d", c.Repetitions)
	}
	if c.MaxTurns != nil && *c.MaxTurns < 0 {
		return fmt.Errorf("experiment config: max_turns must be >= 0, got %d", *c.MaxTurns)
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("experiment config: max_parallel must be >= 1, got %d", c.MaxParallel)
	}
	if c.ConvergenceThreshold != nil && (*c.ConvergenceThreshold < 0 || *c.ConvergenceThreshold > 1) {
		return fmt.Errorf("experiment config: convergence_threshold must be in [0,1]")
	}
	switch c.ConvergenceAction {
	case "", ActionStop, ActionContinue, ActionNotify:
	default:
		return fmt.Errorf("experiment config: unknown convergence_action %q", c.ConvergenceAction)
	}
	switch c.FirstSpeaker {
	case "", "agent_a", "agent_b":
	default:
		return fmt.Errorf("experiment config: first_speaker must be agent_a or agent_b")
	}
	return nil
}

// ApplyDefaults fills unset fields from the runtime config.
func (c *ExperimentConfig) ApplyDefaults(rc Config) {
	if c.MaxTurns == nil {
		turns := rc.Defaults.MaxTurns
		c.MaxTurns = &turns
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = rc.Defaults.MaxParallel
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = 1
	}
	if c.FirstSpeaker == "" {
		c.FirstSpeaker = "agent_a"
	}
	if c.ConvergenceProfile == "" {
		c.ConvergenceProfile = rc.Convergence.Profile
	}
	if c.ConvergenceThreshold == nil {
		t := rc.Convergence.Threshold
		c.ConvergenceThreshold = &t
	}
	if c.ConvergenceAction == "" {
		c.ConvergenceAction = rc.Convergence.Action
	}
	if c.AllowTruncation == nil {
		t := rc.ContextManagement.AllowTruncation
		c.AllowTruncation = &t
	}
}

// LoadExperimentConfig parses and validates a YAML experiment spec.
func LoadExperimentConfig(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment spec: %w", err)
	}
	var cfg ExperimentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse experiment spec %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
