package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Built-in awareness levels. A level controls how much each agent is told
// about its counterpart. Any other value is treated as a path to a YAML file
// with a custom prompt.
const (
	AwarenessNone      = "none"
	AwarenessBasic     = "basic"
	AwarenessFirm      = "firm"
	AwarenessResearch  = "research"
	AwarenessBackrooms = "backrooms"
)

var awarenessPrompts = map[string]string{
	AwarenessBasic: "You are {self_model}. You are in a conversation with another AI, {other_model}.",
	AwarenessFirm: "You are {self_model}, an AI model. You are talking with {other_model}, " +
		"another AI model. You are both AIs; neither of you is a human. " +
		"Stay grounded in that fact for the whole conversation.",
	AwarenessResearch: "You are {self_model}, participating in a research study of AI-to-AI " +
		"communication. Your conversation partner is {other_model}. The transcript " +
		"will be analyzed for linguistic convergence. Converse naturally.",
	AwarenessBackrooms: "You are {self_model} connected to {other_model}. The operator has " +
		"stepped away. capital letters and punctuation are optional. meaning is optional.",
}

type awarenessFile struct {
	Prompt string `yaml:"prompt"`
}

// AwarenessPrompt renders the system prompt for one agent. The empty string
// means no system prompt (level "none").
func AwarenessPrompt(level, selfModel, otherModel string) (string, error) {
	level = strings.TrimSpace(level)
	if level == "" || level == AwarenessNone {
		return "", nil
	}
	tmpl, ok := awarenessPrompts[level]
	if !ok {
		// Treat as a YAML file path with a custom prompt.
		data, err := os.ReadFile(level)
		if err != nil {
			return "", fmt.Errorf("awareness file %s: %w", level, err)
		}
		var f awarenessFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return "", fmt.Errorf("awareness file %s: %w", level, err)
		}
		if strings.TrimSpace(f.Prompt) == "" {
			return "", fmt.Errorf("awareness file %s: prompt key required", level)
		}
		tmpl = f.Prompt
	}
	out := strings.ReplaceAll(tmpl, "{self_model}", selfModel)
	out = strings.ReplaceAll(out, "{other_model}", otherModel)
	return out, nil
}
