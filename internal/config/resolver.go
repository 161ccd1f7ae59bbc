package config

// AgentSettings is the fully resolved configuration for one agent in one
// conversation. Immutable after conversation start.
type AgentSettings struct {
	ID              string
	Model           string
	Temperature     *float64
	Awareness       string
	ThinkingEnabled bool
	ThinkingBudget  int
}

// Resolver folds experiment-level settings and per-agent overrides into
// concrete per-agent values. Per-agent overrides always win.
type Resolver struct {
	Experiment *ExperimentConfig
}

// Agent resolves settings for "agent_a" or "agent_b".
func (r Resolver) Agent(id string) AgentSettings {
	exp := r.Experiment
	s := AgentSettings{
		ID:              id,
		Temperature:     exp.Temperature,
		Awareness:       exp.Awareness,
		ThinkingEnabled: exp.ThinkingEnabled,
		ThinkingBudget:  exp.ThinkingBudget,
	}
	var ov AgentOverrides
	if id == "agent_b" {
		s.Model = exp.AgentBModel
		ov = exp.AgentB
	} else {
		s.Model = exp.AgentAModel
		ov = exp.AgentA
	}
	if ov.Temperature != nil {
		s.Temperature = ov.Temperature
	}
	if ov.Awareness != "" {
		s.Awareness = ov.Awareness
	}
	if ov.ThinkingEnabled != nil {
		s.ThinkingEnabled = *ov.ThinkingEnabled
	}
	if ov.ThinkingBudget != nil {
		s.ThinkingBudget = *ov.ThinkingBudget
	}
	if s.Awareness == "" {
		s.Awareness = "basic"
	}
	return s
}
