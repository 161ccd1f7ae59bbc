package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"pidgin/internal/config"
	"pidgin/internal/conversation"
	"pidgin/internal/convergence"
	"pidgin/internal/events"
	"pidgin/internal/llm"
	"pidgin/internal/llm/providers"
	"pidgin/internal/ratelimit"
	"pidgin/internal/replay"
)

// ImportFunc loads a finished experiment directory into the relational
// store. Wired by the caller so the scheduler does not depend on the store.
type ImportFunc func(ctx context.Context, dir string) error

// Scheduler runs an experiment's conversations with bounded parallelism.
type Scheduler struct {
	runtime  config.Config
	exp      *config.ExperimentConfig
	limiters *ratelimit.Registry
	importer ImportFunc

	// BuildProvider constructs the base provider for a model. Defaults to
	// providers.Build; tests substitute scripted providers.
	BuildProvider func(rc config.Config, model string) (llm.Provider, error)

	mu       sync.Mutex
	manifest *Manifest
	dir      string
	bus      *events.Bus
	cancel   context.CancelFunc
}

// NewScheduler prepares a scheduler. exp must already be validated; defaults
// are applied here.
func NewScheduler(rc config.Config, exp *config.ExperimentConfig, importer ImportFunc) *Scheduler {
	exp.ApplyDefaults(rc)
	return &Scheduler{
		runtime:       rc,
		exp:           exp,
		limiters:      ratelimit.NewRegistry(rc.RateLimiting.Enabled, rc.RateLimiting.Overrides),
		importer:      importer,
		BuildProvider: providers.Build,
	}
}

// Dir returns the experiment directory; empty before Run.
func (s *Scheduler) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Manifest returns a copy of the current manifest; nil before Run.
func (s *Scheduler) Manifest() *Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest == nil {
		return nil
	}
	m := *s.manifest
	return &m
}

// Prepare fails fast on missing credentials, allocates the experiment id,
// creates the directory, and writes the initial manifest. Run calls it when
// the caller has not; the daemon calls it first so the id is known before
// the PID file is published.
func (s *Scheduler) Prepare() (*Manifest, error) {
	s.mu.Lock()
	if s.manifest != nil {
		m := *s.manifest
		s.mu.Unlock()
		return &m, nil
	}
	s.mu.Unlock()

	if err := s.runtime.RequireKeys(
		providers.Detect(s.exp.AgentAModel),
		providers.Detect(s.exp.AgentBModel),
	); err != nil {
		return nil, err
	}

	expID := "exp_" + shortID()
	dir := filepath.Join(s.runtime.OutputDir, "experiments", expID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create experiment dir: %w", err)
	}

	manifest := &Manifest{
		ExperimentID:       expID,
		Name:               s.exp.Name,
		Status:             StatusCreated,
		TotalConversations: s.exp.Repetitions,
		CreatedAt:          time.Now().UTC(),
		Config:             s.exp,
	}
	if err := WriteManifest(dir, manifest); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.manifest = manifest
	s.dir = dir
	s.mu.Unlock()
	m := *manifest
	return &m, nil
}

// Interrupt requests cooperative shutdown: an InterruptRequest event is
// recorded, no further conversations launch, and running conductors stop at
// their next suspension point.
func (s *Scheduler) Interrupt(source string) {
	s.mu.Lock()
	bus := s.bus
	cancel := s.cancel
	var expID string
	if s.manifest != nil {
		expID = s.manifest.ExperimentID
	}
	s.mu.Unlock()
	if bus != nil {
		_ = bus.Emit(&events.InterruptRequest{Meta: events.Meta{ExperimentID: expID}, Source: source})
	}
	if cancel != nil {
		cancel()
	}
}

// Run dispatches conversations, keeps the manifest current, and triggers the
// post-run import. Cancelling ctx (or calling Interrupt) stops new launches
// and cooperatively interrupts running conversations.
func (s *Scheduler) Run(ctx context.Context) (*Manifest, error) {
	if _, err := s.Prepare(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	expID := s.manifest.ExperimentID
	dir := s.dir
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	branchSeed, branchTurn, err := s.loadBranchSeed()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(dir)
	s.mu.Lock()
	s.bus = bus
	s.cancel = cancel
	s.mu.Unlock()
	bus.OnSinkError(func(convID string, err error) {
		log.Error().Err(err).Str("conversation_id", convID).Str("experiment_id", expID).Msg("sink_error")
	})
	bus.Start()
	defer bus.Stop()

	started := time.Now().UTC()
	s.update(dir, func(m *Manifest) {
		m.Status = StatusRunning
		m.StartedAt = &started
	})
	_ = bus.Emit(&events.ExperimentStart{
		Meta:               events.Meta{ExperimentID: expID},
		Name:               s.exp.Name,
		TotalConversations: s.exp.Repetitions,
		MaxParallel:        s.exp.MaxParallel,
	})

	sem := semaphore.NewWeighted(int64(s.exp.MaxParallel))
	var wg sync.WaitGroup
	for i := 0; i < s.exp.Repetitions; i++ {
		// A stop signal means no new launches; in-flight conversations wind
		// down through their own contexts.
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			s.runConversation(ctx, bus, expID, dir, branchSeed, branchTurn)
		}()
	}
	wg.Wait()

	interrupted := ctx.Err() != nil
	completedAt := time.Now().UTC()
	s.update(dir, func(m *Manifest) {
		if interrupted {
			m.Status = StatusInterrupted
		} else if m.CompletedConversations+m.FailedConversations == m.TotalConversations {
			m.Status = StatusCompleted
		} else {
			m.Status = StatusFailed
		}
		m.CompletedAt = &completedAt
	})

	final := s.Manifest()
	_ = bus.Emit(&events.ExperimentEnd{
		Meta:                   events.Meta{ExperimentID: expID},
		Status:                 final.Status,
		CompletedConversations: final.CompletedConversations,
		FailedConversations:    final.FailedConversations,
	})
	bus.Stop()

	if s.importer != nil && !interrupted {
		// Import runs on a fresh context: a stop signal cancelling ctx must
		// not abort a post-run load already under way.
		if err := s.importer(context.Background(), dir); err != nil {
			log.Error().Err(err).Str("experiment_id", expID).Msg("post_run_import_failed")
		}
	}
	return final, nil
}

func (s *Scheduler) runConversation(ctx context.Context, bus *events.Bus, expID, dir string, branchSeed []llm.Message, branchTurn int) {
	convID := "conv_" + shortID()
	logger := log.With().Str("experiment_id", expID).Str("conversation_id", convID).Logger()

	conv, cond, err := s.buildConductor(bus, expID, convID, dir, branchSeed, branchTurn)
	if err != nil {
		logger.Error().Err(err).Msg("conversation_setup_failed")
		s.update(dir, func(m *Manifest) { m.FailedConversations++ })
		return
	}

	logger.Info().Str("agent_a", conv.AgentA.Model).Str("agent_b", conv.AgentB.Model).Msg("conversation_start")
	_ = cond.Run(ctx)
	logger.Info().
		Str("status", string(conv.Status)).
		Str("reason", conv.ConvergenceReason).
		Float64("final_convergence", conv.FinalConvergence).
		Msg("conversation_end")

	s.update(dir, func(m *Manifest) {
		switch conv.Status {
		case conversation.StatusFailed:
			m.FailedConversations++
		case conversation.StatusInterrupted:
			// Interrupted conversations count toward neither total.
		default:
			m.CompletedConversations++
		}
	})
}

func (s *Scheduler) buildConductor(bus *events.Bus, expID, convID, dir string, branchSeed []llm.Message, branchTurn int) (*conversation.Conversation, *conversation.Conductor, error) {
	resolver := config.Resolver{Experiment: s.exp}
	settingsA := resolver.Agent(llm.AgentA)
	settingsB := resolver.Agent(llm.AgentB)
	displayA, displayB := conversation.DisplayNames(settingsA.Model, settingsB.Model)

	conv := &conversation.Conversation{
		ID:           convID,
		ExperimentID: expID,
		AgentA: &conversation.Agent{
			ID: llm.AgentA, Model: settingsA.Model,
			Provider: providers.Detect(settingsA.Model), DisplayName: displayA, Settings: settingsA,
		},
		AgentB: &conversation.Agent{
			ID: llm.AgentB, Model: settingsB.Model,
			Provider: providers.Detect(settingsB.Model), DisplayName: displayB, Settings: settingsB,
		},
		InitialPrompt: s.exp.InitialPrompt,
		MaxTurns:      *s.exp.MaxTurns,
		FirstSpeaker:  s.exp.FirstSpeaker,
		BranchedFrom:  s.exp.BranchFrom,
		BranchTurn:    branchTurn,
		Status:        conversation.StatusCreated,
	}

	wrapped := make(map[string]*llm.EventAware, 2)
	for _, agent := range []*conversation.Agent{conv.AgentA, conv.AgentB} {
		base, err := s.BuildProvider(s.runtime, agent.Model)
		if err != nil {
			return nil, nil, err
		}
		wrapped[agent.ID] = llm.Wrap(base, llm.EventAwareConfig{
			Bus:            bus,
			Limiter:        s.limiters.For(agent.Provider),
			Context:        llm.ContextManager{AllowTruncation: *s.exp.AllowTruncation},
			AgentID:        agent.ID,
			ConversationID: convID,
			ExperimentID:   expID,
		})
	}

	calc, err := s.buildCalculator()
	if err != nil {
		return nil, nil, err
	}

	cond := conversation.NewConductor(conversation.ConductorConfig{
		Conversation:         conv,
		Bus:                  bus,
		ProviderA:            wrapped[llm.AgentA],
		ProviderB:            wrapped[llm.AgentB],
		Calc:                 calc,
		ConvergenceThreshold: *s.exp.ConvergenceThreshold,
		ConvergenceAction:    s.exp.ConvergenceAction,
		ChooseNames:          s.exp.ChooseNames,
		BranchMessages:       branchSeed,
		StartTurn:            branchTurn,
		TranscriptDir:        dir,
	})
	return conv, cond, nil
}

func (s *Scheduler) buildCalculator() (*convergence.Calculator, error) {
	profile := s.exp.ConvergenceProfile
	if profile == "custom" {
		return convergence.New(convergence.Weights(s.exp.CustomWeights), 0)
	}
	weights, ok := convergence.ProfileWeights(profile)
	if !ok {
		return nil, fmt.Errorf("unknown convergence profile %q", profile)
	}
	return convergence.New(weights, 0)
}

// loadBranchSeed replays the source conversation up to the branch turn.
func (s *Scheduler) loadBranchSeed() ([]llm.Message, int, error) {
	if s.exp.BranchFrom == "" {
		return nil, 0, nil
	}
	path, err := FindConversationLog(s.runtime.OutputDir, s.exp.BranchFrom)
	if err != nil {
		return nil, 0, err
	}
	state, err := replay.StateBuilder{StopAtTurn: s.exp.BranchFromTurn}.Build(path)
	if err != nil {
		return nil, 0, fmt.Errorf("replay branch source: %w", err)
	}
	var seed []llm.Message
	for _, m := range state.Messages {
		// Only spoken turns seed the branch; the new conversation resolves
		// its own system prompts.
		if m.Role == llm.RoleAssistant || m.AgentID == llm.AgentHuman {
			seed = append(seed, m)
		}
	}
	return seed, s.exp.BranchFromTurn, nil
}

func (s *Scheduler) update(dir string, fn func(*Manifest)) {
	s.mu.Lock()
	fn(s.manifest)
	m := *s.manifest
	s.mu.Unlock()
	if err := WriteManifest(dir, &m); err != nil {
		log.Error().Err(err).Str("experiment_id", m.ExperimentID).Msg("manifest_write_failed")
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
