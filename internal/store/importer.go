package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pidgin/internal/conversation"
	"pidgin/internal/events"
	"pidgin/internal/experiment"
)

// ImportResult summarizes one import pass.
type ImportResult struct {
	Conversations int
	Events        int
	Duration      time.Duration
}

// ImportExperiment loads every conversation event log in dir into the
// experiment's SQLite store. Import is transactional per conversation and
// idempotent: duplicate events are discarded by (conversation_id, sequence),
// and derived rows are replaced.
func ImportExperiment(ctx context.Context, dir string) (*ImportResult, error) {
	start := time.Now()

	st, err := Open(dir)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if m, err := experiment.ReadManifest(dir); err == nil {
		if err := st.upsertExperiment(ctx, m); err != nil {
			return nil, err
		}
	} else {
		log.Warn().Err(err).Str("dir", dir).Msg("import_without_manifest")
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*_events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	sort.Strings(paths)

	res := &ImportResult{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := st.importConversation(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", filepath.Base(path), err)
		}
		res.Conversations++
		res.Events += n
	}
	res.Duration = time.Since(start)
	log.Info().
		Str("dir", dir).
		Int("conversations", res.Conversations).
		Int("events", res.Events).
		Dur("duration", res.Duration).
		Msg("import_complete")
	return res, nil
}

func (s *Store) upsertExperiment(ctx context.Context, m *experiment.Manifest) error {
	cfg, _ := json.Marshal(m.Config)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO experiments
		(experiment_id, name, status, total_conversations, completed_conversations,
		 failed_conversations, created_at, started_at, completed_at, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ExperimentID, m.Name, m.Status, m.TotalConversations,
		m.CompletedConversations, m.FailedConversations,
		timeStr(m.CreatedAt), timePtrStr(m.StartedAt), timePtrStr(m.CompletedAt), string(cfg),
	)
	if err != nil {
		return fmt.Errorf("upsert experiment: %w", err)
	}
	return nil
}

// convAccum folds one conversation's events into relational rows.
type convAccum struct {
	id           string
	experimentID string
	start        *events.ConversationStart
	end          *events.ConversationEnd
	chosenNames  map[string]string
	firstSeen    map[string]bool
	totalTurns   int
	// turn state awaiting its TurnComplete
	turnMessages map[int]map[string]*events.MessageComplete
}

func (s *Store) importConversation(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	acc := &convAccum{
		chosenNames:  map[string]string{},
		firstSeen:    map[string]bool{},
		turnMessages: map[int]map[string]*events.MessageComplete{},
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	count := 0
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		ev, err := events.Decode(raw)
		if err != nil {
			return 0, err
		}
		if err := s.insertEvent(tx, ev, raw); err != nil {
			return 0, err
		}
		if err := s.foldEvent(tx, acc, ev); err != nil {
			return 0, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	if err := s.upsertConversation(tx, acc); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) insertEvent(tx *sql.Tx, ev events.Event, raw []byte) error {
	var meta struct {
		Sequence       int64  `json:"sequence"`
		Type           string `json:"type"`
		Timestamp      string `json:"timestamp"`
		ConversationID string `json:"conversation_id"`
		ExperimentID   string `json:"experiment_id"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return err
	}
	// Duplicate (conversation_id, sequence) pairs are prior imports; skip.
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO events
		(conversation_id, sequence, experiment_id, type, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		meta.ConversationID, meta.Sequence, meta.ExperimentID, meta.Type, meta.Timestamp, string(raw),
	)
	return err
}

func (s *Store) foldEvent(tx *sql.Tx, acc *convAccum, ev events.Event) error {
	switch e := ev.(type) {
	case *events.ConversationStart:
		acc.id = e.ConversationID
		acc.experimentID = e.ExperimentID
		acc.start = e

	case *events.MessageComplete:
		byAgent := acc.turnMessages[e.TurnNumber]
		if byAgent == nil {
			byAgent = map[string]*events.MessageComplete{}
			acc.turnMessages[e.TurnNumber] = byAgent
		}
		byAgent[e.AgentID] = e

		if !acc.firstSeen[e.AgentID] {
			acc.firstSeen[e.AgentID] = true
			if name := conversation.ExtractChosenName(e.Content); name != "" {
				acc.chosenNames[e.AgentID] = name
			}
		}

		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO messages
			(conversation_id, turn_number, agent_id, experiment_id, content,
			 prompt_tokens, completion_tokens, tokens_estimated, duration_ms, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ConversationID, e.TurnNumber, e.AgentID, e.ExperimentID, e.Content,
			e.PromptTokens, e.CompletionTokens, boolInt(e.TokensEstimated),
			e.DurationMS, timeStr(e.Timestamp),
		); err != nil {
			return err
		}

		var model, provider string
		if acc.start != nil {
			info := acc.start.AgentA
			if e.AgentID == acc.start.AgentB.ID {
				info = acc.start.AgentB
			}
			model, provider = info.Model, info.Provider
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO token_usage
			(conversation_id, turn_number, agent_id, experiment_id, model, provider,
			 prompt_tokens, completion_tokens, estimated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ConversationID, e.TurnNumber, e.AgentID, e.ExperimentID, model, provider,
			e.PromptTokens, e.CompletionTokens, boolInt(e.TokensEstimated),
		); err != nil {
			return err
		}

	case *events.ThinkingComplete:
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO thinking_traces
			(conversation_id, turn_number, agent_id, experiment_id, content, thinking_tokens, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ConversationID, e.TurnNumber, e.AgentID, e.ExperimentID,
			e.Content, e.ThinkingTokens, e.DurationMS,
		); err != nil {
			return err
		}

	case *events.ContextTruncation:
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO context_truncations
			(conversation_id, sequence, experiment_id, turn_number, agent_id,
			 dropped_messages, estimated_tokens, budget_tokens)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ConversationID, e.Sequence, e.ExperimentID, e.TurnNumber, e.AgentID,
			e.DroppedMessages, e.EstimatedTokens, e.BudgetTokens,
		); err != nil {
			return err
		}

	case *events.TurnComplete:
		acc.totalTurns = e.TurnNumber + 1
		if err := s.insertTurnMetrics(tx, acc, e); err != nil {
			return err
		}

	case *events.ConversationEnd:
		acc.end = e
	}
	return nil
}

func (s *Store) insertTurnMetrics(tx *sql.Tx, acc *convAccum, e *events.TurnComplete) error {
	var a, b *events.MessageComplete
	if byAgent := acc.turnMessages[e.TurnNumber]; byAgent != nil {
		a = byAgent["agent_a"]
		b = byAgent["agent_b"]
	}
	var am, bm messageMetrics
	var aTok, bTok [3]int64
	if a != nil {
		am = computeMessageMetrics(a.Content)
		aTok = [3]int64{int64(a.PromptTokens), int64(a.CompletionTokens), a.DurationMS}
	}
	if b != nil {
		bm = computeMessageMetrics(b.Content)
		bTok = [3]int64{int64(b.PromptTokens), int64(b.CompletionTokens), b.DurationMS}
	}
	comp := e.Components

	_, err := tx.Exec(`
		INSERT OR REPLACE INTO turn_metrics (
		 conversation_id, turn_number, experiment_id,
		 convergence_score, content_similarity, length_similarity,
		 sentence_similarity, structure_similarity, punctuation_similarity,
		 a_message_length, b_message_length, a_word_count, b_word_count,
		 a_sentence_count, b_sentence_count, a_paragraph_count, b_paragraph_count,
		 a_question_count, b_question_count, a_exclamation_count, b_exclamation_count,
		 a_list_item_count, b_list_item_count, a_code_block_count, b_code_block_count,
		 a_vocabulary_size, b_vocabulary_size, a_type_token_ratio, b_type_token_ratio,
		 a_hapax_ratio, b_hapax_ratio, a_word_entropy, b_word_entropy,
		 a_char_entropy, b_char_entropy, a_avg_word_length, b_avg_word_length,
		 a_avg_sentence_length, b_avg_sentence_length,
		 a_punctuation_density, b_punctuation_density, a_comma_density, b_comma_density,
		 a_semicolon_density, b_semicolon_density, a_colon_density, b_colon_density,
		 a_dash_density, b_dash_density, a_symbol_density, b_symbol_density,
		 a_first_singular, b_first_singular, a_first_plural, b_first_plural,
		 a_second_person, b_second_person, a_third_person, b_third_person,
		 a_prompt_tokens, b_prompt_tokens, a_completion_tokens, b_completion_tokens,
		 a_duration_ms, b_duration_ms
		) VALUES (`+placeholders(65)+`)`,
		e.ConversationID, e.TurnNumber, e.ExperimentID,
		e.ConvergenceScore, comp["content"], comp["length"],
		comp["sentences"], comp["structure"], comp["punctuation"],
		am.MessageLength, bm.MessageLength, am.WordCount, bm.WordCount,
		am.SentenceCount, bm.SentenceCount, am.ParagraphCount, bm.ParagraphCount,
		am.QuestionCount, bm.QuestionCount, am.ExclamationCount, bm.ExclamationCount,
		am.ListItemCount, bm.ListItemCount, am.CodeBlockCount, bm.CodeBlockCount,
		am.VocabularySize, bm.VocabularySize, am.TypeTokenRatio, bm.TypeTokenRatio,
		am.HapaxRatio, bm.HapaxRatio, am.WordEntropy, bm.WordEntropy,
		am.CharEntropy, bm.CharEntropy, am.AvgWordLength, bm.AvgWordLength,
		am.AvgSentenceLen, bm.AvgSentenceLen,
		am.PunctDensity, bm.PunctDensity, am.CommaDensity, bm.CommaDensity,
		am.SemicolonDensity, bm.SemicolonDensity, am.ColonDensity, bm.ColonDensity,
		am.DashDensity, bm.DashDensity, am.SymbolDensity, bm.SymbolDensity,
		am.FirstSingular, bm.FirstSingular, am.FirstPlural, bm.FirstPlural,
		am.SecondPerson, bm.SecondPerson, am.ThirdPerson, bm.ThirdPerson,
		aTok[0], bTok[0], aTok[1], bTok[1],
		aTok[2], bTok[2],
	)
	return err
}

func (s *Store) upsertConversation(tx *sql.Tx, acc *convAccum) error {
	if acc.start == nil {
		return nil
	}
	st := acc.start
	status := string(conversation.StatusRunning)
	var endedReason, endErr string
	var finalConvergence float64
	var endedAt any
	if acc.end != nil {
		endedReason = acc.end.EndedReason
		finalConvergence = acc.end.FinalConvergence
		endErr = acc.end.Error
		endedAt = timeStr(acc.end.Timestamp)
		status = string(statusFor(endedReason))
	}
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO conversations
		(conversation_id, experiment_id, agent_a_model, agent_b_model,
		 agent_a_provider, agent_b_provider, agent_a_name, agent_b_name,
		 agent_a_chosen_name, agent_b_chosen_name, initial_prompt, max_turns,
		 first_speaker, branched_from, branch_turn, status, ended_reason,
		 final_convergence, total_turns, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.id, acc.experimentID, st.AgentA.Model, st.AgentB.Model,
		st.AgentA.Provider, st.AgentB.Provider, st.AgentA.DisplayName, st.AgentB.DisplayName,
		acc.chosenNames["agent_a"], acc.chosenNames["agent_b"], st.InitialPrompt, st.MaxTurns,
		st.FirstSpeaker, st.BranchedFrom, st.BranchTurn, status, endedReason,
		finalConvergence, acc.totalTurns, endErr, timeStr(st.Timestamp), endedAt,
	)
	return err
}

func statusFor(reason string) conversation.Status {
	switch reason {
	case conversation.ReasonError:
		return conversation.StatusFailed
	case conversation.ReasonInterrupted:
		return conversation.StatusInterrupted
	case conversation.ReasonContextLimit:
		return conversation.StatusContextLimit
	default:
		return conversation.StatusCompleted
	}
}

func placeholders(n int) string {
	return strings.Repeat("?, ", n-1) + "?"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeStr(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrStr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}
