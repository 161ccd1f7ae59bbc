package store

// schema is applied idempotently on every open. Keys follow the event files:
// experiments key on experiment_id; the other tables key on conversation_id
// plus either turn_number[, agent_id] or the event sequence number.
const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    experiment_id            TEXT PRIMARY KEY,
    name                     TEXT NOT NULL,
    status                   TEXT NOT NULL,
    total_conversations      INTEGER NOT NULL,
    completed_conversations  INTEGER NOT NULL,
    failed_conversations     INTEGER NOT NULL,
    created_at               TEXT NOT NULL,
    started_at               TEXT,
    completed_at             TEXT,
    config_json              TEXT
);

CREATE TABLE IF NOT EXISTS conversations (
    conversation_id    TEXT PRIMARY KEY,
    experiment_id      TEXT NOT NULL,
    agent_a_model      TEXT,
    agent_b_model      TEXT,
    agent_a_provider   TEXT,
    agent_b_provider   TEXT,
    agent_a_name       TEXT,
    agent_b_name       TEXT,
    agent_a_chosen_name TEXT,
    agent_b_chosen_name TEXT,
    initial_prompt     TEXT,
    max_turns          INTEGER,
    first_speaker      TEXT,
    branched_from      TEXT,
    branch_turn        INTEGER,
    status             TEXT NOT NULL,
    ended_reason       TEXT,
    final_convergence  REAL,
    total_turns        INTEGER,
    error              TEXT,
    started_at         TEXT,
    ended_at           TEXT
);

CREATE TABLE IF NOT EXISTS events (
    conversation_id  TEXT NOT NULL,
    sequence         INTEGER NOT NULL,
    experiment_id    TEXT,
    type             TEXT NOT NULL,
    timestamp        TEXT NOT NULL,
    payload          TEXT NOT NULL,
    PRIMARY KEY (conversation_id, sequence)
);

CREATE TABLE IF NOT EXISTS messages (
    conversation_id   TEXT NOT NULL,
    turn_number       INTEGER NOT NULL,
    agent_id          TEXT NOT NULL,
    experiment_id     TEXT,
    content           TEXT NOT NULL,
    prompt_tokens     INTEGER,
    completion_tokens INTEGER,
    tokens_estimated  INTEGER,
    duration_ms       INTEGER,
    timestamp         TEXT,
    PRIMARY KEY (conversation_id, turn_number, agent_id)
);

CREATE TABLE IF NOT EXISTS thinking_traces (
    conversation_id  TEXT NOT NULL,
    turn_number      INTEGER NOT NULL,
    agent_id         TEXT NOT NULL,
    experiment_id    TEXT,
    content          TEXT NOT NULL,
    thinking_tokens  INTEGER,
    duration_ms      INTEGER,
    PRIMARY KEY (conversation_id, turn_number, agent_id)
);

CREATE TABLE IF NOT EXISTS token_usage (
    conversation_id   TEXT NOT NULL,
    turn_number       INTEGER NOT NULL,
    agent_id          TEXT NOT NULL,
    experiment_id     TEXT,
    model             TEXT,
    provider          TEXT,
    prompt_tokens     INTEGER,
    completion_tokens INTEGER,
    estimated         INTEGER,
    PRIMARY KEY (conversation_id, turn_number, agent_id)
);

CREATE TABLE IF NOT EXISTS context_truncations (
    conversation_id  TEXT NOT NULL,
    sequence         INTEGER NOT NULL,
    experiment_id    TEXT,
    turn_number      INTEGER,
    agent_id         TEXT,
    dropped_messages INTEGER,
    estimated_tokens INTEGER,
    budget_tokens    INTEGER,
    PRIMARY KEY (conversation_id, sequence)
);

CREATE TABLE IF NOT EXISTS turn_metrics (
    conversation_id        TEXT NOT NULL,
    turn_number            INTEGER NOT NULL,
    experiment_id          TEXT,
    convergence_score      REAL,
    content_similarity     REAL,
    length_similarity      REAL,
    sentence_similarity    REAL,
    structure_similarity   REAL,
    punctuation_similarity REAL,

    a_message_length       INTEGER, b_message_length       INTEGER,
    a_word_count           INTEGER, b_word_count           INTEGER,
    a_sentence_count       INTEGER, b_sentence_count       INTEGER,
    a_paragraph_count      INTEGER, b_paragraph_count      INTEGER,
    a_question_count       INTEGER, b_question_count       INTEGER,
    a_exclamation_count    INTEGER, b_exclamation_count    INTEGER,
    a_list_item_count      INTEGER, b_list_item_count      INTEGER,
    a_code_block_count     INTEGER, b_code_block_count     INTEGER,
    a_vocabulary_size      INTEGER, b_vocabulary_size      INTEGER,
    a_type_token_ratio     REAL,    b_type_token_ratio     REAL,
    a_hapax_ratio          REAL,    b_hapax_ratio          REAL,
    a_word_entropy         REAL,    b_word_entropy         REAL,
    a_char_entropy         REAL,    b_char_entropy         REAL,
    a_avg_word_length      REAL,    b_avg_word_length      REAL,
    a_avg_sentence_length  REAL,    b_avg_sentence_length  REAL,
    a_punctuation_density  REAL,    b_punctuation_density  REAL,
    a_comma_density        REAL,    b_comma_density        REAL,
    a_semicolon_density    REAL,    b_semicolon_density    REAL,
    a_colon_density        REAL,    b_colon_density        REAL,
    a_dash_density         REAL,    b_dash_density         REAL,
    a_symbol_density       REAL,    b_symbol_density       REAL,
    a_first_singular       INTEGER, b_first_singular       INTEGER,
    a_first_plural         INTEGER, b_first_plural         INTEGER,
    a_second_person        INTEGER, b_second_person        INTEGER,
    a_third_person         INTEGER, b_third_person         INTEGER,
    a_prompt_tokens        INTEGER, b_prompt_tokens        INTEGER,
    a_completion_tokens    INTEGER, b_completion_tokens    INTEGER,
    a_duration_ms          INTEGER, b_duration_ms          INTEGER,

    PRIMARY KEY (conversation_id, turn_number)
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON events (experiment_id);
CREATE INDEX IF NOT EXISTS idx_messages_experiment ON messages (experiment_id);
CREATE INDEX IF NOT EXISTS idx_conversations_experiment ON conversations (experiment_id);
`
