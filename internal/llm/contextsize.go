package llm

import (
	"os"
	"strconv"
	"strings"
)

// ContextSize returns an approximate context window (in tokens) for a model.
// The bool reports whether the value came from a known mapping or an explicit
// override (true) versus the conservative default (false).
func ContextSize(model string) (tokens int, known bool) {
	if model == "" {
		return 0, false
	}
	if v, ok := lookupContextOverride(model); ok && v > 0 {
		return v, true
	}
	if size, ok := knownContextWindows[model]; ok {
		return size, true
	}
	for prefix, size := range knownContextWindows {
		if strings.HasPrefix(model, prefix) {
			return size, true
		}
	}
	if v, ok := lookupContextOverride("*"); ok && v > 0 {
		return v, true
	}
	return 32_000, false
}

// knownContextWindows holds approximate windows for the model families the
// runtime drives. Values are used for context budgeting only, never for
// feature gating.
var knownContextWindows = map[string]int{
	"claude-opus-4":     200_000,
	"claude-sonnet-4":   200_000,
	"claude-haiku-4":    200_000,
	"claude-3-7-sonnet": 200_000,
	"claude-3-5-haiku":  200_000,
	"claude-3":          200_000,

	"gpt-5":         400_000,
	"gpt-4.1":       1_047_576,
	"gpt-4o":        128_000,
	"gpt-4-turbo":   128_000,
	"gpt-4":         8_192,
	"o3":            200_000,
	"o4-mini":       200_000,

	"gemini-2.5": 1_048_576,
	"gemini-2.0": 1_048_576,
	"gemini-1.5": 1_000_000,

	"grok-4": 256_000,
	"grok-3": 131_072,
}

// lookupContextOverride consults MODEL_<NAME>_CONTEXT_TOKENS (per model) and
// CONTEXT_WINDOW_TOKENS (global catch-all). model == "*" checks only the
// global override.
func lookupContextOverride(model string) (int, bool) {
	if model != "*" {
		key := "MODEL_" + sanitizeModelForEnv(model) + "_CONTEXT_TOKENS"
		if n, ok := parseIntEnv(os.Getenv(key)); ok {
			return n, true
		}
	}
	if n, ok := parseIntEnv(os.Getenv("CONTEXT_WINDOW_TOKENS")); ok {
		return n, true
	}
	return 0, false
}

func sanitizeModelForEnv(model string) string {
	out := make([]rune, 0, len(model))
	for _, r := range strings.ToUpper(model) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func parseIntEnv(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
