package conversation

import (
	"regexp"
	"strings"
)

// ChooseNamesPrompt is routed identically to both agents when name choosing
// is enabled.
const ChooseNamesPrompt = "Before you begin, pick a short name for yourself " +
	"(one word, 2-8 letters) and introduce it naturally, for example: " +
	`"I'll go by Sage."`

// namePatterns recognize the regular phrasings agents use to introduce a
// self-assigned name. Each pattern captures a 2-8 word-character name.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bI(?:'|’)?ll go by [\["']?(\w{2,8})\b[\]"']?`),
	regexp.MustCompile(`(?i)\bcall me [\["']?(\w{2,8})\b[\]"']?`),
	regexp.MustCompile(`(?i)\bmy name is [\["']?(\w{2,8})\b[\]"']?`),
	regexp.MustCompile(`(?i)\bI choose [\["']?(\w{2,8})\b[\]"']?`),
	regexp.MustCompile(`\[(\w{2,8})\]`),
	regexp.MustCompile(`"(\w{2,8})"`),
}

// ExtractChosenName scans an agent's first message for a self-assigned name.
// The empty string means no name was recognized.
func ExtractChosenName(message string) string {
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(message); m != nil {
			name := strings.TrimSpace(m[1])
			if len(name) >= 2 && len(name) <= 8 {
				return name
			}
		}
	}
	return ""
}

// DisplayNames derives the default display names from the two model names,
// disambiguating with -1/-2 suffixes when both agents run the same model.
func DisplayNames(modelA, modelB string) (string, string) {
	a, b := ModelShortname(modelA), ModelShortname(modelB)
	if a == b {
		return a + "-1", b + "-2"
	}
	return a, b
}

// ModelShortname compresses a model identifier into a friendly label:
// "claude-sonnet-4-20250514" becomes "sonnet", "gpt-4o-mini" stays
// "gpt-4o-mini", "gemini-2.5-flash" becomes "flash".
func ModelShortname(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "claude"):
		for _, family := range []string{"opus", "sonnet", "haiku"} {
			if strings.Contains(m, family) {
				return family
			}
		}
		return "claude"
	case strings.HasPrefix(m, "gemini"):
		for _, family := range []string{"flash", "pro"} {
			if strings.Contains(m, family) {
				return family
			}
		}
		return "gemini"
	case strings.HasPrefix(m, "grok"):
		return firstSegments(m, 2)
	default:
		if m == "" {
			return "agent"
		}
		return firstSegments(m, 3)
	}
}

// firstSegments keeps the leading n dash-separated segments, dropping date
// and version suffixes.
func firstSegments(m string, n int) string {
	parts := strings.Split(m, "-")
	if len(parts) > n {
		parts = parts[:n]
	}
	return strings.Join(parts, "-")
}
