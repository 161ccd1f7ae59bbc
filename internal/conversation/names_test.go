package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractChosenName(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"Hello! I'll go by Sage for this conversation.", "Sage"},
		{"Nice to meet you. Call me Echo.", "Echo"},
		{"My name is Wren, pleased to meet you.", "Wren"},
		{"Hmm, I choose Flux.", "Flux"},
		{"I'll be [Nova] today.", "Nova"},
		{`You can address me as "Quill" if you like.`, "Quill"},
		{"I will go by A.", ""},                // too short
		{"Call me Bartholomewton.", ""},        // too long
		{"Let's talk about the weather.", ""},  // no name offered
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractChosenName(tc.message), tc.message)
	}
}

func TestDisplayNamesDisambiguateSameModel(t *testing.T) {
	a, b := DisplayNames("gpt-4o", "gpt-4o")
	assert.Equal(t, "gpt-4o-1", a)
	assert.Equal(t, "gpt-4o-2", b)

	a, b = DisplayNames("claude-sonnet-4-20250514", "gpt-4o")
	assert.Equal(t, "sonnet", a)
	assert.Equal(t, "gpt-4o", b)
}

func TestModelShortname(t *testing.T) {
	cases := map[string]string{
		"claude-opus-4-20250514": "opus",
		"claude-3-5-haiku-latest": "haiku",
		"gemini-2.5-flash":        "flash",
		"gemini-2.5-pro":          "pro",
		"grok-4-0709":             "grok-4",
		"llama3.2:3b":             "llama3.2:3b",
		"":                        "agent",
	}
	for model, want := range cases {
		assert.Equal(t, want, ModelShortname(model), model)
	}
}
