package events

import (
	"encoding/json"
	"fmt"
)

var constructors = map[Type]func() Event{
	TypeConversationStart:  func() Event { return &ConversationStart{} },
	TypeConversationEnd:    func() Event { return &ConversationEnd{} },
	TypeTurnStart:          func() Event { return &TurnStart{} },
	TypeTurnComplete:       func() Event { return &TurnComplete{} },
	TypeMessageRequest:     func() Event { return &MessageRequest{} },
	TypeMessageChunk:       func() Event { return &MessageChunk{} },
	TypeMessageComplete:    func() Event { return &MessageComplete{} },
	TypeThinkingChunk:      func() Event { return &ThinkingChunk{} },
	TypeThinkingComplete:   func() Event { return &ThinkingComplete{} },
	TypeSystemPrompt:       func() Event { return &SystemPrompt{} },
	TypeContextTruncation:  func() Event { return &ContextTruncation{} },
	TypeAPIError:           func() Event { return &APIError{} },
	TypeProviderTimeout:    func() Event { return &ProviderTimeout{} },
	TypeRateLimitPace:      func() Event { return &RateLimitPace{} },
	TypeInterruptRequest:   func() Event { return &InterruptRequest{} },
	TypeConversationPaused: func() Event { return &ConversationPaused{} },
	TypeConversationResume: func() Event { return &ConversationResumed{} },
	TypeExperimentStart:    func() Event { return &ExperimentStart{} },
	TypeExperimentEnd:      func() Event { return &ExperimentEnd{} },
	TypeError:              func() Event { return &Error{} },
}

// Marshal renders an event as a single compact JSON object, never
// pretty-printed. The Type field in Meta must already be stamped.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses one JSONL line into its typed variant. Lines with an
// unrecognized type decode into *Unknown with the raw bytes preserved.
func Decode(line []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("decode event: missing type field")
	}
	ctor, ok := constructors[head.Type]
	if !ok {
		u := &Unknown{Raw: append(json.RawMessage(nil), line...)}
		if err := json.Unmarshal(line, &u.Meta); err != nil {
			return nil, fmt.Errorf("decode event meta: %w", err)
		}
		return u, nil
	}
	ev := ctor()
	if err := json.Unmarshal(line, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}
