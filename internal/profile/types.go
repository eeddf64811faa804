package profile

// Source tags a journal entry with how the information arrived.
type Source string

const (
	// SourceDirect marks information the user stated as profile input.
	SourceDirect Source = "direct_input"
	// SourceConversation marks information inferred from conversation.
	SourceConversation Source = "conversation_insight"
)

func (s Source) label() string {
	if s == SourceDirect {
		return "Direct Input"
	}
	return "Conversation Insight"
}

// extraction is the structured result of the first model call: does the
// input carry user-specific facts, and what are they.
type extraction struct {
	HasRelevantInfo bool           `json:"has_relevant_info"`
	ExtractedInfo   map[string]any `json:"extracted_info"`
	Confidence      float64        `json:"confidence"`
	Reasoning       string         `json:"reasoning"`
}

// mergeResult is the structured result of the second model call: the full
// merged profile document plus a human-readable insight.
type mergeResult struct {
	Profile map[string]any `json:"profile"`
	Insight string         `json:"insight"`
}
