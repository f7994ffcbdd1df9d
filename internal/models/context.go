package models

// KeyFacts is the small fact map derived from the memory window.
type KeyFacts struct {
	UserMentions          []string `json:"user_mentions,omitempty"`
	Topics                []string `json:"topics,omitempty"`
	EmotionalStates       []string `json:"emotional_states,omitempty"`
	MentionedInstitutions []string `json:"mentioned_institutions,omitempty"`
}

// FlowTurn summarises one prior turn of the conversation.
type FlowTurn struct {
	UserIntentSummary      string `json:"user_intent_summary"`
	AssistantActionSummary string `json:"assistant_action_summary"`
}

// EnrichedContext is the per-turn structured summary of the memory window.
// It lives for the duration of one turn.
type EnrichedContext struct {
	Facts       KeyFacts   `json:"facts"`
	Markers     []string   `json:"markers,omitempty"` // short anchors like "user's name: 阿明"
	Flow        []FlowTurn `json:"flow,omitempty"`
	MemoryCard  string     `json:"memory_card"` // compact text (< 500 chars) for the drafter prompt
	Improvement bool       `json:"improvement"` // gratitude / relief signal in the current message
}
