// Package domain defines the core domain models for lectern.
package domain

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Intent is the classified purpose of a learner message.
type Intent string

const (
	IntentQuestion    Intent = "question"
	IntentExplanation Intent = "explanation"
	IntentExample     Intent = "example"
	IntentOffTopic    Intent = "off_topic"
)

// TurnState is a stage of the conversation pipeline.
type TurnState string

const (
	TurnStateQueryUnderstanding TurnState = "QUERY_UNDERSTANDING"
	TurnStateContextRetrieval   TurnState = "CONTEXT_RETRIEVAL"
	TurnStateAnswerGeneration   TurnState = "ANSWER_GENERATION"
	TurnStateCitation           TurnState = "CITATION"
	TurnStateDone               TurnState = "DONE"
	TurnStateFailed             TurnState = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s TurnState) IsTerminal() bool {
	return s == TurnStateDone || s == TurnStateFailed
}

// EventType represents the type of a turn trace event.
type EventType string

const (
	EventTypeTurnStarted       EventType = "turn_started"
	EventTypeStateChanged      EventType = "state_changed"
	EventTypeRetrievalDone     EventType = "retrieval_done"
	EventTypeGenerationStarted EventType = "generation_started"
	EventTypeGenerationDone    EventType = "generation_done"
	EventTypeTurnDone          EventType = "turn_done"
	EventTypeTurnFailed        EventType = "turn_failed"
)

// QuestionKind is the template family a predicted question came from.
type QuestionKind string

const (
	QuestionKindDefinition QuestionKind = "definition"
	QuestionKindRationale  QuestionKind = "rationale"
	QuestionKindExample    QuestionKind = "example"
	QuestionKindContrast   QuestionKind = "contrast"
	QuestionKindTopic      QuestionKind = "topic"
	QuestionKindRecap      QuestionKind = "recap"
)
