package domain

// StreamEventType names a frame of a streamed turn.
type StreamEventType string

const (
	StreamEventDelta     StreamEventType = "delta"
	StreamEventCitations StreamEventType = "citations"
	StreamEventDone      StreamEventType = "done"
	StreamEventError     StreamEventType = "error"
)

// StreamEvent is one frame pushed to a streaming client, over SSE or websocket.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	Ts   int64           `json:"ts"`

	TurnID    string         `json:"turn_id,omitempty"`
	Text      string         `json:"text,omitempty"`
	Citations []EvidenceItem `json:"citations,omitempty"`
	Intent    Intent         `json:"intent,omitempty"`
	Degraded  bool           `json:"degraded,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StreamFunc receives stream frames in order. Returning an error aborts the turn.
type StreamFunc func(StreamEvent) error
