package domain

// TurnStartedPayload is the payload for turn_started event.
type TurnStartedPayload struct {
	SessionID      string   `json:"session_id"`
	VideoID        string   `json:"video_id"`
	Message        string   `json:"message"`
	PauseTimestamp *float64 `json:"pause_timestamp,omitempty"`
	Stream         bool     `json:"stream"`
}

// StateChangedPayload is the payload for state_changed event.
type StateChangedPayload struct {
	From   TurnState `json:"from"`
	To     TurnState `json:"to"`
	Intent Intent    `json:"intent,omitempty"`
	Route  string    `json:"route,omitempty"`
}

// RetrievalDonePayload is the payload for retrieval_done event.
type RetrievalDonePayload struct {
	Query      string     `json:"query"`
	Window     *TimeRange `json:"window,omitempty"`
	Widened    bool       `json:"widened"`
	SegmentIDs []string   `json:"segment_ids"`
}

// GenerationStartedPayload is the payload for generation_started event.
type GenerationStartedPayload struct {
	Model         string `json:"model"`
	Stream        bool   `json:"stream"`
	EvidenceCount int    `json:"evidence_count"`
	HistoryCount  int    `json:"history_count"`
}

// GenerationDonePayload is the payload for generation_done event.
type GenerationDonePayload struct {
	Model            string `json:"model"`
	LatencyMs        int64  `json:"latency_ms"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	Error            string `json:"error,omitempty"`
}

// TurnDonePayload is the payload for turn_done event.
type TurnDonePayload struct {
	UserMessageID      string   `json:"user_message_id"`
	AssistantMessageID string   `json:"assistant_message_id"`
	CitedSegmentIDs    []string `json:"cited_segment_ids"`
}

// TurnFailedPayload is the payload for turn_failed event.
type TurnFailedPayload struct {
	State   TurnState `json:"state"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}
