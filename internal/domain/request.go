package domain

// ChatRequest is one learner turn.
type ChatRequest struct {
	VideoID        string   `json:"video_id"`
	SessionID      string   `json:"session_id"`
	Message        string   `json:"message"`
	PauseTimestamp *float64 `json:"pause_timestamp,omitempty"`
}

// ChatResponse is the outcome of a turn.
type ChatResponse struct {
	TurnID    string         `json:"turn_id"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Citations []EvidenceItem `json:"citations"`
	Intent    Intent         `json:"intent,omitempty"`
	Degraded  bool           `json:"degraded"`
}

// PredictResponse lists anticipated questions at a pause.
type PredictResponse struct {
	VideoID   string              `json:"video_id"`
	Timestamp float64             `json:"timestamp"`
	Questions []PredictedQuestion `json:"questions"`
}

// PauseRequest records a pause event for a session.
type PauseRequest struct {
	SessionID string  `json:"session_id"`
	Timestamp float64 `json:"timestamp"`
}

// PauseResponse describes the localized context at a pause.
type PauseResponse struct {
	VideoID         string              `json:"video_id"`
	Timestamp       float64             `json:"timestamp"`
	WindowStart     float64             `json:"window_start"`
	WindowEnd       float64             `json:"window_end"`
	FlaggedConcepts []string            `json:"flagged_concepts"`
	DominantTopic   string              `json:"dominant_topic,omitempty"`
	Segments        []TranscriptSegment `json:"segments"`
}

// IngestRequest carries a raw transcript for a video.
type IngestRequest struct {
	Title    string       `json:"title,omitempty"`
	Snippets []RawSnippet `json:"snippets"`
}

// IngestResponse reports the stored transcript shape.
type IngestResponse struct {
	VideoID         string  `json:"video_id"`
	SegmentCount    int     `json:"segment_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	Duration        string  `json:"duration"`
	Indexed         bool    `json:"indexed"`
}

// TopicSection is a contiguous stretch of the video about one topic.
type TopicSection struct {
	Title      string   `json:"title"`
	StartTime  float64  `json:"start_time"`
	EndTime    float64  `json:"end_time"`
	KeyTopics  []string `json:"key_topics"`
	SegmentIDs []string `json:"segment_ids"`
}

// SummaryResponse is the output of summarize.
type SummaryResponse struct {
	VideoID         string         `json:"video_id"`
	SummaryText     string         `json:"summary_text"`
	TopicBoundaries []TopicSection `json:"topic_boundaries"`
	Degraded        bool           `json:"degraded"`
}
