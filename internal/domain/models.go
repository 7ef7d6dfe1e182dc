package domain

import (
	"encoding/json"
	"time"
)

// Video holds metadata for an ingested transcript.
type Video struct {
	VideoID         string    `json:"video_id"`
	Title           string    `json:"title,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	SegmentCount    int       `json:"segment_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RawSnippet is one caption fragment as delivered by a transcript fetcher.
type RawSnippet struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// TranscriptSegment is a normalized, immutable slice of a transcript.
type TranscriptSegment struct {
	SegmentID     string  `json:"segment_id"`
	VideoID       string  `json:"video_id"`
	Text          string  `json:"text"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	SequenceIndex int     `json:"sequence_index"`
}

// Duration returns the length of the segment in seconds.
func (s TranscriptSegment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Contains reports whether t falls inside the segment span.
func (s TranscriptSegment) Contains(t float64) bool {
	return t >= s.StartTime && t < s.EndTime
}

// EmbeddingEntry is the vector derived from one segment's text.
type EmbeddingEntry struct {
	SegmentID   string    `json:"segment_id"`
	VideoID     string    `json:"video_id"`
	Model       string    `json:"model"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
}

// EvidenceItem is a single retrieval result.
type EvidenceItem struct {
	SegmentID      string  `json:"segment_id"`
	RelevanceScore float64 `json:"relevance_score"`
	Text           string  `json:"text"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
	SequenceIndex  int     `json:"sequence_index"`
}

// TimeRange is an inclusive span of video time in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Valid reports whether the range is well formed.
func (r TimeRange) Valid() bool {
	return r.Start >= 0 && r.End >= r.Start
}

// Intersects reports whether [start, end] shares any time with the range.
func (r TimeRange) Intersects(start, end float64) bool {
	if end <= start {
		return start >= r.Start && start <= r.End
	}
	return start <= r.End && end > r.Start
}

// Message is one append-only entry in a session transcript.
type Message struct {
	MessageID string         `json:"message_id"`
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Citations []EvidenceItem `json:"citations,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PauseEvent records where a learner paused and what was flagged there.
type PauseEvent struct {
	Timestamp       float64   `json:"timestamp"`
	WindowStart     float64   `json:"window_start"`
	WindowEnd       float64   `json:"window_end"`
	FlaggedConcepts []string  `json:"flagged_concepts"`
	CreatedAt       time.Time `json:"created_at"`
}

// Session is the interaction history between one learner and one video.
type Session struct {
	SessionID    string       `json:"session_id"`
	VideoID      string       `json:"video_id"`
	Messages     []Message    `json:"messages"`
	PauseHistory []PauseEvent `json:"pause_history"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
}

// LastPause returns the most recent pause event, if any.
func (s *Session) LastPause() (PauseEvent, bool) {
	if len(s.PauseHistory) == 0 {
		return PauseEvent{}, false
	}
	return s.PauseHistory[len(s.PauseHistory)-1], true
}

// PredictedQuestion is an anticipated learner question.
type PredictedQuestion struct {
	Text             string       `json:"text"`
	ConfidenceScore  float64      `json:"confidence"`
	Kind             QuestionKind `json:"kind"`
	SourceSegmentIDs []string     `json:"source_segment_ids"`
}

// Turn is a single pass of the conversation pipeline.
type Turn struct {
	TurnID    string          `json:"turn_id"`
	SessionID string          `json:"session_id"`
	VideoID   string          `json:"video_id"`
	State     TurnState       `json:"state"`
	Intent    Intent          `json:"intent,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// TurnEvent represents a trace event for replay.
type TurnEvent struct {
	EventID string          `json:"event_id"`
	TurnID  string          `json:"turn_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
