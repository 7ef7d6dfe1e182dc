package ws

import (
	"errors"
	"time"

	"github.com/xiaot623/lectern/internal/domain"
)

// Message types from client to server
const (
	TypeHello   = "hello"
	TypeChat    = "chat"
	TypePredict = "predict"
	TypePause   = "pause"
)

// Message types from server to client
const (
	TypeHelloAck     = "hello_ack"
	TypeDelta        = "delta"
	TypeCitations    = "citations"
	TypeDone         = "done"
	TypePredictions  = "predictions"
	TypePauseContext = "pause_context"
	TypeError        = "error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	VideoID   string `json:"video_id,omitempty"`
}

// HelloMessage binds the connection to a session.
type HelloMessage struct {
	BaseMessage
}

// HelloAckMessage confirms the bound session.
type HelloAckMessage struct {
	BaseMessage
}

// ChatMessage asks a question about the video.
type ChatMessage struct {
	BaseMessage
	Message        string   `json:"message"`
	PauseTimestamp *float64 `json:"pause_timestamp,omitempty"`
}

// PredictMessage asks for anticipated questions at t.
type PredictMessage struct {
	BaseMessage
	Timestamp float64 `json:"t"`
}

// PauseMessage records a pause.
type PauseMessage struct {
	BaseMessage
	Timestamp float64 `json:"timestamp"`
}

// TurnFrame carries one streamed frame of a chat turn.
type TurnFrame struct {
	BaseMessage
	TurnID    string                `json:"turn_id,omitempty"`
	Text      string                `json:"text,omitempty"`
	Citations []domain.EvidenceItem `json:"citations,omitempty"`
	Intent    domain.Intent         `json:"intent,omitempty"`
	Degraded  bool                  `json:"degraded,omitempty"`
	Code      string                `json:"code,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// PredictionsMessage answers a predict request.
type PredictionsMessage struct {
	BaseMessage
	Timestamp float64                    `json:"t"`
	Questions []domain.PredictedQuestion `json:"questions"`
}

// PauseContextMessage answers a pause request.
type PauseContextMessage struct {
	BaseMessage
	Context *domain.PauseResponse `json:"context"`
}

// ErrorMessage is sent when a request cannot be served.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeNotFound        = "not_found"
	ErrorCodeConflict        = "session_conflict"
	ErrorCodeBusy            = "session_busy"
	ErrorCodeInternalError   = "internal_error"
)

func base(msgType string, requestID, sessionID, videoID string) BaseMessage {
	return BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		RequestID: requestID,
		SessionID: sessionID,
		VideoID:   videoID,
	}
}

// turnFrame converts a stream event into a wire frame.
func turnFrame(ev domain.StreamEvent, requestID, sessionID, videoID string) TurnFrame {
	b := base(string(ev.Type), requestID, sessionID, videoID)
	if ev.Ts != 0 {
		b.Ts = ev.Ts
	}
	return TurnFrame{
		BaseMessage: b,
		TurnID:      ev.TurnID,
		Text:        ev.Text,
		Citations:   ev.Citations,
		Intent:      ev.Intent,
		Degraded:    ev.Degraded,
		Code:        ev.Code,
		Message:     ev.Message,
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrOutOfRangeTimestamp),
		errors.Is(err, domain.ErrInvalidTranscript):
		return ErrorCodeInvalidRequest
	case errors.Is(err, domain.ErrVideoNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, domain.ErrSessionVideoMismatch):
		return ErrorCodeConflict
	case errors.Is(err, domain.ErrSessionBusy):
		return ErrorCodeBusy
	default:
		return ErrorCodeInternalError
	}
}
