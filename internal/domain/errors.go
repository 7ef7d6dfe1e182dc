package domain

import "errors"

var (
	// ErrInvalidTranscript is returned when ingestion input is empty or malformed.
	ErrInvalidTranscript = errors.New("invalid transcript")

	// ErrOutOfRangeTimestamp is returned for pause timestamps outside the video.
	ErrOutOfRangeTimestamp = errors.New("timestamp out of range")

	// ErrEmbeddingUnavailable is returned when vectors cannot be produced or searched.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrGenerationFailure is returned when the generation capability fails or times out.
	ErrGenerationFailure = errors.New("generation failure")

	// ErrVideoNotFound is returned when no transcript was ingested for a video.
	ErrVideoNotFound = errors.New("video not found")

	// ErrSessionVideoMismatch is returned when a session id is reused for another video.
	ErrSessionVideoMismatch = errors.New("session belongs to a different video")

	// ErrSessionNotFound is returned by read-only lookups of unknown sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTurnNotFound is returned when no trace exists for a turn id.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrSessionBusy is returned when the per-session section could not be acquired in time.
	ErrSessionBusy = errors.New("session busy")

	// ErrInvalidRequest is returned for malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)
