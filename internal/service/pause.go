package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/lectern/internal/domain"
)

// Predict anticipates questions at t. With a session id the pause is recorded
// and earlier pauses nearby raise the struggle boost.
func (s *Service) Predict(ctx context.Context, videoID string, t float64, sessionID string) (*domain.PredictResponse, error) {
	questions, err := s.predictor.Predict(ctx, videoID, t, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.PredictResponse{VideoID: videoID, Timestamp: t, Questions: questions}, nil
}

// RecordPause analyzes the pause and appends it to the session.
func (s *Service) RecordPause(ctx context.Context, videoID string, req domain.PauseRequest) (*domain.PauseResponse, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", domain.ErrInvalidRequest)
	}
	pc, err := s.pauses.AnalyzePause(ctx, videoID, req.Timestamp)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.AppendPause(ctx, req.SessionID, videoID, pc.Event()); err != nil {
		return nil, err
	}

	segs := pc.Segments
	if segs == nil {
		segs = []domain.TranscriptSegment{}
	}
	return &domain.PauseResponse{
		VideoID:         videoID,
		Timestamp:       pc.Timestamp,
		WindowStart:     pc.Window.Start,
		WindowEnd:       pc.Window.End,
		FlaggedConcepts: pc.FlaggedConcepts(),
		DominantTopic:   pc.DominantTopic,
		Segments:        segs,
	}, nil
}

// Summarize returns topic sections and a summary of the video or a range of it.
func (s *Service) Summarize(ctx context.Context, videoID string, r *domain.TimeRange) (*domain.SummaryResponse, error) {
	return s.summarizer.Summarize(ctx, videoID, r)
}
