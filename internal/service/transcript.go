package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/segment"
)

// IngestTranscript stores the transcript and (re)builds its embedding index.
// Indexing failures are logged; retrieval then falls back to lexical scoring.
func (s *Service) IngestTranscript(ctx context.Context, videoID string, req domain.IngestRequest) (*domain.IngestResponse, error) {
	segs, err := s.segments.Ingest(ctx, videoID, req.Title, req.Snippets)
	if err != nil {
		return nil, err
	}

	indexed := true
	if err := s.index.Index(ctx, videoID, segs); err != nil {
		// The old snapshot describes the replaced transcript.
		s.index.Remove(videoID)
		indexed = false
		s.logger.Warn("indexing failed, search will use lexical scoring", "video_id", videoID, "error", err)
	}

	duration := segs[len(segs)-1].EndTime
	return &domain.IngestResponse{
		VideoID:         videoID,
		SegmentCount:    len(segs),
		DurationSeconds: duration,
		Duration:        segment.FormatDuration(duration),
		Indexed:         indexed,
	}, nil
}

// Warm indexes every stored video. Used at startup since snapshots live in memory.
func (s *Service) Warm(ctx context.Context) error {
	videos, err := s.segments.List(ctx)
	if err != nil {
		return fmt.Errorf("list videos: %w", err)
	}
	for _, video := range videos {
		if s.index.Has(video.VideoID) {
			continue
		}
		segs, err := s.segments.Get(ctx, video.VideoID)
		if err != nil {
			s.logger.Warn("skip warming video", "video_id", video.VideoID, "error", err)
			continue
		}
		if err := s.index.Index(ctx, video.VideoID, segs); err != nil {
			s.logger.Warn("warm index failed", "video_id", video.VideoID, "error", err)
			continue
		}
	}
	s.logger.Info("index warmed", "videos", len(videos))
	return nil
}

// Videos lists ingested videos.
func (s *Service) Videos(ctx context.Context) ([]domain.Video, error) {
	videos, err := s.segments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	if videos == nil {
		videos = []domain.Video{}
	}
	return videos, nil
}

// Video returns one video header.
func (s *Service) Video(ctx context.Context, videoID string) (domain.Video, error) {
	return s.segments.Video(ctx, videoID)
}

// Segments returns the ordered segments of a video.
func (s *Service) Segments(ctx context.Context, videoID string) ([]domain.TranscriptSegment, error) {
	return s.segments.Get(ctx, videoID)
}

// Search returns evidence for query, optionally limited to a time range.
func (s *Service) Search(ctx context.Context, videoID, query string, topK int, r *domain.TimeRange) ([]domain.EvidenceItem, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	if topK <= 0 {
		topK = s.config.RetrievalTopK
	}
	items, err := s.retriever.Retrieve(ctx, videoID, query, topK, r)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.EvidenceItem{}
	}
	return items, nil
}
