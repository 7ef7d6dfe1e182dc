// Package segment turns raw captions into normalized transcript segments and
// serves them read-mostly to the rest of the pipeline.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/repository"
)

// DefaultMinDuration is the shortest fragment kept as its own segment.
const DefaultMinDuration = 2.0

type entry struct {
	video    domain.Video
	segments []domain.TranscriptSegment
}

// Store persists segments and caches them per video.
type Store struct {
	repo        repository.Store
	minDuration float64
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]*entry
}

// NewStore creates a segment store. A negative minDuration selects the default.
func NewStore(repo repository.Store, minDuration float64, logger *slog.Logger) *Store {
	if minDuration < 0 {
		minDuration = DefaultMinDuration
	}
	return &Store{
		repo:        repo,
		minDuration: minDuration,
		logger:      logging.Or(logger),
		cache:       make(map[string]*entry),
	}
}

// Ingest normalizes raw fragments and replaces the video's transcript.
// Invalid input leaves any previous transcript untouched.
func (s *Store) Ingest(ctx context.Context, videoID, title string, raw []domain.RawSnippet) ([]domain.TranscriptSegment, error) {
	if videoID == "" {
		return nil, fmt.Errorf("%w: video id is required", domain.ErrInvalidTranscript)
	}
	segments, err := Build(videoID, raw, s.minDuration)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	video := domain.Video{
		VideoID:         videoID,
		Title:           title,
		DurationSeconds: segments[len(segments)-1].EndTime,
		SegmentCount:    len(segments),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.ReplaceTranscript(ctx, &video, segments); err != nil {
		return nil, fmt.Errorf("store transcript: %w", err)
	}

	// Re-read so the cached header carries the persisted title and created_at.
	stored, err := s.repo.GetVideo(ctx, videoID)
	if err == nil && stored != nil {
		video = *stored
	}

	s.mu.Lock()
	s.cache[videoID] = &entry{video: video, segments: segments}
	s.mu.Unlock()

	s.logger.Info("transcript ingested", "video_id", videoID, "segments", len(segments), "duration", video.DurationSeconds)
	return copySegments(segments), nil
}

// Get returns the video's segments ordered by start time.
func (s *Store) Get(ctx context.Context, videoID string) ([]domain.TranscriptSegment, error) {
	e, err := s.load(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return copySegments(e.segments), nil
}

// Video returns the video header.
func (s *Store) Video(ctx context.Context, videoID string) (domain.Video, error) {
	e, err := s.load(ctx, videoID)
	if err != nil {
		return domain.Video{}, err
	}
	return e.video, nil
}

// Duration returns the transcript length in seconds.
func (s *Store) Duration(ctx context.Context, videoID string) (float64, error) {
	e, err := s.load(ctx, videoID)
	if err != nil {
		return 0, err
	}
	return e.video.DurationSeconds, nil
}

// List returns all ingested videos.
func (s *Store) List(ctx context.Context) ([]domain.Video, error) {
	return s.repo.ListVideos(ctx)
}

func (s *Store) load(ctx context.Context, videoID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.cache[videoID]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	video, err := s.repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load video %s: %w", videoID, err)
	}
	if video == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrVideoNotFound, videoID)
	}
	segments, err := s.repo.GetSegments(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load segments %s: %w", videoID, err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s has no segments", domain.ErrVideoNotFound, videoID)
	}

	e = &entry{video: *video, segments: segments}
	s.mu.Lock()
	if existing, ok := s.cache[videoID]; ok {
		e = existing
	} else {
		s.cache[videoID] = e
	}
	s.mu.Unlock()
	return e, nil
}

func copySegments(in []domain.TranscriptSegment) []domain.TranscriptSegment {
	out := make([]domain.TranscriptSegment, len(in))
	copy(out, in)
	return out
}
