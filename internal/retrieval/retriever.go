// Package retrieval assembles ranked, time-scoped evidence for a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/index"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/textutil"
)

// DefaultTopK is used when callers pass a non-positive topK.
const DefaultTopK = 5

// overlapThreshold is the share of the shorter span two items must overlap to collapse.
const overlapThreshold = 0.5

// Retriever combines vector search with a lexical fallback.
type Retriever struct {
	segments *segment.Store
	index    *index.Index
	logger   *slog.Logger
}

// New creates a retriever.
func New(segments *segment.Store, idx *index.Index, logger *slog.Logger) *Retriever {
	return &Retriever{segments: segments, index: idx, logger: logging.Or(logger)}
}

// Retrieve returns at most topK evidence items for query, ordered by score
// desc. When r is non-nil only segments intersecting it are considered.
// Embedding failures fall back to lexical scoring and are never surfaced.
func (r *Retriever) Retrieve(ctx context.Context, videoID, query string, topK int, window *domain.TimeRange) ([]domain.EvidenceItem, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if window != nil && !window.Valid() {
		return nil, fmt.Errorf("%w: time range [%.2f, %.2f]", domain.ErrInvalidRequest, window.Start, window.End)
	}

	segments, err := r.segments.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}

	items, err := r.vector(ctx, videoID, query, topK*2, window)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
		r.logger.Warn("vector retrieval unavailable, using lexical fallback", "video_id", videoID, "error", err)
		items = Lexical(segments, query, topK*2, window)
	}

	items = Dedup(items)
	if len(items) > topK {
		items = items[:topK]
	}
	return items, nil
}

func (r *Retriever) vector(ctx context.Context, videoID, query string, k int, window *domain.TimeRange) ([]domain.EvidenceItem, error) {
	if r.index == nil {
		return nil, fmt.Errorf("%w: no index configured", domain.ErrEmbeddingUnavailable)
	}
	q, err := r.index.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.index.Search(ctx, videoID, q, k, window)
}

// Lexical ranks segments by TF-IDF cosine against query. Only positively
// scored segments are returned.
func Lexical(segments []domain.TranscriptSegment, query string, k int, window *domain.TimeRange) []domain.EvidenceItem {
	corpus := textutil.NewCorpus()
	prints := make([]*textutil.Fingerprint, len(segments))
	for n, seg := range segments {
		prints[n] = textutil.NewFingerprint(seg.Text)
		corpus.Add(prints[n])
	}
	idf := corpus.IDF()
	q := textutil.NewFingerprint(query).WithIDF(idf)

	items := []domain.EvidenceItem{}
	if q == nil {
		return items
	}
	for n, seg := range segments {
		if window != nil && !window.Intersects(seg.StartTime, seg.EndTime) {
			continue
		}
		score := textutil.CosineSimilarity(q, prints[n].WithIDF(idf))
		if score <= 0 {
			continue
		}
		items = append(items, domain.EvidenceItem{
			SegmentID:      seg.SegmentID,
			RelevanceScore: score,
			Text:           seg.Text,
			StartTime:      seg.StartTime,
			EndTime:        seg.EndTime,
			SequenceIndex:  seg.SequenceIndex,
		})
	}
	index.SortEvidence(items)
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items
}

// Dedup collapses items whose spans overlap by more than half of the shorter
// span, keeping the earlier (higher ranked) one. Input must be sorted.
func Dedup(items []domain.EvidenceItem) []domain.EvidenceItem {
	out := make([]domain.EvidenceItem, 0, len(items))
	for _, item := range items {
		dup := false
		for _, kept := range out {
			if kept.SegmentID == item.SegmentID || overlaps(kept, item) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return out
}

func overlaps(a, b domain.EvidenceItem) bool {
	shorter := math.Min(a.EndTime-a.StartTime, b.EndTime-b.StartTime)
	if shorter <= 0 {
		return a.StartTime == b.StartTime
	}
	inter := math.Min(a.EndTime, b.EndTime) - math.Max(a.StartTime, b.StartTime)
	return inter > overlapThreshold*shorter
}
