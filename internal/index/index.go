// Package index holds per-video embedding snapshots and answers similarity
// searches over them.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/lectern/internal/adapter/embedding"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/repository"
	"github.com/xiaot623/lectern/internal/textutil"
)

const (
	batchSize   = 32
	parallelism = 4
)

type entry struct {
	segment domain.TranscriptSegment
	hash    string
	vector  []float32
}

// snapshot is immutable once published.
type snapshot struct {
	model   string
	entries []entry
}

// catalog maps video ids to their current snapshot. Replaced wholesale.
type catalog map[string]*snapshot

// Index is the embedding index. Searches never block on re-indexing.
type Index struct {
	embedder embedding.Embedder
	repo     repository.Store
	logger   *slog.Logger

	writeMu sync.Mutex
	current atomic.Pointer[catalog]
}

// New creates an index. repo may be nil to disable the persistent vector cache.
func New(embedder embedding.Embedder, repo repository.Store, logger *slog.Logger) *Index {
	idx := &Index{embedder: embedder, repo: repo, logger: logging.Or(logger)}
	empty := catalog{}
	idx.current.Store(&empty)
	return idx
}

// Model returns the embedding model id.
func (i *Index) Model() string {
	return i.embedder.Model()
}

// Index embeds the segments and atomically replaces the video's snapshot.
// On failure the previous snapshot stays in place.
func (i *Index) Index(ctx context.Context, videoID string, segments []domain.TranscriptSegment) error {
	model := i.embedder.Model()
	entries := make([]entry, len(segments))
	hashes := make([]string, 0, len(segments))
	seen := make(map[string]struct{}, len(segments))
	for n, seg := range segments {
		h := ContentHash(seg.Text)
		entries[n] = entry{segment: seg, hash: h}
		if _, ok := seen[h]; !ok {
			seen[h] = struct{}{}
			hashes = append(hashes, h)
		}
	}

	vectors := map[string][]float32{}
	if i.repo != nil {
		cached, err := i.repo.GetEmbeddings(ctx, model, hashes)
		if err != nil {
			i.logger.Warn("embedding cache read failed", "video_id", videoID, "error", err)
		} else {
			vectors = cached
		}
	}

	var missing []string
	textByHash := make(map[string]string)
	for _, e := range entries {
		if _, ok := vectors[e.hash]; ok {
			continue
		}
		if _, ok := textByHash[e.hash]; ok {
			continue
		}
		textByHash[e.hash] = e.segment.Text
		missing = append(missing, e.hash)
	}

	fresh, err := i.embedMissing(ctx, missing, textByHash)
	if err != nil {
		return fmt.Errorf("%w: index %s: %v", domain.ErrEmbeddingUnavailable, videoID, err)
	}
	for h, v := range fresh {
		vectors[h] = v
	}
	if i.repo != nil && len(fresh) > 0 {
		if err := i.repo.PutEmbeddings(ctx, model, fresh); err != nil {
			i.logger.Warn("embedding cache write failed", "video_id", videoID, "error", err)
		}
	}

	for n := range entries {
		entries[n].vector = vectors[entries[n].hash]
	}
	i.publish(videoID, &snapshot{model: model, entries: entries})

	i.logger.Debug("video indexed", "video_id", videoID, "segments", len(entries), "embedded", len(fresh), "cached", len(entries)-len(fresh))
	return nil
}

func (i *Index) embedMissing(ctx context.Context, hashes []string, textByHash map[string]string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	var batches [][]string
	for start := 0; start < len(hashes); start += batchSize {
		end := start + batchSize
		if end > len(hashes) {
			end = len(hashes)
		}
		batches = append(batches, hashes[start:end])
	}

	results := make([][][]float32, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for b, batch := range batches {
		g.Go(func() error {
			texts := make([]string, len(batch))
			for n, h := range batch {
				texts[n] = textByHash[h]
			}
			vecs, err := i.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			results[b] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for b, batch := range batches {
		for n, h := range batch {
			out[h] = results[b][n]
		}
	}
	return out, nil
}

func (i *Index) publish(videoID string, snap *snapshot) {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	old := *i.current.Load()
	next := make(catalog, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	if snap == nil {
		delete(next, videoID)
	} else {
		next[videoID] = snap
	}
	i.current.Store(&next)
}

// Remove drops the video's snapshot.
func (i *Index) Remove(videoID string) {
	i.publish(videoID, nil)
}

// Has reports whether the video has a published snapshot.
func (i *Index) Has(videoID string) bool {
	_, ok := (*i.current.Load())[videoID]
	return ok
}

// EmbedQuery embeds a single query text.
func (i *Index) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := i.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors", domain.ErrEmbeddingUnavailable, len(vecs))
	}
	return vecs[0], nil
}

// Search ranks the video's segments by cosine similarity to query. Results
// are restricted to segments intersecting r when r is non-nil, ordered by
// score desc with ties broken by sequence index, and capped at topK.
func (i *Index) Search(ctx context.Context, videoID string, query []float32, topK int, r *domain.TimeRange) ([]domain.EvidenceItem, error) {
	snap, ok := (*i.current.Load())[videoID]
	if !ok {
		return nil, fmt.Errorf("%w: no index for %s", domain.ErrEmbeddingUnavailable, videoID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []domain.EvidenceItem{}, nil
	}

	items := make([]domain.EvidenceItem, 0, len(snap.entries))
	for _, e := range snap.entries {
		if r != nil && !r.Intersects(e.segment.StartTime, e.segment.EndTime) {
			continue
		}
		items = append(items, domain.EvidenceItem{
			SegmentID:      e.segment.SegmentID,
			RelevanceScore: textutil.VectorCosine(query, e.vector),
			Text:           e.segment.Text,
			StartTime:      e.segment.StartTime,
			EndTime:        e.segment.EndTime,
			SequenceIndex:  e.segment.SequenceIndex,
		})
	}
	SortEvidence(items)
	if len(items) > topK {
		items = items[:topK]
	}
	return items, nil
}

// Entries returns the video's embedding entries in segment order.
func (i *Index) Entries(videoID string) []domain.EmbeddingEntry {
	snap, ok := (*i.current.Load())[videoID]
	if !ok {
		return nil
	}
	out := make([]domain.EmbeddingEntry, len(snap.entries))
	for n, e := range snap.entries {
		out[n] = domain.EmbeddingEntry{
			SegmentID:   e.segment.SegmentID,
			VideoID:     videoID,
			Model:       snap.model,
			ContentHash: e.hash,
			Vector:      append([]float32(nil), e.vector...),
		}
	}
	return out
}

// SortEvidence orders items by score desc, then sequence index asc.
func SortEvidence(items []domain.EvidenceItem) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].RelevanceScore != items[b].RelevanceScore {
			return items[a].RelevanceScore > items[b].RelevanceScore
		}
		return items[a].SequenceIndex < items[b].SequenceIndex
	})
}

// ContentHash identifies segment text for vector reuse.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
