package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lectern/internal/adapter/embedding"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/tests/helpers"
)

type countingEmbedder struct {
	embedding.Embedder
	texts atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts.Add(int64(len(texts)))
	return c.Embedder.Embed(ctx, texts)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

func (failingEmbedder) Model() string { return "failing" }

func buildSegments(t *testing.T) []domain.TranscriptSegment {
	t.Helper()
	segs, err := segment.Build("v1", helpers.CalculusSnippets(), 2)
	require.NoError(t, err)
	return segs
}

func TestSearchRanksAndCaps(t *testing.T) {
	ctx := context.Background()
	idx := New(embedding.NewHashingEmbedder(256), nil, nil)
	require.NoError(t, idx.Index(ctx, "v1", buildSegments(t)))

	q, err := idx.EmbedQuery(ctx, "what is a derivative")
	require.NoError(t, err)

	items, err := idx.Search(ctx, "v1", q, 2, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 10.0, items[0].StartTime)
	assert.GreaterOrEqual(t, items[0].RelevanceScore, items[1].RelevanceScore)
}

func TestSearchRespectsTimeRange(t *testing.T) {
	ctx := context.Background()
	idx := New(embedding.NewHashingEmbedder(256), nil, nil)
	require.NoError(t, idx.Index(ctx, "v1", buildSegments(t)))

	q, err := idx.EmbedQuery(ctx, "derivative")
	require.NoError(t, err)

	items, err := idx.Search(ctx, "v1", q, 5, &domain.TimeRange{Start: 26, End: 40})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 25.0, items[0].StartTime)
}

func TestSearchTiesBreakBySequence(t *testing.T) {
	ctx := context.Background()
	segs := []domain.TranscriptSegment{
		{SegmentID: "a", Text: "same words here", StartTime: 0, EndTime: 5, SequenceIndex: 0},
		{SegmentID: "b", Text: "same words here", StartTime: 5, EndTime: 10, SequenceIndex: 1},
	}
	idx := New(embedding.NewHashingEmbedder(64), nil, nil)
	require.NoError(t, idx.Index(ctx, "v1", segs))

	q, _ := idx.EmbedQuery(ctx, "same words")
	items, err := idx.Search(ctx, "v1", q, 5, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].SegmentID)
	assert.Equal(t, "b", items[1].SegmentID)
}

func TestSearchWithoutSnapshot(t *testing.T) {
	idx := New(embedding.NewHashingEmbedder(16), nil, nil)
	_, err := idx.Search(context.Background(), "nope", make([]float32, 16), 5, nil)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestIndexReusesCachedVectors(t *testing.T) {
	ctx := context.Background()
	repo := helpers.NewTestSQLiteStore(t)
	emb := &countingEmbedder{Embedder: embedding.NewHashingEmbedder(32)}
	segs := buildSegments(t)

	require.NoError(t, New(emb, repo, nil).Index(ctx, "v1", segs))
	assert.Equal(t, int64(3), emb.texts.Load())

	// A new index over the same store embeds nothing new.
	second := New(emb, repo, nil)
	require.NoError(t, second.Index(ctx, "v1", segs))
	assert.Equal(t, int64(3), emb.texts.Load())

	entries := second.Entries("v1")
	require.Len(t, entries, 3)
	assert.Equal(t, ContentHash(segs[0].Text), entries[0].ContentHash)
	assert.Equal(t, "hashing-32", entries[0].Model)
}

func TestIndexFailureKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	idx := New(embedding.NewHashingEmbedder(32), nil, nil)
	require.NoError(t, idx.Index(ctx, "v1", buildSegments(t)))

	idx.embedder = failingEmbedder{}
	err := idx.Index(ctx, "v1", buildSegments(t)[:1])
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Len(t, idx.Entries("v1"), 3)
}

func TestConcurrentSearchDuringReindex(t *testing.T) {
	ctx := context.Background()
	idx := New(embedding.NewHashingEmbedder(64), nil, nil)
	segs := buildSegments(t)
	require.NoError(t, idx.Index(ctx, "v1", segs))
	q, _ := idx.EmbedQuery(ctx, "chain rule")

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = idx.Index(ctx, "v1", segs)
		}()
		go func() {
			defer wg.Done()
			items, err := idx.Search(ctx, "v1", q, 5, nil)
			assert.NoError(t, err)
			assert.Len(t, items, 3)
		}()
	}
	wg.Wait()
}
