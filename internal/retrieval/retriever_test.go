package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lectern/internal/adapter/embedding"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/index"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/tests/helpers"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}

func (failingEmbedder) Model() string { return "failing" }

func setup(t *testing.T, emb embedding.Embedder) *Retriever {
	t.Helper()
	ctx := context.Background()
	segs := segment.NewStore(helpers.NewTestSQLiteStore(t), 2, nil)
	ingested, err := segs.Ingest(ctx, "v1", "", helpers.CalculusSnippets())
	require.NoError(t, err)

	idx := index.New(emb, nil, nil)
	if err := idx.Index(ctx, "v1", ingested); err != nil {
		require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	}
	return New(segs, idx, nil)
}

func assertRanked(t *testing.T, items []domain.EvidenceItem, topK int, window *domain.TimeRange) {
	t.Helper()
	assert.LessOrEqual(t, len(items), topK)
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].RelevanceScore, items[i].RelevanceScore)
	}
	if window != nil {
		for _, item := range items {
			assert.True(t, window.Intersects(item.StartTime, item.EndTime), "item %s outside range", item.SegmentID)
		}
	}
}

func TestRetrieveVector(t *testing.T) {
	r := setup(t, embedding.NewHashingEmbedder(256))
	items, err := r.Retrieve(context.Background(), "v1", "what is a derivative?", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assertRanked(t, items, 5, nil)
	assert.Equal(t, 10.0, items[0].StartTime)
}

func TestRetrieveRange(t *testing.T) {
	r := setup(t, embedding.NewHashingEmbedder(256))
	window := &domain.TimeRange{Start: 0, End: 12}
	items, err := r.Retrieve(context.Background(), "v1", "derivative", 5, window)
	require.NoError(t, err)
	assertRanked(t, items, 5, window)
	assert.Len(t, items, 2)
}

func TestRetrieveFallsBackToLexical(t *testing.T) {
	r := setup(t, failingEmbedder{})
	items, err := r.Retrieve(context.Background(), "v1", "explain the chain rule", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assertRanked(t, items, 5, nil)
	assert.Equal(t, 25.0, items[0].StartTime)
	for _, item := range items {
		assert.Greater(t, item.RelevanceScore, 0.0)
	}
}

func TestRetrieveFallbackWithNoMatches(t *testing.T) {
	r := setup(t, failingEmbedder{})
	items, err := r.Retrieve(context.Background(), "v1", "quantum chromodynamics", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRetrieveUnknownVideo(t *testing.T) {
	r := setup(t, embedding.NewHashingEmbedder(64))
	_, err := r.Retrieve(context.Background(), "missing", "derivative", 5, nil)
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
}

func TestRetrieveRejectsInvertedRange(t *testing.T) {
	r := setup(t, embedding.NewHashingEmbedder(64))
	_, err := r.Retrieve(context.Background(), "v1", "derivative", 5, &domain.TimeRange{Start: 30, End: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestDedup(t *testing.T) {
	items := []domain.EvidenceItem{
		{SegmentID: "a", RelevanceScore: 0.9, StartTime: 0, EndTime: 10},
		{SegmentID: "b", RelevanceScore: 0.8, StartTime: 4, EndTime: 12},
		{SegmentID: "c", RelevanceScore: 0.7, StartTime: 9, EndTime: 20},
	}
	out := Dedup(items)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].SegmentID)
	assert.Equal(t, "c", out[1].SegmentID)
}
