package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lectern/internal/adapter/embedding"
	"github.com/xiaot623/lectern/internal/adapter/llm"
	"github.com/xiaot623/lectern/internal/config"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/policy"
	"github.com/xiaot623/lectern/tests/helpers"
)

// switchEmbedder fails every call while down is set.
type switchEmbedder struct {
	embedding.Embedder
	down atomic.Bool
}

func (s *switchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.down.Load() {
		return nil, errors.New("embedding backend down")
	}
	return s.Embedder.Embed(ctx, texts)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return newTestServiceWith(t, embedding.NewHashingEmbedder(config.Default().EmbeddingDims))
}

func newTestServiceWith(t *testing.T, embedder embedding.Embedder) *Service {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.LLMModel = "mock"
	return New(db, embedder, llm.NewMockClient(), cfg, policyEngine, nil)
}

func ingestCalculus(t *testing.T, svc *Service) {
	t.Helper()
	resp, err := svc.IngestTranscript(context.Background(), "v1", domain.IngestRequest{
		Title:    "Intro to Calculus",
		Snippets: helpers.CalculusSnippets(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.SegmentCount)
	assert.Equal(t, 40.0, resp.DurationSeconds)
	assert.True(t, resp.Indexed)
}

func TestIngestAndChat(t *testing.T) {
	svc := newTestService(t)
	ingestCalculus(t, svc)
	ctx := context.Background()

	resp, err := svc.Chat(ctx, domain.ChatRequest{VideoID: "v1", SessionID: "s1", Message: "what is a derivative?"})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Citations)
	assert.Equal(t, 10.0, resp.Citations[0].StartTime)

	messages, err := svc.GetMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleUser, messages[0].Role)

	turn, events, err := svc.TurnEvents(ctx, resp.TurnID, 0, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnStateDone, turn.State)
	assert.NotEmpty(t, events)
}

func TestIngestInvalidKeepsPrevious(t *testing.T) {
	svc := newTestService(t)
	ingestCalculus(t, svc)

	_, err := svc.IngestTranscript(context.Background(), "v1", domain.IngestRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidTranscript)

	segs, err := svc.Segments(context.Background(), "v1")
	require.NoError(t, err)
	assert.Len(t, segs, 3)
}

func TestRecordPauseAndPredict(t *testing.T) {
	svc := newTestService(t)
	ingestCalculus(t, svc)
	ctx := context.Background()

	pc, err := svc.RecordPause(ctx, "v1", domain.PauseRequest{SessionID: "s1", Timestamp: 20})
	require.NoError(t, err)
	assert.Equal(t, 0.0, pc.WindowStart)
	assert.Equal(t, 40.0, pc.WindowEnd)
	assert.Equal(t, "derivative", pc.DominantTopic)

	pred, err := svc.Predict(ctx, "v1", 20, "s1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(pred.Questions), 3)
	assert.LessOrEqual(t, len(pred.Questions), 5)

	sess, err := svc.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sess.PauseHistory, 2)

	_, err = svc.RecordPause(ctx, "v1", domain.PauseRequest{Timestamp: 20})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = svc.RecordPause(ctx, "v1", domain.PauseRequest{SessionID: "s1", Timestamp: 99})
	assert.ErrorIs(t, err, domain.ErrOutOfRangeTimestamp)
}

func TestSearchAndSummary(t *testing.T) {
	svc := newTestService(t)
	ingestCalculus(t, svc)
	ctx := context.Background()

	items, err := svc.Search(ctx, "v1", "chain rule", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.LessOrEqual(t, len(items), 2)
	assert.Equal(t, 25.0, items[0].StartTime)

	_, err = svc.Search(ctx, "v1", "", 2, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	sum, err := svc.Summarize(ctx, "v1", nil)
	require.NoError(t, err)
	assert.Len(t, sum.TopicBoundaries, 3)
	assert.NotEmpty(t, sum.SummaryText)
}

func TestWarmIndexesStoredVideos(t *testing.T) {
	svc := newTestService(t)
	ingestCalculus(t, svc)
	svc.index.Remove("v1")
	require.False(t, svc.index.Has("v1"))

	require.NoError(t, svc.Warm(context.Background()))
	assert.True(t, svc.index.Has("v1"))

	videos, err := svc.Videos(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "Intro to Calculus", videos[0].Title)
}

func TestUnknownSession(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestReingestWithEmbedderDownDropsOldSnapshot(t *testing.T) {
	emb := &switchEmbedder{Embedder: embedding.NewHashingEmbedder(64)}
	svc := newTestServiceWith(t, emb)
	ctx := context.Background()

	_, err := svc.IngestTranscript(ctx, "v1", domain.IngestRequest{Snippets: []domain.RawSnippet{
		{Text: "photosynthesis happens in plants", Start: 0, Duration: 10},
		{Text: "chlorophyll absorbs sunlight", Start: 10, Duration: 10},
	}})
	require.NoError(t, err)
	require.True(t, svc.index.Has("v1"))

	emb.down.Store(true)
	resp, err := svc.IngestTranscript(ctx, "v1", domain.IngestRequest{Snippets: helpers.CalculusSnippets()})
	require.NoError(t, err)
	assert.False(t, resp.Indexed)
	assert.False(t, svc.index.Has("v1"))
	emb.down.Store(false)

	segs, err := svc.Segments(ctx, "v1")
	require.NoError(t, err)
	current := make(map[string]bool, len(segs))
	for _, seg := range segs {
		current[seg.SegmentID] = true
	}

	for _, query := range []string{"photosynthesis chlorophyll", "derivative"} {
		items, err := svc.Search(ctx, "v1", query, 5, nil)
		require.NoError(t, err)
		for _, item := range items {
			assert.True(t, current[item.SegmentID], "stale segment %s for %q", item.SegmentID, query)
		}
	}

	items, err := svc.Search(ctx, "v1", "derivative", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, 10.0, items[0].StartTime)
}
