package prediction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lectern/internal/config"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/pause"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/session"
	"github.com/xiaot623/lectern/tests/helpers"
)

type fixture struct {
	engine   *Engine
	sessions *session.Manager
	segments []domain.TranscriptSegment
}

func setup(t *testing.T) fixture {
	t.Helper()
	repo := helpers.NewTestSQLiteStore(t)
	store := segment.NewStore(repo, 2, nil)
	segs, err := store.Ingest(context.Background(), "v1", "", helpers.CalculusSnippets())
	require.NoError(t, err)

	sessions := session.NewManager(repo, session.Options{}, nil)
	analyzer := pause.NewAnalyzer(store, pause.Options{Glossary: config.DefaultGlossary}, nil)
	return fixture{
		engine:   NewEngine(analyzer, sessions, Options{}, nil),
		sessions: sessions,
		segments: segs,
	}
}

func assertOrdered(t *testing.T, qs []domain.PredictedQuestion) {
	t.Helper()
	for i := 1; i < len(qs); i++ {
		assert.GreaterOrEqual(t, qs[i-1].ConfidenceScore, qs[i].ConfidenceScore)
	}
	for _, q := range qs {
		assert.GreaterOrEqual(t, q.ConfidenceScore, 0.0)
		assert.LessOrEqual(t, q.ConfidenceScore, 1.0)
		assert.NotEmpty(t, q.SourceSegmentIDs)
	}
}

func TestPredictScenario(t *testing.T) {
	f := setup(t)
	qs, err := f.engine.Predict(context.Background(), "v1", 20, "s1")
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(qs), 3)
	require.LessOrEqual(t, len(qs), 5)
	assertOrdered(t, qs)

	covering := f.segments[1].SegmentID
	assert.Contains(t, qs[0].SourceSegmentIDs, covering)
	assert.Equal(t, "What does derivative mean?", qs[0].Text)
	assert.Equal(t, domain.QuestionKindDefinition, qs[0].Kind)
}

func TestPredictRecordsPause(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Predict(ctx, "v1", 20, "s1")
	require.NoError(t, err)

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.PauseHistory, 1)
	assert.Equal(t, 20.0, sess.PauseHistory[0].Timestamp)
	assert.Equal(t, 0.0, sess.PauseHistory[0].WindowStart)
	assert.Equal(t, 40.0, sess.PauseHistory[0].WindowEnd)
}

func TestPredictIsDeterministic(t *testing.T) {
	a := setup(t)
	b := setup(t)
	first, err := a.engine.Predict(context.Background(), "v1", 20, "")
	require.NoError(t, err)
	second, err := b.engine.Predict(context.Background(), "v1", 20, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRepeatedPausesBoostConfidence(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.engine.Predict(ctx, "v1", 20, "s1")
	require.NoError(t, err)
	_, err = f.engine.Predict(ctx, "v1", 15, "s1")
	require.NoError(t, err)
	third, err := f.engine.Predict(ctx, "v1", 20, "s1")
	require.NoError(t, err)

	// Two prior pauses within 10s: 0.6 * 1.0 * (1 + 2*0.15*2) = 0.96.
	assert.Equal(t, 0.6, first[0].ConfidenceScore)
	assert.Equal(t, 0.96, third[0].ConfidenceScore)
}

func TestPredictOutOfRange(t *testing.T) {
	f := setup(t)
	_, err := f.engine.Predict(context.Background(), "v1", 99, "s1")
	assert.ErrorIs(t, err, domain.ErrOutOfRangeTimestamp)

	_, err = f.sessions.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRankPadsWithRecap(t *testing.T) {
	seg := domain.TranscriptSegment{SegmentID: "seg_a", StartTime: 0, EndTime: 10}
	pc := pause.Context{
		Timestamp: 5,
		Window:    domain.TimeRange{Start: 0, End: 10},
		Segments:  []domain.TranscriptSegment{seg},
		Covering:  &seg,
	}
	qs := Rank(pc, nil, Options{StruggleWindow: 10, DedupThreshold: 0.7})
	require.Len(t, qs, 3)
	for _, q := range qs {
		assert.Equal(t, domain.QuestionKindRecap, q.Kind)
		assert.Equal(t, []string{"seg_a"}, q.SourceSegmentIDs)
	}
	assertOrdered(t, qs)
}

func TestDedupDropsNearDuplicates(t *testing.T) {
	pc := pause.Context{
		Timestamp: 5,
		Window:    domain.TimeRange{Start: 0, End: 10},
		Concepts: []pause.Concept{
			{Term: "derivative", Score: 4, Salience: 1, SegmentIDs: []string{"a"}},
			{Term: "derivative function", Score: 3.9, Salience: 0.97, SegmentIDs: []string{"a"}},
		},
	}
	qs := Rank(pc, nil, Options{StruggleWindow: 10, DedupThreshold: 0.7})
	for _, q := range qs {
		assert.NotEqual(t, "Can you give an example of derivative function?", q.Text)
	}
}

func TestCountStruggle(t *testing.T) {
	history := []domain.PauseEvent{{Timestamp: 1}, {Timestamp: 9}, {Timestamp: 30}, {Timestamp: 10}, {Timestamp: 11}, {Timestamp: 12}, {Timestamp: 13}}
	assert.Equal(t, 4, countStruggle(history, 10, 10))
	assert.Equal(t, 1, countStruggle(history, 35, 5))
	assert.Equal(t, 0, countStruggle(nil, 10, 10))
}
