package pause

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lectern/internal/config"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/tests/helpers"
)

func newAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	segs := segment.NewStore(helpers.NewTestSQLiteStore(t), 2, nil)
	_, err := segs.Ingest(context.Background(), "v1", "Calculus", helpers.CalculusSnippets())
	require.NoError(t, err)
	return NewAnalyzer(segs, Options{Glossary: config.DefaultGlossary}, nil)
}

func TestAnalyzePauseWindow(t *testing.T) {
	a := newAnalyzer(t)
	tests := []struct {
		t          float64
		start, end float64
	}{
		{20, 0, 40},
		{0, 0, 30},
		{40, 10, 40},
		{35, 5, 40},
	}
	for _, tc := range tests {
		pc, err := a.AnalyzePause(context.Background(), "v1", tc.t)
		require.NoError(t, err)
		assert.Equal(t, tc.start, pc.Window.Start, "start at t=%v", tc.t)
		assert.Equal(t, tc.end, pc.Window.End, "end at t=%v", tc.t)
	}
}

func TestAnalyzePauseScenario(t *testing.T) {
	pc, err := newAnalyzer(t).AnalyzePause(context.Background(), "v1", 20)
	require.NoError(t, err)

	assert.Len(t, pc.Segments, 3)
	require.NotNil(t, pc.Covering)
	assert.Equal(t, 10.0, pc.Covering.StartTime)
	assert.Equal(t, "derivative", pc.DominantTopic)

	flagged := pc.FlaggedConcepts()
	assert.LessOrEqual(t, len(flagged), DefaultMaxConcepts)
	assert.True(t, contains(flagged, "derivative") || contains(flagged, "chain rule"), "flagged: %v", flagged)
	for i := 1; i < len(pc.Concepts); i++ {
		assert.GreaterOrEqual(t, pc.Concepts[i-1].Score, pc.Concepts[i].Score)
	}
	assert.Equal(t, 1.0, pc.Concepts[0].Salience)
}

func TestAnalyzePauseOutOfRange(t *testing.T) {
	a := newAnalyzer(t)
	for _, ts := range []float64{-1, 40.5} {
		_, err := a.AnalyzePause(context.Background(), "v1", ts)
		assert.ErrorIs(t, err, domain.ErrOutOfRangeTimestamp)
	}
}

func TestAnalyzePauseUnknownVideo(t *testing.T) {
	_, err := newAnalyzer(t).AnalyzePause(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
}

func TestAnalyzePauseIsDeterministic(t *testing.T) {
	a := newAnalyzer(t)
	first, err := a.AnalyzePause(context.Background(), "v1", 30)
	require.NoError(t, err)
	second, err := a.AnalyzePause(context.Background(), "v1", 30)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvent(t *testing.T) {
	pc, err := newAnalyzer(t).AnalyzePause(context.Background(), "v1", 12)
	require.NoError(t, err)
	ev := pc.Event()
	assert.Equal(t, 12.0, ev.Timestamp)
	assert.Equal(t, pc.Window.Start, ev.WindowStart)
	assert.Equal(t, pc.Window.End, ev.WindowEnd)
	assert.Equal(t, pc.FlaggedConcepts(), ev.FlaggedConcepts)
}

func TestIsFormula(t *testing.T) {
	for _, tok := range []string{"f'(x)", "sin(x^2)", "x^2", "a=b", "2x"} {
		assert.True(t, isFormula(tok), tok)
	}
	for _, tok := range []string{"derivative", "(aside)", "=", ""} {
		assert.False(t, isFormula(tok), tok)
	}
}

func TestExtractTermsIncludesBigrams(t *testing.T) {
	terms := extractTerms("the chain rule lets us differentiate")
	assert.Contains(t, terms, "chain rule")
	assert.Contains(t, terms, "differentiate")
	assert.NotContains(t, terms, "the")
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
