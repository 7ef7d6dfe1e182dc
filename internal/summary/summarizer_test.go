package summary

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lectern/internal/adapter/llm"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/tests/helpers"
)

type failingLLM struct{}

func (failingLLM) CreateChatCompletion(context.Context, *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	return nil, errors.New("upstream 503")
}

func (failingLLM) CreateChatCompletionStream(context.Context, *llm.ChatCompletionRequest, llm.StreamCallback) (*llm.Usage, error) {
	return nil, errors.New("upstream 503")
}

func newStore(t *testing.T) *segment.Store {
	t.Helper()
	store := segment.NewStore(helpers.NewTestSQLiteStore(t), 2, nil)
	_, err := store.Ingest(context.Background(), "v1", "Intro to Calculus", helpers.CalculusSnippets())
	require.NoError(t, err)
	return store
}

func TestSummarizeSections(t *testing.T) {
	store := newStore(t)
	s := New(store, llm.NewMockClient(), Options{Model: "mock"}, nil)

	resp, err := s.Summarize(context.Background(), "v1", nil)
	require.NoError(t, err)

	assert.False(t, resp.Degraded)
	assert.Contains(t, resp.SummaryText, "[S1]")
	require.Len(t, resp.TopicBoundaries, 3)

	first, second, third := resp.TopicBoundaries[0], resp.TopicBoundaries[1], resp.TopicBoundaries[2]
	assert.Equal(t, 0.0, first.StartTime)
	assert.Equal(t, 10.0, first.EndTime)
	assert.Equal(t, 10.0, second.StartTime)
	assert.Equal(t, "derivative", second.KeyTopics[0])
	assert.Equal(t, "Derivative and Difference", second.Title)
	assert.Equal(t, 40.0, third.EndTime)
	assert.Contains(t, third.KeyTopics, "chain")

	segs, err := store.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{segs[1].SegmentID}, second.SegmentIDs)
}

func TestSummarizeFallsBackToExtractive(t *testing.T) {
	s := New(newStore(t), failingLLM{}, Options{}, nil)

	resp, err := s.Summarize(context.Background(), "v1", nil)
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.SummaryText, "[00:00] Welcome to this introduction to calculus.")
	assert.Contains(t, resp.SummaryText, "[00:10] A derivative is the instantaneous rate of change of a function.")
	assert.Len(t, resp.TopicBoundaries, 3)
}

func TestSummarizeRange(t *testing.T) {
	s := New(newStore(t), llm.NewMockClient(), Options{}, nil)

	resp, err := s.Summarize(context.Background(), "v1", &domain.TimeRange{Start: 26, End: 40})
	require.NoError(t, err)
	require.Len(t, resp.TopicBoundaries, 1)
	assert.Equal(t, 25.0, resp.TopicBoundaries[0].StartTime)

	_, err = s.Summarize(context.Background(), "v1", &domain.TimeRange{Start: 30, End: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSummarizeUnknownVideo(t *testing.T) {
	s := New(newStore(t), llm.NewMockClient(), Options{}, nil)
	_, err := s.Summarize(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
}

func TestSectionsMergeRepeatedTopic(t *testing.T) {
	segs := []domain.TranscriptSegment{
		{SegmentID: "a", StartTime: 0, EndTime: 5, Text: "vectors have magnitude and direction"},
		{SegmentID: "b", StartTime: 5, EndTime: 10, Text: "photosynthesis converts sunlight into sugar"},
		{SegmentID: "c", StartTime: 10, EndTime: 15, Text: "photosynthesis converts sunlight into sugar quickly"},
	}
	// b and c split on similarity but share their key topics.
	sections := Sections(segs, 0.9)
	require.Len(t, sections, 2)
	assert.Equal(t, []string{"b", "c"}, sections[1].SegmentIDs)
	assert.Equal(t, 15.0, sections[1].EndTime)
}

func TestSectionsEmpty(t *testing.T) {
	assert.Empty(t, Sections(nil, 0.15))
	assert.Equal(t, "", Extractive(nil, nil))
}
