package repository

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/lectern/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func testSegments(videoID string) []domain.TranscriptSegment {
	return []domain.TranscriptSegment{
		{SegmentID: "a", VideoID: videoID, Text: "intro", StartTime: 0, EndTime: 10, SequenceIndex: 0},
		{SegmentID: "b", VideoID: videoID, Text: "derivative definition", StartTime: 10, EndTime: 25, SequenceIndex: 1},
	}
}

func TestSQLiteStoreReplaceTranscript(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	now := time.Now()
	video := &domain.Video{VideoID: "v1", Title: "Calculus", DurationSeconds: 25, SegmentCount: 2, CreatedAt: now, UpdatedAt: now}
	if err := store.ReplaceTranscript(ctx, video, testSegments("v1")); err != nil {
		t.Fatalf("ReplaceTranscript failed: %v", err)
	}

	// Second ingest replaces segments and keeps the earlier title when none is given.
	video2 := &domain.Video{VideoID: "v1", DurationSeconds: 10, SegmentCount: 1, CreatedAt: now, UpdatedAt: now}
	if err := store.ReplaceTranscript(ctx, video2, testSegments("v1")[:1]); err != nil {
		t.Fatalf("ReplaceTranscript failed: %v", err)
	}

	got, err := store.GetVideo(ctx, "v1")
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if got == nil || got.Title != "Calculus" || got.SegmentCount != 1 || got.DurationSeconds != 10 {
		t.Fatalf("unexpected video: %+v", got)
	}

	segments, err := store.GetSegments(ctx, "v1")
	if err != nil {
		t.Fatalf("GetSegments failed: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "intro" {
		t.Fatalf("unexpected segments: %+v", segments)
	}

	missing, err := store.GetVideo(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil video, got %+v err=%v", missing, err)
	}
}

func TestSQLiteStoreEmbeddingCache(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	vectors := map[string][]float32{
		"h1": {0.25, -0.5, 1},
		"h2": {1, 0, 0},
	}
	if err := store.PutEmbeddings(ctx, "hashing-64", vectors); err != nil {
		t.Fatalf("PutEmbeddings failed: %v", err)
	}

	got, err := store.GetEmbeddings(ctx, "hashing-64", []string{"h1", "h3"})
	if err != nil {
		t.Fatalf("GetEmbeddings failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 cached vector, got %d", len(got))
	}
	if v := got["h1"]; len(v) != 3 || v[0] != 0.25 || v[1] != -0.5 || v[2] != 1 {
		t.Fatalf("unexpected vector: %v", v)
	}

	other, err := store.GetEmbeddings(ctx, "other-model", []string{"h1"})
	if err != nil {
		t.Fatalf("GetEmbeddings failed: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("vectors must be scoped by model, got %v", other)
	}
}

func TestSQLiteStoreSessionHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	now := time.Now()
	session := &domain.Session{SessionID: "s1", VideoID: "v1", CreatedAt: now, LastActiveAt: now}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	user := domain.Message{MessageID: "m1", TurnID: "t1", Role: domain.RoleUser, Text: "what is a derivative?", CreatedAt: now}
	assistant := domain.Message{
		MessageID: "m2",
		TurnID:    "t1",
		Role:      domain.RoleAssistant,
		Text:      "A rate of change [S1]",
		Citations: []domain.EvidenceItem{{SegmentID: "b", RelevanceScore: 0.9, StartTime: 10, EndTime: 25}},
		CreatedAt: now,
	}
	if err := store.AppendMessages(ctx, "s1", now, user, assistant); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}

	pause := domain.PauseEvent{Timestamp: 20, WindowStart: 0, WindowEnd: 40, FlaggedConcepts: []string{"derivative"}, CreatedAt: now}
	if err := store.AppendPause(ctx, "s1", now, pause); err != nil {
		t.Fatalf("AppendPause failed: %v", err)
	}

	messages, err := store.GetMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 || messages[0].MessageID != "m1" || messages[1].MessageID != "m2" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
	if len(messages[1].Citations) != 1 || messages[1].Citations[0].SegmentID != "b" {
		t.Fatalf("citations not round-tripped: %+v", messages[1].Citations)
	}

	last, err := store.GetMessages(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(last) != 1 || last[0].MessageID != "m2" {
		t.Fatalf("expected most recent message, got %+v", last)
	}

	pauses, err := store.GetPauses(ctx, "s1")
	if err != nil {
		t.Fatalf("GetPauses failed: %v", err)
	}
	if len(pauses) != 1 || pauses[0].FlaggedConcepts[0] != "derivative" {
		t.Fatalf("unexpected pauses: %+v", pauses)
	}
}

func TestSQLiteStoreAppendToMissingSessionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	now := time.Now()
	msg := domain.Message{MessageID: "m1", Role: domain.RoleUser, Text: "hi", CreatedAt: now}
	if err := store.AppendMessages(ctx, "ghost", now, msg); err == nil {
		t.Fatalf("expected error appending to a missing session")
	}
	messages, err := store.GetMessages(ctx, "ghost", 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages after rollback, got %d", len(messages))
	}
}

func TestSQLiteStoreTurnAndEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	now := time.Now()
	if err := store.CreateSession(ctx, &domain.Session{SessionID: "s1", VideoID: "v1", CreatedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	turn := &domain.Turn{TurnID: "t1", SessionID: "s1", VideoID: "v1", State: domain.TurnStateQueryUnderstanding, StartedAt: now}
	if err := store.CreateTurn(ctx, turn); err != nil {
		t.Fatalf("CreateTurn failed: %v", err)
	}
	if err := store.UpdateTurnState(ctx, "t1", domain.TurnStateContextRetrieval, domain.IntentQuestion); err != nil {
		t.Fatalf("UpdateTurnState failed: %v", err)
	}
	if err := store.UpdateTurnState(ctx, "t1", domain.TurnStateAnswerGeneration, ""); err != nil {
		t.Fatalf("UpdateTurnState failed: %v", err)
	}
	if err := store.UpdateTurnCompleted(ctx, "t1", domain.TurnStateDone, nil); err != nil {
		t.Fatalf("UpdateTurnCompleted failed: %v", err)
	}

	got, err := store.GetTurn(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTurn failed: %v", err)
	}
	if got == nil || got.State != domain.TurnStateDone || got.Intent != domain.IntentQuestion || got.EndedAt == nil {
		t.Fatalf("unexpected turn: %+v", got)
	}

	events := []domain.TurnEvent{
		{EventID: "e1", TurnID: "t1", Ts: 1, Type: domain.EventTypeTurnStarted},
		{EventID: "e2", TurnID: "t1", Ts: 2, Type: domain.EventTypeStateChanged, Payload: []byte(`{"to":"CONTEXT_RETRIEVAL"}`)},
		{EventID: "e3", TurnID: "t1", Ts: 3, Type: domain.EventTypeTurnDone},
	}
	for i := range events {
		if err := store.CreateTurnEvent(ctx, &events[i]); err != nil {
			t.Fatalf("CreateTurnEvent failed: %v", err)
		}
	}

	all, err := store.GetTurnEvents(ctx, "t1", 0, nil, 0)
	if err != nil {
		t.Fatalf("GetTurnEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	filtered, err := store.GetTurnEvents(ctx, "t1", 1, []string{string(domain.EventTypeStateChanged)}, 10)
	if err != nil {
		t.Fatalf("GetTurnEvents failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].EventID != "e2" {
		t.Fatalf("unexpected filtered events: %+v", filtered)
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if got, _ := store.GetTurn(ctx, "t1"); got != nil {
		t.Fatalf("turn should be removed with its session")
	}
}

func TestSQLiteStoreListIdleSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()
	_ = store.CreateSession(ctx, &domain.Session{SessionID: "old", VideoID: "v1", CreatedAt: old, LastActiveAt: old})
	_ = store.CreateSession(ctx, &domain.Session{SessionID: "fresh", VideoID: "v1", CreatedAt: fresh, LastActiveAt: fresh})

	ids, err := store.ListIdleSessions(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListIdleSessions failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("unexpected idle sessions: %v", ids)
	}
}
