package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/lectern/internal/adapter/embedding"
	"github.com/xiaot623/lectern/internal/adapter/llm"
	"github.com/xiaot623/lectern/internal/config"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/service"
	"github.com/xiaot623/lectern/policy"
	"github.com/xiaot623/lectern/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	cfg := config.Default()
	svc := service.New(helpers.NewTestSQLiteStore(t), embedding.NewHashingEmbedder(64), llm.NewMockClient(), cfg, policyEngine, nil)

	h := NewHandler(svc, nil)
	e := echo.New()
	h.RegisterRoutes(e)
	return h, e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func ingest(t *testing.T, e *echo.Echo) {
	t.Helper()
	payload, err := json.Marshal(domain.IngestRequest{Title: "Calculus", Snippets: helpers.CalculusSnippets()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := do(e, http.MethodPost, "/v1/videos/v1/transcript", string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestTranscriptValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/videos/v1/transcript", bytes.NewBufferString(`{"snippets":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("video_id")
	c.SetParamValues("v1")

	if err := h.IngestTranscript(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngestTranscript(t *testing.T) {
	_, e := newTestHandler(t)
	ingest(t, e)

	rec := do(e, http.MethodGet, "/v1/videos/v1/segments", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Segments []domain.TranscriptSegment `json:"segments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(resp.Segments))
	}
}

func TestChat(t *testing.T) {
	_, e := newTestHandler(t)
	ingest(t, e)

	rec := do(e, http.MethodPost, "/v1/chat", `{"video_id":"v1","session_id":"s1","message":"what is a derivative?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Degraded || len(resp.Citations) == 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Citations[0].StartTime != 10 {
		t.Fatalf("expected citation of the 10-25 segment, got %+v", resp.Citations[0])
	}

	rec = do(e, http.MethodGet, "/v1/turns/"+resp.TurnID+"/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/v1/sessions/s1/messages?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("messages: expected 200, got %d", rec.Code)
	}
	var messages struct {
		Messages []domain.Message `json:"messages"`
		HasMore  bool             `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(messages.Messages) != 2 || messages.HasMore {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestChatStatusMapping(t *testing.T) {
	_, e := newTestHandler(t)
	ingest(t, e)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing message", `{"video_id":"v1","session_id":"s1"}`, http.StatusBadRequest},
		{"unknown video", `{"video_id":"nope","session_id":"s1","message":"hi there"}`, http.StatusNotFound},
		{"pause out of range", `{"video_id":"v1","session_id":"s1","message":"why?","pause_timestamp":99}`, http.StatusBadRequest},
		{"bad json", `{"video_id":`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		rec := do(e, http.MethodPost, "/v1/chat", tc.body)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}

	// Bind s1 to v1, then reuse it for another video.
	if rec := do(e, http.MethodPost, "/v1/chat", `{"video_id":"v1","session_id":"s1","message":"what is a limit?"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload, _ := json.Marshal(domain.IngestRequest{Snippets: helpers.CalculusSnippets()})
	if rec := do(e, http.MethodPost, "/v1/videos/v2/transcript", string(payload)); rec.Code != http.StatusOK {
		t.Fatalf("ingest v2: expected 200, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/v1/chat", `{"video_id":"v2","session_id":"s1","message":"what is a limit?"}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestChatStream(t *testing.T) {
	_, e := newTestHandler(t)
	ingest(t, e)

	rec := do(e, http.MethodPost, "/v1/chat/stream", `{"video_id":"v1","session_id":"s1","message":"what is a derivative?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var events []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
		}
	}
	if len(events) < 3 || events[0] != "delta" || events[len(events)-2] != "citations" || events[len(events)-1] != "done" {
		t.Fatalf("unexpected event sequence: %v", events)
	}

	rec = do(e, http.MethodPost, "/v1/chat/stream", `{"video_id":"nope","session_id":"s2","message":"hello there"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before streaming, got %d", rec.Code)
	}
}

func TestPredictionsAndPauses(t *testing.T) {
	_, e := newTestHandler(t)
	ingest(t, e)

	rec := do(e, http.MethodGet, "/v1/videos/v1/predictions?t=20&session_id=s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var pred domain.PredictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pred); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if n := len(pred.Questions); n < 3 || n > 5 {
		t.Fatalf("expected 3-5 questions, got %d", n)
	}
	var raw struct {
		Questions []map[string]interface{} `json:"questions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, q := range raw.Questions {
		if _, ok := q["confidence"]; !ok {
			t.Fatalf("question without confidence: %v", q)
		}
		if _, ok := q["text"]; !ok {
			t.Fatalf("question without text: %v", q)
		}
	}

	if rec := do(e, http.MethodGet, "/v1/videos/v1/predictions", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing t: expected 400, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/v1/videos/v1/predictions?t=120", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("out of range: expected 400, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/v1/videos/v1/pauses", `{"session_id":"s1","timestamp":20}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var pause domain.PauseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pause); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if pause.WindowStart != 0 || pause.WindowEnd != 40 {
		t.Fatalf("unexpected window: %+v", pause)
	}

	rec = do(e, http.MethodGet, "/v1/sessions/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sess domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(sess.PauseHistory) != 2 {
		t.Fatalf("expected 2 pauses, got %d", len(sess.PauseHistory))
	}
}

func TestSearchAndSummary(t *testing.T) {
	_, e := newTestHandler(t)
	ingest(t, e)

	rec := do(e, http.MethodGet, "/v1/videos/v1/search?q=chain+rule&top_k=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var search struct {
		Results []domain.EvidenceItem `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &search); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(search.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(search.Results))
	}

	if rec := do(e, http.MethodGet, "/v1/videos/v1/search?q=limit&start=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad range: expected 400, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/v1/videos/v1/summary?start=0&end=20", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var summary domain.SummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(summary.TopicBoundaries) != 2 || summary.SummaryText == "" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestNotFoundRoutes(t *testing.T) {
	_, e := newTestHandler(t)

	for _, target := range []string{
		"/v1/sessions/missing",
		"/v1/sessions/missing/messages",
		"/v1/turns/turn_missing/events",
		"/v1/videos/missing/segments",
		"/v1/videos/missing/summary",
	} {
		if rec := do(e, http.MethodGet, target, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidTranscript, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrOutOfRangeTimestamp), http.StatusBadRequest},
		{domain.ErrVideoNotFound, http.StatusNotFound},
		{domain.ErrSessionVideoMismatch, http.StatusConflict},
		{domain.ErrSessionBusy, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := httpStatus(tc.err); got != tc.want {
			t.Errorf("httpStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHealth(t *testing.T) {
	_, e := newTestHandler(t)
	if rec := do(e, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
