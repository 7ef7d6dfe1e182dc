// Package conversation runs learner turns through a fixed pipeline:
// query understanding, context retrieval, answer generation and citation.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/lectern/internal/adapter/llm"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/index"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/repository"
	"github.com/xiaot623/lectern/internal/retrieval"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/session"
	"github.com/xiaot623/lectern/policy"
)

// minEvidence is the smallest pause-biased result set kept before widening
// to the whole video.
const minEvidence = 2

// Options tunes an Orchestrator.
type Options struct {
	Model             string
	TopK              int
	PauseWindow       float64
	HistoryWindow     int
	GenerationTimeout time.Duration
	TurnTimeout       time.Duration
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Segments  *segment.Store
	Retriever *retrieval.Retriever
	Sessions  *session.Manager
	LLM       llm.LLMClient
	Policy    *policy.Engine
	Store     repository.Store
}

// Orchestrator executes chat turns.
type Orchestrator struct {
	segments  *segment.Store
	retriever *retrieval.Retriever
	sessions  *session.Manager
	llm       llm.LLMClient
	policy    *policy.Engine
	store     repository.Store
	opts      Options
	logger    *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultTopK
	}
	if opts.PauseWindow <= 0 {
		opts.PauseWindow = 30
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 6
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 30 * time.Second
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = 60 * time.Second
	}
	return &Orchestrator{
		segments:  deps.Segments,
		retriever: deps.Retriever,
		sessions:  deps.Sessions,
		llm:       deps.LLM,
		policy:    deps.Policy,
		store:     deps.Store,
		opts:      opts,
		logger:    logging.Or(logger),
	}
}

// Chat runs one turn and returns the complete answer.
func (o *Orchestrator) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return o.run(ctx, req, nil)
}

// ChatStream runs one turn, pushing delta frames while the answer is
// generated, then a citations frame and a done frame (or an error frame).
func (o *Orchestrator) ChatStream(ctx context.Context, req domain.ChatRequest, emit domain.StreamFunc) (*domain.ChatResponse, error) {
	if emit == nil {
		emit = func(domain.StreamEvent) error { return nil }
	}
	return o.run(ctx, req, emit)
}

// turn carries the working state of one pass.
type turn struct {
	id      string
	req     domain.ChatRequest
	fsm     *machine
	intent  domain.Intent
	route   string
	query   string
	pause   *float64
	items   []domain.EvidenceItem
	answer  string
	cited   []domain.EvidenceItem
	emit    domain.StreamFunc
	started time.Time
}

func (o *Orchestrator) run(ctx context.Context, req domain.ChatRequest, emit domain.StreamFunc) (*domain.ChatResponse, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.VideoID == "" || req.SessionID == "" || req.Message == "" {
		return nil, fmt.Errorf("%w: video_id, session_id and message are required", domain.ErrInvalidRequest)
	}
	if req.PauseTimestamp != nil && (*req.PauseTimestamp < 0 || math.IsNaN(*req.PauseTimestamp)) {
		return nil, fmt.Errorf("%w: pause_timestamp %.2f", domain.ErrOutOfRangeTimestamp, *req.PauseTimestamp)
	}
	video, err := o.segments.Video(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}
	if req.PauseTimestamp != nil && *req.PauseTimestamp > video.DurationSeconds {
		return nil, fmt.Errorf("%w: pause_timestamp %.2f beyond %.2f", domain.ErrOutOfRangeTimestamp, *req.PauseTimestamp, video.DurationSeconds)
	}

	var resp *domain.ChatResponse
	err = o.sessions.Exclusive(ctx, req.SessionID, req.VideoID, func(s *session.Scope) error {
		turnCtx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
		defer cancel()

		t := &turn{
			id:      "turn_" + uuid.New().String()[:8],
			req:     req,
			fsm:     newMachine(),
			emit:    emit,
			started: time.Now(),
		}
		resp = o.execute(turnCtx, s, video, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// execute drives the state machine. Failures end in the degraded response.
func (o *Orchestrator) execute(ctx context.Context, s *session.Scope, video domain.Video, t *turn) *domain.ChatResponse {
	traceCtx := context.WithoutCancel(ctx)
	o.startTurn(traceCtx, t)

	if err := o.understand(traceCtx, s, t); err != nil {
		return o.fail(traceCtx, t, "policy_error", err)
	}

	if t.route == policy.RouteCanned {
		if err := o.transition(traceCtx, t, domain.TurnStateAnswerGeneration); err != nil {
			return o.fail(traceCtx, t, "invalid_transition", err)
		}
		t.answer = cannedReply(t)
		if err := o.emitFrame(t, domain.StreamEvent{Type: domain.StreamEventDelta, Text: t.answer}); err != nil {
			return o.fail(traceCtx, t, "stream_closed", err)
		}
	} else {
		if err := o.transition(traceCtx, t, domain.TurnStateContextRetrieval); err != nil {
			return o.fail(traceCtx, t, "invalid_transition", err)
		}
		if err := o.retrieve(ctx, t); err != nil {
			return o.fail(traceCtx, t, "retrieval_error", err)
		}
		if err := o.transition(traceCtx, t, domain.TurnStateAnswerGeneration); err != nil {
			return o.fail(traceCtx, t, "invalid_transition", err)
		}
		if err := o.generate(ctx, traceCtx, s, video, t); err != nil {
			return o.fail(traceCtx, t, "generation_failure", err)
		}
	}

	if err := o.transition(traceCtx, t, domain.TurnStateCitation); err != nil {
		return o.fail(traceCtx, t, "invalid_transition", err)
	}
	if t.route == policy.RouteCanned {
		t.cited = []domain.EvidenceItem{}
	} else {
		t.cited = extractCitations(t.answer, t.items)
	}

	// Nothing is appended once the turn is cancelled.
	if err := ctx.Err(); err != nil {
		return o.fail(traceCtx, t, "cancelled", err)
	}
	user, assistant, err := s.AppendTurn(traceCtx,
		domain.Message{TurnID: t.id, Role: domain.RoleUser, Text: t.req.Message},
		domain.Message{TurnID: t.id, Role: domain.RoleAssistant, Text: t.answer, Citations: t.cited},
	)
	if err != nil {
		return o.fail(traceCtx, t, "persist_error", err)
	}
	if err := o.transition(traceCtx, t, domain.TurnStateDone); err != nil {
		return o.fail(traceCtx, t, "invalid_transition", err)
	}
	o.finishTurn(traceCtx, t, user.MessageID, assistant.MessageID)

	_ = o.emitFrame(t, domain.StreamEvent{Type: domain.StreamEventCitations, Citations: t.cited})
	_ = o.emitFrame(t, domain.StreamEvent{Type: domain.StreamEventDone, Intent: t.intent})

	return &domain.ChatResponse{
		TurnID:    t.id,
		SessionID: t.req.SessionID,
		Text:      t.answer,
		Citations: t.cited,
		Intent:    t.intent,
	}
}

// understand classifies intent, extracts the query and routes the turn.
// The pause point is the request's, else the session's latest pause.
func (o *Orchestrator) understand(ctx context.Context, s *session.Scope, t *turn) error {
	t.intent = ClassifyIntent(t.req.Message)
	t.query = ExtractQuery(t.req.Message)
	t.pause = t.req.PauseTimestamp
	if t.pause == nil {
		if last, ok := lastPause(s); ok {
			ts := last.Timestamp
			t.pause = &ts
		}
	}

	t.route = policy.RouteRetrieve
	if o.policy != nil {
		decision, err := o.policy.Evaluate(ctx, policy.Input{
			Intent:     string(t.intent),
			Query:      t.query,
			QueryTerms: queryTerms(t.query),
			HasPause:   t.pause != nil,
		})
		if err != nil {
			return err
		}
		t.route = decision.Route
	}

	if err := o.store.UpdateTurnState(ctx, t.id, t.fsm.state, t.intent); err != nil {
		o.logger.Warn("failed to record turn intent", "turn_id", t.id, "error", err)
	}
	return nil
}

// retrieve gathers evidence biased towards the pause point, widening to the
// whole video when the window is too thin.
func (o *Orchestrator) retrieve(ctx context.Context, t *turn) error {
	var window *domain.TimeRange
	if t.pause != nil {
		window = &domain.TimeRange{
			Start: math.Max(0, *t.pause-o.opts.PauseWindow),
			End:   *t.pause + o.opts.PauseWindow,
		}
	}

	items, err := o.search(ctx, t, window)
	if err != nil {
		return err
	}
	widened := false
	if window != nil && len(items) < minEvidence {
		wide, err := o.search(ctx, t, nil)
		if err != nil {
			return err
		}
		items = mergeEvidence(items, wide, o.opts.TopK)
		widened = true
	}
	t.items = items

	o.recordEventLogged(context.WithoutCancel(ctx), t.id, domain.EventTypeRetrievalDone, domain.RetrievalDonePayload{
		Query:      t.query,
		Window:     window,
		Widened:    widened,
		SegmentIDs: segmentIDs(items),
	})
	return nil
}

// search runs the retriever, or ranks segments by distance to the pause
// when the message names nothing searchable ("explain this"). A nil window
// searches the whole video.
func (o *Orchestrator) search(ctx context.Context, t *turn, window *domain.TimeRange) ([]domain.EvidenceItem, error) {
	if queryTerms(t.query) > 0 || t.pause == nil {
		return o.retriever.Retrieve(ctx, t.req.VideoID, t.query, o.opts.TopK, window)
	}
	segments, err := o.segments.Get(ctx, t.req.VideoID)
	if err != nil {
		return nil, err
	}
	if window != nil {
		segments = segment.InRange(segments, *window)
	}
	return nearPause(segments, *t.pause, o.opts.TopK), nil
}

// generate calls the generation capability in batch or streaming mode.
func (o *Orchestrator) generate(ctx, traceCtx context.Context, s *session.Scope, video domain.Video, t *turn) error {
	history := s.RecentMessages(o.opts.HistoryWindow)
	req := &llm.ChatCompletionRequest{
		Model:    o.opts.Model,
		Messages: buildMessages(video.Title, t.items, history, t.req.Message, t.pause),
		Stream:   t.emit != nil,
	}

	o.recordEventLogged(traceCtx, t.id, domain.EventTypeGenerationStarted, domain.GenerationStartedPayload{
		Model:         o.opts.Model,
		Stream:        req.Stream,
		EvidenceCount: len(t.items),
		HistoryCount:  len(history),
	})

	genCtx, cancel := context.WithTimeout(ctx, o.opts.GenerationTimeout)
	defer cancel()

	start := time.Now()
	var usage *llm.Usage
	var err error
	if req.Stream {
		var sb strings.Builder
		usage, err = o.llm.CreateChatCompletionStream(genCtx, req, func(chunk *llm.StreamChunk) error {
			delta := chunk.DeltaContent()
			if delta == "" {
				return nil
			}
			sb.WriteString(delta)
			return o.emitFrame(t, domain.StreamEvent{Type: domain.StreamEventDelta, Text: delta})
		})
		t.answer = sb.String()
	} else {
		var resp *llm.ChatCompletionResponse
		resp, err = o.llm.CreateChatCompletion(genCtx, req)
		if err == nil {
			t.answer = resp.Content()
			usage = resp.Usage
		}
	}

	done := domain.GenerationDonePayload{Model: o.opts.Model, LatencyMs: time.Since(start).Milliseconds()}
	if usage != nil {
		done.PromptTokens = usage.PromptTokens
		done.CompletionTokens = usage.CompletionTokens
		done.TotalTokens = usage.TotalTokens
	}
	if err == nil && strings.TrimSpace(t.answer) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		done.Error = err.Error()
	}
	o.recordEventLogged(traceCtx, t.id, domain.EventTypeGenerationDone, done)

	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGenerationFailure, err)
	}
	t.answer = strings.TrimSpace(t.answer)
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, t *turn, to domain.TurnState) error {
	from, err := t.fsm.advance(to)
	if err != nil {
		return err
	}
	if to != domain.TurnStateDone && to != domain.TurnStateFailed {
		if err := o.store.UpdateTurnState(ctx, t.id, to, t.intent); err != nil {
			o.logger.Warn("failed to update turn state", "turn_id", t.id, "state", to, "error", err)
		}
	}
	o.recordEventLogged(ctx, t.id, domain.EventTypeStateChanged, domain.StateChangedPayload{
		From:   from,
		To:     to,
		Intent: t.intent,
		Route:  t.route,
	})
	return nil
}

func (o *Orchestrator) startTurn(ctx context.Context, t *turn) {
	record := &domain.Turn{
		TurnID:    t.id,
		SessionID: t.req.SessionID,
		VideoID:   t.req.VideoID,
		State:     t.fsm.state,
		StartedAt: t.started,
	}
	if err := o.store.CreateTurn(ctx, record); err != nil {
		o.logger.Warn("failed to create turn", "turn_id", t.id, "error", err)
	}
	o.recordEventLogged(ctx, t.id, domain.EventTypeTurnStarted, domain.TurnStartedPayload{
		SessionID:      t.req.SessionID,
		VideoID:        t.req.VideoID,
		Message:        t.req.Message,
		PauseTimestamp: t.req.PauseTimestamp,
		Stream:         t.emit != nil,
	})
}

func (o *Orchestrator) finishTurn(ctx context.Context, t *turn, userID, assistantID string) {
	if err := o.store.UpdateTurnCompleted(ctx, t.id, domain.TurnStateDone, nil); err != nil {
		o.logger.Warn("failed to complete turn", "turn_id", t.id, "error", err)
	}
	o.recordEventLogged(ctx, t.id, domain.EventTypeTurnDone, domain.TurnDonePayload{
		UserMessageID:      userID,
		AssistantMessageID: assistantID,
		CitedSegmentIDs:    segmentIDs(t.cited),
	})
	o.logger.Info("turn done",
		"turn_id", t.id,
		"session_id", t.req.SessionID,
		"video_id", t.req.VideoID,
		"intent", t.intent,
		"route", t.route,
		"citations", len(t.cited),
		"duration_ms", time.Since(t.started).Milliseconds())
}

// fail moves the turn to Failed and builds the degraded response. Nothing
// has been appended to the session at this point.
func (o *Orchestrator) fail(ctx context.Context, t *turn, code string, cause error) *domain.ChatResponse {
	state := t.fsm.state
	if _, err := t.fsm.advance(domain.TurnStateFailed); err == nil {
		o.recordEventLogged(ctx, t.id, domain.EventTypeStateChanged, domain.StateChangedPayload{
			From: state, To: domain.TurnStateFailed, Intent: t.intent, Route: t.route,
		})
	}

	payload := domain.TurnFailedPayload{State: state, Code: code, Message: cause.Error()}
	errData, _ := json.Marshal(payload)
	if err := o.store.UpdateTurnCompleted(ctx, t.id, domain.TurnStateFailed, errData); err != nil {
		o.logger.Warn("failed to mark turn failed", "turn_id", t.id, "error", err)
	}
	o.recordEventLogged(ctx, t.id, domain.EventTypeTurnFailed, payload)

	o.logger.Warn("turn failed",
		"turn_id", t.id,
		"session_id", t.req.SessionID,
		"video_id", t.req.VideoID,
		"state", state,
		"code", code,
		"error", cause)

	_ = o.emitFrame(t, domain.StreamEvent{Type: domain.StreamEventError, Code: code, Message: degradedReply, Degraded: true})

	return &domain.ChatResponse{
		TurnID:    t.id,
		SessionID: t.req.SessionID,
		Text:      degradedReply,
		Citations: []domain.EvidenceItem{},
		Intent:    t.intent,
		Degraded:  true,
	}
}

func (o *Orchestrator) emitFrame(t *turn, ev domain.StreamEvent) error {
	if t.emit == nil {
		return nil
	}
	ev.Ts = time.Now().UnixMilli()
	ev.TurnID = t.id
	return t.emit(ev)
}

// recordEvent records a turn trace event to the store.
func (o *Orchestrator) recordEvent(ctx context.Context, turnID string, eventType domain.EventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.TurnEvent{
		EventID: "evt_" + uuid.New().String()[:8],
		TurnID:  turnID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	return o.store.CreateTurnEvent(ctx, event)
}

func (o *Orchestrator) recordEventLogged(ctx context.Context, turnID string, eventType domain.EventType, payload interface{}) {
	if err := o.recordEvent(ctx, turnID, eventType, payload); err != nil {
		o.logger.Warn("failed to record turn event", "turn_id", turnID, "type", eventType, "error", err)
	}
}

// Trace returns a turn with its recorded events.
func (o *Orchestrator) Trace(ctx context.Context, turnID string, afterTs int64, types []string, limit int) (*domain.Turn, []domain.TurnEvent, error) {
	record, err := o.store.GetTurn(ctx, turnID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get turn: %w", err)
	}
	if record == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrTurnNotFound, turnID)
	}
	events, err := o.store.GetTurnEvents(ctx, turnID, afterTs, types, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get turn events: %w", err)
	}
	return record, events, nil
}

func cannedReply(t *turn) string {
	if t.intent == domain.IntentOffTopic {
		return offTopicReply
	}
	return emptyQueryReply
}

func lastPause(s *session.Scope) (domain.PauseEvent, bool) {
	history := s.PauseHistory()
	if len(history) == 0 {
		return domain.PauseEvent{}, false
	}
	return history[len(history)-1], true
}

// nearPause scores window segments by closeness to t.
func nearPause(segments []domain.TranscriptSegment, t float64, topK int) []domain.EvidenceItem {
	items := make([]domain.EvidenceItem, 0, len(segments))
	for _, seg := range segments {
		dist := 0.0
		switch {
		case t < seg.StartTime:
			dist = seg.StartTime - t
		case t >= seg.EndTime:
			dist = t - seg.EndTime
		}
		items = append(items, domain.EvidenceItem{
			SegmentID:      seg.SegmentID,
			RelevanceScore: 1 / (1 + dist),
			Text:           seg.Text,
			StartTime:      seg.StartTime,
			EndTime:        seg.EndTime,
			SequenceIndex:  seg.SequenceIndex,
		})
	}
	index.SortEvidence(items)
	if len(items) > topK {
		items = items[:topK]
	}
	return items
}

// mergeEvidence keeps the pause-biased items first, then fills from the
// whole-video results.
func mergeEvidence(biased, wide []domain.EvidenceItem, topK int) []domain.EvidenceItem {
	seen := make(map[string]bool, len(biased))
	out := append([]domain.EvidenceItem{}, biased...)
	for _, item := range biased {
		seen[item.SegmentID] = true
	}
	for _, item := range wide {
		if len(out) >= topK {
			break
		}
		if !seen[item.SegmentID] {
			seen[item.SegmentID] = true
			out = append(out, item)
		}
	}
	return out
}
