// Package service wires the tutor components behind one facade used by every transport.
package service

import (
	"log/slog"

	"github.com/xiaot623/lectern/internal/adapter/embedding"
	"github.com/xiaot623/lectern/internal/adapter/llm"
	"github.com/xiaot623/lectern/internal/config"
	"github.com/xiaot623/lectern/internal/conversation"
	"github.com/xiaot623/lectern/internal/index"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/pause"
	"github.com/xiaot623/lectern/internal/prediction"
	"github.com/xiaot623/lectern/internal/repository"
	"github.com/xiaot623/lectern/internal/retrieval"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/session"
	"github.com/xiaot623/lectern/internal/summary"
	"github.com/xiaot623/lectern/policy"
)

type Service struct {
	store      repository.Store
	segments   *segment.Store
	index      *index.Index
	retriever  *retrieval.Retriever
	sessions   *session.Manager
	orch       *conversation.Orchestrator
	pauses     *pause.Analyzer
	predictor  *prediction.Engine
	summarizer *summary.Summarizer
	config     *config.Config
	logger     *slog.Logger
}

func New(store repository.Store, embedder embedding.Embedder, llmClient llm.LLMClient, cfg *config.Config, policyEngine *policy.Engine, logger *slog.Logger) *Service {
	logger = logging.Or(logger)

	segments := segment.NewStore(store, cfg.MinSegmentDuration, logger)
	idx := index.New(embedder, store, logger)
	retriever := retrieval.New(segments, idx, logger)
	sessions := session.NewManager(store, session.Options{
		LockWait:    cfg.SessionLockWait,
		IdleTimeout: cfg.SessionIdleTimeout,
	}, logger)
	pauses := pause.NewAnalyzer(segments, pause.Options{
		Window:   cfg.PauseWindow,
		Glossary: cfg.Glossary,
	}, logger)

	return &Service{
		store:     store,
		segments:  segments,
		index:     idx,
		retriever: retriever,
		sessions:  sessions,
		orch: conversation.New(conversation.Deps{
			Segments:  segments,
			Retriever: retriever,
			Sessions:  sessions,
			LLM:       llmClient,
			Policy:    policyEngine,
			Store:     store,
		}, conversation.Options{
			Model:             cfg.LLMModel,
			TopK:              cfg.RetrievalTopK,
			PauseWindow:       cfg.PauseWindow,
			HistoryWindow:     cfg.HistoryWindow,
			GenerationTimeout: cfg.GenerationTimeout,
			TurnTimeout:       cfg.TurnTimeout,
		}, logger),
		pauses: pauses,
		predictor: prediction.NewEngine(pauses, sessions, prediction.Options{
			StruggleWindow: cfg.StruggleWindow,
		}, logger),
		summarizer: summary.New(segments, llmClient, summary.Options{
			Model:             cfg.LLMModel,
			ShiftThreshold:    cfg.TopicShiftThreshold,
			GenerationTimeout: cfg.GenerationTimeout,
		}, logger),
		config: cfg,
		logger: logger,
	}
}
