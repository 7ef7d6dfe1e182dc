package service

import (
	"context"

	"github.com/xiaot623/lectern/internal/domain"
)

// Chat runs one grounded turn.
func (s *Service) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return s.orch.Chat(ctx, req)
}

// ChatStream runs one turn and pushes frames to emit as the answer is produced.
func (s *Service) ChatStream(ctx context.Context, req domain.ChatRequest, emit domain.StreamFunc) (*domain.ChatResponse, error) {
	return s.orch.ChatStream(ctx, req, emit)
}

// TurnEvents returns a turn's trace.
func (s *Service) TurnEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) (*domain.Turn, []domain.TurnEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	turn, events, err := s.orch.Trace(ctx, turnID, afterTs, types, limit)
	if err != nil {
		return nil, nil, err
	}
	if events == nil {
		events = []domain.TurnEvent{}
	}
	return turn, events, nil
}
