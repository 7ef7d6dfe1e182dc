package service

import (
	"context"
	"time"

	"github.com/xiaot623/lectern/internal/domain"
)

// GetSession returns the session with its messages and pauses.
func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *Service) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	messages, err := s.sessions.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// RunIdleSweeper evicts idle sessions until ctx ends.
func (s *Service) RunIdleSweeper(ctx context.Context, interval time.Duration) {
	s.sessions.RunIdleSweeper(ctx, interval)
}
