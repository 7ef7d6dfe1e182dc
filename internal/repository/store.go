// Package repository defines the storage interface and its SQLite implementation.
package repository

import (
	"context"
	"time"

	"github.com/xiaot623/lectern/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Video and transcript operations
	ReplaceTranscript(ctx context.Context, video *domain.Video, segments []domain.TranscriptSegment) error
	GetVideo(ctx context.Context, videoID string) (*domain.Video, error)
	ListVideos(ctx context.Context) ([]domain.Video, error)
	GetSegments(ctx context.Context, videoID string) ([]domain.TranscriptSegment, error)

	// Embedding cache operations, keyed by content hash and model
	GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error

	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	GetPauses(ctx context.Context, sessionID string) ([]domain.PauseEvent, error)
	AppendMessages(ctx context.Context, sessionID string, activeAt time.Time, messages ...domain.Message) error
	AppendPause(ctx context.Context, sessionID string, activeAt time.Time, pause domain.PauseEvent) error
	ListIdleSessions(ctx context.Context, before time.Time) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Turn operations
	CreateTurn(ctx context.Context, turn *domain.Turn) error
	GetTurn(ctx context.Context, turnID string) (*domain.Turn, error)
	UpdateTurnState(ctx context.Context, turnID string, state domain.TurnState, intent domain.Intent) error
	UpdateTurnCompleted(ctx context.Context, turnID string, state domain.TurnState, errData []byte) error

	// Turn event operations
	CreateTurnEvent(ctx context.Context, event *domain.TurnEvent) error
	GetTurnEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.TurnEvent, error)

	// Lifecycle
	Close() error
}
