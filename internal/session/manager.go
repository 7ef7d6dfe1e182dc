// Package session keeps per-learner interaction history and serializes
// mutations of a single session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/repository"
)

// Options tunes a Manager.
type Options struct {
	LockWait    time.Duration
	IdleTimeout time.Duration
}

// Manager owns session state. Memory mirrors SQLite and is only updated
// after a successful commit.
type Manager struct {
	repo   repository.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.Session
	locks    map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// NewManager creates a session manager.
func NewManager(repo repository.Store, opts Options, logger *slog.Logger) *Manager {
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Hour
	}
	return &Manager{
		repo:     repo,
		opts:     opts,
		logger:   logging.Or(logger),
		now:      time.Now,
		sessions: make(map[string]*domain.Session),
		locks:    make(map[string]*sessionLock),
	}
}

// Exclusive runs fn while holding the session's exclusive section, creating
// the session on first use. Waiting is bounded by the lock wait option.
func (m *Manager) Exclusive(ctx context.Context, sessionID, videoID string, fn func(*Scope) error) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrInvalidRequest)
	}
	release, err := m.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	sess, err := m.loadLocked(ctx, sessionID, videoID, true)
	if err != nil {
		return err
	}
	return fn(&Scope{m: m, session: sess})
}

// GetOrCreate returns a copy of the session, creating it when absent.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, videoID string) (domain.Session, error) {
	var out domain.Session
	err := m.Exclusive(ctx, sessionID, videoID, func(s *Scope) error {
		out = s.Session()
		return nil
	})
	return out, err
}

// Get returns a copy of an existing session without creating one.
func (m *Manager) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	release, err := m.acquire(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	defer release()

	sess, err := m.loadLocked(ctx, sessionID, "", false)
	if err != nil {
		return domain.Session{}, err
	}
	return clone(sess), nil
}

// AppendMessage appends one message to the session.
func (m *Manager) AppendMessage(ctx context.Context, sessionID, videoID string, msg domain.Message) (domain.Message, error) {
	var out domain.Message
	err := m.Exclusive(ctx, sessionID, videoID, func(s *Scope) error {
		var err error
		out, err = s.AppendMessage(ctx, msg)
		return err
	})
	return out, err
}

// AppendPause appends a pause event to the session.
func (m *Manager) AppendPause(ctx context.Context, sessionID, videoID string, pause domain.PauseEvent) error {
	return m.Exclusive(ctx, sessionID, videoID, func(s *Scope) error {
		return s.AppendPause(ctx, pause)
	})
}

// RecentMessages returns the last n messages, most recent last.
func (m *Manager) RecentMessages(ctx context.Context, sessionID string, n int) ([]domain.Message, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return tail(sess.Messages, n), nil
}

func (m *Manager) acquire(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	unref := func() {
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}

	timer := time.NewTimer(m.opts.LockWait)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			unref()
		}, nil
	case <-timer.C:
		unref()
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
	case <-ctx.Done():
		unref()
		return nil, ctx.Err()
	}
}

// loadLocked must be called with the session lock held.
func (m *Manager) loadLocked(ctx context.Context, sessionID, videoID string, create bool) (*domain.Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()

	if !ok {
		stored, err := m.repo.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sessionID, err)
		}
		switch {
		case stored != nil:
			if stored.Messages, err = m.repo.GetMessages(ctx, sessionID, 0); err != nil {
				return nil, fmt.Errorf("load messages %s: %w", sessionID, err)
			}
			if stored.PauseHistory, err = m.repo.GetPauses(ctx, sessionID); err != nil {
				return nil, fmt.Errorf("load pauses %s: %w", sessionID, err)
			}
			sess = stored
		case !create:
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		default:
			if videoID == "" {
				return nil, fmt.Errorf("%w: video id is required", domain.ErrInvalidRequest)
			}
			now := m.now()
			sess = &domain.Session{
				SessionID:    sessionID,
				VideoID:      videoID,
				Messages:     []domain.Message{},
				PauseHistory: []domain.PauseEvent{},
				CreatedAt:    now,
				LastActiveAt: now,
			}
			if err := m.repo.CreateSession(ctx, sess); err != nil {
				return nil, fmt.Errorf("create session %s: %w", sessionID, err)
			}
			m.logger.Debug("session created", "session_id", sessionID, "video_id", videoID)
		}
		m.mu.Lock()
		m.sessions[sessionID] = sess
		m.mu.Unlock()
	}

	if videoID != "" && sess.VideoID != videoID {
		return nil, fmt.Errorf("%w: session %s is bound to %s", domain.ErrSessionVideoMismatch, sessionID, sess.VideoID)
	}
	return sess, nil
}

// Scope exposes session operations inside an exclusive section.
type Scope struct {
	m       *Manager
	session *domain.Session
}

// Session returns a deep copy of the session.
func (s *Scope) Session() domain.Session {
	return clone(s.session)
}

// RecentMessages returns the last n messages, most recent last.
func (s *Scope) RecentMessages(n int) []domain.Message {
	return tail(clone(s.session).Messages, n)
}

// PauseHistory returns a copy of the pause history.
func (s *Scope) PauseHistory() []domain.PauseEvent {
	return clone(s.session).PauseHistory
}

// AppendMessage persists one message and mirrors it in memory.
func (s *Scope) AppendMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	out, err := s.appendMessages(ctx, msg)
	if err != nil {
		return domain.Message{}, err
	}
	return out[0], nil
}

// AppendTurn persists a user and assistant message pair atomically.
func (s *Scope) AppendTurn(ctx context.Context, user, assistant domain.Message) (domain.Message, domain.Message, error) {
	out, err := s.appendMessages(ctx, user, assistant)
	if err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	return out[0], out[1], nil
}

func (s *Scope) appendMessages(ctx context.Context, msgs ...domain.Message) ([]domain.Message, error) {
	now := s.m.now()
	prepared := make([]domain.Message, len(msgs))
	for i, msg := range msgs {
		if msg.MessageID == "" {
			msg.MessageID = "msg_" + uuid.New().String()[:8]
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.SessionID = s.session.SessionID
		msg.Citations = append([]domain.EvidenceItem(nil), msg.Citations...)
		prepared[i] = msg
	}

	if err := s.m.repo.AppendMessages(ctx, s.session.SessionID, now, prepared...); err != nil {
		return nil, fmt.Errorf("append messages: %w", err)
	}

	s.m.mu.Lock()
	s.session.Messages = append(s.session.Messages, prepared...)
	s.session.LastActiveAt = now
	s.m.mu.Unlock()
	return prepared, nil
}

// AppendPause persists a pause event and mirrors it in memory.
func (s *Scope) AppendPause(ctx context.Context, pause domain.PauseEvent) error {
	now := s.m.now()
	if pause.CreatedAt.IsZero() {
		pause.CreatedAt = now
	}
	pause.FlaggedConcepts = append([]string{}, pause.FlaggedConcepts...)

	if err := s.m.repo.AppendPause(ctx, s.session.SessionID, now, pause); err != nil {
		return fmt.Errorf("append pause: %w", err)
	}

	s.m.mu.Lock()
	s.session.PauseHistory = append(s.session.PauseHistory, pause)
	s.session.LastActiveAt = now
	s.m.mu.Unlock()
	return nil
}

func clone(sess *domain.Session) domain.Session {
	out := *sess
	out.Messages = make([]domain.Message, len(sess.Messages))
	for i, msg := range sess.Messages {
		msg.Citations = append([]domain.EvidenceItem(nil), msg.Citations...)
		out.Messages[i] = msg
	}
	out.PauseHistory = make([]domain.PauseEvent, len(sess.PauseHistory))
	for i, p := range sess.PauseHistory {
		p.FlaggedConcepts = append([]string(nil), p.FlaggedConcepts...)
		out.PauseHistory[i] = p
	}
	return out
}

func tail(msgs []domain.Message, n int) []domain.Message {
	if n <= 0 || n >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
