package session

import (
	"context"
	"time"
)

// RunIdleSweeper evicts sessions idle longer than the configured timeout
// until ctx is done.
func (m *Manager) RunIdleSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepIdle(ctx)
		}
	}
}

// SweepIdle removes every session whose last activity is older than the
// idle timeout. Sessions currently held by a caller are skipped.
func (m *Manager) SweepIdle(ctx context.Context) int {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cutoff := m.now().Add(-m.opts.IdleTimeout)
	idle, err := m.repo.ListIdleSessions(sweepCtx, cutoff)
	if err != nil {
		m.logger.Warn("session sweep failed", "error", err)
		return 0
	}

	evicted := 0
	for _, sessionID := range idle {
		release, ok := m.tryAcquire(sessionID)
		if !ok {
			continue
		}
		if err := m.repo.DeleteSession(sweepCtx, sessionID); err != nil {
			m.logger.Warn("failed to evict session", "session_id", sessionID, "error", err)
			release()
			continue
		}
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		release()
		evicted++
	}
	if evicted > 0 {
		m.logger.Info("evicted idle sessions", "count", evicted)
	}
	return evicted
}

func (m *Manager) tryAcquire(sessionID string) (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	select {
	case l.ch <- struct{}{}:
		l.refs++
	default:
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		return nil, false
	}

	return func() {
		<-l.ch
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}, true
}
