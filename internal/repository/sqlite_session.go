package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/lectern/internal/domain"
)

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, video_id, created_at, last_active_at) VALUES (?, ?, ?, ?)`,
		session.SessionID, session.VideoID, session.CreatedAt, session.LastActiveAt)
	return err
}

// GetSession retrieves a session header by ID. Messages and pauses are loaded separately.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, video_id, created_at, last_active_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &session.VideoID, &session.CreatedAt, &session.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetMessages retrieves the most recent messages of a session, oldest first.
// A non-positive limit returns the whole history.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `SELECT message_id, session_id, turn_id, role, content, citations, created_at FROM messages WHERE session_id = ? ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var turnID, citations sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &turnID, &msg.Role, &msg.Text, &citations, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.TurnID = turnID.String
		if citations.Valid && citations.String != "" {
			if err := json.Unmarshal([]byte(citations.String), &msg.Citations); err != nil {
				return nil, fmt.Errorf("decode citations for %s: %w", msg.MessageID, err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetPauses retrieves the pause history of a session in arrival order.
func (s *SQLiteStore) GetPauses(ctx context.Context, sessionID string) ([]domain.PauseEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, window_start, window_end, flagged_concepts, created_at FROM pauses WHERE session_id = ? ORDER BY pause_id ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pauses []domain.PauseEvent
	for rows.Next() {
		var p domain.PauseEvent
		var flagged sql.NullString
		if err := rows.Scan(&p.Timestamp, &p.WindowStart, &p.WindowEnd, &flagged, &p.CreatedAt); err != nil {
			return nil, err
		}
		if flagged.Valid && flagged.String != "" {
			if err := json.Unmarshal([]byte(flagged.String), &p.FlaggedConcepts); err != nil {
				return nil, fmt.Errorf("decode flagged concepts: %w", err)
			}
		}
		pauses = append(pauses, p)
	}
	return pauses, rows.Err()
}

// AppendMessages inserts messages and bumps last_active_at in one transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, activeAt time.Time, messages ...domain.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, msg := range messages {
			var citations sql.NullString
			if len(msg.Citations) > 0 {
				data, err := json.Marshal(msg.Citations)
				if err != nil {
					return fmt.Errorf("encode citations: %w", err)
				}
				citations = sql.NullString{String: string(data), Valid: true}
			}
			var turnID sql.NullString
			if msg.TurnID != "" {
				turnID = sql.NullString{String: msg.TurnID, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (message_id, session_id, turn_id, role, content, citations, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				msg.MessageID, sessionID, turnID, msg.Role, msg.Text, citations, msg.CreatedAt); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
		return touchSession(ctx, tx, sessionID, activeAt)
	})
}

// AppendPause inserts a pause event and bumps last_active_at in one transaction.
func (s *SQLiteStore) AppendPause(ctx context.Context, sessionID string, activeAt time.Time, pause domain.PauseEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		flagged, err := json.Marshal(pause.FlaggedConcepts)
		if err != nil {
			return fmt.Errorf("encode flagged concepts: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pauses (session_id, ts, window_start, window_end, flagged_concepts, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, pause.Timestamp, pause.WindowStart, pause.WindowEnd, string(flagged), pause.CreatedAt); err != nil {
			return fmt.Errorf("insert pause: %w", err)
		}
		return touchSession(ctx, tx, sessionID, activeAt)
	})
}

func touchSession(ctx context.Context, tx *sql.Tx, sessionID string, activeAt time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET last_active_at = ? WHERE session_id = ?`, activeAt, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("touch session %s: no such session", sessionID)
	}
	return nil
}

// ListIdleSessions returns ids of sessions inactive since before.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE last_active_at < ? ORDER BY last_active_at ASC`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSession removes a session with its messages, pauses and turn traces.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM turn_events WHERE turn_id IN (SELECT turn_id FROM turns WHERE session_id = ?)`,
			`DELETE FROM turns WHERE session_id = ?`,
			`DELETE FROM messages WHERE session_id = ?`,
			`DELETE FROM pauses WHERE session_id = ?`,
			`DELETE FROM sessions WHERE session_id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
				return fmt.Errorf("delete session %s: %w", sessionID, err)
			}
		}
		return nil
	})
}

// CreateTurn creates a new turn.
func (s *SQLiteStore) CreateTurn(ctx context.Context, turn *domain.Turn) error {
	var intent sql.NullString
	if turn.Intent != "" {
		intent = sql.NullString{String: string(turn.Intent), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (turn_id, session_id, video_id, state, intent, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.TurnID, turn.SessionID, turn.VideoID, turn.State, intent, turn.StartedAt)
	return err
}

// GetTurn retrieves a turn by ID.
func (s *SQLiteStore) GetTurn(ctx context.Context, turnID string) (*domain.Turn, error) {
	var turn domain.Turn
	var intent, errData sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT turn_id, session_id, video_id, state, intent, started_at, ended_at, error FROM turns WHERE turn_id = ?`,
		turnID).Scan(&turn.TurnID, &turn.SessionID, &turn.VideoID, &turn.State, &intent, &turn.StartedAt, &endedAt, &errData)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	turn.Intent = domain.Intent(intent.String)
	if endedAt.Valid {
		turn.EndedAt = &endedAt.Time
	}
	if errData.Valid {
		turn.Error = json.RawMessage(errData.String)
	}
	return &turn, nil
}

// UpdateTurnState records a state transition.
func (s *SQLiteStore) UpdateTurnState(ctx context.Context, turnID string, state domain.TurnState, intent domain.Intent) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE turns SET state = ?, intent = COALESCE(NULLIF(?, ''), intent) WHERE turn_id = ?`,
		state, string(intent), turnID)
	return err
}

// UpdateTurnCompleted moves a turn into a terminal state.
func (s *SQLiteStore) UpdateTurnCompleted(ctx context.Context, turnID string, state domain.TurnState, errData []byte) error {
	now := time.Now()
	var errStr sql.NullString
	if errData != nil {
		errStr = sql.NullString{String: string(errData), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE turns SET state = ?, ended_at = ?, error = ? WHERE turn_id = ?`,
		state, now, errStr, turnID)
	return err
}

// CreateTurnEvent creates a new turn event.
func (s *SQLiteStore) CreateTurnEvent(ctx context.Context, event *domain.TurnEvent) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_events (event_id, turn_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.TurnID, event.Ts, event.Type, payload)
	return err
}

// GetTurnEvents retrieves events for a turn.
func (s *SQLiteStore) GetTurnEvents(ctx context.Context, turnID string, afterTs int64, types []string, limit int) ([]domain.TurnEvent, error) {
	query := `SELECT event_id, turn_id, ts, type, payload FROM turn_events WHERE turn_id = ?`
	args := []interface{}{turnID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TurnEvent
	for rows.Next() {
		var event domain.TurnEvent
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.TurnID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
