package repository

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/lectern/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			video_id TEXT PRIMARY KEY,
			title TEXT,
			duration_seconds REAL NOT NULL DEFAULT 0,
			segment_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			segment_id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			sequence_index INTEGER NOT NULL,
			start_time REAL NOT NULL,
			end_time REAL NOT NULL,
			text TEXT NOT NULL,
			FOREIGN KEY (video_id) REFERENCES videos(video_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_segments_video_seq ON segments(video_id, sequence_index)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			content_hash TEXT NOT NULL,
			model TEXT NOT NULL,
			dims INTEGER NOT NULL,
			vector BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (content_hash, model)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_active_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(last_active_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			citations TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS pauses (
			pause_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			ts REAL NOT NULL,
			window_start REAL NOT NULL,
			window_end REAL NOT NULL,
			flagged_concepts TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pauses_session ON pauses(session_id, pause_id)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			video_id TEXT NOT NULL,
			state TEXT NOT NULL,
			intent TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS turn_events (
			event_id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (turn_id) REFERENCES turns(turn_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_events_turn ON turn_events(turn_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first schema (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("messages", "turn_id", "ALTER TABLE messages ADD COLUMN turn_id TEXT"); err != nil {
		return err
	}
	if err := s.ensureColumn("videos", "title", "ALTER TABLE videos ADD COLUMN title TEXT"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReplaceTranscript stores a video and swaps its segments in one transaction.
func (s *SQLiteStore) ReplaceTranscript(ctx context.Context, video *domain.Video, segments []domain.TranscriptSegment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var title sql.NullString
		if video.Title != "" {
			title = sql.NullString{String: video.Title, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO videos (video_id, title, duration_seconds, segment_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(video_id) DO UPDATE SET
			   title = COALESCE(excluded.title, videos.title),
			   duration_seconds = excluded.duration_seconds,
			   segment_count = excluded.segment_count,
			   updated_at = excluded.updated_at`,
			video.VideoID, title, video.DurationSeconds, video.SegmentCount, video.CreatedAt, video.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert video: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE video_id = ?`, video.VideoID); err != nil {
			return fmt.Errorf("delete segments: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO segments (segment_id, video_id, sequence_index, start_time, end_time, text) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, seg := range segments {
			if _, err := stmt.ExecContext(ctx, seg.SegmentID, seg.VideoID, seg.SequenceIndex, seg.StartTime, seg.EndTime, seg.Text); err != nil {
				return fmt.Errorf("insert segment %s: %w", seg.SegmentID, err)
			}
		}
		return nil
	})
}

// GetVideo retrieves a video by ID.
func (s *SQLiteStore) GetVideo(ctx context.Context, videoID string) (*domain.Video, error) {
	var video domain.Video
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT video_id, title, duration_seconds, segment_count, created_at, updated_at FROM videos WHERE video_id = ?`,
		videoID).Scan(&video.VideoID, &title, &video.DurationSeconds, &video.SegmentCount, &video.CreatedAt, &video.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	video.Title = title.String
	return &video, nil
}

// ListVideos lists all ingested videos.
func (s *SQLiteStore) ListVideos(ctx context.Context) ([]domain.Video, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id, title, duration_seconds, segment_count, created_at, updated_at FROM videos ORDER BY video_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []domain.Video
	for rows.Next() {
		var video domain.Video
		var title sql.NullString
		if err := rows.Scan(&video.VideoID, &title, &video.DurationSeconds, &video.SegmentCount, &video.CreatedAt, &video.UpdatedAt); err != nil {
			return nil, err
		}
		video.Title = title.String
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

// GetSegments retrieves the segments of a video ordered by sequence index.
func (s *SQLiteStore) GetSegments(ctx context.Context, videoID string) ([]domain.TranscriptSegment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT segment_id, video_id, sequence_index, start_time, end_time, text FROM segments WHERE video_id = ? ORDER BY sequence_index ASC`,
		videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []domain.TranscriptSegment
	for rows.Next() {
		var seg domain.TranscriptSegment
		if err := rows.Scan(&seg.SegmentID, &seg.VideoID, &seg.SequenceIndex, &seg.StartTime, &seg.EndTime, &seg.Text); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// GetEmbeddings returns cached vectors for the given content hashes. Missing hashes are absent from the map.
func (s *SQLiteStore) GetEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(hashes))
	args := []interface{}{model}
	for i, h := range hashes {
		placeholders[i] = "?"
		args = append(args, h)
	}
	query := fmt.Sprintf(`SELECT content_hash, vector FROM embeddings WHERE model = ? AND content_hash IN (%s)`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, err
		}
		out[hash] = decodeVector(blob)
	}
	return out, rows.Err()
}

// PutEmbeddings upserts vectors keyed by content hash.
func (s *SQLiteStore) PutEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO embeddings (content_hash, model, dims, vector, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(content_hash, model) DO UPDATE SET dims = excluded.dims, vector = excluded.vector`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		now := time.Now()
		for hash, vec := range vectors {
			if _, err := stmt.ExecContext(ctx, hash, model, len(vec), encodeVector(vec), now); err != nil {
				return fmt.Errorf("insert embedding: %w", err)
			}
		}
		return nil
	})
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
