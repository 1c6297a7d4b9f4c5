package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"MedChat/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	preview TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	possible_diseases TEXT NOT NULL DEFAULT '[]',
	ask_confirmation INTEGER,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, position);`

// Store persists the session list and transcripts in SQLite
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path. Use ":memory:" in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession inserts or updates a registry entry
func (s *Store) SaveSession(ctx context.Context, sess session.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			preview = excluded.preview,
			updated_at = excluded.updated_at`,
		sess.ID, sess.Title, sess.LastMessagePreview, sess.CreatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

// ListSessions returns stored entries, most recently created first
func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, preview, created_at FROM sessions ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []session.Session{}
	for rows.Next() {
		var sess session.Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.LastMessagePreview, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveTranscript replaces the stored messages of a session. The session row
// must exist.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, messages []session.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_id, position, role, content, timestamp, possible_diseases, ask_confirmation)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, msg := range messages {
		diseases := msg.PossibleDiseases
		if diseases == nil {
			diseases = []string{}
		}
		encoded, err := json.Marshal(diseases)
		if err != nil {
			return fmt.Errorf("failed to encode possible diseases: %w", err)
		}
		var ask sql.NullBool
		if msg.AskConfirmation != nil {
			ask = sql.NullBool{Bool: *msg.AskConfirmation, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, sessionID, i, string(msg.Role), msg.Content, msg.Timestamp, string(encoded), ask); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("transcript saved", "session_id", sessionID, "message_count", len(messages))
	return nil
}

// LoadTranscript returns the stored messages of a session in order
func (s *Store) LoadTranscript(ctx context.Context, sessionID string) ([]session.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp, possible_diseases, ask_confirmation
		FROM messages WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var (
			msg      session.Message
			role     string
			diseases string
			ask      sql.NullBool
		)
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp, &diseases, &ask); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = session.Role(role)
		if err := json.Unmarshal([]byte(diseases), &msg.PossibleDiseases); err != nil {
			return nil, fmt.Errorf("failed to decode possible diseases: %w", err)
		}
		if ask.Valid {
			v := ask.Bool
			msg.AskConfirmation = &v
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
