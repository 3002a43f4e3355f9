// Package history persists conversations to SQLite and replays them on the
// chat channel's history request.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sprite-ai/spritegate/pkg/types"
)

// DefaultLimit caps a history replay when the client does not ask for a
// specific count.
const DefaultLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	sprite_name TEXT UNIQUE NOT NULL,
	created_at INTEGER NOT NULL,
	last_active INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	resume_id TEXT,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	FOREIGN KEY (user_id) REFERENCES users(user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_uses TEXT,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// Store is the SQLite-backed history database. Safe for concurrent use; the
// driver serializes writes and busy_timeout covers contention.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the history database at path. Use ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_fk=on")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureUser upserts the user row and bumps last_active.
func (s *Store) EnsureUser(userID, spriteName string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, sprite_name, created_at, last_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_active = excluded.last_active`,
		userID, spriteName, now, now)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return nil
}

// User returns the user row, or sql.ErrNoRows wrapped as not-found.
func (s *Store) User(userID string) (types.User, error) {
	var u types.User
	err := s.db.QueryRow(
		`SELECT user_id, sprite_name, created_at, last_active FROM users WHERE user_id = ?`,
		userID).Scan(&u.UserID, &u.SpriteName, &u.CreatedAt, &u.LastActive)
	if err != nil {
		return types.User{}, err
	}
	return u, nil
}

// ActiveConversation returns the user's open conversation id, starting a new
// one when none is open.
func (s *Store) ActiveConversation(userID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`
		SELECT id FROM conversations
		WHERE user_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, userID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find conversation for %s: %w", userID, err)
	}

	res, err := s.db.Exec(
		`INSERT INTO conversations (user_id, started_at) VALUES (?, ?)`,
		userID, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("start conversation for %s: %w", userID, err)
	}
	return res.LastInsertId()
}

// EndConversation closes the user's open conversation. The next message
// starts a fresh one. A user with no open conversation is a no-op.
func (s *Store) EndConversation(userID string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET ended_at = ? WHERE user_id = ? AND ended_at IS NULL`,
		time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("end conversation for %s: %w", userID, err)
	}
	return nil
}

// SetResumeID records the agent resume handle on a conversation.
func (s *Store) SetResumeID(conversationID int64, resumeID string) error {
	_, err := s.db.Exec(
		`UPDATE conversations SET resume_id = ? WHERE id = ?`, resumeID, conversationID)
	return err
}

// ResumeID returns the resume handle of the user's open conversation, if any.
func (s *Store) ResumeID(userID string) (string, error) {
	var id sql.NullString
	err := s.db.QueryRow(`
		SELECT resume_id FROM conversations
		WHERE user_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id.String, nil
}

// AddMessage appends a message to a conversation.
func (s *Store) AddMessage(conversationID int64, role, content string, toolUses []types.ToolEvent) error {
	var toolJSON any
	if len(toolUses) > 0 {
		data, err := json.Marshal(toolUses)
		if err != nil {
			return fmt.Errorf("encode tool uses: %w", err)
		}
		toolJSON = string(data)
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (conversation_id, role, content, tool_uses, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		conversationID, role, content, toolJSON, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

// Recent returns the newest messages of the user's current conversation in
// chronological order. limit <= 0 means DefaultLimit.
func (s *Store) Recent(userID string, limit int) ([]types.HistoryMessage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var convID int64
	err := s.db.QueryRow(`
		SELECT id FROM conversations
		WHERE user_id = ?
		ORDER BY started_at DESC LIMIT 1`, userID).Scan(&convID)
	if errors.Is(err, sql.ErrNoRows) {
		return []types.HistoryMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation for %s: %w", userID, err)
	}

	rows, err := s.db.Query(`
		SELECT id, conversation_id, role, content, tool_uses, created_at
		FROM (
			SELECT * FROM messages WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, convID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []types.HistoryMessage
	for rows.Next() {
		var m types.HistoryMessage
		var toolJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &toolJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		if toolJSON.Valid && toolJSON.String != "" {
			if err := json.Unmarshal([]byte(toolJSON.String), &m.ToolUses); err != nil {
				return nil, fmt.Errorf("decode tool uses: %w", err)
			}
		}
		out = append(out, m)
	}
	if out == nil {
		out = []types.HistoryMessage{}
	}
	return out, rows.Err()
}

// Conversations lists the user's conversations, newest first.
func (s *Store) Conversations(userID string, limit int) ([]types.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, COALESCE(resume_id, ''), started_at, ended_at
		FROM conversations WHERE user_id = ?
		ORDER BY started_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Conversation
	for rows.Next() {
		var c types.Conversation
		var ended sql.NullInt64
		if err := rows.Scan(&c.ID, &c.UserID, &c.ResumeID, &c.StartedAt, &ended); err != nil {
			return nil, err
		}
		if ended.Valid {
			c.EndedAt = &ended.Int64
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
