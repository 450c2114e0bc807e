package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_calls   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
`

// SQLiteStore is the persistent backend. Ordering within a session comes
// from the auto-incrementing seq column.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc's driver is not safe for concurrent writes on one connection
	// pool without serialization; a single connection keeps it simple.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ensureSession(tx *sql.Tx, sessionKey string) error {
	now := time.Now().UTC()
	_, err := tx.Exec(
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`, sessionKey, now, now)
	return err
}

func (s *SQLiteStore) Add(sessionKey string, msg providers.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.ensureSession(tx, sessionKey); err != nil {
		return err
	}
	toolCalls := ""
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(data)
	}
	_, err = tx.Exec(
		`INSERT INTO messages (session_id, role, content, tool_call_id, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionKey, msg.Role, msg.Content, msg.ToolCallID, toolCalls, time.Now().UTC())
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Messages(sessionKey string) ([]providers.Message, error) {
	rows, err := s.db.Query(
		`SELECT role, content, tool_call_id, tool_calls
		 FROM messages WHERE session_id = ? ORDER BY seq`, sessionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []providers.Message
	for rows.Next() {
		var msg providers.Message
		var toolCalls string
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.ToolCallID, &toolCalls); err != nil {
			return nil, err
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		out = append(out, msg)
	}
	if out == nil {
		out = []providers.Message{}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Replace(sessionKey string, msgs []providers.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.ensureSession(tx, sessionKey); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionKey); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, msg := range msgs {
		toolCalls := ""
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = string(data)
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (session_id, role, content, tool_call_id, tool_calls, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sessionKey, msg.Role, msg.Content, msg.ToolCallID, toolCalls, now); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionKey); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Clear(sessionKey string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionKey)
	return err
}

func (s *SQLiteStore) Len(sessionKey string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionKey).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Touch(sessionKey string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), sessionKey)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
