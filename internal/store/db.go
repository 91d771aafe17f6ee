// Package store persists finalized API call records in SQLite and in a
// per-session JSONL journal.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/theirongolddev/ccmeter/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("store: closed")
	// ErrNotFound is returned when no session matches a lookup.
	ErrNotFound = errors.New("store: session not found")
	// ErrAmbiguous is returned when a session prefix matches more than one session.
	ErrAmbiguous = errors.New("store: session prefix is ambiguous")
)

// DB is the indexed record store. It is safe for concurrent use.
type DB struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open opens or creates the database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database. Further writes return ErrClosed.
func (s *DB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

// Append stores a finalized call. A record already stored for the same
// session and turn is ignored, so replays are harmless.
func (s *DB) Append(c model.APICall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	start := formatTime(c.Timestamp)
	end := formatTime(c.Timestamp.Add(c.Duration))

	_, err = tx.Exec(`INSERT OR IGNORE INTO sessions (session_id, cwd, start_time, end_time)
		VALUES (?, ?, ?, ?)`, c.SessionID, c.Cwd, start, end)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	res, err := tx.Exec(`INSERT OR IGNORE INTO api_calls
		(session_id, turn, message_id, request_id, model,
		 input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
		 thinking_chars, text_chars, tool_chars,
		 stop_reason, error_type, status_code, estimated_cost, cwd,
		 duration_ms, timestamp, partial)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Turn, c.MessageID, c.RequestID, c.Model,
		c.InputTokens, c.OutputTokens, c.CacheWriteTokens, c.CacheReadTokens,
		c.ThinkingChars, c.TextChars, c.ToolChars,
		c.StopReason, c.ErrorType, c.StatusCode, c.EstimatedCost, c.Cwd,
		c.Duration.Milliseconds(), start, boolInt(c.Partial),
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	_, err = tx.Exec(`UPDATE sessions SET
		start_time = MIN(start_time, ?),
		end_time = MAX(end_time, ?),
		api_calls = api_calls + 1,
		input_tokens = input_tokens + ?,
		output_tokens = output_tokens + ?,
		cache_write_tokens = cache_write_tokens + ?,
		cache_read_tokens = cache_read_tokens + ?,
		estimated_cost = estimated_cost + ?
		WHERE session_id = ?`,
		start, end,
		c.InputTokens, c.OutputTokens, c.CacheWriteTokens, c.CacheReadTokens,
		c.EstimatedCost, c.SessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	return tx.Commit()
}

// LogEvent stores a side-log entry as JSON.
func (s *DB) LogEvent(sessionID string, entry map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	kind, _ := entry["kind"].(string)
	_, err = s.db.Exec(`INSERT INTO events (session_id, kind, logged_at, payload) VALUES (?, ?, ?, ?)`,
		sessionID, kind, formatTime(time.Now()), string(payload))
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
