package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/ccmeter/internal/model"
)

// ListSessions returns the most recent sessions, newest first.
// A limit of zero or less returns all of them.
func (s *DB) ListSessions(limit int) ([]model.SessionStats, error) {
	query := `SELECT session_id, cwd, start_time, end_time, api_calls,
		input_tokens, output_tokens, cache_write_tokens, cache_read_tokens, estimated_cost
		FROM sessions ORDER BY start_time DESC, session_id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []model.SessionStats
	for rows.Next() {
		var st model.SessionStats
		var cwd sql.NullString
		var start, end string
		err := rows.Scan(&st.SessionID, &cwd, &start, &end, &st.APICalls,
			&st.InputTokens, &st.OutputTokens, &st.CacheWriteTokens, &st.CacheReadTokens,
			&st.EstimatedCost)
		if err != nil {
			return nil, err
		}
		st.Cwd = cwd.String
		st.StartTime = parseTime(start)
		st.EndTime = parseTime(end)
		sessions = append(sessions, st)
	}
	return sessions, rows.Err()
}

// ResolveSession expands a session id prefix to the full id.
func (s *DB) ResolveSession(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrNotFound
	}
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(prefix)

	rows, err := s.db.Query(`SELECT session_id FROM sessions WHERE session_id LIKE ? ESCAPE '\' LIMIT 2`, escaped+"%")
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%q: %w", prefix, ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		for _, id := range ids {
			if id == prefix {
				return id, nil
			}
		}
		return "", fmt.Errorf("%q: %w", prefix, ErrAmbiguous)
	}
}

// ListCalls returns every stored call for a session in turn order.
func (s *DB) ListCalls(sessionID string) ([]model.APICall, error) {
	rows, err := s.db.Query(`SELECT session_id, turn, message_id, request_id, model,
		input_tokens, output_tokens, cache_write_tokens, cache_read_tokens,
		thinking_chars, text_chars, tool_chars,
		stop_reason, error_type, status_code, estimated_cost, cwd,
		duration_ms, timestamp, partial
		FROM api_calls WHERE session_id = ? ORDER BY turn`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var calls []model.APICall
	for rows.Next() {
		var c model.APICall
		var messageID, requestID, stopReason, errorType, cwd sql.NullString
		var status sql.NullInt64
		var durationMs int64
		var ts string
		var partial int

		err := rows.Scan(&c.SessionID, &c.Turn, &messageID, &requestID, &c.Model,
			&c.InputTokens, &c.OutputTokens, &c.CacheWriteTokens, &c.CacheReadTokens,
			&c.ThinkingChars, &c.TextChars, &c.ToolChars,
			&stopReason, &errorType, &status, &c.EstimatedCost, &cwd,
			&durationMs, &ts, &partial)
		if err != nil {
			return nil, err
		}
		c.MessageID = messageID.String
		c.RequestID = requestID.String
		c.StopReason = stopReason.String
		c.ErrorType = errorType.String
		c.StatusCode = int(status.Int64)
		c.Cwd = cwd.String
		c.Duration = time.Duration(durationMs) * time.Millisecond
		c.Timestamp = parseTime(ts)
		c.Partial = partial != 0
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// Summary aggregates all calls at or after since. A zero since covers
// everything stored.
func (s *DB) Summary(since time.Time) (model.SummaryStats, error) {
	var st model.SummaryStats
	err := s.db.QueryRow(`SELECT
		COUNT(DISTINCT session_id), COUNT(*), COALESCE(SUM(partial), 0),
		COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cache_write_tokens), 0), COALESCE(SUM(cache_read_tokens), 0),
		COALESCE(SUM(thinking_chars), 0), COALESCE(SUM(text_chars), 0), COALESCE(SUM(tool_chars), 0),
		COALESCE(SUM(estimated_cost), 0)
		FROM api_calls WHERE timestamp >= ?`, formatTime(since)).Scan(
		&st.TotalSessions, &st.TotalAPICalls, &st.PartialCalls,
		&st.InputTokens, &st.OutputTokens, &st.CacheWriteTokens, &st.CacheReadTokens,
		&st.ThinkingChars, &st.TextChars, &st.ToolChars,
		&st.EstimatedCost,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, err
	}

	if denom := st.InputTokens + st.CacheWriteTokens + st.CacheReadTokens; denom > 0 {
		st.CacheHitRate = float64(st.CacheReadTokens) / float64(denom)
	}
	return st, nil
}

// ModelBreakdown aggregates calls at or after since by model, most
// expensive first.
func (s *DB) ModelBreakdown(since time.Time) ([]model.ModelStats, error) {
	rows, err := s.db.Query(`SELECT model, COUNT(*),
		SUM(input_tokens), SUM(output_tokens), SUM(cache_read_tokens), SUM(estimated_cost)
		FROM api_calls WHERE timestamp >= ?
		GROUP BY model ORDER BY SUM(estimated_cost) DESC, model`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ModelStats
	var total float64
	for rows.Next() {
		var ms model.ModelStats
		if err := rows.Scan(&ms.Model, &ms.APICalls, &ms.InputTokens, &ms.OutputTokens, &ms.CacheReadTokens, &ms.EstimatedCost); err != nil {
			return nil, err
		}
		total += ms.EstimatedCost
		out = append(out, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if total > 0 {
			out[i].SharePercent = out[i].EstimatedCost / total * 100
		}
	}
	return out, nil
}
