// Package model defines domain types for ccmeter records and the session ledger.
package model

import "time"

// APICall is the immutable record of one finalized streaming API call.
// Exactly one is produced per observed stream.
type APICall struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	MessageID string `json:"message_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Model     string `json:"model"`

	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`

	ThinkingChars int64 `json:"thinking_chars"`
	TextChars     int64 `json:"text_chars"`
	ToolChars     int64 `json:"tool_chars"`

	StopReason    string        `json:"stop_reason,omitempty"`
	ErrorType     string        `json:"error_type,omitempty"`
	StatusCode    int           `json:"status_code,omitempty"`
	EstimatedCost float64       `json:"estimated_cost_usd"`
	Cwd           string        `json:"cwd,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	Timestamp     time.Time     `json:"timestamp"`

	// Partial is set when the record was produced by a forced flush
	// rather than by the stream's own completion.
	Partial bool `json:"partial,omitempty"`
}

// TotalTokens returns the billed token total (cache reads excluded).
func (c APICall) TotalTokens() int64 {
	return c.InputTokens + c.OutputTokens + c.CacheWriteTokens
}

// Ledger is a point-in-time copy of the cumulative session counters.
type Ledger struct {
	SessionID        string    `json:"session_id"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Turns            int       `json:"turns"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	CacheWriteTokens int64     `json:"cache_write_tokens"`
	CacheReadTokens  int64     `json:"cache_read_tokens"`
	EstimatedCost    float64   `json:"estimated_cost_usd"`
	LastModel        string    `json:"last_model,omitempty"`
	LastTurnCost     float64   `json:"last_turn_cost_usd"`
}

// Add folds a finalized call into the ledger.
func (l *Ledger) Add(c APICall) {
	l.Turns++
	l.InputTokens += c.InputTokens
	l.OutputTokens += c.OutputTokens
	l.CacheWriteTokens += c.CacheWriteTokens
	l.CacheReadTokens += c.CacheReadTokens
	l.EstimatedCost += c.EstimatedCost
	if c.Model != "" {
		l.LastModel = c.Model
	}
	l.LastTurnCost = c.EstimatedCost
	l.UpdatedAt = c.Timestamp.Add(c.Duration)
}
