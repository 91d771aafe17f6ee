package model

import "time"

// SessionStats holds aggregated metrics for one supervised run, as stored.
type SessionStats struct {
	SessionID string
	Cwd       string
	StartTime time.Time
	EndTime   time.Time
	APICalls  int

	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64

	EstimatedCost float64
}

// SummaryStats holds the top-level aggregate across sessions in a window.
type SummaryStats struct {
	TotalSessions int
	TotalAPICalls int
	PartialCalls  int

	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64

	ThinkingChars int64
	TextChars     int64
	ToolChars     int64

	EstimatedCost float64
	CacheHitRate  float64
}

// ModelStats holds aggregated metrics for a single model.
type ModelStats struct {
	Model           string
	APICalls        int
	InputTokens     int64
	OutputTokens    int64
	CacheReadTokens int64
	EstimatedCost   float64
	SharePercent    float64
}
