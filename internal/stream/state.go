// Package stream folds Messages API stream events into a running usage snapshot.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// BlockKind classifies a content block for character accounting.
type BlockKind string

const (
	KindThinking   BlockKind = "thinking"
	KindText       BlockKind = "text"
	KindToolUse    BlockKind = "tool_use"
	KindToolResult BlockKind = "tool_result"
)

// Block tracks one content block by its stream index.
// Chars only ever grows.
type Block struct {
	Index int
	Kind  BlockKind
	Chars int64
}

// Usage is a token count snapshot.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// State is the accumulated view of a single in-flight stream.
type State struct {
	MessageID  string
	Model      string
	Usage      Usage
	StopReason string
	ErrorType  string

	// Blocks are kept in the order they were opened.
	Blocks []Block

	// Events counts every payload applied, including ignored types.
	Events int
}

// CharTotals sums block characters by accounting kind.
// Tool use and tool results are reported together.
func (s *State) CharTotals() (thinking, text, tool int64) {
	for _, b := range s.Blocks {
		switch b.Kind {
		case KindThinking:
			thinking += b.Chars
		case KindToolUse, KindToolResult:
			tool += b.Chars
		default:
			text += b.Chars
		}
	}
	return thinking, text, tool
}

func (s *State) block(index int) *Block {
	for i := range s.Blocks {
		if s.Blocks[i].Index == index {
			return &s.Blocks[i]
		}
	}
	return nil
}

type wireUsage struct {
	InputTokens              int64  `json:"input_tokens"`
	OutputTokens             *int64 `json:"output_tokens"`
	CacheCreationInputTokens int64  `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64  `json:"cache_read_input_tokens"`
}

type wireEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string     `json:"id"`
		Model string     `json:"model"`
		Usage *wireUsage `json:"usage"`
	} `json:"message"`
	Index        int `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
	} `json:"content_block"`
	Delta *struct {
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *wireUsage `json:"usage"`
	Error *struct {
		Type string `json:"type"`
	} `json:"error"`
}

// Apply folds one event into st. Unknown event types are counted and
// otherwise ignored. The only error is a payload that is not a JSON object.
func Apply(eventType string, payload json.RawMessage, st *State) error {
	var ev wireEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	if eventType == "" {
		eventType = ev.Type
	}
	st.Events++

	switch eventType {
	case "message_start":
		if ev.Message == nil {
			return nil
		}
		st.MessageID = ev.Message.ID
		if ev.Message.Model != "" {
			st.Model = ev.Message.Model
		}
		if u := ev.Message.Usage; u != nil {
			st.Usage = Usage{
				InputTokens:      u.InputTokens,
				OutputTokens:     deref(u.OutputTokens),
				CacheWriteTokens: u.CacheCreationInputTokens,
				CacheReadTokens:  u.CacheReadInputTokens,
			}
		}

	case "content_block_start":
		if st.block(ev.Index) != nil {
			return nil
		}
		kind := KindText
		if ev.ContentBlock != nil {
			kind = classify(ev.ContentBlock.Type)
		}
		st.Blocks = append(st.Blocks, Block{Index: ev.Index, Kind: kind})

	case "content_block_delta":
		b := st.block(ev.Index)
		if b == nil || ev.Delta == nil {
			return nil
		}
		switch {
		case ev.Delta.Text != "":
			b.Chars += int64(utf8.RuneCountInString(ev.Delta.Text))
		case ev.Delta.Thinking != "":
			b.Chars += int64(utf8.RuneCountInString(ev.Delta.Thinking))
		case ev.Delta.PartialJSON != "":
			b.Chars += int64(utf8.RuneCountInString(ev.Delta.PartialJSON))
		}

	case "message_delta":
		if u := ev.Usage; u != nil {
			if u.OutputTokens != nil {
				st.Usage.OutputTokens = *u.OutputTokens
			}
			if u.InputTokens != 0 {
				st.Usage.InputTokens = u.InputTokens
			}
			if u.CacheCreationInputTokens != 0 {
				st.Usage.CacheWriteTokens = u.CacheCreationInputTokens
			}
			if u.CacheReadInputTokens != 0 {
				st.Usage.CacheReadTokens = u.CacheReadInputTokens
			}
		}
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			st.StopReason = ev.Delta.StopReason
		}

	case "error":
		st.ErrorType = "error"
		if ev.Error != nil && ev.Error.Type != "" {
			st.ErrorType = ev.Error.Type
		}
	}
	return nil
}

func deref(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

// classify maps a wire content block type onto an accounting kind.
func classify(blockType string) BlockKind {
	switch {
	case blockType == "thinking", blockType == "redacted_thinking":
		return KindThinking
	case blockType == "tool_use", blockType == "server_tool_use", blockType == "mcp_tool_use":
		return KindToolUse
	case blockType == "tool_result", strings.HasSuffix(blockType, "_tool_result"):
		return KindToolResult
	default:
		return KindText
	}
}
