package sse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_01\",\"model\":\"claude-sonnet-4-5\",\"usage\":{\"input_tokens\":12,\"output_tokens\":1}}}\n" +
	"\n" +
	": keep-alive\n" +
	"event: content_block_start\r\n" +
	"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\r\n" +
	"\r\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"héllo wörld ✓\"}}\n" +
	"\n" +
	"id: 7\n" +
	"retry: 1000\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":9}}\n" +
	"\n" +
	"data: [DONE]\n" +
	"\n"

func feedAll(b *Buffer, chunks ...[]byte) []Event {
	var out []Event
	for _, c := range chunks {
		out = append(out, b.Feed(c)...)
	}
	return append(out, b.Flush()...)
}

func types(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestFeedWholeStream(t *testing.T) {
	var b Buffer
	events := feedAll(&b, []byte(sampleStream))

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"message_delta",
	}, types(events))
	assert.Zero(t, b.ParseErrors)
	assert.Zero(t, b.Pending())

	var delta struct {
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
	}
	require.NoError(t, json.Unmarshal(events[2].Data, &delta))
	assert.Equal(t, "héllo wörld ✓", delta.Delta.Text)
}

func TestFeedChunkBoundaryInvariance(t *testing.T) {
	var whole Buffer
	want := feedAll(&whole, []byte(sampleStream))

	raw := []byte(sampleStream)
	for size := 1; size <= 17; size++ {
		var b Buffer
		var chunks [][]byte
		for i := 0; i < len(raw); i += size {
			end := min(i+size, len(raw))
			chunks = append(chunks, raw[i:end])
		}
		got := feedAll(&b, chunks...)
		require.Equal(t, want, got, "chunk size %d", size)
		assert.Zero(t, b.ParseErrors, "chunk size %d", size)
	}
}

func TestFeedSplitMultibyteCharacter(t *testing.T) {
	line := []byte("data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"text\":\"✓\"}}\n")
	// "✓" is three bytes; cut inside it.
	cut := 0
	for i := range line {
		if line[i] == 0xE2 {
			cut = i + 1
			break
		}
	}
	require.NotZero(t, cut)

	var b Buffer
	assert.Empty(t, b.Feed(line[:cut]))
	events := b.Feed(line[cut:])
	require.Len(t, events, 1)
	assert.Equal(t, "content_block_delta", events[0].Type)
	assert.Contains(t, string(events[0].Data), "✓")
}

func TestFeedSplitDoneSentinel(t *testing.T) {
	var b Buffer
	assert.Empty(t, b.Feed([]byte("data: [DO")))
	assert.Empty(t, b.Feed([]byte("NE]")))
	assert.Empty(t, b.Feed([]byte("\n\n")))
	assert.Zero(t, b.ParseErrors)
}

func TestFeedEventTypeContext(t *testing.T) {
	var b Buffer
	events := feedAll(&b, []byte(
		"event: custom\n"+
			"data: {\"type\":\"ignored\"}\n"+
			"data: {\"type\":\"also_ignored\"}\n"+
			"\n"+
			"data: {\"type\":\"from_payload\"}\n"+
			"\n"))

	assert.Equal(t, []string{"custom", "custom", "from_payload"}, types(events))
}

func TestFeedSkipsMalformedPayload(t *testing.T) {
	var b Buffer
	events := feedAll(&b, []byte(
		"data: {not json}\n"+
			"data:\n"+
			"data: {\"type\":\"ping\"}\n"))

	require.Len(t, events, 1)
	assert.Equal(t, "ping", events[0].Type)
	assert.Equal(t, 1, b.ParseErrors)
}

func TestFlushDanglingLine(t *testing.T) {
	var b Buffer
	assert.Empty(t, b.Feed([]byte("event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":4}}")))
	assert.Positive(t, b.Pending())

	events := b.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, "message_delta", events[0].Type)
	assert.Zero(t, b.Pending())
}

func TestFlushRepairsTruncatedPayload(t *testing.T) {
	var b Buffer
	b.Feed([]byte("data: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":42"))

	events := b.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, "message_delta", events[0].Type)

	var p struct {
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(events[0].Data, &p))
	assert.Equal(t, 42, p.Usage.OutputTokens)
}

func TestEventDataIsNotAliased(t *testing.T) {
	var b Buffer
	events := b.Feed([]byte("data: {\"type\":\"a\"}\n"))
	require.Len(t, events, 1)
	b.Feed([]byte("data: {\"type\":\"b\"}\n"))
	assert.JSONEq(t, `{"type":"a"}`, string(events[0].Data))
}

func FuzzFeed(f *testing.F) {
	f.Add([]byte(sampleStream), 3)
	f.Add([]byte("data: {\"type\":\"x\"}\r\n\r\n"), 1)
	f.Add([]byte("event: \xff\ndata: [DONE]\n"), 2)

	f.Fuzz(func(t *testing.T, data []byte, size int) {
		if size <= 0 || size > len(data)+1 {
			size = 1
		}

		var whole Buffer
		want := feedAll(&whole, data)

		var split Buffer
		var got []Event
		for i := 0; i < len(data); i += size {
			got = append(got, split.Feed(data[i:min(i+size, len(data))])...)
		}
		got = append(got, split.Flush()...)

		if len(want) != len(got) {
			t.Fatalf("event count differs: whole=%d split=%d", len(want), len(got))
		}
		for i := range want {
			if want[i].Type != got[i].Type || string(want[i].Data) != string(got[i].Data) {
				t.Fatalf("event %d differs", i)
			}
		}
	})
}
