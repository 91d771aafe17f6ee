// Package sse splits a server-sent event byte stream into typed JSON payloads.
//
// Bytes may arrive in arbitrary chunks: a line, a multi-byte character or the
// [DONE] sentinel can be split across any number of Feed calls. Splitting is
// done on raw bytes, so a UTF-8 sequence is only ever decoded once its line is
// complete.
package sse

import (
	"bytes"
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

var (
	eventPrefix  = []byte("event:")
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// Event is one data payload paired with its event type.
type Event struct {
	Type string
	Data json.RawMessage
}

// Buffer holds the per-stream demuxer state: the trailing partial line and
// the event type set by the most recent "event:" line.
// The zero value is ready to use.
type Buffer struct {
	tail      []byte
	eventType string

	// ParseErrors counts data payloads that were skipped as malformed.
	ParseErrors int
}

// Feed appends chunk to the buffer and returns the events completed by it.
// The final fragment after the last line break is retained for the next call.
func (b *Buffer) Feed(chunk []byte) []Event {
	b.tail = append(b.tail, chunk...)

	var events []Event
	start := 0
	for {
		i := bytes.IndexByte(b.tail[start:], '\n')
		if i < 0 {
			break
		}
		events = b.line(events, b.tail[start:start+i], false)
		start += i + 1
	}

	// Shift the remainder down so the buffer does not grow with the stream.
	if start > 0 {
		n := copy(b.tail, b.tail[start:])
		b.tail = b.tail[:n]
	}
	return events
}

// Flush treats any dangling fragment as a complete line and resets the buffer.
// A truncated JSON payload is run through a repair pass before being dropped.
func (b *Buffer) Flush() []Event {
	var events []Event
	if len(b.tail) > 0 {
		events = b.line(nil, b.tail, true)
	}
	b.tail = nil
	b.eventType = ""
	return events
}

// Pending reports how many bytes of incomplete line are buffered.
func (b *Buffer) Pending() int {
	return len(b.tail)
}

func (b *Buffer) line(events []Event, line []byte, repair bool) []Event {
	line = bytes.TrimSuffix(line, []byte{'\r'})

	switch {
	case len(line) == 0:
		b.eventType = ""

	case bytes.HasPrefix(line, eventPrefix):
		b.eventType = string(bytes.TrimSpace(line[len(eventPrefix):]))

	case bytes.HasPrefix(line, dataPrefix):
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 || bytes.Equal(payload, doneSentinel) {
			return events
		}
		ev, ok := b.decode(payload, repair)
		if !ok {
			b.ParseErrors++
			return events
		}
		events = append(events, ev)
	}
	// Comments (":") and id:/retry: fields carry nothing we account for.
	return events
}

func (b *Buffer) decode(payload []byte, repair bool) (Event, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		if !repair {
			return Event{}, false
		}
		fixed, rerr := jsonrepair.JSONRepair(string(payload))
		if rerr != nil {
			return Event{}, false
		}
		payload = []byte(fixed)
		if err := json.Unmarshal(payload, &head); err != nil {
			return Event{}, false
		}
	}

	typ := b.eventType
	if typ == "" {
		typ = head.Type
	}
	return Event{Type: typ, Data: bytes.Clone(payload)}, true
}
