// Package intercept observes streaming Messages API calls at the HTTP
// transport boundary without changing what the caller sees.
package intercept

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/theirongolddev/ccmeter/internal/engine"
)

// LastMessageBudget caps how many runes of the final request message are
// written to the side log.
const LastMessageBudget = 500

// Tracker receives observed streams. *engine.Engine implements it.
type Tracker interface {
	Open(info engine.StreamInfo) int
	Feed(turn int, chunk []byte)
	Complete(turn int)
	Finalize(turn int)
	LogEvent(entry map[string]any)
}

// Matcher selects which requests are observed.
type Matcher struct {
	// Path is matched against the end of the request path.
	Path string
	// Exclude rejects any request whose path contains it.
	Exclude string
}

// DefaultMatcher observes Messages API calls but not message batches.
var DefaultMatcher = Matcher{Path: "/v1/messages", Exclude: "/v1/messages/batches"}

// Matches reports whether r should be observed.
func (m Matcher) Matches(r *http.Request) bool {
	if r == nil || r.URL == nil || r.Method != http.MethodPost {
		return false
	}
	if m.Path == "" {
		m = DefaultMatcher
	}
	p := strings.TrimSuffix(r.URL.Path, "/")
	if m.Exclude != "" && strings.Contains(p, m.Exclude) {
		return false
	}
	return strings.HasSuffix(p, m.Path)
}

// Transport wraps Base and feeds a copy of matching streaming responses
// to Tracker. Everything else passes through untouched.
type Transport struct {
	Base    http.RoundTripper
	Tracker Tracker
	Match   Matcher
	Logger  *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Tracker == nil || !t.Match.Matches(req) {
		return base.RoundTrip(req)
	}

	out, meta := t.inspect(req)
	resp, err := base.RoundTrip(out)
	if err != nil || resp == nil {
		return resp, err
	}
	if !isEventStream(resp.Header.Get("Content-Type")) {
		return resp, nil
	}

	turn := t.Tracker.Open(engine.StreamInfo{
		Model:      meta.Model,
		RequestID:  resp.Header.Get("Request-Id"),
		StatusCode: resp.StatusCode,
	})
	t.logger().Debug("observing stream", "turn", turn, "path", req.URL.Path, "status", resp.StatusCode)
	resp.Body = newObservedBody(resp.Body, t.Tracker, turn)
	return resp, nil
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.Logger
}

// inspect reads the request body, logs trimmed metadata and returns a clone
// of req whose body yields exactly the original bytes (and error, if any).
func (t *Transport) inspect(req *http.Request) (*http.Request, requestMeta) {
	var meta requestMeta
	if req.Body == nil || req.Body == http.NoBody {
		return req, meta
	}

	raw, readErr := io.ReadAll(req.Body)
	_ = req.Body.Close()

	out := req.Clone(req.Context())
	if readErr != nil {
		out.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), errReader{readErr}))
	} else {
		out.Body = io.NopCloser(bytes.NewReader(raw))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(raw)), nil
		}
	}

	if err := json.Unmarshal(raw, &meta); err != nil {
		t.logger().Debug("request body not JSON", "path", req.URL.Path, "err", err)
		return out, meta
	}
	entry := meta.entry()
	entry["path"] = req.URL.Path
	t.Tracker.LogEvent(entry)
	return out, meta
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/event-stream")
	}
	return mt == "text/event-stream"
}

type requestMeta struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	System json.RawMessage   `json:"system"`
	Tools  []json.RawMessage `json:"tools"`
}

func (m requestMeta) entry() map[string]any {
	entry := map[string]any{
		"kind":          "request",
		"model":         m.Model,
		"stream":        m.Stream,
		"messages":      len(m.Messages),
		"system_blocks": countBlocks(m.System),
		"tools":         len(m.Tools),
	}
	if n := len(m.Messages); n > 0 {
		last := m.Messages[n-1]
		entry["last_role"] = last.Role
		entry["last_message"] = truncate(contentText(last.Content), LastMessageBudget)
	}
	return entry
}

// countBlocks counts system prompt blocks; a bare string counts as one.
func countBlocks(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return len(blocks)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return 1
	}
	return 0
}

// contentText flattens message content to something readable. Non-text
// blocks are shown by type only.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		} else {
			parts = append(parts, "["+b.Type+"]")
		}
	}
	return strings.Join(parts, " ")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "…"
}
