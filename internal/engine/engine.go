// Package engine tracks in-flight API streams for one session and turns each
// into exactly one durable record.
//
// All state lives behind a single mutex. Bodies are read on whatever goroutine
// the HTTP client uses, so every callback takes the lock before touching a
// stream. Sink and observer calls run after the lock is released but before
// Finalize returns.
package engine

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/theirongolddev/ccmeter/internal/model"
	"github.com/theirongolddev/ccmeter/internal/sse"
	"github.com/theirongolddev/ccmeter/internal/stream"
)

// CostCalculator prices a call from its final token counts.
// Implementations return 0 for models they cannot resolve.
type CostCalculator interface {
	Cost(model string, input, output, cacheWrite, cacheRead int64) float64
}

// CostFunc adapts a plain function to CostCalculator.
type CostFunc func(model string, input, output, cacheWrite, cacheRead int64) float64

// Cost implements CostCalculator.
func (f CostFunc) Cost(model string, input, output, cacheWrite, cacheRead int64) float64 {
	return f(model, input, output, cacheWrite, cacheRead)
}

// Sink receives finalized records and side-log entries.
type Sink interface {
	Append(call model.APICall) error
	LogEvent(sessionID string, entry map[string]any) error
}

// Observer is notified after each record is handed to the sink.
type Observer func(call model.APICall, ledger model.Ledger)

// StreamInfo describes a response the moment it is known to be a stream.
type StreamInfo struct {
	Model      string
	RequestID  string
	StatusCode int
}

// Options configures an Engine.
type Options struct {
	SessionID string
	Cwd       string
	Cost      CostCalculator
	Sink      Sink
	Logger    *slog.Logger

	// Now overrides the clock; tests use it.
	Now func() time.Time
}

type pendingStream struct {
	turn    int
	started time.Time
	info    StreamInfo
	buf     sse.Buffer
	state   stream.State
}

// Engine owns the pending streams and the session ledger.
type Engine struct {
	sessionID string
	cwd       string
	cost      CostCalculator
	sink      Sink
	log       *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	nextTurn  int
	pending   map[int]*pendingStream
	ledger    model.Ledger
	observers []Observer
}

// New creates an Engine. A nil Cost prices everything at zero; a nil Sink
// discards records.
func New(opts Options) *Engine {
	e := &Engine{
		sessionID: opts.SessionID,
		cwd:       opts.Cwd,
		cost:      opts.Cost,
		sink:      opts.Sink,
		log:       opts.Logger,
		now:       opts.Now,
		pending:   make(map[int]*pendingStream),
	}
	if e.cost == nil {
		e.cost = CostFunc(func(string, int64, int64, int64, int64) float64 { return 0 })
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.ledger = model.Ledger{SessionID: opts.SessionID, StartedAt: e.now()}
	return e
}

// SessionID returns the session this engine accounts for.
func (e *Engine) SessionID() string { return e.sessionID }

// Observe registers fn to be called after every finalized record.
func (e *Engine) Observe(fn Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

// Open registers a new in-flight stream and returns its turn number.
func (e *Engine) Open(info StreamInfo) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextTurn++
	turn := e.nextTurn
	e.pending[turn] = &pendingStream{
		turn:    turn,
		started: e.now(),
		info:    info,
	}
	e.log.Debug("stream opened", "turn", turn, "model", info.Model, "request_id", info.RequestID)
	return turn
}

// Feed pushes a chunk of body bytes into the stream for turn. Chunks for
// turns that are unknown or already finalized are dropped.
func (e *Engine) Feed(turn int, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("feed panicked", "turn", turn, "panic", r)
		}
	}()

	ps, ok := e.pending[turn]
	if !ok {
		return
	}
	for _, ev := range ps.buf.Feed(chunk) {
		e.apply(ps, ev)
	}
}

func (e *Engine) apply(ps *pendingStream, ev sse.Event) {
	if err := stream.Apply(ev.Type, ev.Data, &ps.state); err != nil {
		ps.buf.ParseErrors++
		e.log.Debug("skipping event", "turn", ps.turn, "err", err)
	}
}

// Complete finalizes turn after its stream ended on its own.
func (e *Engine) Complete(turn int) {
	_ = e.finalize(turn, false)
}

// Finalize finalizes turn whether or not the stream completed. It is a no-op
// for turns already finalized, so callers may invoke it more than once.
func (e *Engine) Finalize(turn int) {
	_ = e.finalize(turn, true)
}

// finalize removes the stream from the pending set and emits its record.
// Only the first call for a turn does anything; it reports whether this
// call was that one.
func (e *Engine) finalize(turn int, partial bool) bool {
	call, ledger, parseErrors, observers, ok := e.take(turn, partial)
	if !ok {
		return false
	}
	e.emit(call, ledger, parseErrors, observers)
	return true
}

func (e *Engine) take(turn int, partial bool) (call model.APICall, ledger model.Ledger, parseErrors int, observers []Observer, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ps, found := e.pending[turn]
	if !found {
		return call, ledger, 0, nil, false
	}
	delete(e.pending, turn)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("settle panicked, recording what is known", "turn", turn, "panic", r)
			call = e.salvage(ps)
			e.ledger.Add(call)
			ledger, parseErrors, observers, ok = e.ledger, ps.buf.ParseErrors, slices.Clone(e.observers), true
		}
	}()
	call, ledger, parseErrors = e.settle(ps, partial)
	return call, ledger, parseErrors, slices.Clone(e.observers), true
}

// salvage builds a partial record from whatever state survived a failed
// settle. It must not call anything that could have caused the failure.
// Called with mu held.
func (e *Engine) salvage(ps *pendingStream) model.APICall {
	st := &ps.state
	modelName := st.Model
	if modelName == "" {
		modelName = ps.info.Model
	}
	call := model.APICall{
		SessionID:        e.sessionID,
		Turn:             ps.turn,
		MessageID:        st.MessageID,
		RequestID:        ps.info.RequestID,
		Model:            modelName,
		InputTokens:      st.Usage.InputTokens,
		OutputTokens:     st.Usage.OutputTokens,
		CacheWriteTokens: st.Usage.CacheWriteTokens,
		CacheReadTokens:  st.Usage.CacheReadTokens,
		StopReason:       st.StopReason,
		ErrorType:        st.ErrorType,
		StatusCode:       ps.info.StatusCode,
		Cwd:              e.cwd,
		Timestamp:        ps.started,
		Partial:          true,
	}
	call.EstimatedCost = e.price(call)
	return call
}

// settle folds any buffered tail, prices the call and updates the ledger.
// Called with mu held.
func (e *Engine) settle(ps *pendingStream, partial bool) (model.APICall, model.Ledger, int) {
	for _, ev := range ps.buf.Flush() {
		e.apply(ps, ev)
	}

	st := &ps.state
	modelName := st.Model
	if modelName == "" {
		modelName = ps.info.Model
	}
	thinking, text, tool := st.CharTotals()

	now := e.now()
	call := model.APICall{
		SessionID:        e.sessionID,
		Turn:             ps.turn,
		MessageID:        st.MessageID,
		RequestID:        ps.info.RequestID,
		Model:            modelName,
		InputTokens:      st.Usage.InputTokens,
		OutputTokens:     st.Usage.OutputTokens,
		CacheWriteTokens: st.Usage.CacheWriteTokens,
		CacheReadTokens:  st.Usage.CacheReadTokens,
		ThinkingChars:    thinking,
		TextChars:        text,
		ToolChars:        tool,
		StopReason:       st.StopReason,
		ErrorType:        st.ErrorType,
		StatusCode:       ps.info.StatusCode,
		Cwd:              e.cwd,
		Duration:         now.Sub(ps.started),
		Timestamp:        ps.started,
		Partial:          partial,
	}
	call.EstimatedCost = e.price(call)

	e.ledger.Add(call)
	e.ledger.UpdatedAt = now
	return call, e.ledger, ps.buf.ParseErrors
}

func (e *Engine) price(c model.APICall) (cost float64) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("cost calculator panicked", "model", c.Model, "panic", r)
			cost = 0
		}
	}()
	return e.cost.Cost(c.Model, c.InputTokens, c.OutputTokens, c.CacheWriteTokens, c.CacheReadTokens)
}

// emit hands a record to the sink, the side log and observers. Nothing it
// calls can fail the finalization.
func (e *Engine) emit(call model.APICall, ledger model.Ledger, parseErrors int, observers []Observer) {
	if e.sink != nil {
		guard(e.log, "append record", call.Turn, func() error {
			return e.sink.Append(call)
		})
		guard(e.log, "log finalize event", call.Turn, func() error {
			return e.sink.LogEvent(e.sessionID, summaryEntry(call, parseErrors))
		})
	}

	e.log.Info("stream finalized",
		"turn", call.Turn,
		"model", call.Model,
		"input", call.InputTokens,
		"output", call.OutputTokens,
		"cache_write", call.CacheWriteTokens,
		"cache_read", call.CacheReadTokens,
		"cost", call.EstimatedCost,
		"stop_reason", call.StopReason,
		"partial", call.Partial,
		"parse_errors", parseErrors,
	)

	for _, fn := range observers {
		guard(e.log, "notify observer", call.Turn, func() error {
			fn(call, ledger)
			return nil
		})
	}
}

func guard(log *slog.Logger, what string, turn int, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(what+" panicked", "turn", turn, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		log.Error(what+" failed", "turn", turn, "err", err)
	}
}

func summaryEntry(c model.APICall, parseErrors int) map[string]any {
	return map[string]any{
		"kind":           "finalize",
		"turn":           c.Turn,
		"model":          c.Model,
		"message_id":     c.MessageID,
		"input_tokens":   c.InputTokens,
		"output_tokens":  c.OutputTokens,
		"cache_write":    c.CacheWriteTokens,
		"cache_read":     c.CacheReadTokens,
		"thinking_chars": c.ThinkingChars,
		"text_chars":     c.TextChars,
		"tool_chars":     c.ToolChars,
		"stop_reason":    c.StopReason,
		"cost_usd":       c.EstimatedCost,
		"total_tokens":   c.TotalTokens(),
		"duration_ms":    c.Duration.Milliseconds(),
		"partial":        c.Partial,
		"parse_errors":   parseErrors,
	}
}

// Flush finalizes every stream still pending, in turn order, and returns
// how many it finalized. Streams opened while it runs (by a sink, say) are
// picked up before it returns. The owning process must call it on every
// exit path; calling it again only finalizes streams opened since.
func (e *Engine) Flush() int {
	n := 0
	for {
		turns := e.pendingTurns()
		if len(turns) == 0 {
			break
		}
		for _, turn := range turns {
			if e.flushOne(turn) {
				n++
			}
		}
	}
	if n > 0 {
		e.log.Warn("flushed pending streams at exit", "count", n)
	}
	return n
}

func (e *Engine) pendingTurns() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	turns := make([]int, 0, len(e.pending))
	for turn := range e.pending {
		turns = append(turns, turn)
	}
	slices.Sort(turns)
	return turns
}

func (e *Engine) flushOne(turn int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("forced finalize panicked", "turn", turn, "panic", r)
			ok = false
		}
	}()
	return e.finalize(turn, true)
}

// Ledger returns a copy of the cumulative session counters.
func (e *Engine) Ledger() model.Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger
}

// Pending returns the number of streams not yet finalized.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// LogEvent writes an entry to the sink's side log on behalf of a
// collaborator such as the interception shim.
func (e *Engine) LogEvent(entry map[string]any) {
	if e.sink == nil {
		return
	}
	guard(e.log, "log event", 0, func() error {
		return e.sink.LogEvent(e.sessionID, entry)
	})
}
