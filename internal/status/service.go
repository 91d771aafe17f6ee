// Package status serves the live session ledger over HTTP while a supervised
// process runs.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/theirongolddev/ccmeter/internal/model"
)

// Config controls the status service.
type Config struct {
	Addr         string
	EventsBuffer int
	SessionID    string
	Cwd          string
	Command      []string
}

// Source exposes the engine state the service reports.
type Source interface {
	Ledger() model.Ledger
	Pending() int
}

// Event is emitted for every finalized call.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Call      *model.APICall `json:"call,omitempty"`
	Ledger    model.Ledger   `json:"ledger"`
}

// Status is served at /v1/status.
type Status struct {
	SessionID       string       `json:"session_id"`
	StartedAt       time.Time    `json:"started_at"`
	Cwd             string       `json:"cwd,omitempty"`
	Command         []string     `json:"command,omitempty"`
	Ledger          model.Ledger `json:"ledger"`
	Pending         int          `json:"pending"`
	EventCount      int          `json:"event_count"`
	SubscriberCount int          `json:"subscriber_count"`
}

// Service keeps recent calls and fans them out to stream subscribers.
type Service struct {
	cfg Config
	src Source
	log *slog.Logger

	mu          sync.RWMutex
	startedAt   time.Time
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a status service reading from src.
func New(cfg Config, src Source, logger *slog.Logger) *Service {
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7878"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		cfg:       cfg,
		src:       src,
		log:       logger,
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Observe records a finalized call. Its signature matches engine.Observer.
func (s *Service) Observe(call model.APICall, ledger model.Ledger) {
	s.broadcast(Event{
		Type:      "call",
		Timestamp: time.Now(),
		Call:      &call,
		Ledger:    ledger,
	})
}

// Handler returns the HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.serveHealth)
	mux.HandleFunc("/v1/status", s.serveStatus)
	mux.HandleFunc("/v1/calls", s.serveCalls)
	mux.HandleFunc("/v1/stream", s.serveStream)
	return mux
}

// Listen binds the configured address.
func (s *Service) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("status listen %s: %w", s.cfg.Addr, err)
	}
	return ln, nil
}

// Serve handles requests on ln until ctx is canceled.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("status service listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("status http server: %w", err)
	}
}

// broadcast numbers ev and delivers it. Numbering, buffering and delivery
// share one critical section so IDs reach every reader in order.
func (s *Service) broadcast(ev Event) {
	s.mu.Lock()
	s.nextEventID++
	ev.ID = s.nextEventID
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshot() Status {
	ledger := s.src.Ledger()
	pending := s.src.Pending()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		SessionID:       s.cfg.SessionID,
		StartedAt:       s.startedAt,
		Cwd:             s.cfg.Cwd,
		Command:         s.cfg.Command,
		Ledger:          ledger,
		Pending:         pending,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

func (s *Service) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Service) serveCalls(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	calls := make([]model.APICall, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Call != nil {
			calls = append(calls, *ev.Call)
		}
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(calls)
}

func (s *Service) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.subscribe(ch)
	defer s.unsubscribe(id)

	// Send current ledger immediately.
	sendEvent(w, Event{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Ledger:    s.src.Ledger(),
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			sendEvent(w, ev)
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) subscribe(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
