// Package hitltest provides an in-memory orchestration backend for tests and
// local demos. It serves the run state query, the resume command and the
// websocket event stream, and lets callers pause threads, inject failures and
// inspect the resume commands it received.
//
// Routes:
//   - GET  /threads/{thread_id}/state
//   - POST /threads/{thread_id}/resume
//   - GET  /threads/{thread_id}/stream (websocket)
//   - POST /threads/{thread_id}/interrupt (pauses the thread; demo helper)
package hitltest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/itsneelabh/hitlchat/live"
)

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type thread struct {
	state   hitl.RunState
	streams map[*stream]struct{}
	resumes []hitl.ResumeRequest
}

type stream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *stream) send(ev live.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(ev)
}

// Backend is a fake orchestration backend. The zero value is not usable; use
// NewBackend.
type Backend struct {
	mu            sync.Mutex
	token         string
	threads       map[string]*thread
	commands      map[string]hitl.ResumeResult
	resumeFails   []int
	stateFails    []int
	lag           bool
	stateRequests int
	upgrader      websocket.Upgrader
	logger        core.Logger
	mux           *http.ServeMux
}

// Option configures a Backend.
type Option func(*Backend)

// WithToken requires "Authorization: Bearer token" on every request.
func WithToken(token string) Option {
	return func(b *Backend) {
		b.token = token
	}
}

// WithLogger sets the logger for the backend
func WithLogger(logger core.Logger) Option {
	return func(b *Backend) {
		if logger == nil {
			return
		}
		b.logger = core.ComponentLogger(logger, "hitlchat/hitltest")
	}
}

// NewBackend creates an empty backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		threads:  make(map[string]*thread),
		commands: make(map[string]hitl.ResumeResult),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.mux = http.NewServeMux()
	b.RegisterRoutes(b.mux)
	return b
}

// RegisterRoutes registers the backend handlers with mux.
func (b *Backend) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /threads/{thread_id}/state", b.HandleState)
	mux.HandleFunc("POST /threads/{thread_id}/resume", b.HandleResume)
	mux.HandleFunc("GET /threads/{thread_id}/stream", b.HandleStream)
	mux.HandleFunc("POST /threads/{thread_id}/interrupt", b.HandleInterrupt)
}

// ServeHTTP implements http.Handler.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

// -----------------------------------------------------------------------------
// Test controls
// -----------------------------------------------------------------------------

// Pause sets p as the pending interrupt of threadID and pushes an interrupt
// event to its streams. An empty p.RunID gets a generated one.
func (b *Backend) Pause(threadID string, p hitl.InterruptPayload) {
	b.mu.Lock()
	t := b.threadLocked(threadID)
	if p.RunID == "" {
		p.RunID = t.state.RunID
	}
	if p.RunID == "" {
		p.RunID = "run-" + uuid.NewString()
	}
	t.state.RunID = p.RunID
	t.state.Interrupts = []hitl.InterruptPayload{p}
	t.state.Tasks = nil
	streams := t.streamList()
	b.mu.Unlock()

	payload := p
	b.broadcast(threadID, streams, live.RunEvent{Type: live.EventInterrupt, RunID: p.RunID, Interrupt: &payload})
}

// SetState replaces the persisted run state of threadID without notifying
// streams.
func (b *Backend) SetState(threadID string, rs hitl.RunState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threadLocked(threadID).state = rs
}

// Complete clears the pending interrupt of threadID and pushes a
// run_completed event.
func (b *Backend) Complete(threadID string) {
	b.mu.Lock()
	t := b.threadLocked(threadID)
	t.state.Interrupts = nil
	t.state.Tasks = nil
	runID := t.state.RunID
	streams := t.streamList()
	b.mu.Unlock()

	b.broadcast(threadID, streams, live.RunEvent{Type: live.EventRunCompleted, RunID: runID})
}

// FailResume makes the next n resume requests fail with status.
func (b *Backend) FailResume(n, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.resumeFails = append(b.resumeFails, status)
	}
}

// FailState makes the next n state queries fail with status.
func (b *Backend) FailState(n, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.stateFails = append(b.stateFails, status)
	}
}

// SetLag keeps accepted interrupts in the persisted state, as a backend whose
// state store trails the resume would.
func (b *Backend) SetLag(lag bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lag = lag
}

// Resumes returns the accepted resume commands of threadID in arrival order.
func (b *Backend) Resumes(threadID string) []hitl.ResumeRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.threads[threadID]
	if !ok {
		return nil
	}
	return append([]hitl.ResumeRequest(nil), t.resumes...)
}

// StateRequests returns how many state queries were received.
func (b *Backend) StateRequests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateRequests
}

// Streams returns the number of open streams of threadID.
func (b *Backend) Streams(threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.threads[threadID]
	if !ok {
		return 0
	}
	return len(t.streams)
}

// DropStreams closes every open stream of threadID.
func (b *Backend) DropStreams(threadID string) {
	b.mu.Lock()
	var streams []*stream
	if t, ok := b.threads[threadID]; ok {
		streams = t.streamList()
	}
	b.mu.Unlock()

	for _, s := range streams {
		_ = s.conn.Close()
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HandleState serves the persisted run state.
func (b *Backend) HandleState(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		b.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}
	threadID := r.PathValue("thread_id")

	b.mu.Lock()
	b.stateRequests++
	if len(b.stateFails) > 0 {
		status := b.stateFails[0]
		b.stateFails = b.stateFails[1:]
		b.mu.Unlock()
		b.writeError(w, status, "injected state failure")
		return
	}
	t, ok := b.threads[threadID]
	if !ok {
		b.mu.Unlock()
		b.writeError(w, http.StatusNotFound, fmt.Sprintf("thread %s not found", threadID))
		return
	}
	state := t.state
	b.mu.Unlock()

	b.writeJSON(w, http.StatusOK, state)
}

// HandleResume accepts a resume command. Repeated command IDs are answered
// with the original result and are not applied twice.
func (b *Backend) HandleResume(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		b.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}
	threadID := r.PathValue("thread_id")

	var req hitl.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if len(req.Decisions) == 0 {
		b.writeError(w, http.StatusBadRequest, "decisions are required")
		return
	}
	for _, d := range req.Decisions {
		if _, err := hitl.ParseDecisionKind(string(d.Type)); err != nil {
			b.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	b.mu.Lock()
	if len(b.resumeFails) > 0 {
		status := b.resumeFails[0]
		b.resumeFails = b.resumeFails[1:]
		b.mu.Unlock()
		b.writeError(w, status, "injected resume failure")
		return
	}
	if req.CommandID != "" {
		if result, seen := b.commands[req.CommandID]; seen {
			b.mu.Unlock()
			b.writeJSON(w, http.StatusOK, result)
			return
		}
	}
	t, ok := b.threads[threadID]
	if !ok || len(t.state.Candidates()) == 0 {
		b.mu.Unlock()
		b.writeError(w, http.StatusConflict, fmt.Sprintf("thread %s has no pending interrupt", threadID))
		return
	}

	t.resumes = append(t.resumes, req)
	result := hitl.ResumeResult{RunID: t.state.RunID, Status: "resumed"}
	if req.CommandID != "" {
		b.commands[req.CommandID] = result
	}
	if !b.lag {
		t.state.Interrupts = nil
		t.state.Tasks = nil
	}
	streams := t.streamList()
	b.mu.Unlock()

	b.logger.Info("Resume accepted", map[string]interface{}{
		"operation":  "hitltest_resume",
		"thread_id":  threadID,
		"command_id": req.CommandID,
		"decisions":  len(req.Decisions),
	})
	b.broadcast(threadID, streams, live.RunEvent{Type: live.EventResumed, RunID: result.RunID})
	b.writeJSON(w, http.StatusOK, result)
}

// HandleInterrupt pauses the thread with the posted interrupt payload.
func (b *Backend) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		b.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}
	var p hitl.InterruptPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		b.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	b.Pause(r.PathValue("thread_id"), p)
	b.writeJSON(w, http.StatusAccepted, p)
}

// HandleStream upgrades to a websocket and pushes run events of the thread.
// A thread that is already paused sends its interrupt right away.
func (b *Backend) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		b.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}
	threadID := r.PathValue("thread_id")

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := &stream{conn: conn}

	b.mu.Lock()
	t := b.threadLocked(threadID)
	t.streams[s] = struct{}{}
	var pending *hitl.InterruptPayload
	if c := t.state.FirstInterrupt(); c != nil {
		p := *c
		pending = &p
	}
	runID := t.state.RunID
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(t.streams, s)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	if pending != nil {
		if err := s.send(live.RunEvent{Type: live.EventInterrupt, ThreadID: threadID, RunID: runID, Interrupt: pending, Timestamp: time.Now()}); err != nil {
			return
		}
	}

	// Reading drives pong and close handling.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (b *Backend) threadLocked(threadID string) *thread {
	t, ok := b.threads[threadID]
	if !ok {
		t = &thread{streams: make(map[*stream]struct{})}
		b.threads[threadID] = t
	}
	return t
}

func (t *thread) streamList() []*stream {
	out := make([]*stream, 0, len(t.streams))
	for s := range t.streams {
		out = append(out, s)
	}
	return out
}

func (b *Backend) broadcast(threadID string, streams []*stream, ev live.RunEvent) {
	ev.ThreadID = threadID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, s := range streams {
		if err := s.send(ev); err != nil {
			b.logger.Debug("Dropping event for closed stream", map[string]interface{}{
				"operation": "hitltest_broadcast",
				"thread_id": threadID,
				"error":     err.Error(),
			})
		}
	}
}

func (b *Backend) authorized(r *http.Request) bool {
	if b.token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == b.token && strings.HasPrefix(auth, "Bearer ")
}

// writeJSON writes a JSON response with the given status code.
func (b *Backend) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		b.logger.ErrorWithContext(context.Background(), "Failed to encode response", map[string]interface{}{
			"operation": "hitltest_response",
			"error":     err.Error(),
		})
	}
}

// writeError writes a JSON error response.
func (b *Backend) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Error intentionally ignored - we're already in error handling path
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error: message,
		Code:  http.StatusText(status),
	})
}
