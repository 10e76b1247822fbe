package hitl

import (
	"context"
	"sync"
	"testing"
)

// =============================================================================
// Mock collaborators
// =============================================================================

// mockProbe implements LiveProbe (and Follower) for testing
type mockProbe struct {
	mu       sync.Mutex
	payloads map[string]*InterruptPayload

	followed   []Scope
	followCtxs []context.Context
	followErr  error

	// Call tracking
	probeCalls int
}

func newMockProbe() *mockProbe {
	return &mockProbe{payloads: make(map[string]*InterruptPayload)}
}

func (m *mockProbe) set(conversationID string, p *InterruptPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[conversationID] = p
}

func (m *mockProbe) ProbeLiveInterrupt(conversationID string) *InterruptPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCalls++
	return m.payloads[conversationID]
}

func (m *mockProbe) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probeCalls
}

// followingProbe adds Follower to mockProbe.
type followingProbe struct {
	*mockProbe
}

func (m followingProbe) Follow(ctx context.Context, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followed = append(m.followed, scope)
	m.followCtxs = append(m.followCtxs, ctx)
	return m.followErr
}

// mockQuerier implements RunStateQuerier for testing
type mockQuerier struct {
	mu     sync.Mutex
	states map[string]*RunState
	err    error

	// gate, when set, holds every query until it is closed
	gate    chan struct{}
	started chan string

	// Call tracking
	queryCalls int
}

func newMockQuerier() *mockQuerier {
	return &mockQuerier{states: make(map[string]*RunState)}
}

func (m *mockQuerier) set(conversationID string, rs *RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[conversationID] = rs
}

func (m *mockQuerier) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockQuerier) QueryRunState(ctx context.Context, scope Scope) (*RunState, error) {
	m.mu.Lock()
	m.queryCalls++
	gate, started := m.gate, m.started
	m.mu.Unlock()

	if started != nil {
		started <- scope.ConversationID
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.states[scope.ConversationID], nil
}

func (m *mockQuerier) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls
}

// mockSubmitter implements ResumeSubmitter for testing
type mockSubmitter struct {
	mu  sync.Mutex
	err error

	// onSubmit runs inside SubmitResume before it returns
	onSubmit func()

	lastScope Scope
	requests  []ResumeRequest

	// Call tracking
	submitCalls int
}

func (m *mockSubmitter) SubmitResume(ctx context.Context, scope Scope, req ResumeRequest) (*ResumeResult, error) {
	m.mu.Lock()
	m.submitCalls++
	m.lastScope = scope
	m.requests = append(m.requests, req)
	hook, err := m.onSubmit, m.err
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &ResumeResult{RunID: "run-resumed", Status: "running"}, nil
}

func (m *mockSubmitter) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockSubmitter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

func (m *mockSubmitter) lastRequest() ResumeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

// eventRecorder is a Listener that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []event
}

func (r *eventRecorder) listen(conversationID string, rec *InterruptRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{conversationID: conversationID, record: rec})
}

func (r *eventRecorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

// ids returns the interrupt ID of every event, "" for clears.
func (r *eventRecorder) ids() []string {
	events := r.snapshot()
	out := make([]string, len(events))
	for i, ev := range events {
		if ev.record == nil {
			out[i] = "<clear>"
			continue
		}
		out[i] = ev.record.InterruptID
	}
	return out
}

// =============================================================================
// Harness: detector and coordinator over shared state, without the loop
// =============================================================================

const testCredential = "token-1"

type harness struct {
	ledger      *Ledger
	state       *threadState
	detector    *Detector
	coordinator *Coordinator
	events      *eventRecorder

	probe     *mockProbe
	querier   *mockQuerier
	submitter *mockSubmitter
}

func newHarness(t *testing.T, conversationID string) *harness {
	t.Helper()

	o := defaultOptions()
	o.commandID = func() string { return "cmd-1" }

	h := &harness{
		ledger:    NewLedger(),
		events:    &eventRecorder{},
		probe:     newMockProbe(),
		querier:   newMockQuerier(),
		submitter: &mockSubmitter{},
	}
	h.state = newThreadState(h.ledger)
	h.state.listeners = []Listener{h.events.listen}
	h.detector = newDetector(h.state, h.probe, h.querier, o)
	h.coordinator = newCoordinator(h.state, h.submitter, o)
	h.switchTo(conversationID)
	return h
}

func (h *harness) switchTo(conversationID string) {
	h.state.reset(Scope{ConversationID: conversationID, Credential: testCredential}, true)
}

func (h *harness) tick() {
	h.detector.Tick(context.Background())
}

func (h *harness) current() *InterruptRecord {
	rec, _ := h.state.current()
	return rec
}

func (h *harness) phase() Phase {
	_, phase := h.state.current()
	return phase
}

func livePayload(id string, actions ...string) *InterruptPayload {
	p := &InterruptPayload{ID: id}
	for _, name := range actions {
		p.ActionRequests = append(p.ActionRequests, ActionRequest{Name: name, Args: map[string]interface{}{"target": name}})
	}
	return p
}
