// Package live implements the push channel of the interrupt protocol. Run
// events streamed by the backend (over a websocket or Redis pub/sub) are
// folded into a Tracker, which answers the detector's synchronous live probe.
package live

import (
	"sync"
	"time"

	"github.com/itsneelabh/hitlchat/hitl"
)

// EventType names a run lifecycle event.
type EventType string

const (
	EventInterrupt    EventType = "interrupt"
	EventRunStarted   EventType = "run_started"
	EventResumed      EventType = "resumed"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

// RunEvent is one message on the live channel.
type RunEvent struct {
	Type      EventType              `json:"type"`
	ThreadID  string                 `json:"thread_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Interrupt *hitl.InterruptPayload `json:"interrupt,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
}

// Tracker holds the latest live interrupt of each conversation.
type Tracker struct {
	mu         sync.RWMutex
	interrupts map[string]hitl.InterruptPayload
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{interrupts: make(map[string]hitl.InterruptPayload)}
}

// Apply folds ev into the state of conversationID. Unknown event types are
// ignored. It reports whether the tracked interrupt changed.
func (t *Tracker) Apply(conversationID string, ev RunEvent) bool {
	switch ev.Type {
	case EventInterrupt:
		if ev.Interrupt == nil {
			return false
		}
		p := *ev.Interrupt
		if p.RunID == "" {
			p.RunID = ev.RunID
		}
		t.mu.Lock()
		t.interrupts[conversationID] = p
		t.mu.Unlock()
		return true
	case EventRunStarted, EventResumed, EventRunCompleted, EventRunFailed:
		return t.Clear(conversationID)
	default:
		return false
	}
}

// Clear forgets the interrupt of conversationID.
func (t *Tracker) Clear(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.interrupts[conversationID]
	delete(t.interrupts, conversationID)
	return ok
}

// ProbeLiveInterrupt implements hitl.LiveProbe.
func (t *Tracker) ProbeLiveInterrupt(conversationID string) *hitl.InterruptPayload {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.interrupts[conversationID]
	if !ok {
		return nil
	}
	return &p
}
