package live

import (
	"encoding/json"
	"testing"

	"github.com/itsneelabh/hitlchat/hitl"
)

func TestTrackerApply(t *testing.T) {
	tr := NewTracker()

	if tr.ProbeLiveInterrupt("thread-a") != nil {
		t.Fatal("new tracker should report no interrupt")
	}

	changed := tr.Apply("thread-a", RunEvent{
		Type:      EventInterrupt,
		RunID:     "run-1",
		Interrupt: &hitl.InterruptPayload{ID: "i1"},
	})
	if !changed {
		t.Error("interrupt event should change the tracker")
	}

	p := tr.ProbeLiveInterrupt("thread-a")
	if p == nil {
		t.Fatal("expected a live interrupt")
	}
	if p.ID != "i1" {
		t.Errorf("ID = %q, want i1", p.ID)
	}
	if p.RunID != "run-1" {
		t.Errorf("RunID = %q, want the event's run ID", p.RunID)
	}
	if tr.ProbeLiveInterrupt("thread-b") != nil {
		t.Error("other conversations must not see thread-a's interrupt")
	}
}

func TestTrackerLifecycleEventsClear(t *testing.T) {
	for _, typ := range []EventType{EventRunStarted, EventResumed, EventRunCompleted, EventRunFailed} {
		t.Run(string(typ), func(t *testing.T) {
			tr := NewTracker()
			tr.Apply("thread-a", RunEvent{Type: EventInterrupt, Interrupt: &hitl.InterruptPayload{ID: "i1"}})

			if !tr.Apply("thread-a", RunEvent{Type: typ}) {
				t.Errorf("%s should clear the tracked interrupt", typ)
			}
			if tr.ProbeLiveInterrupt("thread-a") != nil {
				t.Errorf("%s left the interrupt in place", typ)
			}
		})
	}
}

func TestTrackerIgnoresUnknownAndEmpty(t *testing.T) {
	tr := NewTracker()
	tr.Apply("thread-a", RunEvent{Type: EventInterrupt, Interrupt: &hitl.InterruptPayload{ID: "i1"}})

	if tr.Apply("thread-a", RunEvent{Type: "token"}) {
		t.Error("unknown events must be ignored")
	}
	if tr.Apply("thread-a", RunEvent{Type: EventInterrupt}) {
		t.Error("interrupt event without payload must be ignored")
	}
	if p := tr.ProbeLiveInterrupt("thread-a"); p == nil || p.ID != "i1" {
		t.Errorf("tracked interrupt changed: %+v", p)
	}
	if tr.Clear("thread-b") {
		t.Error("clearing an untracked conversation reports no change")
	}
}

func TestTrackerProbeReturnsCopy(t *testing.T) {
	tr := NewTracker()
	tr.Apply("thread-a", RunEvent{Type: EventInterrupt, Interrupt: &hitl.InterruptPayload{ID: "i1"}})

	p := tr.ProbeLiveInterrupt("thread-a")
	p.ID = "mutated"

	if got := tr.ProbeLiveInterrupt("thread-a").ID; got != "i1" {
		t.Errorf("probe result aliases tracker state: got %q", got)
	}
}

func TestRunEventWireFormat(t *testing.T) {
	data := []byte(`{"type":"interrupt","thread_id":"thread-a","run_id":"run-1",
		"interrupt":{"id":"i1","value":{"name":"send_email","description":"Send it?"}}}`)

	var ev RunEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventInterrupt || ev.ThreadID != "thread-a" || ev.RunID != "run-1" {
		t.Errorf("unexpected envelope: %+v", ev)
	}
	if ev.Interrupt == nil || ev.Interrupt.Value == nil || ev.Interrupt.Value.Name != "send_email" {
		t.Fatalf("interrupt payload not decoded: %+v", ev.Interrupt)
	}
}
