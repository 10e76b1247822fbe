package hitl

import (
	"context"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================
//
// The protocol talks to the orchestration backend through two channels:
//   - a live probe that reflects in-memory run state pushed by the backend
//   - a fallback query of the persisted run state
//
// and resolves interrupts through a resume submitter. All three are small,
// single-method interfaces so transports can be swapped independently.
// =============================================================================

// Scope identifies the conversation the protocol is bound to and the
// credential used to talk to the backend on its behalf.
type Scope struct {
	ConversationID string
	Credential     string
}

// Active reports whether the scope carries enough context to detect
// and resolve interrupts.
func (s Scope) Active() bool {
	return s.ConversationID != "" && s.Credential != ""
}

// LiveProbe reports the interrupt currently held in the live run state of a
// conversation. It must not block; nil means the live channel reports no pause.
type LiveProbe interface {
	ProbeLiveInterrupt(conversationID string) *InterruptPayload
}

// RunStateQuerier fetches the persisted run state of the scoped conversation.
type RunStateQuerier interface {
	QueryRunState(ctx context.Context, scope Scope) (*RunState, error)
}

// ResumeSubmitter sends a resume command for a paused run.
type ResumeSubmitter interface {
	SubmitResume(ctx context.Context, scope Scope, req ResumeRequest) (*ResumeResult, error)
}

// Follower is implemented by live probes that need to be pointed at a
// conversation before they can report anything. Follow must return promptly;
// the subscription it starts ends when ctx is canceled.
type Follower interface {
	Follow(ctx context.Context, scope Scope) error
}

// Listener receives every change of the displayed interrupt, in order.
// A nil record means nothing is displayed. Listeners are called one event at
// a time with no internal lock held, so a slow listener delays later events.
type Listener func(conversationID string, rec *InterruptRecord)

// ResumeResult is the backend's answer to an accepted resume command.
type ResumeResult struct {
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status,omitempty"`
}

// NoLiveProbe is a LiveProbe that never reports a pause. It is used when no
// live transport is configured so that detection relies on the fallback query.
type NoLiveProbe struct{}

// ProbeLiveInterrupt always returns nil.
func (NoLiveProbe) ProbeLiveInterrupt(string) *InterruptPayload { return nil }
