package hitl

import (
	"fmt"
	"sync"
)

// Phase is the display phase of the active conversation.
//
//	Idle -> Displayed -> Resolving -> {Idle | Displayed}
type Phase int

const (
	// PhaseIdle means no interrupt is displayed.
	PhaseIdle Phase = iota
	// PhaseDisplayed means one interrupt is displayed and awaits a decision.
	PhaseDisplayed
	// PhaseResolving means a decision was submitted and the resume call is in flight.
	PhaseResolving
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDisplayed:
		return "displayed"
	case PhaseResolving:
		return "resolving"
	default:
		return "unknown"
	}
}

type publishOutcome int

const (
	publishStale publishOutcome = iota
	publishWhileResolving
	publishUnchanged
	publishHandled
	publishShown
	publishCleared
)

type resolveOutcome int

const (
	resolveStale resolveOutcome = iota
	resolveDone
	resolveRolledBack
)

// token pins a tick or a resolution to the generation it started in.
// epoch counts ledger clears, which only a conversation change causes.
type token struct {
	generation uint64
	epoch      uint64
	scope      Scope
}

type event struct {
	conversationID string
	record         *InterruptRecord
}

// threadState owns every piece of mutable protocol state: the generation, the
// scope, the phase, the displayed record and the ledger coupled to it. The
// displayed record doubles as the last-seen marker, so the two cannot drift.
// Every transition happens in one critical section. Lock order is mu, then
// the ledger's own lock.
type threadState struct {
	mu         sync.Mutex
	generation uint64
	epoch      uint64
	scope      Scope
	enabled    bool
	phase      Phase
	record     *InterruptRecord
	ledger     *Ledger

	listeners  []Listener
	queue      []event
	delivering bool
}

func newThreadState(ledger *Ledger) *threadState {
	return &threadState{
		ledger:  ledger,
		enabled: true,
	}
}

// begin captures the generation and scope for a tick. ok is false when the
// protocol is inert.
func (s *threadState) begin() (tok token, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok = token{generation: s.generation, epoch: s.epoch, scope: s.scope}
	return tok, s.enabled && s.scope.Active()
}

// publish applies a detection result. A nil record clears the display.
func (s *threadState) publish(tok token, rec *InterruptRecord) publishOutcome {
	s.mu.Lock()
	if tok.generation != s.generation {
		s.mu.Unlock()
		return publishStale
	}
	if s.phase == PhaseResolving {
		s.mu.Unlock()
		return publishWhileResolving
	}

	handled := false
	if rec != nil && s.ledger.Contains(rec.InterruptID) {
		rec = nil
		handled = true
	}

	if rec == nil {
		if s.phase != PhaseDisplayed {
			s.mu.Unlock()
			if handled {
				return publishHandled
			}
			return publishUnchanged
		}
		s.phase = PhaseIdle
		s.record = nil
		s.unlockAndNotify(event{conversationID: tok.scope.ConversationID})
		return publishCleared
	}

	if s.phase == PhaseDisplayed && s.record.SameInterrupt(rec) {
		s.mu.Unlock()
		return publishUnchanged
	}

	s.phase = PhaseDisplayed
	s.record = rec
	s.unlockAndNotify(event{conversationID: tok.scope.ConversationID, record: rec})
	return publishShown
}

// beginResolve moves the displayed record into Resolving: the ledger gains its
// ID and the display is cleared before the caller touches the network.
func (s *threadState) beginResolve(kind DecisionKind) (token, *InterruptRecord, error) {
	s.mu.Lock()
	if s.phase != PhaseDisplayed || s.record == nil {
		s.mu.Unlock()
		return token{}, nil, ErrNoActiveInterrupt
	}
	if !s.enabled || !s.scope.Active() {
		s.mu.Unlock()
		return token{}, nil, ErrNoSession
	}

	rec := s.record
	if ok, action := rec.PendingAction.Allows(kind); !ok {
		s.mu.Unlock()
		return token{}, nil, fmt.Errorf("%s is not allowed for action %q: %w", kind, action, ErrDecisionNotAllowed)
	}

	tok := token{generation: s.generation, epoch: s.epoch, scope: s.scope}
	s.ledger.Add(rec.InterruptID)
	s.phase = PhaseResolving
	s.record = nil
	s.unlockAndNotify(event{conversationID: tok.scope.ConversationID})
	return tok, rec, nil
}

// finishResolve completes the resolution of rec. On failure the ledger entry
// is removed and the record is displayed again. A failure from a superseded
// generation only removes the ledger entry, and only while the ledger still
// belongs to the same conversation; the display is left to the detector.
func (s *threadState) finishResolve(tok token, rec *InterruptRecord, err error) resolveOutcome {
	s.mu.Lock()
	if tok.generation != s.generation || s.phase != PhaseResolving {
		if err != nil && tok.epoch == s.epoch {
			s.ledger.Remove(rec.InterruptID)
		}
		s.mu.Unlock()
		return resolveStale
	}

	if err == nil {
		s.phase = PhaseIdle
		s.mu.Unlock()
		return resolveDone
	}

	s.ledger.Remove(rec.InterruptID)
	s.phase = PhaseDisplayed
	s.record = rec
	s.unlockAndNotify(event{conversationID: tok.scope.ConversationID, record: rec})
	return resolveRolledBack
}

// reset installs a new scope and discards everything tied to the old
// generation. The ledger is cleared only when the conversation changes.
func (s *threadState) reset(scope Scope, enabled bool) {
	s.mu.Lock()
	previous := s.scope.ConversationID
	wasDisplayed := s.phase == PhaseDisplayed

	s.generation++
	if scope.ConversationID != previous {
		s.ledger.Clear()
		s.epoch++
	}
	s.scope = scope
	s.enabled = enabled
	s.phase = PhaseIdle
	s.record = nil

	if wasDisplayed {
		s.unlockAndNotify(event{conversationID: previous})
		return
	}
	s.mu.Unlock()
}

func (s *threadState) current() (*InterruptRecord, Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record, s.phase
}

func (s *threadState) currentScope() (Scope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope, s.enabled
}

func (s *threadState) addListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listeners := make([]Listener, 0, len(s.listeners)+1)
	listeners = append(listeners, s.listeners...)
	s.listeners = append(listeners, l)
}

// unlockAndNotify queues ev and releases mu. Events are delivered in queue
// order by a single goroutine at a time and never with mu held.
func (s *threadState) unlockAndNotify(ev event) {
	s.queue = append(s.queue, ev)
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true

	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		listeners := s.listeners
		s.mu.Unlock()

		for _, l := range listeners {
			l(next.conversationID, next.record)
		}

		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}
