package hitl

import (
	"context"
	"sync"

	"github.com/itsneelabh/hitlchat/core"
)

// =============================================================================
// Controller - conversation lifecycle
// =============================================================================
//
// Controller binds the ledger, the detector loop and the coordinator to the
// active conversation. Every conversation change synchronously clears the
// ledger, the displayed record and the marker, then restarts the detector so
// its first tick already runs against the new conversation.
//
// Usage:
//
//	controller := hitl.NewController(liveSource, backendClient, backendClient,
//	    hitl.WithLogger(logger),
//	    hitl.WithListener(func(conversationID string, rec *hitl.InterruptRecord) {
//	        // render or hide the approval panel
//	    }),
//	)
//	defer controller.Close()
//	controller.SetConversation(hitl.Scope{ConversationID: threadID, Credential: token})
//
// Listeners may call Current, Phase and Resolve. They must not call
// SetConversation, SetEnabled or Close.
// =============================================================================

// Controller is the entry point used by the presentation layer.
type Controller struct {
	ledger      *Ledger
	state       *threadState
	detector    *Detector
	coordinator *Coordinator
	follower    Follower
	logger      core.Logger

	mu         sync.Mutex
	baseCtx    context.Context
	stop       context.CancelFunc
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
}

// NewController creates a controller with no conversation. The live probe may
// be nil; when it implements Follower it is pointed at each new conversation.
// Returns concrete type per Go idiom "return structs, accept interfaces".
func NewController(probe LiveProbe, querier RunStateQuerier, submitter ResumeSubmitter, opts ...ControllerOption) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ledger := NewLedger()
	state := newThreadState(ledger)
	state.enabled = o.enabled
	state.listeners = append(state.listeners, o.listeners...)

	baseCtx, stop := context.WithCancel(context.Background())
	c := &Controller{
		ledger:      ledger,
		state:       state,
		detector:    newDetector(state, probe, querier, o),
		coordinator: newCoordinator(state, submitter, o),
		logger:      o.logger,
		baseCtx:     baseCtx,
		stop:        stop,
	}
	if f, ok := probe.(Follower); ok {
		c.follower = f
	}
	return c
}

// SetConversation binds the controller to scope. An inactive scope (no
// conversation or no credential) leaves the controller inert.
func (c *Controller) SetConversation(scope Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	current, enabled := c.state.currentScope()
	if current == scope {
		return
	}

	c.logger.Info("Conversation changed", map[string]interface{}{
		"operation":            "hitl_lifecycle",
		"conversation_id":      scope.ConversationID,
		"prev_conversation_id": current.ConversationID,
		"active":               scope.Active(),
	})
	c.state.reset(scope, enabled)
	c.restartLocked(scope, enabled)
}

// SetEnabled turns interrupt handling on or off for the current conversation.
// Disabling clears the display and stops the detector; the ledger is kept.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	scope, current := c.state.currentScope()
	if current == enabled {
		return
	}

	c.logger.Info("Interrupt handling toggled", map[string]interface{}{
		"operation":       "hitl_lifecycle",
		"conversation_id": scope.ConversationID,
		"enabled":         enabled,
	})
	c.state.reset(scope, enabled)
	c.restartLocked(scope, enabled)
}

func (c *Controller) restartLocked(scope Scope, enabled bool) {
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	if !enabled || !scope.Active() {
		return
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.loopCancel = cancel

	if c.follower != nil {
		if err := c.follower.Follow(ctx, scope); err != nil {
			c.logger.Warn("Live channel unavailable, relying on state query", map[string]interface{}{
				"operation":       "hitl_lifecycle",
				"conversation_id": scope.ConversationID,
				"error":           err.Error(),
			})
		}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.detector.Run(ctx)
	}()
}

// Tick runs one detection outside the periodic schedule.
func (c *Controller) Tick(ctx context.Context) {
	c.detector.Tick(ctx)
}

// Resolve submits a decision for the displayed interrupt. See Coordinator.Resolve.
func (c *Controller) Resolve(ctx context.Context, d Decision) error {
	return c.coordinator.Resolve(ctx, d)
}

// Current returns the displayed interrupt, or nil.
func (c *Controller) Current() *InterruptRecord {
	rec, _ := c.state.current()
	return rec
}

// Phase returns the display phase.
func (c *Controller) Phase() Phase {
	_, phase := c.state.current()
	return phase
}

// Scope returns the scope the controller is bound to.
func (c *Controller) Scope() Scope {
	scope, _ := c.state.currentScope()
	return scope
}

// Handled reports whether id was resolved in the current conversation.
func (c *Controller) Handled(id string) bool {
	return c.ledger.Contains(id)
}

// AddListener registers a listener for display changes.
func (c *Controller) AddListener(l Listener) {
	if l == nil {
		return
	}
	c.state.addListener(l)
}

// Close stops the detector loop and any live subscription and waits for the
// loop to exit. In-flight resolutions are left to finish on their own.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	c.stop()
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}
