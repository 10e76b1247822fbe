package hitl

import (
	"context"
	"time"

	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Coordinator turns a decision on the displayed interrupt into a resume
// command. The ledger entry and the cleared display are applied before the
// network call and undone if it fails, so an interrupt is never shown twice
// and never lost.
type Coordinator struct {
	state     *threadState
	submitter ResumeSubmitter
	newID     func() string

	logger    core.Logger
	telemetry core.Telemetry
}

func newCoordinator(state *threadState, submitter ResumeSubmitter, o *options) *Coordinator {
	return &Coordinator{
		state:     state,
		submitter: submitter,
		newID:     o.commandID,
		logger:    o.logger,
		telemetry: o.telemetry,
	}
}

// Resolve submits d for the displayed interrupt.
//
// It returns ErrNoActiveInterrupt or ErrNoSession without touching the
// network when there is nothing to resolve, ErrInvalidDecision or
// ErrDecisionNotAllowed without changing any state when the decision is
// unusable, and a *ResumeError after rolling back when submission fails.
func (c *Coordinator) Resolve(ctx context.Context, d Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}

	tok, rec, err := c.state.beginResolve(d.Kind)
	if err != nil {
		c.logger.WarnWithContext(ctx, "Resolve ignored", map[string]interface{}{
			"operation": "hitl_resolve",
			"decision":  string(d.Kind),
			"reason":    err.Error(),
		})
		return err
	}

	ctx, span := c.telemetry.StartSpan(ctx, "hitl.resume")
	defer span.End()
	span.SetAttribute("conversation_id", tok.scope.ConversationID)
	span.SetAttribute("interrupt_id", rec.InterruptID)
	span.SetAttribute("decision", string(d.Kind))

	startTime := time.Now()
	result, err := c.submit(ctx, tok.scope, rec, d)
	telemetry.Duration(telemetry.MetricResumeDuration, startTime, "decision", string(d.Kind))

	outcome := c.state.finishResolve(tok, rec, err)
	if err != nil {
		span.RecordError(err)
		telemetry.Counter(telemetry.MetricResumeFailed, "decision", string(d.Kind))
		fields := map[string]interface{}{
			"operation":       "hitl_resolve",
			"conversation_id": tok.scope.ConversationID,
			"interrupt_id":    rec.InterruptID,
			"decision":        string(d.Kind),
			"error":           err.Error(),
		}
		if outcome == resolveStale {
			c.logger.WarnWithContext(ctx, "Resume failed after a scope change, display not restored", fields)
		} else {
			c.logger.WarnWithContext(ctx, "Resume failed, interrupt restored for retry", fields)
		}
		return &ResumeError{
			ConversationID: tok.scope.ConversationID,
			InterruptID:    rec.InterruptID,
			Err:            err,
		}
	}

	telemetry.Counter(telemetry.MetricResumeSubmitted, "decision", string(d.Kind))
	telemetry.AddSpanEvent(ctx, "hitl.resume.submitted",
		attribute.String("interrupt_id", rec.InterruptID),
		attribute.String("decision", string(d.Kind)),
		attribute.Int("decision_count", decisionCount(rec)),
	)
	fields := map[string]interface{}{
		"operation":       "hitl_resolve",
		"conversation_id": tok.scope.ConversationID,
		"interrupt_id":    rec.InterruptID,
		"node_name":       rec.NodeName,
		"decision":        string(d.Kind),
	}
	if result != nil {
		fields["run_id"] = result.RunID
		fields["status"] = result.Status
	}
	c.logger.InfoWithContext(ctx, "Resume submitted", fields)
	return nil
}

func (c *Coordinator) submit(ctx context.Context, scope Scope, rec *InterruptRecord, d Decision) (*ResumeResult, error) {
	entries, err := EncodeDecisions(rec.PendingAction, d)
	if err != nil {
		return nil, err
	}
	if c.submitter == nil {
		return nil, core.NewFrameworkError("hitl.Resolve", "config", core.ErrNotInitialized)
	}
	return c.submitter.SubmitResume(ctx, scope, ResumeRequest{
		CommandID:   c.newID(),
		InterruptID: rec.InterruptID,
		Decisions:   entries,
	})
}

func decisionCount(rec *InterruptRecord) int {
	if n := len(rec.PendingAction.ActionRequests); n > 0 {
		return n
	}
	return 1
}
