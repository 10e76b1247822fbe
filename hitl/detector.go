package hitl

import (
	"context"
	"time"

	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultPollInterval is the detector cadence.
	DefaultPollInterval = 2 * time.Second
	// DefaultQueryTimeout bounds one fallback query.
	DefaultQueryTimeout = 10 * time.Second

	sourceLive  = "live"
	sourceQuery = "query"
)

// Detector decides, once per tick, which interrupt (if any) the active
// conversation should display. The live probe wins over the fallback query;
// the query runs only when the probe reports nothing.
type Detector struct {
	state        *threadState
	probe        LiveProbe
	querier      RunStateQuerier
	interval     time.Duration
	queryTimeout time.Duration

	logger    core.Logger
	telemetry core.Telemetry
}

func newDetector(state *threadState, probe LiveProbe, querier RunStateQuerier, o *options) *Detector {
	if probe == nil {
		probe = NoLiveProbe{}
	}
	return &Detector{
		state:        state,
		probe:        probe,
		querier:      querier,
		interval:     o.pollInterval,
		queryTimeout: o.queryTimeout,
		logger:       o.logger,
		telemetry:    o.telemetry,
	}
}

// Run performs one tick immediately and then one per interval until ctx is done.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick evaluates both channels once and publishes the result. Results that
// arrive after the conversation changed are discarded.
func (d *Detector) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	tok, active := d.state.begin()
	if !active {
		if d.state.publish(tok, nil) == publishCleared {
			telemetry.Counter(telemetry.MetricInterruptCleared, "reason", "inactive")
		}
		return
	}

	ctx, span := d.telemetry.StartSpan(ctx, "hitl.detector.tick")
	defer span.End()
	span.SetAttribute("conversation_id", tok.scope.ConversationID)

	rec, source := d.detect(ctx, tok.scope)
	if ctx.Err() != nil {
		// Loop torn down mid-tick; the next loop owns publication.
		return
	}

	switch d.state.publish(tok, rec) {
	case publishShown:
		span.SetAttribute("interrupt_id", rec.InterruptID)
		telemetry.AddSpanEvent(ctx, "hitl.interrupt.published",
			attribute.String("interrupt_id", rec.InterruptID),
			attribute.String("node_name", rec.NodeName),
			attribute.String("source", source),
		)
		telemetry.Counter(telemetry.MetricInterruptPublished, "source", source)
		d.logger.InfoWithContext(ctx, "Interrupt displayed", map[string]interface{}{
			"operation":       "hitl_detect",
			"conversation_id": tok.scope.ConversationID,
			"interrupt_id":    rec.InterruptID,
			"run_id":          rec.RunID,
			"node_name":       rec.NodeName,
			"action_count":    len(rec.PendingAction.ActionRequests),
			"source":          source,
		})
	case publishCleared:
		telemetry.Counter(telemetry.MetricInterruptCleared, "reason", "not_paused")
		d.logger.DebugWithContext(ctx, "Interrupt cleared", map[string]interface{}{
			"operation":       "hitl_detect",
			"conversation_id": tok.scope.ConversationID,
		})
	case publishHandled:
		d.logger.DebugWithContext(ctx, "Backend still reports a handled interrupt", map[string]interface{}{
			"operation":       "hitl_detect",
			"conversation_id": tok.scope.ConversationID,
			"interrupt_id":    rec.InterruptID,
		})
	case publishStale:
		d.logger.DebugWithContext(ctx, "Discarding detection from superseded conversation", map[string]interface{}{
			"operation":       "hitl_detect",
			"conversation_id": tok.scope.ConversationID,
		})
	}
}

func (d *Detector) detect(ctx context.Context, scope Scope) (*InterruptRecord, string) {
	if p := d.probe.ProbeLiveInterrupt(scope.ConversationID); p != nil {
		return Normalize(scope.ConversationID, p, nil), sourceLive
	}
	if d.querier == nil {
		return nil, sourceQuery
	}

	qctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	rs, err := d.querier.QueryRunState(qctx, scope)
	if err != nil {
		if ctx.Err() == nil {
			telemetry.RecordSpanError(ctx, err)
			telemetry.Counter(telemetry.MetricQueryFailed)
			d.logger.WarnWithContext(ctx, "Run state query failed, treating as no interrupt", map[string]interface{}{
				"operation":       "hitl_detect",
				"conversation_id": scope.ConversationID,
				"error":           err.Error(),
			})
		}
		return nil, sourceQuery
	}

	p := rs.FirstInterrupt()
	if p == nil {
		return nil, sourceQuery
	}
	if p.RunID == "" {
		p.RunID = rs.RunID
	}
	return Normalize(scope.ConversationID, p, rs.Values), sourceQuery
}
