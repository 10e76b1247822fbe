package hitl

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================
//
// Resolve never panics and never leaves the display in an undefined state.
// Its errors are returned as values so the presentation layer can decide
// whether to show anything; the interrupt itself stays retryable.
//
// Usage:
//
//	if err := controller.Resolve(ctx, hitl.Approve()); err != nil {
//	    if hitl.IsResumeFailed(err) {
//	        // The interrupt is displayed again and can be retried
//	    }
//	}
//
// =============================================================================

var (
	// ErrNoActiveInterrupt is returned by Resolve when nothing is displayed.
	ErrNoActiveInterrupt = errors.New("no active interrupt")

	// ErrNoSession is returned by Resolve when no conversation or credential is set.
	ErrNoSession = errors.New("no conversation session")

	// ErrInvalidDecision is returned for decisions that cannot be encoded.
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrDecisionNotAllowed is returned when the review policy of the
	// interrupt forbids the decision kind.
	ErrDecisionNotAllowed = errors.New("decision not allowed")
)

// ResumeError reports a resume submission that failed and was rolled back.
type ResumeError struct {
	ConversationID string
	InterruptID    string
	Err            error
}

func (e *ResumeError) Error() string {
	if e.InterruptID != "" {
		return fmt.Sprintf("resume failed: conversation=%s, interrupt_id=%s: %v", e.ConversationID, e.InterruptID, e.Err)
	}
	return fmt.Sprintf("resume failed: conversation=%s: %v", e.ConversationID, e.Err)
}

// Unwrap returns the underlying submission error
func (e *ResumeError) Unwrap() error {
	return e.Err
}

// IsResumeFailed checks if an error is a rolled-back resume submission.
func IsResumeFailed(err error) bool {
	if err == nil {
		return false
	}
	var re *ResumeError
	return errors.As(err, &re)
}
