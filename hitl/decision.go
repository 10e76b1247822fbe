package hitl

import (
	"fmt"
	"strings"
)

// DecisionKind is the kind of human decision carried back to the backend.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
	DecisionEdit    DecisionKind = "edit"
)

// ParseDecisionKind parses a decision kind, ignoring case and surrounding space.
func ParseDecisionKind(s string) (DecisionKind, error) {
	switch kind := DecisionKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case DecisionApprove, DecisionReject, DecisionEdit:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown decision %q: %w", s, ErrInvalidDecision)
	}
}

// Decision is a human decision on an interrupt. It applies uniformly to every
// action request of the interrupt.
type Decision struct {
	Kind            DecisionKind
	EditedArguments map[string]interface{}
}

// Approve returns an approve decision.
func Approve() Decision { return Decision{Kind: DecisionApprove} }

// Reject returns a reject decision.
func Reject() Decision { return Decision{Kind: DecisionReject} }

// Edit returns an edit decision carrying the replacement arguments.
func Edit(args map[string]interface{}) Decision {
	return Decision{Kind: DecisionEdit, EditedArguments: args}
}

// Validate checks that the decision can be encoded.
func (d Decision) Validate() error {
	switch d.Kind {
	case DecisionApprove, DecisionReject:
		return nil
	case DecisionEdit:
		if d.EditedArguments == nil {
			return fmt.Errorf("edit decision requires edited arguments: %w", ErrInvalidDecision)
		}
		return nil
	default:
		return fmt.Errorf("unknown decision kind %q: %w", d.Kind, ErrInvalidDecision)
	}
}

// DecisionEntry is the wire form of the decision for one action request.
type DecisionEntry struct {
	Type            DecisionKind           `json:"type"`
	EditedArguments map[string]interface{} `json:"edited_arguments,omitempty"`
}

// ResumeRequest is the body of a resume command.
type ResumeRequest struct {
	CommandID   string          `json:"command_id"`
	InterruptID string          `json:"interrupt_id,omitempty"`
	Decisions   []DecisionEntry `json:"decisions"`
}

// EncodeDecisions produces one entry per action request, in request order.
// A pending action without requests still yields a single entry so the
// backend always receives a decision.
func EncodeDecisions(pending PendingAction, d Decision) ([]DecisionEntry, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	n := len(pending.ActionRequests)
	if n == 0 {
		n = 1
	}

	entries := make([]DecisionEntry, n)
	for i := range entries {
		entries[i] = DecisionEntry{Type: d.Kind}
		if d.Kind == DecisionEdit {
			entries[i].EditedArguments = d.EditedArguments
		}
	}
	return entries, nil
}
