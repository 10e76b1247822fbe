package hitl

import (
	"reflect"
)

// UnknownNodeName is used when an interrupt payload names no action.
const UnknownNodeName = "unknown"

// ActionRequest is one action awaiting a human decision.
type ActionRequest struct {
	Name        string                 `json:"name"`
	Args        map[string]interface{} `json:"args,omitempty"`
	Description string                 `json:"description,omitempty"`
}

// ReviewConfig lists the decision kinds a reviewer may use for an action.
// An empty AllowedDecisions list allows every kind.
type ReviewConfig struct {
	ActionName       string         `json:"action_name"`
	AllowedDecisions []DecisionKind `json:"allowed_decisions,omitempty"`
}

// InterruptValue is the body of an interrupt as the backend reports it.
type InterruptValue struct {
	Name           string          `json:"name,omitempty"`
	ActionRequests []ActionRequest `json:"action_requests,omitempty"`
	ReviewConfigs  []ReviewConfig  `json:"review_configs,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// InterruptPayload is the wire shape of an interrupt. The body may be
// carried inline, nested under "value", or split between the two:
//
//	{"id": "i1", "action_requests": [{"name": "analyze_image", "args": {"x": 1}}]}
//	{"id": "i2", "value": {"name": "send_email"}}
type InterruptPayload struct {
	ID    string `json:"id,omitempty"`
	RunID string `json:"run_id,omitempty"`
	InterruptValue
	Value *InterruptValue `json:"value,omitempty"`
}

// TaskState is one task of a run as reported by the state query.
type TaskState struct {
	ID         string             `json:"id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Interrupts []InterruptPayload `json:"interrupts,omitempty"`
}

// RunState is the persisted state of a conversation's latest run.
type RunState struct {
	RunID      string                 `json:"run_id,omitempty"`
	Values     map[string]interface{} `json:"values,omitempty"`
	Interrupts []InterruptPayload     `json:"interrupts,omitempty"`
	Tasks      []TaskState            `json:"tasks,omitempty"`
}

// Candidates returns the top-level interrupts followed by every task's
// interrupts, in reported order.
func (rs *RunState) Candidates() []InterruptPayload {
	if rs == nil {
		return nil
	}
	out := make([]InterruptPayload, 0, len(rs.Interrupts))
	out = append(out, rs.Interrupts...)
	for _, task := range rs.Tasks {
		out = append(out, task.Interrupts...)
	}
	return out
}

// FirstInterrupt returns the first candidate interrupt, or nil when the run
// is not paused.
func (rs *RunState) FirstInterrupt() *InterruptPayload {
	candidates := rs.Candidates()
	if len(candidates) == 0 {
		return nil
	}
	p := candidates[0]
	return &p
}

// PendingAction is the ordered set of action requests an interrupt asks the
// reviewer to decide on, together with the review policy.
type PendingAction struct {
	ActionRequests []ActionRequest `json:"action_requests,omitempty"`
	ReviewConfigs  []ReviewConfig  `json:"review_configs,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// Allows reports whether kind is permitted for every action request.
// It returns the name of the first action that forbids it.
func (p PendingAction) Allows(kind DecisionKind) (bool, string) {
	for _, req := range p.ActionRequests {
		for _, rc := range p.ReviewConfigs {
			if rc.ActionName != req.Name || len(rc.AllowedDecisions) == 0 {
				continue
			}
			if !containsKind(rc.AllowedDecisions, kind) {
				return false, req.Name
			}
		}
	}
	return true, ""
}

func containsKind(kinds []DecisionKind, kind DecisionKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// InterruptRecord is the canonical client-side view of a paused run.
// Records are never mutated after Normalize builds them.
type InterruptRecord struct {
	InterruptID    string                 `json:"interrupt_id,omitempty"`
	RunID          string                 `json:"run_id,omitempty"`
	ConversationID string                 `json:"conversation_id"`
	NodeName       string                 `json:"node_name"`
	PendingAction  PendingAction          `json:"pending_action"`
	StateSnapshot  map[string]interface{} `json:"state_snapshot,omitempty"`
}

// SameInterrupt reports whether two records describe the same pause. Records
// with an ID compare by ID; records without one compare by content.
func (r *InterruptRecord) SameInterrupt(other *InterruptRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.InterruptID != "" || other.InterruptID != "" {
		return r.InterruptID == other.InterruptID
	}
	return r.NodeName == other.NodeName &&
		reflect.DeepEqual(r.PendingAction, other.PendingAction)
}

// Normalize converts a wire payload into a record for conversationID.
// Inline body fields take precedence over the nested value. The snapshot is
// copied so later changes to the run state do not leak into the record.
func Normalize(conversationID string, p *InterruptPayload, snapshot map[string]interface{}) *InterruptRecord {
	if p == nil {
		return nil
	}

	body := p.InterruptValue
	if p.Value != nil {
		if body.Name == "" {
			body.Name = p.Value.Name
		}
		if len(body.ActionRequests) == 0 {
			body.ActionRequests = p.Value.ActionRequests
		}
		if len(body.ReviewConfigs) == 0 {
			body.ReviewConfigs = p.Value.ReviewConfigs
		}
		if body.Description == "" {
			body.Description = p.Value.Description
		}
	}

	nodeName := UnknownNodeName
	switch {
	case len(body.ActionRequests) > 0 && body.ActionRequests[0].Name != "":
		nodeName = body.ActionRequests[0].Name
	case body.Name != "":
		nodeName = body.Name
	}

	return &InterruptRecord{
		InterruptID:    p.ID,
		RunID:          p.RunID,
		ConversationID: conversationID,
		NodeName:       nodeName,
		PendingAction: PendingAction{
			ActionRequests: cloneRequests(body.ActionRequests),
			ReviewConfigs:  append([]ReviewConfig(nil), body.ReviewConfigs...),
			Description:    body.Description,
		},
		StateSnapshot: cloneMap(snapshot),
	}
}

func cloneRequests(in []ActionRequest) []ActionRequest {
	if in == nil {
		return nil
	}
	out := make([]ActionRequest, len(in))
	for i, req := range in {
		out[i] = ActionRequest{
			Name:        req.Name,
			Args:        cloneMap(req.Args),
			Description: req.Description,
		}
	}
	return out
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
