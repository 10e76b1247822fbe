package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/itsneelabh/hitlchat/hitl"
)

// parseDecision reads "approve", "reject" or "edit {json}". Single letters
// are accepted as shorthands.
func parseDecision(line string) (hitl.Decision, error) {
	word, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(word) {
	case "a":
		word = string(hitl.DecisionApprove)
	case "r":
		word = string(hitl.DecisionReject)
	case "e":
		word = string(hitl.DecisionEdit)
	}

	kind, err := hitl.ParseDecisionKind(strings.ToLower(word))
	if err != nil {
		return hitl.Decision{}, err
	}
	if kind != hitl.DecisionEdit {
		return hitl.Decision{Kind: kind}, nil
	}
	args, err := parseArgs(rest)
	if err != nil {
		return hitl.Decision{}, err
	}
	return hitl.Edit(args), nil
}

func parseArgs(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("edit needs a JSON object of arguments: %w", hitl.ErrInvalidDecision)
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("edit arguments are not a JSON object: %v: %w", err, hitl.ErrInvalidDecision)
	}
	return args, nil
}

// printer renders interrupt notifications. It is safe for concurrent use.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	asJSON bool
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, asJSON: format == "json"}
}

// listen is a hitl.Listener.
func (p *printer) listen(conversationID string, rec *hitl.InterruptRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.asJSON {
		_ = json.NewEncoder(p.w).Encode(struct {
			ConversationID string                `json:"conversation_id"`
			Interrupt      *hitl.InterruptRecord `json:"interrupt"`
		}{conversationID, rec})
		return
	}

	if rec == nil {
		fmt.Fprintf(p.w, "[%s] interrupt cleared\n", conversationID)
		return
	}
	fmt.Fprintf(p.w, "[%s] run paused at %s", conversationID, rec.NodeName)
	if rec.InterruptID != "" {
		fmt.Fprintf(p.w, " (interrupt %s)", rec.InterruptID)
	}
	fmt.Fprintln(p.w)
	if rec.PendingAction.Description != "" {
		fmt.Fprintf(p.w, "  %s\n", rec.PendingAction.Description)
	}
	for _, req := range rec.PendingAction.ActionRequests {
		fmt.Fprintf(p.w, "  - %s%s\n", req.Name, formatArgs(req.Args))
	}
	for _, rc := range rec.PendingAction.ReviewConfigs {
		if len(rc.AllowedDecisions) == 0 {
			continue
		}
		kinds := make([]string, len(rc.AllowedDecisions))
		for i, k := range rc.AllowedDecisions {
			kinds[i] = string(k)
		}
		fmt.Fprintf(p.w, "  %s allows: %s\n", rc.ActionName, strings.Join(kinds, ", "))
	}
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v, err := json.Marshal(args[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", args[k]))
		}
		parts[i] = k + "=" + string(v)
	}
	return " " + strings.Join(parts, " ")
}
