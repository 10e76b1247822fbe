package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itsneelabh/hitlchat/backend"
	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/itsneelabh/hitlchat/hitltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    hitl.Decision
		wantErr bool
	}{
		{name: "approve", line: "approve", want: hitl.Approve()},
		{name: "shorthand", line: " r ", want: hitl.Reject()},
		{name: "case insensitive", line: "APPROVE", want: hitl.Approve()},
		{name: "edit", line: `edit {"to": "me@example.com"}`, want: hitl.Edit(map[string]interface{}{"to": "me@example.com"})},
		{name: "edit without args", line: "edit", wantErr: true},
		{name: "edit with bad json", line: "e {to}", wantErr: true},
		{name: "unknown", line: "maybe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDecision(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrinterText(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, "text")

	p.listen("thread-a", &hitl.InterruptRecord{
		InterruptID:    "i1",
		ConversationID: "thread-a",
		NodeName:       "send_email",
		PendingAction: hitl.PendingAction{
			Description:    "Send the report?",
			ActionRequests: []hitl.ActionRequest{{Name: "send_email", Args: map[string]interface{}{"to": "ops", "cc": "me"}}},
			ReviewConfigs:  []hitl.ReviewConfig{{ActionName: "send_email", AllowedDecisions: []hitl.DecisionKind{hitl.DecisionApprove}}},
		},
	})
	p.listen("thread-a", nil)

	want := `[thread-a] run paused at send_email (interrupt i1)
  Send the report?
  - send_email cc="me" to="ops"
  send_email allows: approve
[thread-a] interrupt cleared
`
	assert.Equal(t, want, buf.String())
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, "json")

	p.listen("thread-a", nil)

	assert.JSONEq(t, `{"conversation_id":"thread-a","interrupt":null}`, buf.String())
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	b := hitltest.NewBackend(hitltest.WithToken("secret"))
	srv := httptest.NewServer(b)
	defer srv.Close()
	b.Pause("thread-a", hitl.InterruptPayload{ID: "i1", Value: &hitl.InterruptValue{Name: "send_email"}})

	out, err := runCLI(t, "--backend-url", srv.URL, "--token", "secret", "--live", "none", "--log-level", "error",
		"resolve", "thread-a", "edit", "--args", `{"to":"me@example.com"}`)

	require.NoError(t, err, out)
	assert.Contains(t, out, "edit sent for interrupt i1 on thread-a")
	resumes := b.Resumes("thread-a")
	require.Len(t, resumes, 1)
	assert.Equal(t, "i1", resumes[0].InterruptID)
	assert.Equal(t, hitl.DecisionEdit, resumes[0].Decisions[0].Type)
	assert.Equal(t, "me@example.com", resumes[0].Decisions[0].EditedArguments["to"])
}

func TestResolveCommandNothingPending(t *testing.T) {
	b := hitltest.NewBackend()
	srv := httptest.NewServer(b)
	defer srv.Close()
	b.SetState("thread-a", hitl.RunState{RunID: "run-1"})

	_, err := runCLI(t, "--backend-url", srv.URL, "--token", "t", "--live", "none", "--log-level", "error",
		"resolve", "thread-a", "approve", "--timeout", "5s")

	assert.ErrorIs(t, err, hitl.ErrNoActiveInterrupt)
}

func TestCommandsRequireToken(t *testing.T) {
	t.Setenv("HITLCHAT_TOKEN", "")
	b := hitltest.NewBackend()
	srv := httptest.NewServer(b)
	defer srv.Close()
	b.Pause("thread-a", hitl.InterruptPayload{ID: "i1"})

	for _, args := range [][]string{
		{"resolve", "thread-a", "approve"},
		{"watch", "thread-a"},
	} {
		t.Run(args[0], func(t *testing.T) {
			base := []string{"--backend-url", srv.URL, "--live", "none", "--log-level", "error"}
			_, err := runCLI(t, append(base, args...)...)
			assert.ErrorIs(t, err, core.ErrMissingConfiguration)
		})
	}
	assert.Empty(t, b.Resumes("thread-a"))
}

func TestReadDecisions(t *testing.T) {
	b := hitltest.NewBackend()
	srv := httptest.NewServer(b)
	defer srv.Close()
	b.Pause("thread-a", hitl.InterruptPayload{ID: "i1"})

	client, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	var buf bytes.Buffer
	out := newPrinter(&buf, "text")
	c := hitl.NewController(hitl.NoLiveProbe{}, client, client, hitl.WithPollInterval(time.Hour), hitl.WithListener(out.listen))
	defer c.Close()
	c.SetConversation(hitl.Scope{ConversationID: "thread-a", Credential: "t"})
	require.Eventually(t, func() bool { return c.Current() != nil }, 2*time.Second, 10*time.Millisecond)

	in := strings.NewReader("\nmaybe\napprove\napprove\n")
	require.NoError(t, readDecisions(context.Background(), in, out, c))

	assert.Len(t, b.Resumes("thread-a"), 1)
	text := buf.String()
	assert.Contains(t, text, "invalid decision")
	assert.Contains(t, text, "approve sent")
	assert.Contains(t, text, "nothing to resolve")
}

func TestWatchCommandStopsWithContext(t *testing.T) {
	b := hitltest.NewBackend()
	srv := httptest.NewServer(b)
	defer srv.Close()
	b.Pause("thread-a", hitl.InterruptPayload{ID: "i1", Value: &hitl.InterruptValue{Name: "send_email"}})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--backend-url", srv.URL, "--token", "t", "--live", "none", "--log-level", "error", "watch", "thread-a"})

	start := time.Now()
	require.NoError(t, cmd.ExecuteContext(ctx))

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, out.String(), "[thread-a] run paused at send_email (interrupt i1)")
	assert.Empty(t, b.Resumes("thread-a"))
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "hitlchat development"), out)
}
