package live_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/itsneelabh/hitlchat/hitltest"
	"github.com/itsneelabh/hitlchat/live"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tickFor = 10 * time.Millisecond
	token   = "token-1"
)

func startBackend(t *testing.T, opts ...hitltest.Option) (*hitltest.Backend, string) {
	t.Helper()
	b := hitltest.NewBackend(append([]hitltest.Option{hitltest.WithToken(token)}, opts...)...)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newSource(t *testing.T, wsURL string) *live.WebSocketSource {
	t.Helper()
	src, err := live.NewWebSocketSource(wsURL,
		live.WithWebSocketLogger(&core.NoOpLogger{}),
		live.WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond),
		live.WithPingInterval(time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func scope(id string) hitl.Scope {
	return hitl.Scope{ConversationID: id, Credential: token}
}

func TestNewWebSocketSourceValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "http://localhost", "ws://", "::"} {
		_, err := live.NewWebSocketSource(raw)
		assert.ErrorIs(t, err, core.ErrInvalidConfiguration, "url %q", raw)
	}
}

func TestStreamURL(t *testing.T) {
	src, err := live.NewWebSocketSource("wss://example.com/api/")
	require.NoError(t, err)

	assert.Equal(t, "wss://example.com/api/threads/a%2Fb/stream", src.StreamURL("a/b"))
}

func TestWebSocketSourceReceivesInterrupt(t *testing.T) {
	backend, wsURL := startBackend(t)
	src := newSource(t, wsURL)

	require.NoError(t, src.Follow(context.Background(), scope("thread-a")))
	require.Eventually(t, func() bool { return backend.Streams("thread-a") == 1 }, waitFor, tickFor)
	assert.Nil(t, src.ProbeLiveInterrupt("thread-a"))

	backend.Pause("thread-a", hitl.InterruptPayload{ID: "i1", RunID: "run-1", Value: &hitl.InterruptValue{Name: "send_email"}})

	require.Eventually(t, func() bool { return src.ProbeLiveInterrupt("thread-a") != nil }, waitFor, tickFor)
	p := src.ProbeLiveInterrupt("thread-a")
	assert.Equal(t, "i1", p.ID)
	assert.Equal(t, "run-1", p.RunID)

	backend.Complete("thread-a")
	require.Eventually(t, func() bool { return src.ProbeLiveInterrupt("thread-a") == nil }, waitFor, tickFor)
}

func TestWebSocketSourceSeesPendingInterruptOnConnect(t *testing.T) {
	backend, wsURL := startBackend(t)
	backend.Pause("thread-a", hitl.InterruptPayload{ID: "i1"})
	src := newSource(t, wsURL)

	require.NoError(t, src.Follow(context.Background(), scope("thread-a")))

	require.Eventually(t, func() bool { return src.ProbeLiveInterrupt("thread-a") != nil }, waitFor, tickFor)
}

func TestWebSocketSourceReconnects(t *testing.T) {
	backend, wsURL := startBackend(t)
	backend.Pause("thread-a", hitl.InterruptPayload{ID: "i1"})
	src := newSource(t, wsURL)

	require.NoError(t, src.Follow(context.Background(), scope("thread-a")))
	require.Eventually(t, func() bool { return src.ProbeLiveInterrupt("thread-a") != nil }, waitFor, tickFor)

	backend.Complete("thread-a")
	require.Eventually(t, func() bool { return src.ProbeLiveInterrupt("thread-a") == nil }, waitFor, tickFor)

	backend.DropStreams("thread-a")
	backend.Pause("thread-a", hitl.InterruptPayload{ID: "i2"})

	// The pending interrupt is replayed on the new connection.
	require.Eventually(t, func() bool {
		p := src.ProbeLiveInterrupt("thread-a")
		return p != nil && p.ID == "i2"
	}, waitFor, tickFor)
}

func TestWebSocketSourceFollowReplacesSubscription(t *testing.T) {
	backend, wsURL := startBackend(t)
	src := newSource(t, wsURL)

	require.NoError(t, src.Follow(context.Background(), scope("thread-a")))
	require.Eventually(t, func() bool { return backend.Streams("thread-a") == 1 }, waitFor, tickFor)

	require.NoError(t, src.Follow(context.Background(), scope("thread-b")))

	require.Eventually(t, func() bool {
		return backend.Streams("thread-a") == 0 && backend.Streams("thread-b") == 1
	}, waitFor, tickFor)
}

func TestWebSocketSourceRejectedCredentialReportsNothing(t *testing.T) {
	backend, wsURL := startBackend(t)
	backend.Pause("thread-a", hitl.InterruptPayload{ID: "i1"})
	src := newSource(t, wsURL)

	require.NoError(t, src.Follow(context.Background(), hitl.Scope{ConversationID: "thread-a", Credential: "wrong"}))

	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, src.ProbeLiveInterrupt("thread-a"))
	assert.Equal(t, 0, backend.Streams("thread-a"))
}

func TestWebSocketSourceContextCancelStops(t *testing.T) {
	backend, wsURL := startBackend(t)
	backend.Pause("thread-a", hitl.InterruptPayload{ID: "i1"})
	src := newSource(t, wsURL)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, src.Follow(ctx, scope("thread-a")))
	require.Eventually(t, func() bool { return src.ProbeLiveInterrupt("thread-a") != nil }, waitFor, tickFor)

	cancel()

	require.Eventually(t, func() bool {
		return src.ProbeLiveInterrupt("thread-a") == nil && backend.Streams("thread-a") == 0
	}, waitFor, tickFor)
}

func TestWebSocketSourceFollowRequiresConversation(t *testing.T) {
	src, err := live.NewWebSocketSource("ws://localhost:1")
	require.NoError(t, err)

	assert.ErrorIs(t, src.Follow(context.Background(), hitl.Scope{}), core.ErrMissingConfiguration)
}
