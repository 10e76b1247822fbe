package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/itsneelabh/hitlchat/telemetry"
)

const (
	// DefaultPingInterval is how often keepalive pings are sent.
	DefaultPingInterval = 30 * time.Second

	writeWait = 10 * time.Second
)

// WebSocketSource streams run events from {base}/threads/{id}/stream into a
// Tracker. The connection is re-established with exponential backoff until
// the Follow context ends; while disconnected the conversation reports no
// live interrupt, so detection falls back to the state query.
type WebSocketSource struct {
	baseURL      *url.URL
	tracker      *Tracker
	dialer       *websocket.Dialer
	pingInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	logger       core.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// WebSocketOption configures a WebSocketSource.
type WebSocketOption func(*WebSocketSource)

// WithWebSocketLogger sets the logger for the source
func WithWebSocketLogger(logger core.Logger) WebSocketOption {
	return func(s *WebSocketSource) {
		if logger == nil {
			return
		}
		s.logger = core.ComponentLogger(logger, "hitlchat/live")
	}
}

// WithPingInterval sets the keepalive interval. Zero disables pings and read deadlines.
func WithPingInterval(d time.Duration) WebSocketOption {
	return func(s *WebSocketSource) {
		if d >= 0 {
			s.pingInterval = d
		}
	}
}

// WithReconnectBackoff bounds the reconnect delay.
func WithReconnectBackoff(min, max time.Duration) WebSocketOption {
	return func(s *WebSocketSource) {
		if min > 0 {
			s.minBackoff = min
		}
		if max >= s.minBackoff {
			s.maxBackoff = max
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(s *WebSocketSource) {
		if d != nil {
			s.dialer = d
		}
	}
}

// WithTracker shares an existing tracker.
func WithTracker(t *Tracker) WebSocketOption {
	return func(s *WebSocketSource) {
		if t != nil {
			s.tracker = t
		}
	}
}

// NewWebSocketSource creates a source for the ws:// or wss:// base URL.
func NewWebSocketSource(baseURL string, opts ...WebSocketOption) (*WebSocketSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("invalid websocket URL %q: %w", baseURL, core.ErrInvalidConfiguration)
	}

	s := &WebSocketSource{
		baseURL:      u,
		tracker:      NewTracker(),
		dialer:       websocket.DefaultDialer,
		pingInterval: DefaultPingInterval,
		minBackoff:   500 * time.Millisecond,
		maxBackoff:   30 * time.Second,
		logger:       &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tracker returns the tracker fed by this source.
func (s *WebSocketSource) Tracker() *Tracker {
	return s.tracker
}

// ProbeLiveInterrupt implements hitl.LiveProbe.
func (s *WebSocketSource) ProbeLiveInterrupt(conversationID string) *hitl.InterruptPayload {
	return s.tracker.ProbeLiveInterrupt(conversationID)
}

// StreamURL returns the stream endpoint of conversationID.
func (s *WebSocketSource) StreamURL(conversationID string) string {
	u := *s.baseURL
	raw := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/threads/" + conversationID + "/stream"
	u.RawPath = raw + "/threads/" + url.PathEscape(conversationID) + "/stream"
	return u.String()
}

// Follow implements hitl.Follower. It replaces any previous subscription and
// returns immediately; the connection runs until ctx is canceled.
func (s *WebSocketSource) Follow(ctx context.Context, scope hitl.Scope) error {
	if scope.ConversationID == "" {
		return fmt.Errorf("conversation ID is required: %w", core.ErrMissingConfiguration)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	go func() {
		defer close(done)
		s.run(ctx, scope)
	}()
	return nil
}

// Close stops the current subscription and waits for it to end.
func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (s *WebSocketSource) run(ctx context.Context, scope hitl.Scope) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.minBackoff
	b.MaxInterval = s.maxBackoff
	b.Reset()

	for {
		connected, err := s.session(ctx, scope)
		s.tracker.Clear(scope.ConversationID)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}

		delay := b.NextBackOff()
		telemetry.Counter(telemetry.MetricLiveReconnects, "transport", "websocket")
		s.logger.Warn("Live stream disconnected, reconnecting", map[string]interface{}{
			"operation":       "live_websocket",
			"conversation_id": scope.ConversationID,
			"error":           fmt.Sprintf("%v", err),
			"retry_in":        delay.String(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session holds one connection open, applying every event to the tracker.
// connected reports whether the dial succeeded.
func (s *WebSocketSource) session(ctx context.Context, scope hitl.Scope) (connected bool, err error) {
	header := http.Header{}
	if scope.Credential != "" {
		header.Set("Authorization", "Bearer "+scope.Credential)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.StreamURL(scope.ConversationID), header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, core.ErrConnectionFailed)
		}
		return false, fmt.Errorf("dial failed: %v: %w", err, core.ErrConnectionFailed)
	}
	defer func() { _ = conn.Close() }()

	s.logger.Info("Live stream connected", map[string]interface{}{
		"operation":       "live_websocket",
		"conversation_id": scope.ConversationID,
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.keepalive(ctx, conn, stop)

	pongWait := 2 * s.pingInterval
	extend := func() {
		if pongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		extend()

		var ev RunEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("Ignoring malformed live event", map[string]interface{}{
				"operation":       "live_websocket",
				"conversation_id": scope.ConversationID,
				"error":           err.Error(),
			})
			continue
		}
		if ev.ThreadID != "" && ev.ThreadID != scope.ConversationID {
			continue
		}
		s.tracker.Apply(scope.ConversationID, ev)
	}
}

// keepalive pings the server and closes the connection when ctx ends.
// WriteControl and Close are safe to call concurrently with ReadMessage.
func (s *WebSocketSource) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	var tick <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-tick:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
