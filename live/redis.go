package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/itsneelabh/hitlchat/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultChannelPrefix namespaces the pub/sub channels.
const DefaultChannelPrefix = "hitlchat"

// RedisSource receives run events from Redis pub/sub on
// {prefix}:thread:{thread_id}:events.
type RedisSource struct {
	client    *redis.Client
	keyPrefix string
	tracker   *Tracker
	logger    core.Logger
	ownClient bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// RedisOption configures a RedisSource.
type RedisOption func(*RedisSource)

// WithRedisLogger sets the logger for the source
func WithRedisLogger(logger core.Logger) RedisOption {
	return func(s *RedisSource) {
		if logger == nil {
			return
		}
		s.logger = core.ComponentLogger(logger, "hitlchat/live")
	}
}

// WithRedisTracker shares an existing tracker.
func WithRedisTracker(t *Tracker) RedisOption {
	return func(s *RedisSource) {
		if t != nil {
			s.tracker = t
		}
	}
}

// NewRedisSource creates a source on an existing client. The client stays
// owned by the caller.
func NewRedisSource(client *redis.Client, keyPrefix string, opts ...RedisOption) *RedisSource {
	if keyPrefix == "" {
		keyPrefix = DefaultChannelPrefix
	}
	s := &RedisSource{
		client:    client,
		keyPrefix: keyPrefix,
		tracker:   NewTracker(),
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisSourceFromURL connects to redisURL and verifies the connection.
func NewRedisSourceFromURL(ctx context.Context, redisURL string, db int, keyPrefix string, opts ...RedisOption) (*RedisSource, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrInvalidConfiguration)
	}
	redisOpt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration)
	}
	if db > 0 {
		redisOpt.DB = db
	}

	client := redis.NewClient(redisOpt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %v: %w", err, core.ErrConnectionFailed)
	}

	s := NewRedisSource(client, keyPrefix, opts...)
	s.ownClient = true
	return s, nil
}

// Channel returns the pub/sub channel of conversationID.
func (s *RedisSource) Channel(conversationID string) string {
	return fmt.Sprintf("%s:thread:%s:events", s.keyPrefix, conversationID)
}

// Tracker returns the tracker fed by this source.
func (s *RedisSource) Tracker() *Tracker {
	return s.tracker
}

// ProbeLiveInterrupt implements hitl.LiveProbe.
func (s *RedisSource) ProbeLiveInterrupt(conversationID string) *hitl.InterruptPayload {
	return s.tracker.ProbeLiveInterrupt(conversationID)
}

// Follow implements hitl.Follower. The subscription is confirmed before
// Follow returns; messages are then consumed until ctx is canceled or
// another conversation is followed.
func (s *RedisSource) Follow(ctx context.Context, scope hitl.Scope) error {
	if scope.ConversationID == "" {
		return fmt.Errorf("conversation ID is required: %w", core.ErrMissingConfiguration)
	}
	s.stop()

	channel := s.Channel(scope.ConversationID)
	subCtx, cancel := context.WithCancel(ctx)

	pubsub := s.client.Subscribe(subCtx, channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		telemetry.RecordSpanError(ctx, err)
		return fmt.Errorf("failed to subscribe to %s: %v: %w", channel, err, core.ErrConnectionFailed)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer func() {
			_ = pubsub.Close() // Error intentionally ignored in cleanup
			s.tracker.Clear(scope.ConversationID)
			close(done)
		}()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev RunEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.logger.WarnWithContext(subCtx, "Failed to unmarshal run event", map[string]interface{}{
						"operation":       "live_redis_receive",
						"conversation_id": scope.ConversationID,
						"error":           err.Error(),
					})
					continue
				}
				s.tracker.Apply(scope.ConversationID, ev)
			}
		}
	}()

	s.logger.DebugWithContext(ctx, "Subscribed to run events", map[string]interface{}{
		"operation":       "live_redis_subscribe",
		"conversation_id": scope.ConversationID,
		"channel":         channel,
	})
	return nil
}

// Publish sends ev on the channel of conversationID.
func (s *RedisSource) Publish(ctx context.Context, conversationID string, ev RunEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.ThreadID == "" {
		ev.ThreadID = conversationID
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	channel := s.Channel(conversationID)
	if err := s.client.Publish(ctx, channel, data).Err(); err != nil {
		telemetry.RecordSpanError(ctx, err)
		return fmt.Errorf("failed to publish run event: %v: %w", err, core.ErrConnectionFailed)
	}
	telemetry.AddSpanEvent(ctx, "hitlchat.live.published",
		attribute.String("channel", channel),
		attribute.String("event_type", string(ev.Type)),
	)
	return nil
}

// Close ends the subscription, and closes the client if the source created it.
func (s *RedisSource) Close() error {
	s.stop()
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

func (s *RedisSource) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
