package live

import (
	"context"
	"fmt"

	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/hitl"
)

// Source is a live transport: it follows one conversation at a time and
// answers the live probe from what it has received.
type Source interface {
	hitl.LiveProbe
	hitl.Follower
	Close() error
}

var (
	_ Source = (*WebSocketSource)(nil)
	_ Source = (*RedisSource)(nil)
)

// NewSourceFromConfig builds the transport selected by cfg.Live.Transport.
// It returns a nil Source for "none"; callers then rely on the state query
// alone.
func NewSourceFromConfig(ctx context.Context, cfg *core.Config, logger core.Logger) (Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil: %w", core.ErrMissingConfiguration)
	}

	switch cfg.Live.Transport {
	case "none":
		return nil, nil
	case "websocket", "":
		return NewWebSocketSource(cfg.LiveWebSocketURL(),
			WithWebSocketLogger(logger),
			WithPingInterval(cfg.Live.PingInterval),
		)
	case "redis":
		return NewRedisSourceFromURL(ctx, cfg.Live.RedisURL, cfg.Live.RedisDB, cfg.Live.ChannelPrefix,
			WithRedisLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unknown live transport %q: %w", cfg.Live.Transport, core.ErrInvalidConfiguration)
	}
}
