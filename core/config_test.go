package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "hitlchat", cfg.Name)
	assert.Equal(t, "http://localhost:8080", cfg.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)

	// Live channel defaults
	assert.Equal(t, "websocket", cfg.Live.Transport)
	assert.Equal(t, "hitlchat", cfg.Live.ChannelPrefix)

	// Interrupts on, polling every 2s
	assert.True(t, cfg.Interrupts.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Interrupts.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Interrupts.QueryTimeout)

	assert.True(t, cfg.Resilience.CircuitBreaker.Enabled)
	assert.Equal(t, 3, cfg.Resilience.Retry.MaxAttempts)

	// Telemetry is opt-in
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HITLCHAT_BACKEND_URL", "https://agents.example.com")
	t.Setenv("HITLCHAT_TOKEN", "secret")
	t.Setenv("HITLCHAT_LIVE_TRANSPORT", "REDIS")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("HITLCHAT_REDIS_DB", "4")
	t.Setenv("HITLCHAT_POLL_INTERVAL", "500ms")
	t.Setenv("HITLCHAT_INTERRUPTS_ENABLED", "no")
	t.Setenv("HITLCHAT_CB_ERROR_THRESHOLD", "0.25")
	t.Setenv("HITLCHAT_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("OTEL_SERVICE_NAME", "reviewer")
	t.Setenv("HITLCHAT_LOG_FORMAT", "JSON")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "https://agents.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, "redis", cfg.Live.Transport)
	assert.Equal(t, "redis://cache:6379", cfg.Live.RedisURL)
	assert.Equal(t, 4, cfg.Live.RedisDB)
	assert.Equal(t, 500*time.Millisecond, cfg.Interrupts.PollInterval)
	assert.False(t, cfg.Interrupts.Enabled)
	assert.Equal(t, 0.25, cfg.Resilience.CircuitBreaker.ErrorThreshold)
	assert.Equal(t, 5, cfg.Resilience.Retry.MaxAttempts)
	assert.Equal(t, "reviewer", cfg.Telemetry.ServiceName)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromEnvPrefersClientVariables(t *testing.T) {
	t.Setenv("HITLCHAT_REDIS_URL", "redis://primary:6379")
	t.Setenv("REDIS_URL", "redis://fallback:6379")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "redis://primary:6379", cfg.Live.RedisURL)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"HITLCHAT_POLL_INTERVAL":      "soon",
		"HITLCHAT_REDIS_DB":           "first",
		"HITLCHAT_CB_ERROR_THRESHOLD": "half",
		"HITLCHAT_RETRY_MAX_ATTEMPTS": "3.5",
		"HITLCHAT_LIVE_PING_INTERVAL": "1 minute",
	}

	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			err := DefaultConfig().LoadFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "hitlchat.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
backend:
  base_url: https://yaml.example.com
live:
  transport: none
interrupts:
  poll_interval: 5s
`), 0o600))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))
		assert.Equal(t, "https://yaml.example.com", cfg.Backend.BaseURL)
		assert.Equal(t, "none", cfg.Live.Transport)
		assert.Equal(t, 5*time.Second, cfg.Interrupts.PollInterval)
		assert.Equal(t, "hitlchat", cfg.Name, "unset fields keep their defaults")
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "hitlchat.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"backend":{"token":"from-file"}}`), 0o600))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))
		assert.Equal(t, "from-file", cfg.Backend.Token)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		err := DefaultConfig().LoadFromFile(filepath.Join(dir, "hitlchat.toml"))
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
		assert.ErrorIs(t, DefaultConfig().LoadFromFile(path), ErrInvalidConfiguration)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "missing backend", mutate: func(c *Config) { c.Backend.BaseURL = "" }, want: ErrMissingConfiguration},
		{name: "relative backend", mutate: func(c *Config) { c.Backend.BaseURL = "localhost" }, want: ErrInvalidConfiguration},
		{name: "unknown transport", mutate: func(c *Config) { c.Live.Transport = "carrier-pigeon" }, want: ErrInvalidConfiguration},
		{name: "redis without url", mutate: func(c *Config) { c.Live.Transport = "redis" }, want: ErrMissingConfiguration},
		{name: "zero poll interval", mutate: func(c *Config) { c.Interrupts.PollInterval = 0 }, want: ErrInvalidConfiguration},
		{name: "threshold out of range", mutate: func(c *Config) { c.Resilience.CircuitBreaker.ErrorThreshold = 1.5 }, want: ErrInvalidConfiguration},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Telemetry.Enabled = true }, want: ErrMissingConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var fe *FrameworkError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "config", fe.Kind)
		})
	}
}

func TestNewConfigOptions(t *testing.T) {
	cfg, err := NewConfig(
		WithBackendURL("https://agents.example.com/"),
		WithToken("t"),
		WithLiveTransport("none"),
		WithPollInterval(time.Second),
		WithInterruptsEnabled(false),
		WithLogLevel("debug"),
	)
	require.NoError(t, err)

	assert.Equal(t, "https://agents.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "t", cfg.Backend.Token)
	assert.Equal(t, "none", cfg.Live.Transport)
	assert.Equal(t, time.Second, cfg.Interrupts.PollInterval)
	assert.False(t, cfg.Interrupts.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	t.Setenv("HITLCHAT_REDIS_URL", "")
	t.Setenv("REDIS_URL", "")
	_, err = NewConfig(WithLiveTransport("redis"))
	assert.ErrorIs(t, err, ErrMissingConfiguration)
}

func TestLiveWebSocketURL(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Backend.BaseURL = "https://agents.example.com/api"
	assert.Equal(t, "wss://agents.example.com/api", cfg.LiveWebSocketURL())

	cfg.Backend.BaseURL = "http://localhost:8080"
	assert.Equal(t, "ws://localhost:8080", cfg.LiveWebSocketURL())

	cfg.Live.WebSocketURL = "ws://stream.example.com"
	assert.Equal(t, "ws://stream.example.com", cfg.LiveWebSocketURL())
}
