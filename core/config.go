package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the hitlchat client.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options, including WithConfigFile (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithBackendURL("http://localhost:8080"),
//	    WithLiveTransport("websocket"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Name string `json:"name" yaml:"name" env:"HITLCHAT_NAME" default:"hitlchat"`

	// Backend is the orchestration backend the client talks to.
	Backend BackendConfig `json:"backend" yaml:"backend"`

	// Live configures the push channel used for synchronous interrupt probes.
	Live LiveConfig `json:"live" yaml:"live"`

	// Interrupts configures detection and resolution of paused runs.
	Interrupts InterruptConfig `json:"interrupts" yaml:"interrupts"`

	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// BackendConfig contains connection settings for the orchestration backend HTTP API.
type BackendConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url" env:"HITLCHAT_BACKEND_URL" default:"http://localhost:8080"`
	Token   string        `json:"token" yaml:"token" env:"HITLCHAT_TOKEN"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"HITLCHAT_BACKEND_TIMEOUT" default:"30s"`
}

// LiveConfig selects and configures the live push channel.
// Transport is one of "websocket", "redis" or "none".
type LiveConfig struct {
	Transport     string        `json:"transport" yaml:"transport" env:"HITLCHAT_LIVE_TRANSPORT" default:"websocket"`
	WebSocketURL  string        `json:"websocket_url" yaml:"websocket_url" env:"HITLCHAT_LIVE_WS_URL"`
	RedisURL      string        `json:"redis_url" yaml:"redis_url" env:"HITLCHAT_REDIS_URL,REDIS_URL"`
	RedisDB       int           `json:"redis_db" yaml:"redis_db" env:"HITLCHAT_REDIS_DB" default:"0"`
	ChannelPrefix string        `json:"channel_prefix" yaml:"channel_prefix" env:"HITLCHAT_CHANNEL_PREFIX" default:"hitlchat"`
	PingInterval  time.Duration `json:"ping_interval" yaml:"ping_interval" env:"HITLCHAT_LIVE_PING_INTERVAL" default:"30s"`
}

// InterruptConfig configures the interrupt detector.
type InterruptConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled" env:"HITLCHAT_INTERRUPTS_ENABLED" default:"true"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" env:"HITLCHAT_POLL_INTERVAL" default:"2s"`
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout" env:"HITLCHAT_QUERY_TIMEOUT" default:"10s"`
}

// ResilienceConfig contains fault tolerance settings for backend calls.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Retry          RetryConfig          `json:"retry" yaml:"retry"`
}

// CircuitBreakerConfig defines circuit breaker pattern settings.
type CircuitBreakerConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled" env:"HITLCHAT_CB_ENABLED" default:"true"`
	ErrorThreshold  float64       `json:"error_threshold" yaml:"error_threshold" env:"HITLCHAT_CB_ERROR_THRESHOLD" default:"0.5"`
	VolumeThreshold int           `json:"volume_threshold" yaml:"volume_threshold" env:"HITLCHAT_CB_VOLUME_THRESHOLD" default:"10"`
	SleepWindow     time.Duration `json:"sleep_window" yaml:"sleep_window" env:"HITLCHAT_CB_SLEEP_WINDOW" default:"30s"`
}

// RetryConfig defines retry settings with exponential backoff.
// Formula: interval = min(InitialInterval * (Multiplier ^ attempt), MaxInterval)
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts" env:"HITLCHAT_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" env:"HITLCHAT_RETRY_INITIAL_INTERVAL" default:"200ms"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval" env:"HITLCHAT_RETRY_MAX_INTERVAL" default:"2s"`
	Multiplier      float64       `json:"multiplier" yaml:"multiplier" env:"HITLCHAT_RETRY_MULTIPLIER" default:"2.0"`
}

// TelemetryConfig contains tracing configuration.
// Exporter is "otlp" (gRPC) or "stdout".
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"HITLCHAT_TELEMETRY_ENABLED" default:"false"`
	Exporter    string `json:"exporter" yaml:"exporter" env:"HITLCHAT_TELEMETRY_EXPORTER" default:"otlp"`
	Endpoint    string `json:"endpoint" yaml:"endpoint" env:"HITLCHAT_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"HITLCHAT_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	Insecure    bool   `json:"insecure" yaml:"insecure" env:"HITLCHAT_TELEMETRY_INSECURE" default:"true"`
}

// LoggingConfig contains logging configuration.
// Output is "stdout", "stderr" or a file path (rotated by size).
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"HITLCHAT_LOG_LEVEL" default:"info"`
	Format     string `json:"format" yaml:"format" env:"HITLCHAT_LOG_FORMAT" default:"text"`
	Output     string `json:"output" yaml:"output" env:"HITLCHAT_LOG_OUTPUT" default:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" default:"20"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" default:"3"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" default:"14"`
}

// Option configures a Config. Options are applied after environment variables.
type Option func(*Config) error

// DefaultConfig returns a configuration with defaults for local use.
func DefaultConfig() *Config {
	return &Config{
		Name: "hitlchat",
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Live: LiveConfig{
			Transport:     "websocket",
			ChannelPrefix: "hitlchat",
			PingInterval:  30 * time.Second,
		},
		Interrupts: InterruptConfig{
			Enabled:      true,
			PollInterval: 2 * time.Second,
			QueryTimeout: 10 * time.Second,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:         true,
				ErrorThreshold:  0.5,
				VolumeThreshold: 10,
				SleepWindow:     30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     2 * time.Second,
				Multiplier:      2.0,
			},
		},
		Telemetry: TelemetryConfig{
			Exporter:    "otlp",
			ServiceName: "hitlchat",
			Insecure:    true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
// Supported variables:
//   - Client-specific: HITLCHAT_<SETTING>
//   - Standard variables: REDIS_URL, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME
//
// Returns an error if a variable holds a value that cannot be parsed.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("HITLCHAT_NAME"); v != "" {
		c.Name = v
	}

	// Backend
	if v := os.Getenv("HITLCHAT_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("HITLCHAT_TOKEN"); v != "" {
		c.Backend.Token = v
	}
	if err := envDuration("HITLCHAT_BACKEND_TIMEOUT", &c.Backend.Timeout); err != nil {
		return err
	}

	// Live channel
	if v := os.Getenv("HITLCHAT_LIVE_TRANSPORT"); v != "" {
		c.Live.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("HITLCHAT_LIVE_WS_URL"); v != "" {
		c.Live.WebSocketURL = v
	}
	if v := firstEnv("HITLCHAT_REDIS_URL", "REDIS_URL"); v != "" {
		c.Live.RedisURL = v
	}
	if err := envInt("HITLCHAT_REDIS_DB", &c.Live.RedisDB); err != nil {
		return err
	}
	if v := os.Getenv("HITLCHAT_CHANNEL_PREFIX"); v != "" {
		c.Live.ChannelPrefix = v
	}
	if err := envDuration("HITLCHAT_LIVE_PING_INTERVAL", &c.Live.PingInterval); err != nil {
		return err
	}

	// Interrupts
	if v := os.Getenv("HITLCHAT_INTERRUPTS_ENABLED"); v != "" {
		c.Interrupts.Enabled = parseBool(v)
	}
	if err := envDuration("HITLCHAT_POLL_INTERVAL", &c.Interrupts.PollInterval); err != nil {
		return err
	}
	if err := envDuration("HITLCHAT_QUERY_TIMEOUT", &c.Interrupts.QueryTimeout); err != nil {
		return err
	}

	// Resilience
	if v := os.Getenv("HITLCHAT_CB_ENABLED"); v != "" {
		c.Resilience.CircuitBreaker.Enabled = parseBool(v)
	}
	if err := envFloat("HITLCHAT_CB_ERROR_THRESHOLD", &c.Resilience.CircuitBreaker.ErrorThreshold); err != nil {
		return err
	}
	if err := envInt("HITLCHAT_CB_VOLUME_THRESHOLD", &c.Resilience.CircuitBreaker.VolumeThreshold); err != nil {
		return err
	}
	if err := envDuration("HITLCHAT_CB_SLEEP_WINDOW", &c.Resilience.CircuitBreaker.SleepWindow); err != nil {
		return err
	}
	if err := envInt("HITLCHAT_RETRY_MAX_ATTEMPTS", &c.Resilience.Retry.MaxAttempts); err != nil {
		return err
	}
	if err := envDuration("HITLCHAT_RETRY_INITIAL_INTERVAL", &c.Resilience.Retry.InitialInterval); err != nil {
		return err
	}
	if err := envDuration("HITLCHAT_RETRY_MAX_INTERVAL", &c.Resilience.Retry.MaxInterval); err != nil {
		return err
	}
	if err := envFloat("HITLCHAT_RETRY_MULTIPLIER", &c.Resilience.Retry.Multiplier); err != nil {
		return err
	}

	// Telemetry
	if v := os.Getenv("HITLCHAT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("HITLCHAT_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = strings.ToLower(v)
	}
	if v := firstEnv("HITLCHAT_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := firstEnv("HITLCHAT_TELEMETRY_SERVICE_NAME", "OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv("HITLCHAT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}

	// Logging
	if v := os.Getenv("HITLCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("HITLCHAT_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("HITLCHAT_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
// Values present in the file override what is already set.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- path is supplied by the operator
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig().
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "backend base URL is required",
			Err:     ErrMissingConfiguration,
		}
	}
	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid backend base URL: %q", c.Backend.BaseURL),
			Err:     ErrInvalidConfiguration,
		}
	}

	switch c.Live.Transport {
	case "websocket", "none":
	case "redis":
		if c.Live.RedisURL == "" {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: "redis URL is required for the redis live transport",
				Err:     ErrMissingConfiguration,
			}
		}
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown live transport: %q", c.Live.Transport),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Interrupts.PollInterval <= 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("poll interval must be positive: %s", c.Interrupts.PollInterval),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Resilience.CircuitBreaker.ErrorThreshold < 0 || c.Resilience.CircuitBreaker.ErrorThreshold > 1 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("circuit breaker error threshold must be within [0,1]: %v", c.Resilience.CircuitBreaker.ErrorThreshold),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Exporter == "otlp" && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required for the otlp exporter",
			Err:     ErrMissingConfiguration,
		}
	}

	return nil
}

// LiveWebSocketURL returns the websocket base URL, deriving it from the
// backend URL (http→ws, https→wss) when not set explicitly.
func (c *Config) LiveWebSocketURL() string {
	if c.Live.WebSocketURL != "" {
		return c.Live.WebSocketURL
	}
	base := c.Backend.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// Helper functions

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, ErrInvalidConfiguration)
	}
	*dst = d
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, ErrInvalidConfiguration)
	}
	*dst = n
	return nil
}

func envFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, ErrInvalidConfiguration)
	}
	*dst = f
	return nil
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the client name used in logs and telemetry.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithBackendURL sets the orchestration backend base URL.
func WithBackendURL(baseURL string) Option {
	return func(c *Config) error {
		c.Backend.BaseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithToken sets the bearer credential used for backend calls.
func WithToken(token string) Option {
	return func(c *Config) error {
		c.Backend.Token = token
		return nil
	}
}

// WithLiveTransport selects the live push channel: "websocket", "redis" or "none".
func WithLiveTransport(transport string) Option {
	return func(c *Config) error {
		c.Live.Transport = strings.ToLower(transport)
		return nil
	}
}

// WithRedisURL sets the Redis URL for the redis live transport.
func WithRedisURL(redisURL string) Option {
	return func(c *Config) error {
		c.Live.RedisURL = redisURL
		return nil
	}
}

// WithPollInterval sets the detector tick interval.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return &FrameworkError{
				Op:      "WithPollInterval",
				Kind:    "config",
				Message: fmt.Sprintf("invalid poll interval: %s", interval),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Interrupts.PollInterval = interval
		return nil
	}
}

// WithInterruptsEnabled toggles interrupt detection.
func WithInterruptsEnabled(enabled bool) Option {
	return func(c *Config) error {
		c.Interrupts.Enabled = enabled
		return nil
	}
}

// WithTelemetry enables tracing with the given exporter and endpoint.
func WithTelemetry(enabled bool, exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		if exporter != "" {
			c.Telemetry.Exporter = exporter
		}
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the minimum log level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = strings.ToLower(level)
		return nil
	}
}

// WithLogFormat sets the log format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = strings.ToLower(format)
		return nil
	}
}

// WithLogOutput sets the log destination.
func WithLogOutput(output string) Option {
	return func(c *Config) error {
		c.Logging.Output = output
		return nil
	}
}

// WithConfigFile loads a JSON or YAML configuration file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		return c.LoadFromFile(path)
	}
}

// NewConfig creates a configuration from defaults, environment and options,
// then validates it.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
