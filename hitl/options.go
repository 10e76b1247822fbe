package hitl

import (
	"time"

	"github.com/google/uuid"
	"github.com/itsneelabh/hitlchat/core"
)

type options struct {
	logger       core.Logger
	telemetry    core.Telemetry
	pollInterval time.Duration
	queryTimeout time.Duration
	enabled      bool
	listeners    []Listener
	commandID    func() string
}

func defaultOptions() *options {
	return &options{
		logger:       &core.NoOpLogger{},
		telemetry:    &core.NoOpTelemetry{},
		pollInterval: DefaultPollInterval,
		queryTimeout: DefaultQueryTimeout,
		enabled:      true,
		commandID:    uuid.NewString,
	}
}

// ControllerOption configures a Controller.
type ControllerOption func(*options)

// WithLogger sets the logger for the controller
func WithLogger(logger core.Logger) ControllerOption {
	return func(o *options) {
		if logger == nil {
			return
		}
		o.logger = core.ComponentLogger(logger, "hitlchat/hitl")
	}
}

// WithTelemetry sets the telemetry provider for the controller
func WithTelemetry(t core.Telemetry) ControllerOption {
	return func(o *options) {
		if t == nil {
			return
		}
		o.telemetry = t
	}
}

// WithPollInterval sets the detector cadence. Non-positive values are ignored.
func WithPollInterval(d time.Duration) ControllerOption {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithQueryTimeout bounds each fallback query. Non-positive values are ignored.
func WithQueryTimeout(d time.Duration) ControllerOption {
	return func(o *options) {
		if d > 0 {
			o.queryTimeout = d
		}
	}
}

// WithEnabled sets whether interrupt handling starts enabled.
func WithEnabled(enabled bool) ControllerOption {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithListener registers a listener for display changes.
func WithListener(l Listener) ControllerOption {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithCommandIDGenerator replaces the generator of resume command IDs.
func WithCommandIDGenerator(fn func() string) ControllerOption {
	return func(o *options) {
		if fn != nil {
			o.commandID = fn
		}
	}
}

// OptionsFromConfig maps the client configuration onto controller options.
func OptionsFromConfig(cfg core.InterruptConfig) []ControllerOption {
	return []ControllerOption{
		WithEnabled(cfg.Enabled),
		WithPollInterval(cfg.PollInterval),
		WithQueryTimeout(cfg.QueryTimeout),
	}
}
