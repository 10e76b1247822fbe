package main

import (
	"context"
	"fmt"

	"github.com/itsneelabh/hitlchat/core"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/itsneelabh/hitlchat/telemetry"
	"github.com/spf13/cobra"
)

const skipSetupAnnotation = "hitlchat/skip-setup"

type globalOptions struct {
	ConfigFile string
	BackendURL string
	Token      string
	Transport  string
	LogLevel   string
	LogFormat  string
}

// app carries what every command needs once flags are parsed.
type app struct {
	cfg    *core.Config
	logger *core.ProductionLogger
	otel   *telemetry.OTelProvider
}

func (a *app) telemetry() core.Telemetry {
	if a.otel == nil {
		return &core.NoOpTelemetry{}
	}
	return a.otel
}

type appKey struct{}

func getApp(ctx context.Context) *app {
	a, _ := ctx.Value(appKey{}).(*app)
	return a
}

// scope binds a conversation to the configured token. The protocol stays
// inert without a credential, so a missing token is reported up front.
func (a *app) scope(conversationID string) (hitl.Scope, error) {
	if a.cfg.Backend.Token == "" {
		return hitl.Scope{}, fmt.Errorf("backend token is required (--token or HITLCHAT_TOKEN): %w", core.ErrMissingConfiguration)
	}
	return hitl.Scope{ConversationID: conversationID, Credential: a.cfg.Backend.Token}, nil
}

func NewRootCmd() *cobra.Command {
	options := globalOptions{}
	cmd := &cobra.Command{
		Use:          "hitlchat",
		Short:        "Review and resume paused agent runs.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipSetupAnnotation] == "true" {
				return nil
			}
			a, err := setupApp(cmd, &options)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd.Context())
			if a == nil {
				return nil
			}
			if a.otel != nil {
				if err := a.otel.Shutdown(context.Background()); err != nil {
					a.logger.Warn("Telemetry shutdown failed", map[string]interface{}{
						"operation": "cli_shutdown",
						"error":     err.Error(),
					})
				}
			}
			return a.logger.Close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&options.ConfigFile, "config", "", "path to a JSON or YAML configuration file")
	flags.StringVar(&options.BackendURL, "backend-url", "", "orchestration backend base URL")
	flags.StringVar(&options.Token, "token", "", "bearer token for the backend")
	flags.StringVar(&options.Transport, "live", "", "live transport: websocket, redis or none")
	flags.StringVar(&options.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&options.LogFormat, "log-format", "", "log format: text or json")

	cmd.AddCommand(NewWatchCmd())
	cmd.AddCommand(NewResolveCmd())
	cmd.AddCommand(NewFakeBackendCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

func setupApp(cmd *cobra.Command, options *globalOptions) (*app, error) {
	flags := cmd.Flags()
	opts := []core.Option{core.WithConfigFile(options.ConfigFile)}
	if flags.Changed("backend-url") {
		opts = append(opts, core.WithBackendURL(options.BackendURL))
	}
	if flags.Changed("token") {
		opts = append(opts, core.WithToken(options.Token))
	}
	if flags.Changed("live") {
		opts = append(opts, core.WithLiveTransport(options.Transport))
	}
	if flags.Changed("log-level") {
		opts = append(opts, core.WithLogLevel(options.LogLevel))
	}
	if flags.Changed("log-format") {
		opts = append(opts, core.WithLogFormat(options.LogFormat))
	}

	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Name)
	provider, err := telemetry.Setup(cmd.Context(), cfg.Telemetry)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	logger.Debug("Configuration loaded", map[string]interface{}{
		"operation":      "cli_setup",
		"backend_url":    cfg.Backend.BaseURL,
		"live_transport": cfg.Live.Transport,
		"telemetry":      cfg.Telemetry.Enabled,
	})
	return &app{cfg: cfg, logger: logger, otel: provider}, nil
}
