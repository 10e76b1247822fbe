package main

import (
	"context"
	"fmt"
	"time"

	"github.com/itsneelabh/hitlchat/backend"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/spf13/cobra"
)

type resolveOptions struct {
	Args    string
	Timeout time.Duration
}

func NewResolveCmd() *cobra.Command {
	var options resolveOptions

	cmd := &cobra.Command{
		Use:   "resolve <thread-id> <approve|reject|edit>",
		Short: "Resume the pending interrupt of a conversation once",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd.Context())
			ctx, cancel := context.WithTimeout(cmd.Context(), options.Timeout)
			defer cancel()

			line := args[1]
			if options.Args != "" {
				line += " " + options.Args
			}
			d, err := parseDecision(line)
			if err != nil {
				return err
			}
			scope, err := a.scope(args[0])
			if err != nil {
				return err
			}

			client, err := backend.NewClientFromConfig(a.cfg, a.logger)
			if err != nil {
				return err
			}
			controller := hitl.NewController(hitl.NoLiveProbe{}, client, client,
				hitl.WithLogger(a.logger),
				hitl.WithTelemetry(a.telemetry()),
				hitl.WithPollInterval(time.Hour),
				hitl.WithQueryTimeout(options.Timeout),
			)
			defer controller.Close()

			controller.SetConversation(scope)
			controller.Tick(ctx)

			rec := controller.Current()
			if rec == nil {
				return fmt.Errorf("thread %s: %w", args[0], hitl.ErrNoActiveInterrupt)
			}
			if err := controller.Resolve(ctx, d); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rec.InterruptID != "" {
				fmt.Fprintf(out, "%s sent for interrupt %s on %s\n", d.Kind, rec.InterruptID, args[0])
			} else {
				fmt.Fprintf(out, "%s sent for %s on %s\n", d.Kind, rec.NodeName, args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&options.Args, "args", "", "edited arguments as a JSON object (edit only)")
	cmd.Flags().DurationVar(&options.Timeout, "timeout", 30*time.Second, "overall timeout")
	return cmd
}
