package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/itsneelabh/hitlchat/backend"
	"github.com/itsneelabh/hitlchat/hitl"
	"github.com/itsneelabh/hitlchat/live"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type watchOptions struct {
	Interactive bool
	Output      string
}

func NewWatchCmd() *cobra.Command {
	var options watchOptions

	cmd := &cobra.Command{
		Use:   "watch <thread-id>",
		Short: "Show interrupts of a conversation as they happen",
		Long: `Watch follows a conversation and prints every interrupt its runs pause on.
With --interactive, type approve, reject or edit {"arg": "value"} to resume.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd.Context())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scope, err := a.scope(args[0])
			if err != nil {
				return err
			}

			client, err := backend.NewClientFromConfig(a.cfg, a.logger)
			if err != nil {
				return err
			}

			var probe hitl.LiveProbe = hitl.NoLiveProbe{}
			source, err := live.NewSourceFromConfig(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			if source != nil {
				defer source.Close()
				probe = source
			}

			out := newPrinter(cmd.OutOrStdout(), options.Output)
			opts := append(hitl.OptionsFromConfig(a.cfg.Interrupts),
				hitl.WithLogger(a.logger),
				hitl.WithTelemetry(a.telemetry()),
				hitl.WithListener(out.listen),
			)
			controller := hitl.NewController(probe, client, client, opts...)
			defer controller.Close()

			controller.SetConversation(scope)

			g, gctx := errgroup.WithContext(ctx)
			if options.Interactive {
				g.Go(func() error {
					return readDecisions(gctx, cmd.InOrStdin(), out, controller)
				})
			}
			<-gctx.Done()
			return g.Wait()
		},
	}

	cmd.Flags().BoolVarP(&options.Interactive, "interactive", "i", false, "read decisions from stdin")
	cmd.Flags().StringVarP(&options.Output, "output", "o", "text", "output format: text or json")
	return cmd
}

// readDecisions resolves the displayed interrupt with each decision read
// from r. Input errors are reported and reading continues; end of input stops
// reading but not watching.
func readDecisions(ctx context.Context, r io.Reader, out *printer, c *hitl.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			d, err := parseDecision(line)
			if err != nil {
				out.printf("invalid decision: %v\n", err)
				continue
			}
			switch err := c.Resolve(ctx, d); {
			case err == nil:
				out.printf("%s sent\n", d.Kind)
			case errors.Is(err, hitl.ErrNoActiveInterrupt):
				out.printf("nothing to resolve\n")
			default:
				out.printf("resume failed: %v\n", err)
			}
		}
	}
}
