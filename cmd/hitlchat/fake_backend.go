package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itsneelabh/hitlchat/hitltest"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type fakeBackendOptions struct {
	Addr  string
	Token string
}

func NewFakeBackendCmd() *cobra.Command {
	var options fakeBackendOptions

	cmd := &cobra.Command{
		Use:   "fake-backend",
		Short: "Run an in-memory backend for local testing",
		Long: `Runs an in-memory orchestration backend. Pause a thread with
  curl -X POST localhost:8080/threads/t1/interrupt -d '{"value":{"name":"send_email"}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp(cmd.Context())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b := hitltest.NewBackend(hitltest.WithToken(options.Token), hitltest.WithLogger(a.logger))
			srv := &http.Server{
				Addr:              options.Addr,
				Handler:           b,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.logger.Info("Fake backend listening", map[string]interface{}{
					"operation": "fake_backend_start",
					"addr":      options.Addr,
				})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&options.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&options.Token, "require-token", "", "bearer token clients must present")
	return cmd
}
