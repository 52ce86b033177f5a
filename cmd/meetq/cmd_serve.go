package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meetq/meetq/internal/webserver"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		host        string
		port        int
		allowRemote bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon and local API",
		Long: `Run the sync daemon in the foreground.

The daemon syncs once at startup, again whenever connectivity comes back,
re-checks connectivity on the configured watch interval, and serves the
local API:

  GET    /api/health
  GET    /api/status
  GET    /api/sessions[?state=...]
  GET    /api/sessions/{id}
  DELETE /api/sessions/{id}
  POST   /api/sessions/{id}/retry
  POST   /api/sync

The API binds to loopback unless --allow-remote is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}
			logger := slog.Default()
			host = resolveHost(host, allowRemote, logger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			stop := a.Start(ctx)
			defer stop()

			srv := webserver.New(webserver.Config{Host: host, Port: port, Logger: logger}, a)
			printf(cmd.ErrOrStderr(), "meetq API listening on http://%s\n", srv.Addr())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.Watch(gctx, cfg.Connectivity.WatchInterval)
				return nil
			})
			g.Go(func() error {
				return srv.ListenAndServe(gctx)
			})
			if err := g.Wait(); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host to bind the local API to (defaults to config, 127.0.0.1)")
	cmd.Flags().IntVar(&port, "port", 0, "Port for the local API (defaults to config, 8420)")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false,
		"Allow binding to non-loopback addresses (WARNING: exposes the API to the network with no authentication)")

	return cmd
}

// resolveHost keeps the API on loopback unless allowRemote is set.
func resolveHost(host string, allowRemote bool, logger *slog.Logger) string {
	if allowRemote {
		logger.Warn("Local API binding to a non-loopback address, no authentication is provided", "host", host)
		return host
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return "127.0.0.1"
	}
	if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
		logger.Warn("Ignoring non-loopback host without --allow-remote", "host", host)
		return "127.0.0.1"
	}
	return host
}
