package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/orchestra-mcp/relay/providers"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

var listenAddr string

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunServer(cmd.Context())
	},
}

func init() {
	ServeCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address, overrides server.addr [env: RELAY_ADDR]")
	RootCmd.AddCommand(ServeCmd)
}

// RunServer serves until SIGINT or SIGTERM, then shuts down within
// server.shutdown_timeout.
func RunServer(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}
	logger := newLogger(cfg.Log)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := providers.New(cfg, logger)
	if err := srv.Activate(); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	httpServer := &fasthttp.Server{
		Handler:            srv.Handler(),
		Name:               "relay",
		MaxRequestBodySize: int(cfg.Socket.MaxMessageBytes),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(cfg.Server.Addr); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		// Closing the hub first ends every websocket, which fasthttp does not
		// track once hijacked.
		deactivateErr := srv.Deactivate()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
			return errors.Join(deactivateErr, fmt.Errorf("shutdown: %w", err))
		}
		return deactivateErr
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
