package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			deps := server.Deps{
				Answerer:       a.coord,
				Metrics:        a.tel.Handler(),
				JWTSecret:      []byte(cfg.Server.JWTSecret),
				RequestTimeout: cfg.Server.RequestTimeout,
				Logger:         logger,
			}
			if a.store != nil {
				deps.Runs = a.store
			}
			if a.reader != nil {
				deps.Events = a.reader
			}
			if len(deps.JWTSecret) == 0 {
				logger.Warn("server.jwt_secret not set; API is unauthenticated")
			}
			srv, err := server.New(deps)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Address
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("shutting down", zap.String("addr", addr))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return cmd
}
